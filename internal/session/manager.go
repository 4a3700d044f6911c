package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

var errStreamClosed = errors.New("sign-in stream closed")

// invalidator is implemented by fetchers holding per-session caches.
type invalidator interface {
	Invalidate()
}

type fetchResult struct {
	generation uint64
	token      string
	err        error
}

// Manager applies sign-in transitions to an AuthClient. Transitions are
// handled one at a time on the Run goroutine; token fetches run beside it and
// a result is applied only if no later transition superseded it.
type Manager struct {
	fetcher  TokenFetcher
	client   AuthClient
	source   SignInSource
	audience string
	logger   *slog.Logger

	backoffBase time.Duration
	backoffMax  time.Duration

	mu      sync.RWMutex
	state   State
	changed chan struct{}

	// Owned by the Run goroutine.
	generation  uint64
	cancelFetch context.CancelFunc
	results     chan fetchResult
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithResubscribeBackoff bounds the exponential backoff used when the
// sign-in stream ends.
func WithResubscribeBackoff(base, max time.Duration) Option {
	return func(m *Manager) {
		if base > 0 {
			m.backoffBase = base
		}
		if max > 0 {
			m.backoffMax = max
		}
	}
}

// NewManager builds a Manager requesting tokens scoped to audience.
func NewManager(fetcher TokenFetcher, client AuthClient, source SignInSource, audience string, opts ...Option) *Manager {
	m := &Manager{
		fetcher:     fetcher,
		client:      client,
		source:      source,
		audience:    audience,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoffBase: 100 * time.Millisecond,
		backoffMax:  10 * time.Second,
		changed:     make(chan struct{}),
		results:     make(chan fetchResult),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// WaitReady blocks until the Manager is ready or ctx is done.
func (m *Manager) WaitReady(ctx context.Context) (State, error) {
	for {
		m.mu.RLock()
		state, changed := m.state, m.changed
		m.mu.RUnlock()
		if state.Ready() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-changed:
		}
	}
}

// ReadyHandler serves next once the Manager is ready and loading before
// that. A nil loading handler answers 503 with a short retry hint.
func (m *Manager) ReadyHandler(next, loading http.Handler) http.Handler {
	if loading == nil {
		loading = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "loading", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.State().Ready() {
			loading.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run consumes the sign-in stream until ctx is done, resubscribing with
// exponential backoff whenever the stream ends. The backoff starts over once
// a stream has delivered a transition.
func (m *Manager) Run(ctx context.Context) error {
	defer m.stopFetch()

	for {
		backoff := retry.WithCappedDuration(m.backoffMax, retry.NewExponential(m.backoffBase))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			transitions, err := m.source.Subscribe(ctx)
			if err != nil {
				m.logger.Warn("subscribe to sign-in state failed", "error", err)
				return retry.RetryableError(err)
			}
			delivered, err := m.consume(ctx, transitions)
			if err != nil {
				return err
			}
			m.logger.Warn("sign-in stream closed, resubscribing")
			if delivered {
				return errStreamClosed
			}
			return retry.RetryableError(errStreamClosed)
		})
		if errors.Is(err, errStreamClosed) {
			continue
		}
		return err
	}
}

// consume reports whether any transition arrived before the stream closed.
func (m *Manager) consume(ctx context.Context, transitions <-chan Transition) (bool, error) {
	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case t, ok := <-transitions:
			if !ok {
				return delivered, nil
			}
			delivered = true
			m.handle(ctx, t)
		case res := <-m.results:
			m.complete(res)
		}
	}
}

func (m *Manager) handle(ctx context.Context, t Transition) {
	m.stopFetch()
	m.generation++

	if !t.SignedIn {
		if inv, ok := m.fetcher.(invalidator); ok {
			inv.Invalidate()
		}
		m.client.ClearAuth()
		m.setState(State{Phase: PhaseReady})
		m.logger.Info("signed out, backend client cleared")
		return
	}

	m.setState(State{Phase: PhaseLoading})

	fetchCtx, cancel := context.WithCancel(ctx)
	m.cancelFetch = cancel
	generation := m.generation
	go func() {
		token, err := m.fetcher.FetchToken(fetchCtx, m.audience)
		select {
		case m.results <- fetchResult{generation: generation, token: token, err: err}:
		case <-fetchCtx.Done():
		}
	}()
}

func (m *Manager) complete(res fetchResult) {
	if res.generation != m.generation {
		m.logger.Debug("discarding superseded token fetch", "generation", res.generation)
		return
	}
	m.stopFetch()

	if res.err != nil || res.token == "" {
		if res.err != nil {
			m.logger.Error("token fetch failed, continuing anonymously", "error", res.err)
		} else {
			m.logger.Warn("token fetch returned no token, continuing anonymously")
		}
		m.client.ClearAuth()
		m.setState(State{Phase: PhaseReady})
		return
	}

	m.client.SetAuth(m.provider())
	m.setState(State{Phase: PhaseReady, Authenticated: true})
	m.logger.Info("signed in, backend client authenticated")
}

// provider re-fetches on every call so the client never holds a stale token.
func (m *Manager) provider() func(ctx context.Context) (string, error) {
	fetcher, audience := m.fetcher, m.audience
	return func(ctx context.Context) (string, error) {
		return fetcher.FetchToken(ctx, audience)
	}
}

func (m *Manager) stopFetch() {
	if m.cancelFetch != nil {
		m.cancelFetch()
		m.cancelFetch = nil
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == s {
		return
	}
	m.state = s
	close(m.changed)
	m.changed = make(chan struct{})
}
