// Package backend is the client side of the datastore API.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"identitysync/internal/users"
)

var (
	// ErrUnauthenticated is returned when the datastore rejects the caller.
	ErrUnauthenticated = errors.New("backend: unauthenticated")
	// ErrNotSynced is returned when the caller has no synced user record yet.
	ErrNotSynced = errors.New("backend: user not synced")
)

// Client calls the datastore API. Credentials are installed with SetAuth as a
// provider that is asked for a token on every request.
type Client struct {
	baseURL string
	base    http.RoundTripper
	http    *http.Client

	mu       sync.RWMutex
	provider func(ctx context.Context) (string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.base = rt
		}
	}
}

// New builds an unauthenticated client for the datastore at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		base:    http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = &http.Client{Transport: roundTripperFunc(c.roundTrip), Timeout: 15 * time.Second}
	return c
}

// SetAuth installs a token provider.
func (c *Client) SetAuth(provider func(ctx context.Context) (string, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
}

// ClearAuth removes any installed provider; later requests are anonymous.
func (c *Client) ClearAuth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = nil
}

// Authenticated reports whether a provider is installed.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider != nil
}

// HTTPClient exposes the authenticating client for callers issuing their own
// datastore requests.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// CurrentUser returns the synced record for the authenticated caller.
func (c *Client) CurrentUser(ctx context.Context) (*users.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/me", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthenticated
	case http.StatusNotFound:
		return nil, ErrNotSynced
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("get current user: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var user users.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	c.mu.RLock()
	provider := c.provider
	c.mu.RUnlock()

	if provider == nil {
		return c.base.RoundTrip(req)
	}

	transport := &oauth2.Transport{
		Source: providerSource{ctx: req.Context(), provider: provider},
		Base:   c.base,
	}
	return transport.RoundTrip(req)
}

// providerSource adapts a token provider to oauth2.TokenSource for a single
// request.
type providerSource struct {
	ctx      context.Context
	provider func(ctx context.Context) (string, error)
}

func (s providerSource) Token() (*oauth2.Token, error) {
	token, err := s.provider(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	if token == "" {
		return nil, errors.New("fetch token: provider returned no token")
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
