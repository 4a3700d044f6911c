package session

import (
	"context"
	"errors"
	"sync"
)

// ErrFeedClosed is returned by Subscribe after Close.
var ErrFeedClosed = errors.New("session: feed closed")

const feedBuffer = 16

// Feed is an in-process SignInSource. Hosts push transitions with Publish;
// each subscriber first receives the latest transition, then every later one.
type Feed struct {
	mu     sync.Mutex
	latest *Transition
	subs   map[int]chan Transition
	nextID int
	closed bool
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Transition)}
}

// Publish records t and delivers it to all subscribers. A subscriber that has
// fallen behind loses its oldest pending transition rather than blocking the
// publisher.
func (f *Feed) Publish(t Transition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.latest = &t
	for _, ch := range f.subs {
		deliver(ch, t)
	}
}

func deliver(ch chan Transition, t Transition) {
	for {
		select {
		case ch <- t:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe implements SignInSource. The channel closes when ctx is done or
// the feed is closed.
func (f *Feed) Subscribe(ctx context.Context) (<-chan Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFeedClosed
	}

	ch := make(chan Transition, feedBuffer)
	if f.latest != nil {
		ch <- *f.latest
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	go func() {
		<-ctx.Done()
		f.unsubscribe(id)
	}()
	return ch, nil
}

func (f *Feed) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Drop ends every current subscription without closing the feed, so
// subscribers observe the stream ending and may subscribe again.
func (f *Feed) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// Close ends every subscription and rejects new ones.
func (f *Feed) Close() {
	f.Drop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
