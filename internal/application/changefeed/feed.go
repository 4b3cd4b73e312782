// Package changefeed turns committed store writes into a stream of events.
// Subscribers never learn whether an event came from the in-process hook or
// from a DynamoDB stream.
package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/pkg/metrics"
)

// Handler receives events. It must not block; slow consumers buffer on
// their own side.
type Handler func(e domain.Event)

// Source produces events for committed writes until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, publish func(domain.Event)) error
}

// Feed fans events out to every subscriber in publish order.
type Feed struct {
	mu     sync.RWMutex
	subs   map[uint64]Handler
	next   uint64
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{subs: make(map[uint64]Handler), done: make(chan struct{}), logger: logger}
}

// Subscribe registers h and returns a func that removes it. Subscribing to a
// closed feed returns a no-op unsubscribe.
func (f *Feed) Subscribe(h Handler) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return func() {}
	}
	key := f.next
	f.next++
	f.subs[key] = h
	return func() {
		f.mu.Lock()
		delete(f.subs, key)
		f.mu.Unlock()
	}
}

// Publish delivers e to every current subscriber. A panicking handler is
// logged and skipped.
func (f *Feed) Publish(e domain.Event) {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(f.subs))
	for _, h := range f.subs {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	metrics.FeedEvents.WithLabelValues(string(e.Type)).Inc()
	for _, h := range handlers {
		f.deliver(h, e)
	}
}

func (f *Feed) deliver(h Handler, e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("change feed handler panicked", "event", e.ID(), "panic", fmt.Sprint(r))
		}
	}()
	h(e)
}

// Close drops all subscribers. Later publishes are ignored. Safe to call
// more than once.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	clear(f.subs)
	close(f.done)
}

// Done is closed once the feed has been closed.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Subscribers reports how many handlers are registered.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
