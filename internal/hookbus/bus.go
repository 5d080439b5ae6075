// Package hookbus carries notifications from the domain model to the single
// goroutine that owns the synchronization engine. Raisers may live on any
// goroutine; the bus deduplicates by notification ID and marshals every
// dispatch onto the consumer, waiting for a Reply when the kind asks for one.
package hookbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultDedupeWindow = 1024

var (
	// ErrDuplicate reports a notification ID seen within the dedupe window.
	ErrDuplicate = errors.New("hookbus: duplicate notification")
	// ErrClosed reports a consumer that no longer accepts work.
	ErrClosed = errors.New("hookbus: consumer closed")
)

// Poster schedules fn on the consumer goroutine. It returns false when the
// consumer has stopped accepting work.
type Poster interface {
	Post(fn func(ctx context.Context)) bool
}

type consumerKey struct{}

// WithinConsumer marks ctx as belonging to the consumer goroutine. Raises
// carrying such a context dispatch inline instead of posting.
func WithinConsumer(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, consumerKey{}, true)
}

// InConsumer reports whether ctx was marked by WithinConsumer.
func InConsumer(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	marked, _ := ctx.Value(consumerKey{}).(bool)
	return marked
}

// Option customizes Bus construction.
type Option func(*Bus)

// WithLogger injects a logger for drop and panic diagnostics.
func WithLogger(logger Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithDedupeWindow controls how many recent notification IDs are retained.
func WithDedupeWindow(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.dedupeWindow = size
		}
	}
}

// WithClock allows tests to control raise timestamps.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// Bus fans notifications from any goroutine into one Dispatcher.
type Bus struct {
	poster     Poster
	dispatcher Dispatcher
	logger     Logger
	clock      func() time.Time

	mu           sync.Mutex
	recentIDs    map[string]struct{}
	recentOrder  []string
	dedupeWindow int
}

// New wires a bus to the consumer's poster and dispatcher.
func New(poster Poster, dispatcher Dispatcher, opts ...Option) *Bus {
	b := &Bus{
		poster:       poster,
		dispatcher:   dispatcher,
		logger:       nopLogger{},
		clock:        time.Now,
		recentIDs:    map[string]struct{}{},
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.recentOrder = make([]string, 0, b.dedupeWindow)
	return b
}

// Raise delivers n to the dispatcher. Request kinds block until the consumer
// answers or ctx ends; other kinds return as soon as the work is posted.
func (b *Bus) Raise(ctx context.Context, n Notification) (Reply, error) {
	if b == nil {
		return Reply{}, ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	n.Normalize(b.clock())
	if err := n.Validate(); err != nil {
		return Reply{}, fmt.Errorf("hookbus: invalid notification: %w", err)
	}
	if b.isDuplicate(n.ID) {
		b.logger.Printf("hookbus: dropped duplicate %s %s (%s)", n.Kind, n.Tag, n.ID)
		return Reply{}, ErrDuplicate
	}
	if InConsumer(ctx) {
		return b.dispatch(ctx, n), nil
	}
	if !n.Kind.Requests() {
		if !b.post(func(c context.Context) { b.dispatch(c, n) }) {
			b.forget(n.ID)
			return Reply{}, ErrClosed
		}
		return Reply{}, nil
	}
	done := make(chan Reply, 1)
	if !b.post(func(c context.Context) { done <- b.dispatch(c, n) }) {
		b.forget(n.ID)
		return Reply{}, ErrClosed
	}
	select {
	case reply := <-done:
		return reply, nil
	case <-ctx.Done():
		// The caller never saw a reply, so a retry with the same ID is allowed.
		b.forget(n.ID)
		return Reply{}, fmt.Errorf("hookbus: waiting for %s reply: %w", n.Kind, ctx.Err())
	}
}

// Do runs fn on the consumer and waits for it to return.
func (b *Bus) Do(ctx context.Context, fn func(ctx context.Context)) error {
	if b == nil {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if InConsumer(ctx) {
		fn(ctx)
		return nil
	}
	done := make(chan struct{})
	if !b.post(func(c context.Context) {
		defer close(done)
		fn(c)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) post(fn func(ctx context.Context)) bool {
	if b.poster == nil {
		return false
	}
	return b.poster.Post(func(ctx context.Context) {
		fn(WithinConsumer(ctx))
	})
}

func (b *Bus) dispatch(ctx context.Context, n Notification) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("hookbus: dispatch panic for %s %s: %v", n.Kind, n.Tag, r)
			reply = Reply{}
		}
	}()
	if b.dispatcher == nil {
		return Reply{}
	}
	return b.dispatcher.Dispatch(ctx, n)
}

func (b *Bus) isDuplicate(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.recentIDs[id]; ok {
		return true
	}
	b.recentIDs[id] = struct{}{}
	b.recentOrder = append(b.recentOrder, id)
	if len(b.recentOrder) > b.dedupeWindow {
		oldest := b.recentOrder[0]
		b.recentOrder = b.recentOrder[1:]
		delete(b.recentIDs, oldest)
	}
	return false
}

// forget drops id from the dedupe window.
func (b *Bus) forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.recentIDs[id]; !ok {
		return
	}
	delete(b.recentIDs, id)
	for i, seen := range b.recentOrder {
		if seen == id {
			b.recentOrder = append(b.recentOrder[:i], b.recentOrder[i+1:]...)
			break
		}
	}
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
