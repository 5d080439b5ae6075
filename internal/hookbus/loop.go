package hookbus

import (
	"context"
	"sync"
)

const defaultLoopBuffer = 256

// Loop is a standalone consumer: posted work is queued on a buffered channel
// and run in order by a single goroutine. It serves headless runs and tests;
// the terminal UI posts onto its own event loop instead.
type Loop struct {
	work     chan func(context.Context)
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	logger   Logger
}

// NewLoop creates a loop with the given buffer size.
func NewLoop(buffer int, logger Logger) *Loop {
	if buffer < 1 {
		buffer = defaultLoopBuffer
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Loop{
		work:   make(chan func(context.Context), buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post queues fn, blocking while the buffer is full. It returns false once
// the loop has been stopped.
func (l *Loop) Post(fn func(ctx context.Context)) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.work <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Start begins the consumer goroutine. It runs until ctx is cancelled or
// Stop is called, then drains whatever is already queued.
func (l *Loop) Start(ctx context.Context) {
	consumerCtx := WithinConsumer(ctx)
	go func() {
		defer close(l.done)
		for {
			select {
			case fn := <-l.work:
				l.run(consumerCtx, fn)
			case <-ctx.Done():
				l.stopOnce.Do(func() { close(l.quit) })
				l.drain(consumerCtx)
				return
			case <-l.quit:
				l.drain(consumerCtx)
				return
			}
		}
	}()
}

// Stop refuses new work and waits for the consumer goroutine to finish. It
// must only be called after Start.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	<-l.done
}

func (l *Loop) drain(ctx context.Context) {
	for {
		select {
		case fn := <-l.work:
			l.run(ctx, fn)
		default:
			return
		}
	}
}

func (l *Loop) run(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Printf("hookbus: loop task panic: %v", r)
		}
	}()
	fn(ctx)
}
