// Package eventloop provides a serial executor: an unbounded FIFO of tasks
// drained by a single goroutine.
package eventloop

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Loop runs posted tasks one at a time in posting order.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
	log    *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report task panics.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.log = l
		}
	}
}

// New starts a Loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		done: make(chan struct{}),
		log:  slog.New(slog.DiscardHandler),
	}
	l.cond = sync.NewCond(&l.mu)
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Post enqueues fn. It never blocks and reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Close stops accepting tasks. Tasks already queued still run; Done is closed
// after the last one.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Signal()
	l.mu.Unlock()
}

// Done is closed once the loop has drained after Close.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the loop has drained after Close, or ctx is done. It must
// not be called from a task running on the loop.
func (l *Loop) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("eventloop.task.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}
