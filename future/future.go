// Package future provides a single-assignment result type for asynchronous
// operations.
//
// A Future is settled exactly once, either resolved with a value or rejected
// with an error. Later attempts to settle it are ignored. Callers may block on
// a Future with Await, or register continuations with OnComplete.
//
// Continuations registered with OnComplete run on the goroutine that settles
// the Future (or immediately on the registering goroutine when the Future is
// already settled). Components that need their continuations serialized must
// marshal them onto their own execution context.
package future

import (
	"context"
	"errors"
	"sync"
)

// ErrRejected is used when a Future is rejected with a nil error.
var ErrRejected = errors.New("future: rejected")

// Future holds the eventual result of an asynchronous operation.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     T
	err       error
	callbacks []func(T, error)
}

// New returns a pending Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already resolved with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Failed returns a fresh Future already rejected with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve settles the Future with v. It reports whether this call settled it.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the Future with err. It reports whether this call settled it.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = ErrRejected
	}
	var zero T
	return f.settle(zero, err)
}

// Settle resolves the Future when err is nil and rejects it otherwise.
func (f *Future[T]) Settle(v T, err error) bool {
	if err != nil {
		return f.Reject(err)
	}
	return f.Resolve(v)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = v
	f.err = err
	cbs := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(v, err)
	}
	return true
}

// Done returns a channel closed once the Future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the Future has been resolved or rejected.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the rejection error, or nil if the Future is pending or resolved.
func (f *Future[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Await blocks until the Future is settled or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to run once the Future is settled. Callbacks run in
// registration order.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// Map returns a Future settled with fn applied to the value of f. Rejections
// propagate unchanged and fn is not called.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := New[U]()
	f.OnComplete(func(v T, err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		out.Settle(fn(v))
	})
	return out
}
