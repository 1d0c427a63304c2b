package debugger

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/debugsession-go/future"
)

// Observer is any value registered with AddObserver. It receives the
// callbacks of each capability interface it implements. Observers must be
// comparable so they can be removed.
type Observer interface{}

// AttachObserver is told about every attach attempt as soon as it starts.
// done settles when the attempt finishes.
type AttachObserver interface {
	OnAttached(d Descriptor, done *future.Future[struct{}])
}

// DetachObserver is told about every Detach call and every detach forced by
// the backend.
type DetachObserver interface {
	OnDetached()
}

// ExecutionObserver is told when an execution-control command was accepted.
type ExecutionObserver interface {
	OnStepInto()
	OnStepOver()
	OnStepOut()
	OnResumed()
}

// StopObserver is told where execution stopped. line is 0-based.
type StopObserver interface {
	OnStoppedAt(typeIdentifier string, line int)
}

// BreakpointObserver follows the breakpoint set.
type BreakpointObserver interface {
	OnBreakpointActivated(filePath string, line int)
	OnBreakpointAdded(bp Breakpoint)
	OnBreakpointDeleted(bp Breakpoint)
	OnAllBreakpointsDeleted()
}

// ValueObserver is told when a variable was changed.
type ValueObserver interface {
	OnValueChanged(path []string, value string)
}

// NopObserver implements every observer interface with no-ops. Embed it to
// pick the callbacks you need.
type NopObserver struct{}

func (NopObserver) OnAttached(Descriptor, *future.Future[struct{}]) {}
func (NopObserver) OnDetached()                                    {}
func (NopObserver) OnStepInto()                                    {}
func (NopObserver) OnStepOver()                                    {}
func (NopObserver) OnStepOut()                                     {}
func (NopObserver) OnResumed()                                     {}
func (NopObserver) OnStoppedAt(string, int)                        {}
func (NopObserver) OnBreakpointActivated(string, int)              {}
func (NopObserver) OnBreakpointAdded(Breakpoint)                   {}
func (NopObserver) OnBreakpointDeleted(Breakpoint)                 {}
func (NopObserver) OnAllBreakpointsDeleted()                       {}
func (NopObserver) OnValueChanged([]string, string)                {}

var (
	_ AttachObserver     = NopObserver{}
	_ DetachObserver     = NopObserver{}
	_ ExecutionObserver  = NopObserver{}
	_ StopObserver       = NopObserver{}
	_ BreakpointObserver = NopObserver{}
	_ ValueObserver      = NopObserver{}
)

// observerSet is a copy-on-write list. Dispatch iterates the snapshot taken
// when it starts, so callbacks may add or remove observers freely.
type observerSet struct {
	mu   sync.Mutex
	list atomic.Pointer[[]Observer]
}

func (s *observerSet) add(o Observer) {
	if o == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snapshot()
	next := make([]Observer, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, o)
	s.list.Store(&next)
}

func (s *observerSet) remove(o Observer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snapshot()
	for i, x := range cur {
		if x == o {
			next := make([]Observer, 0, len(cur)-1)
			next = append(next, cur[:i]...)
			next = append(next, cur[i+1:]...)
			s.list.Store(&next)
			return true
		}
	}
	return false
}

func (s *observerSet) snapshot() []Observer {
	if p := s.list.Load(); p != nil {
		return *p
	}
	return nil
}

// each calls fn for every observer implementing T. A panicking observer is
// logged and does not prevent delivery to the rest.
func each[T any](s *observerSet, log *slog.Logger, fn func(T)) {
	for _, o := range s.snapshot() {
		t, ok := o.(T)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("debugger.observer.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				}
			}()
			fn(t)
		}()
	}
}
