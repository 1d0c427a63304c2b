package debugger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/debugsession-go/future"
	"github.com/ggoodman/debugsession-go/store/memory"
	"github.com/ggoodman/debugsession-go/transport/memorybus"
)

const testSessionID = "abc"

type harness struct {
	t    *testing.T
	tr   *memorybus.Transport
	st   *memory.Store
	sess *Session
	obs  *recorder
}

// newHarness builds a session over an in-memory backend that accepts every
// call. Tests override individual methods with tr.Handle.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	tr := memorybus.New()
	tr.Handle(MethodConnect, memorybus.Reply(map[string]string{"id": testSessionID, "vmName": "OpenJDK 64-Bit", "vmVersion": "21"}))
	for _, m := range []string{
		MethodDisconnect, MethodEvents, MethodAddBreakpoint, MethodDeleteBreakpoint, MethodDeleteAllBreakpoints,
		MethodStepInto, MethodStepOver, MethodStepOut, MethodResume, MethodSetValue,
	} {
		tr.Handle(m, memorybus.Reply(nil))
	}
	st, err := memory.New(0)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	sess := New(tr, append([]Option{WithStore(st)}, opts...)...)
	obs := newRecorder()
	sess.AddObserver(obs)
	t.Cleanup(func() {
		sess.Close()
		_ = tr.Close()
	})
	return &harness{t: t, tr: tr, st: st, sess: sess, obs: obs}
}

func (h *harness) attach() {
	h.t.Helper()
	if _, err := await(h.t, h.sess.Attach("localhost", 8000)); err != nil {
		h.t.Fatalf("attach: %v", err)
	}
	if !h.sess.IsConnected() {
		h.t.Fatalf("state after attach = %s", h.sess.State())
	}
}

func (h *harness) eventsChannel() string     { return DefaultEventsChannelPrefix + testSessionID }
func (h *harness) disconnectChannel() string { return DefaultDisconnectChannelPrefix + testSessionID }

func (h *harness) publishEvents(events ...Event) {
	h.t.Helper()
	data, err := EncodeEvents(events...)
	if err != nil {
		h.t.Fatalf("EncodeEvents: %v", err)
	}
	if err := h.tr.Publish(context.Background(), h.eventsChannel(), data); err != nil {
		h.t.Fatalf("publish: %v", err)
	}
}

func (h *harness) persisted() ([]byte, bool) {
	h.t.Helper()
	v, ok, err := h.st.Get(context.Background(), DefaultStorageKey)
	if err != nil {
		h.t.Fatalf("store get: %v", err)
	}
	return v, ok
}

func (h *harness) calls(method string) int { return len(h.tr.CallsTo(method)) }

func await[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	if err == context.DeadlineExceeded && !f.Settled() {
		t.Fatal("timed out waiting for future")
	}
	return v, err
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// gate blocks a backend handler until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate(t *testing.T) *gate {
	g := &gate{entered: make(chan struct{}, 16), release: make(chan struct{})}
	t.Cleanup(g.open)
	return g
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) handler(result any, err error) memorybus.HandlerFunc {
	return func(context.Context, json.RawMessage) (any, error) {
		g.entered <- struct{}{}
		<-g.release
		return result, err
	}
}

func (g *gate) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
}

// recorder logs every callback as a short string.
type recorder struct {
	mu          sync.Mutex
	log         []string
	descriptors []Descriptor
	added       []Breakpoint
	deleted     []Breakpoint
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) count(entry string) int {
	n := 0
	for _, e := range r.entries() {
		if e == entry {
			n++
		}
	}
	return n
}

func (r *recorder) OnAttached(d Descriptor, _ *future.Future[struct{}]) {
	r.mu.Lock()
	r.descriptors = append(r.descriptors, d)
	r.mu.Unlock()
	r.add("attached %s", d.Address)
}

func (r *recorder) OnDetached() { r.add("detached") }

func (r *recorder) OnStepInto() { r.add("stepInto") }

func (r *recorder) OnStepOver() { r.add("stepOver") }

func (r *recorder) OnStepOut() { r.add("stepOut") }

func (r *recorder) OnResumed() { r.add("resumed") }

func (r *recorder) OnStoppedAt(typeID string, line int) { r.add("stopped %s:%d", typeID, line) }

func (r *recorder) OnBreakpointActivated(path string, line int) { r.add("activated %s:%d", path, line) }

func (r *recorder) OnBreakpointAdded(bp Breakpoint) {
	r.mu.Lock()
	r.added = append(r.added, bp)
	r.mu.Unlock()
	r.add("added %s active=%v", bp.Location, bp.Active)
}

func (r *recorder) OnBreakpointDeleted(bp Breakpoint) {
	r.mu.Lock()
	r.deleted = append(r.deleted, bp)
	r.mu.Unlock()
	r.add("deleted %s", bp.Location)
}

func (r *recorder) OnAllBreakpointsDeleted() { r.add("deletedAll") }

func (r *recorder) OnValueChanged(path []string, value string) { r.add("changed %v=%s", path, value) }

var (
	_ AttachObserver     = (*recorder)(nil)
	_ DetachObserver     = (*recorder)(nil)
	_ ExecutionObserver  = (*recorder)(nil)
	_ StopObserver       = (*recorder)(nil)
	_ BreakpointObserver = (*recorder)(nil)
	_ ValueObserver      = (*recorder)(nil)
)
