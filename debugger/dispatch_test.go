package debugger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ggoodman/debugsession-go/transport"
	"github.com/ggoodman/debugsession-go/transport/memorybus"
)

// fileLog records OpenFile calls and fails paths listed in missing.
type fileLog struct {
	mu      sync.Mutex
	opened  []string
	missing map[string]bool
}

func (f *fileLog) OpenFile(_ context.Context, path string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[path] {
		return errors.New("no such file")
	}
	f.opened = append(f.opened, path)
	return nil
}

func (f *fileLog) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func srcResolver(id string) []string { return []string{"/src/" + id + ".java"} }

func TestEventBatchIsHandledInOrder(t *testing.T) {
	files := &fileLog{}
	h := newHarness(t, WithResolver(ResolverFunc(srcResolver)), WithFileOpener(files))
	h.attach()

	h.publishEvents(
		StepEvent{Location: Location{TypeIdentifier: "L1", Line: 1}},
		BreakpointHitEvent{Location: Location{TypeIdentifier: "L2", Line: 2}},
		StepEvent{Location: Location{TypeIdentifier: "L3", Line: 3}},
	)
	eventually(t, "three stops", func() bool { return len(h.obs.entries()) >= 4 })

	got := files.paths()
	want := []string{"/src/L1.java", "/src/L2.java", "/src/L3.java"}
	if len(got) != len(want) {
		t.Fatalf("opened %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("opened %v, want %v", got, want)
		}
	}
	entries := h.obs.entries()[1:]
	for i, e := range []string{"stopped L1:1", "stopped L2:2", "stopped L3:3"} {
		if entries[i] != e {
			t.Fatalf("notifications %v", entries)
		}
	}
}

func TestStopNotifiesEvenWithoutSource(t *testing.T) {
	files := &fileLog{missing: map[string]bool{"/a/T.java": true, "/b/T.java": true}}
	resolver := ResolverFunc(func(id string) []string { return []string{"/a/" + id + ".java", "/b/" + id + ".java"} })
	h := newHarness(t, WithResolver(resolver), WithFileOpener(files))
	h.attach()

	h.publishEvents(StepEvent{Location: Location{TypeIdentifier: "T", Line: 4}})
	eventually(t, "stop", func() bool { return h.obs.count("stopped T:4") == 1 })
	if got := files.paths(); len(got) != 0 {
		t.Fatalf("opened %v", got)
	}
}

func TestStopOpensFirstAvailableCandidate(t *testing.T) {
	files := &fileLog{missing: map[string]bool{"/a/T.java": true}}
	resolver := ResolverFunc(func(id string) []string {
		return []string{"/a/" + id + ".java", "/b/" + id + ".java", "/c/" + id + ".java"}
	})
	h := newHarness(t, WithResolver(resolver), WithFileOpener(files))
	h.attach()

	h.publishEvents(BreakpointHitEvent{Location: Location{TypeIdentifier: "T", Line: 0}})
	eventually(t, "stop", func() bool { return h.obs.count("stopped T:0") == 1 })
	if got := files.paths(); len(got) != 1 || got[0] != "/b/T.java" {
		t.Fatalf("opened %v", got)
	}
}

func TestActivatedEventNotifiesEachCandidate(t *testing.T) {
	resolver := ResolverFunc(func(id string) []string { return []string{"/a/" + id, "/b/" + id} })
	h := newHarness(t, WithResolver(resolver))
	h.attach()

	h.publishEvents(BreakpointActivatedEvent{Location: Location{TypeIdentifier: "T", Line: 7}})
	eventually(t, "activations", func() bool {
		return h.obs.count("activated /a/T:7") == 1 && h.obs.count("activated /b/T:7") == 1
	})
}

func TestActivatedEventMarksBreakpointsActive(t *testing.T) {
	h := newHarness(t)
	loc := Location{TypeIdentifier: "T", Line: 7}
	if _, err := await(t, h.sess.AddBreakpoint("/src/T.java", loc)); err != nil {
		t.Fatal(err)
	}
	h.tr.Handle(MethodAddBreakpoint, memorybus.Fail(errors.New("later")))
	h.attach()

	h.publishEvents(BreakpointActivatedEvent{Location: loc})
	eventually(t, "breakpoint active", func() bool {
		bps := h.sess.Breakpoints()
		return len(bps) == 1 && bps[0].Active
	})
}

func TestUnknownEventsAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.attach()

	batch := `{"events":[{"type":"threadStarted","location":{"className":"T","lineNumber":1}},{"type":"step"},{"type":"step","location":{"className":"T","lineNumber":5}}]}`
	if err := h.tr.Publish(context.Background(), h.eventsChannel(), []byte(batch)); err != nil {
		t.Fatal(err)
	}
	eventually(t, "known event", func() bool { return h.obs.count("stopped T:4") == 1 })
	if n := len(h.obs.entries()); n != 2 {
		t.Fatalf("notifications = %v", h.obs.entries())
	}
}

func TestMalformedBatchIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.attach()
	if err := h.tr.Publish(context.Background(), h.eventsChannel(), []byte("{nope")); err != nil {
		t.Fatal(err)
	}
	h.publishEvents(StepEvent{Location: Location{TypeIdentifier: "T", Line: 1}})
	eventually(t, "later event", func() bool { return h.obs.count("stopped T:1") == 1 })
	if !h.sess.IsConnected() {
		t.Fatal("malformed batch detached the session")
	}
}

func TestDisconnectChannelDetaches(t *testing.T) {
	h := newHarness(t)
	h.attach()
	if err := h.tr.Publish(context.Background(), h.disconnectChannel(), []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	eventually(t, "detached", func() bool { return h.obs.count("detached") == 1 })
	if h.sess.State() != Detached {
		t.Fatalf("state = %s", h.sess.State())
	}
	if h.tr.Subscribers(h.eventsChannel())+h.tr.Subscribers(h.disconnectChannel()) != 0 {
		t.Fatal("subscriptions left after remote disconnect")
	}
	if raw, _ := h.persisted(); len(raw) != 0 {
		t.Fatalf("persisted = %q", raw)
	}
}

func TestEventsChannelNotFoundDetaches(t *testing.T) {
	h := newHarness(t)
	h.attach()
	err := h.tr.PublishError(context.Background(), h.eventsChannel(), &transport.RemoteError{Code: transport.CodeNotFound, Message: "gone"})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "detached", func() bool { return h.obs.count("detached") == 1 })
	if h.sess.State() != Detached {
		t.Fatalf("state = %s", h.sess.State())
	}
}

func TestEventsChannelErrorUnsubscribes(t *testing.T) {
	h := newHarness(t)
	h.attach()
	err := h.tr.PublishError(context.Background(), h.eventsChannel(), &transport.RemoteError{Code: transport.CodeUnavailable, Message: "flaky"})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "events unsubscribed", func() bool { return h.tr.Subscribers(h.eventsChannel()) == 0 })
	if !h.sess.IsConnected() {
		t.Fatal("transient channel error detached the session")
	}
	if h.tr.Subscribers(h.disconnectChannel()) != 1 {
		t.Fatal("disconnect channel dropped")
	}
}

func TestDisconnectChannelErrorOnlyUnsubscribes(t *testing.T) {
	h := newHarness(t)
	h.attach()
	err := h.tr.PublishError(context.Background(), h.disconnectChannel(), &transport.RemoteError{Code: transport.CodeNotFound, Message: "gone"})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "disconnect unsubscribed", func() bool { return h.tr.Subscribers(h.disconnectChannel()) == 0 })
	if !h.sess.IsConnected() || h.tr.Subscribers(h.eventsChannel()) != 1 {
		t.Fatal("disconnect channel error affected the session")
	}
}

type panicky struct{}

func (panicky) OnStoppedAt(string, int) { panic("boom") }

func TestObserverPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.sess.RemoveObserver(h.obs)
	h.sess.AddObserver(panicky{})
	h.sess.AddObserver(h.obs)
	h.attach()

	h.publishEvents(StepEvent{Location: Location{TypeIdentifier: "T", Line: 1}})
	eventually(t, "later observer", func() bool { return h.obs.count("stopped T:1") == 1 })
	if _, err := await(t, h.sess.StepOver()); err != nil {
		t.Fatalf("session unusable after observer panic: %v", err)
	}
}

// selfRemover unregisters itself on its first stop.
type selfRemover struct {
	sess *Session
	mu   sync.Mutex
	hits int
}

func (r *selfRemover) OnStoppedAt(string, int) {
	r.mu.Lock()
	r.hits++
	r.mu.Unlock()
	r.sess.RemoveObserver(r)
}

func TestObserverRemovedDuringDispatch(t *testing.T) {
	h := newHarness(t)
	sr := &selfRemover{sess: h.sess}
	h.sess.RemoveObserver(h.obs)
	h.sess.AddObserver(sr)
	h.sess.AddObserver(h.obs)
	h.attach()

	h.publishEvents(StepEvent{Location: Location{TypeIdentifier: "T", Line: 1}})
	h.publishEvents(StepEvent{Location: Location{TypeIdentifier: "T", Line: 2}})
	eventually(t, "both stops", func() bool { return h.obs.count("stopped T:2") == 1 })
	if h.obs.count("stopped T:1") != 1 {
		t.Fatal("observer after the removed one missed the first stop")
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.hits != 1 {
		t.Fatalf("removed observer called %d times", sr.hits)
	}
}

func TestRemoveObserver(t *testing.T) {
	h := newHarness(t)
	if !h.sess.RemoveObserver(h.obs) {
		t.Fatal("registered observer not removed")
	}
	if h.sess.RemoveObserver(h.obs) {
		t.Fatal("second removal reported true")
	}
	h.attach()
	if got := h.obs.entries(); len(got) != 0 {
		t.Fatalf("removed observer notified: %v", got)
	}
}
