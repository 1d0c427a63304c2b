package debugger

import (
	"errors"
	"testing"

	"github.com/ggoodman/debugsession-go/transport"
	"github.com/ggoodman/debugsession-go/transport/memorybus"
)

var mainLine10 = Location{TypeIdentifier: "com.acme.Main", Line: 10}

func TestAddBreakpointWhileDetachedIsStaged(t *testing.T) {
	h := newHarness(t)
	bp, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10))
	if err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if bp.Active || !bp.Enabled || bp.FilePath != "/src/Main.java" || bp.Location != mainLine10 {
		t.Fatalf("breakpoint = %+v", bp)
	}
	if got := h.sess.Breakpoints(); len(got) != 1 || got[0] != bp {
		t.Fatalf("Breakpoints() = %+v", got)
	}
	if n := len(h.tr.Calls()); n != 0 {
		t.Fatalf("%d RPCs while detached", n)
	}
	if h.obs.count("added com.acme.Main:11 active=false") != 1 {
		t.Fatalf("notifications = %v", h.obs.entries())
	}
}

func TestAddBreakpointWhileAttached(t *testing.T) {
	h := newHarness(t)
	h.attach()

	bp, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10))
	if err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if !bp.Active {
		t.Fatal("accepted breakpoint not active")
	}
	calls := h.tr.CallsTo(MethodAddBreakpoint)
	want := `{"sessionId":"abc","location":{"className":"com.acme.Main","lineNumber":11},"filePath":"/src/Main.java","enabled":true}`
	if len(calls) != 1 || string(calls[0].Params) != want {
		t.Fatalf("add calls = %+v", calls)
	}
	if got := h.sess.Breakpoints(); len(got) != 1 || !got[0].Active {
		t.Fatalf("Breakpoints() = %+v", got)
	}
	if h.obs.count("added com.acme.Main:11 active=true") != 1 {
		t.Fatalf("notifications = %v", h.obs.entries())
	}
}

func TestAddBreakpointRejected(t *testing.T) {
	h := newHarness(t)
	h.tr.Handle(MethodAddBreakpoint, memorybus.Fail(errors.New("no such line")))
	h.attach()
	before := len(h.sess.Breakpoints())

	if _, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10)); err == nil {
		t.Fatal("expected error")
	}
	if n := len(h.sess.Breakpoints()); n != before {
		t.Fatalf("breakpoints %d -> %d after rejection", before, n)
	}
	h.obs.mu.Lock()
	defer h.obs.mu.Unlock()
	if len(h.obs.added) != 0 {
		t.Fatalf("rejected breakpoint notified: %+v", h.obs.added)
	}
	if !h.sess.IsConnected() {
		t.Fatal("ordinary failure must not detach")
	}
}

func TestDuplicateBreakpointsAreKept(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		if _, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10)); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(h.sess.Breakpoints()); n != 2 {
		t.Fatalf("breakpoints = %d, want 2", n)
	}
}

func TestNegativeLineIsClamped(t *testing.T) {
	h := newHarness(t)
	bp, err := await(t, h.sess.AddBreakpoint("/src/Main.java", Location{TypeIdentifier: "T", Line: -4}))
	if err != nil {
		t.Fatal(err)
	}
	if bp.Location.Line != 0 {
		t.Fatalf("line = %d", bp.Location.Line)
	}
}

func TestStagedBreakpointsPushedOnAttach(t *testing.T) {
	h := newHarness(t)
	other := Location{TypeIdentifier: "com.acme.Util", Line: 3}
	for _, loc := range []Location{mainLine10, other} {
		if _, err := await(t, h.sess.AddBreakpoint("/src/"+loc.TypeIdentifier, loc)); err != nil {
			t.Fatal(err)
		}
	}
	h.attach()

	eventually(t, "staged breakpoints activated", func() bool {
		for _, bp := range h.sess.Breakpoints() {
			if !bp.Active {
				return false
			}
		}
		return true
	})
	if n := h.calls(MethodAddBreakpoint); n != 2 {
		t.Fatalf("add RPCs = %d", n)
	}
	eventually(t, "activation notifications", func() bool {
		return h.obs.count("activated /src/com.acme.Main:10") == 1 && h.obs.count("activated /src/com.acme.Util:3") == 1
	})
}

func TestStagedBreakpointRejectedStaysInactive(t *testing.T) {
	h := newHarness(t)
	h.tr.Handle(MethodAddBreakpoint, memorybus.Fail(errors.New("bad line")))
	if _, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10)); err != nil {
		t.Fatal(err)
	}
	h.attach()
	eventually(t, "push attempt", func() bool { return h.calls(MethodAddBreakpoint) == 1 })
	if _, err := await(t, h.sess.StepOver()); err != nil {
		t.Fatal(err)
	}
	if got := h.sess.Breakpoints(); len(got) != 1 || got[0].Active {
		t.Fatalf("Breakpoints() = %+v", got)
	}
}

func TestDetachDeactivatesBreakpoints(t *testing.T) {
	h := newHarness(t)
	h.attach()
	if _, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10)); err != nil {
		t.Fatal(err)
	}
	if _, err := await(t, h.sess.Detach()); err != nil {
		t.Fatal(err)
	}
	got := h.sess.Breakpoints()
	if len(got) != 1 || got[0].Active {
		t.Fatalf("Breakpoints() after detach = %+v", got)
	}
}

func TestDeleteBreakpointWhileAttached(t *testing.T) {
	h := newHarness(t)
	h.attach()
	keep := Location{TypeIdentifier: "com.acme.Main", Line: 20}
	for _, loc := range []Location{mainLine10, mainLine10, keep} {
		if _, err := await(t, h.sess.AddBreakpoint("/src/Main.java", loc)); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := await(t, h.sess.DeleteBreakpoint("/src/Main.java", mainLine10)); err != nil {
		t.Fatalf("DeleteBreakpoint: %v", err)
	}
	got := h.sess.Breakpoints()
	if len(got) != 1 || got[0].Location != keep {
		t.Fatalf("Breakpoints() = %+v", got)
	}
	if n := h.calls(MethodDeleteBreakpoint); n != 1 {
		t.Fatalf("delete RPCs = %d", n)
	}
	if h.obs.count("deleted com.acme.Main:11") != 1 {
		t.Fatalf("notifications = %v", h.obs.entries())
	}
}

func TestDeleteBreakpointRejected(t *testing.T) {
	h := newHarness(t)
	h.tr.Handle(MethodDeleteBreakpoint, memorybus.Fail(errors.New("busy")))
	h.attach()
	if _, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10)); err != nil {
		t.Fatal(err)
	}
	if _, err := await(t, h.sess.DeleteBreakpoint("/src/Main.java", mainLine10)); err == nil {
		t.Fatal("expected error")
	}
	if n := len(h.sess.Breakpoints()); n != 1 {
		t.Fatalf("breakpoints = %d, want 1", n)
	}
	if h.obs.count("deleted com.acme.Main:11") != 0 {
		t.Fatal("rejected delete notified")
	}
}

func TestDeleteBreakpointWhileDetached(t *testing.T) {
	h := newHarness(t)
	if _, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10)); err != nil {
		t.Fatal(err)
	}
	if _, err := await(t, h.sess.DeleteBreakpoint("/src/Other.java", mainLine10)); err != nil {
		t.Fatal(err)
	}
	if n := len(h.sess.Breakpoints()); n != 1 {
		t.Fatal("delete matched a different file")
	}
	if _, err := await(t, h.sess.DeleteBreakpoint("/src/Main.java", mainLine10)); err != nil {
		t.Fatal(err)
	}
	if n := len(h.sess.Breakpoints()); n != 0 {
		t.Fatalf("breakpoints = %d", n)
	}
	if n := h.obs.count("deleted com.acme.Main:11"); n != 1 {
		t.Fatalf("deleted notifications = %d, want 1", n)
	}
	if n := len(h.tr.Calls()); n != 0 {
		t.Fatalf("%d RPCs while detached", n)
	}
}

func TestDeleteAllBreakpoints(t *testing.T) {
	h := newHarness(t)
	h.attach()
	for i := 0; i < 3; i++ {
		if _, err := await(t, h.sess.AddBreakpoint("/src/Main.java", Location{TypeIdentifier: "T", Line: i})); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := await(t, h.sess.DeleteAllBreakpoints()); err != nil {
		t.Fatal(err)
	}
	if n := len(h.sess.Breakpoints()); n != 0 {
		t.Fatalf("breakpoints = %d", n)
	}
	calls := h.tr.CallsTo(MethodDeleteAllBreakpoints)
	if len(calls) != 1 || string(calls[0].Params) != `{"sessionId":"abc"}` {
		t.Fatalf("deleteAll calls = %+v", calls)
	}
	if h.obs.count("deletedAll") != 1 {
		t.Fatalf("notifications = %v", h.obs.entries())
	}
}

func TestDeleteAllBreakpointsWhileDetached(t *testing.T) {
	h := newHarness(t)
	if _, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10)); err != nil {
		t.Fatal(err)
	}
	f := h.sess.DeleteAllBreakpoints()
	if !f.Settled() || f.Err() != nil {
		t.Fatalf("DeleteAllBreakpoints detached: settled=%v err=%v", f.Settled(), f.Err())
	}
	if n := len(h.sess.Breakpoints()); n != 1 {
		t.Fatalf("breakpoints = %d, want untouched", n)
	}
	if h.obs.count("deletedAll") != 0 || len(h.tr.Calls()) != 0 {
		t.Fatal("detached DeleteAllBreakpoints had effects")
	}
}

func TestBreakpointRPCNotFoundDetaches(t *testing.T) {
	h := newHarness(t)
	h.tr.Handle(MethodAddBreakpoint, memorybus.Fail(&transport.RemoteError{Code: transport.CodeNotFound, Message: "session abc not found"}))
	h.attach()
	_, err := await(t, h.sess.AddBreakpoint("/src/Main.java", mainLine10))
	if !transport.IsNotFound(err) {
		t.Fatalf("err = %v", err)
	}
	eventually(t, "detach after lost session", func() bool { return h.obs.count("detached") == 1 })
	if h.sess.State() != Detached {
		t.Fatalf("state = %s", h.sess.State())
	}
}
