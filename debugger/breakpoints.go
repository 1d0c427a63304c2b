package debugger

import (
	"encoding/json"
	"log/slog"

	"github.com/ggoodman/debugsession-go/future"
)

// bpRecord gives each breakpoint an identity so duplicates at one location
// can be told apart.
type bpRecord struct {
	bp Breakpoint
}

func (s *Session) record(bp Breakpoint) *bpRecord {
	r := &bpRecord{bp: bp}
	s.breakpoints = append(s.breakpoints, r)
	s.publish()
	return r
}

func (s *Session) present(r *bpRecord) bool {
	for _, x := range s.breakpoints {
		if x == r {
			return true
		}
	}
	return false
}

// removeMatching drops the records at filePath/loc for which drop reports
// true and returns how many went.
func (s *Session) removeMatching(filePath string, loc Location, drop func(*bpRecord) bool) int {
	kept := s.breakpoints[:0]
	n := 0
	for _, r := range s.breakpoints {
		if r.bp.FilePath == filePath && r.bp.Location == loc && drop(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(s.breakpoints); i++ {
		s.breakpoints[i] = nil
	}
	s.breakpoints = kept
	if n > 0 {
		s.publish()
	}
	return n
}

func normalize(loc Location) Location {
	if loc.Line < 0 {
		loc.Line = 0
	}
	return loc
}

// AddBreakpoint sets a breakpoint. While attached the backend must accept it
// first; otherwise it is staged inactive and pushed on the next attach.
// Breakpoints at the same location are kept side by side.
func (s *Session) AddBreakpoint(filePath string, loc Location) *future.Future[Breakpoint] {
	if s.closed.Load() {
		return future.Failed[Breakpoint](ErrClosed)
	}
	loc = normalize(loc)
	return submit(s, func(out *future.Future[Breakpoint]) {
		bp := Breakpoint{Location: loc, FilePath: filePath, Enabled: true}
		if s.state != Attached {
			s.record(bp)
			s.log.DebugContext(s.logCtx(), "debugger.breakpoint.staged", slog.String("location", loc.String()))
			s.notifyAdded(bp)
			out.Resolve(bp)
			return
		}
		params := breakpointParams{SessionID: s.info.SessionID, Location: loc.wire(), FilePath: filePath, Enabled: true}
		rpc(s, out, MethodAddBreakpoint, params, func(json.RawMessage) {
			bp.Active = true
			s.record(bp)
			s.notifyAdded(bp)
			out.Resolve(bp)
		})
	})
}

func (s *Session) notifyAdded(bp Breakpoint) {
	each(&s.observers, s.log, func(o BreakpointObserver) { o.OnBreakpointAdded(bp) })
}

// DeleteBreakpoint removes every breakpoint at filePath/loc. While attached
// the local records are kept if the backend refuses. While detached only
// staged records are removed and nothing is sent.
func (s *Session) DeleteBreakpoint(filePath string, loc Location) *future.Future[struct{}] {
	if s.closed.Load() {
		return future.Failed[struct{}](ErrClosed)
	}
	loc = normalize(loc)
	return submit(s, func(out *future.Future[struct{}]) {
		deleted := Breakpoint{Location: loc, FilePath: filePath, Enabled: true}
		if s.state != Attached {
			if s.removeMatching(filePath, loc, func(r *bpRecord) bool { return !r.bp.Active }) > 0 {
				s.notifyDeleted(deleted)
			}
			out.Resolve(struct{}{})
			return
		}
		params := breakpointParams{SessionID: s.info.SessionID, Location: loc.wire(), FilePath: filePath, Enabled: true}
		rpc(s, out, MethodDeleteBreakpoint, params, func(json.RawMessage) {
			s.removeMatching(filePath, loc, func(*bpRecord) bool { return true })
			s.notifyDeleted(deleted)
			out.Resolve(struct{}{})
		})
	})
}

func (s *Session) notifyDeleted(bp Breakpoint) {
	each(&s.observers, s.log, func(o BreakpointObserver) { o.OnBreakpointDeleted(bp) })
}

// DeleteAllBreakpoints clears every breakpoint on the backend and locally.
// It does nothing unless attached.
func (s *Session) DeleteAllBreakpoints() *future.Future[struct{}] {
	if s.closed.Load() {
		return future.Failed[struct{}](ErrClosed)
	}
	if s.State() != Attached {
		return future.Resolved(struct{}{})
	}
	return submit(s, func(out *future.Future[struct{}]) {
		if s.state != Attached {
			out.Resolve(struct{}{})
			return
		}
		rpc(s, out, MethodDeleteAllBreakpoints, sessionParams{SessionID: s.info.SessionID}, func(json.RawMessage) {
			s.breakpoints = nil
			s.publish()
			each(&s.observers, s.log, func(o BreakpointObserver) { o.OnAllBreakpointsDeleted() })
			out.Resolve(struct{}{})
		})
	})
}

// pushStaged sends every inactive breakpoint to a freshly attached backend.
// Accepted ones are reported as activated.
func (s *Session) pushStaged(gen uint64) {
	for _, r := range s.breakpoints {
		if r.bp.Active {
			continue
		}
		r := r
		params := breakpointParams{SessionID: s.info.SessionID, Location: r.bp.Location.wire(), FilePath: r.bp.FilePath, Enabled: r.bp.Enabled}
		ack := future.New[struct{}]()
		rpc(s, ack, MethodAddBreakpoint, params, func(json.RawMessage) {
			ack.Resolve(struct{}{})
			if gen != s.gen || !s.present(r) || r.bp.Active {
				return
			}
			r.bp.Active = true
			s.publish()
			each(&s.observers, s.log, func(o BreakpointObserver) { o.OnBreakpointActivated(r.bp.FilePath, r.bp.Location.Line) })
		})
	}
}

// markActive flags local breakpoints at loc as accepted by the backend.
func (s *Session) markActive(loc Location) {
	changed := false
	for _, r := range s.breakpoints {
		if r.bp.Location == loc && !r.bp.Active {
			r.bp.Active = true
			changed = true
		}
	}
	if changed {
		s.publish()
	}
}
