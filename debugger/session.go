package debugger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/debugsession-go/future"
	"github.com/ggoodman/debugsession-go/internal/eventloop"
	"github.com/ggoodman/debugsession-go/internal/logctx"
	"github.com/ggoodman/debugsession-go/transport"
)

// Session is a client-side handle on one remote debug target.
type Session struct {
	tr   transport.Transport
	cfg  config
	log  *slog.Logger
	loop *eventloop.Loop

	ctx    context.Context
	cancel context.CancelFunc

	observers observerSet
	mirror    atomic.Int32
	closed    atomic.Bool

	snapMu          sync.RWMutex
	snapInfo        *SessionInfo
	snapBreakpoints []Breakpoint

	// Everything below is owned by the loop goroutine.
	state         State
	info          *SessionInfo
	gen           uint64
	probeGen      uint64
	breakpoints   []*bpRecord
	eventsSub     transport.Subscription
	disconnectSub transport.Subscription
}

// New creates a detached Session using tr for calls and channels.
func New(tr transport.Transport, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := slog.New(logctx.Handler{Handler: cfg.log.Handler()})
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		tr:     tr,
		cfg:    cfg,
		log:    log,
		loop:   eventloop.New(eventloop.WithLogger(log)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddObserver registers o for the callbacks of every observer interface it
// implements.
func (s *Session) AddObserver(o Observer) { s.observers.add(o) }

// RemoveObserver unregisters o. It reports whether o was registered.
func (s *Session) RemoveObserver(o Observer) bool { return s.observers.remove(o) }

// State returns the current attachment state.
func (s *Session) State() State { return State(s.mirror.Load()) }

// IsConnected reports whether the session is attached.
func (s *Session) IsConnected() bool { return s.State() == Attached }

// Info returns the attached session, if any.
func (s *Session) Info() (SessionInfo, bool) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	if s.snapInfo == nil {
		return SessionInfo{}, false
	}
	return *s.snapInfo, true
}

// Breakpoints returns the known breakpoints in the order they were added.
func (s *Session) Breakpoints() []Breakpoint {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return append([]Breakpoint(nil), s.snapBreakpoints...)
}

// Done is closed once Close has been called and queued work has drained.
func (s *Session) Done() <-chan struct{} { return s.loop.Done() }

// Close stops the session. Channel subscriptions are dropped but the remote
// session is left running and stays persisted, so a later Session can
// Restore it. Subsequent operations fail with ErrClosed.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.loop.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ioTimeout)
		defer cancel()
		s.gen++
		for _, sub := range []*transport.Subscription{&s.eventsSub, &s.disconnectSub} {
			if *sub != nil {
				_ = (*sub).Unsubscribe(ctx)
				*sub = nil
			}
		}
		s.cancel()
	})
	s.loop.Close()
}

// Attach connects to the VM at host:port. Attach observers are told
// immediately; the returned future settles once the session is attached and
// its channels are subscribed.
func (s *Session) Attach(host string, port int) *future.Future[struct{}] {
	if s.closed.Load() {
		return future.Failed[struct{}](ErrClosed)
	}
	if s.State() != Detached {
		return future.Failed[struct{}](ErrAlreadyConnected)
	}
	return submit(s, func(out *future.Future[struct{}]) { s.attach(host, port, out) })
}

func (s *Session) attach(host string, port int, out *future.Future[struct{}]) {
	if s.state != Detached {
		out.Reject(ErrAlreadyConnected)
		return
	}
	s.gen++
	gen := s.gen
	s.setState(Attaching)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ctx := s.logCtx()
	s.log.InfoContext(ctx, "debugger.attach.start", slog.String("address", addr))

	call := s.tr.Call(ctx, MethodConnect, connectParams{Host: host, Port: port})

	d := Descriptor{Address: addr}
	each(&s.observers, s.log, func(o AttachObserver) { o.OnAttached(d, out) })

	whenDone(s, call, out, func(raw json.RawMessage, err error) {
		if gen != s.gen {
			if err == nil {
				s.disconnectOrphan(raw)
			}
			out.Reject(ErrDetached)
			return
		}
		var info SessionInfo
		if err == nil {
			info, err = decodeConnect(raw, host, port)
		}
		if err != nil {
			s.log.ErrorContext(ctx, "debugger.attach.failed", slog.String("address", addr), slog.String("err", err.Error()))
			s.setState(Detached)
			out.Reject(fmt.Errorf("attach %s: %w", addr, err))
			return
		}

		s.info = &info
		s.persist(&info)
		s.subscribeChannels(gen)
		s.setState(Attached)
		s.log.InfoContext(s.logCtx(), "debugger.attach.ok", slog.String("vm", info.VMName))
		s.pushStaged(gen)
		out.Resolve(struct{}{})
	})
}

func decodeConnect(raw json.RawMessage, host string, port int) (SessionInfo, error) {
	var res connectResult
	if err := json.Unmarshal(raw, &res); err != nil {
		var id string
		if serr := json.Unmarshal(raw, &id); serr != nil {
			return SessionInfo{}, fmt.Errorf("decode connect result: %w", err)
		}
		res.ID = id
	}
	if res.ID == "" {
		return SessionInfo{}, errors.New("connect result has no session id")
	}
	return SessionInfo{SessionID: res.ID, Host: host, Port: port, VMName: res.VMName, VMVersion: res.VMVersion}, nil
}

// disconnectOrphan tears down a remote session whose attach was abandoned.
func (s *Session) disconnectOrphan(raw json.RawMessage) {
	info, err := decodeConnect(raw, "", 0)
	if err != nil {
		return
	}
	ctx := s.logCtx()
	s.log.InfoContext(ctx, "debugger.attach.abandoned", slog.String("remote_session", info.SessionID))
	s.tr.Call(ctx, MethodDisconnect, sessionParams{SessionID: info.SessionID}).OnComplete(func(_ json.RawMessage, err error) {
		if err != nil {
			s.log.WarnContext(ctx, "debugger.disconnect.failed", slog.String("err", err.Error()))
		}
	})
}

// Detach ends the session. It may be called in any state; detach observers
// are told once per call. When attached, the future settles after the
// backend has answered the disconnect, whatever the answer, or after the
// I/O timeout if it never does.
func (s *Session) Detach() *future.Future[struct{}] {
	if s.closed.Load() {
		return future.Failed[struct{}](ErrClosed)
	}
	return submit(s, s.detach)
}

func (s *Session) detach(out *future.Future[struct{}]) {
	switch s.state {
	case Attached:
		ctx := s.logCtx()
		id := s.info.SessionID
		s.gen++
		gen := s.gen

		s.unsubscribeChannels()
		s.info = nil
		for _, r := range s.breakpoints {
			r.bp.Active = false
		}
		s.persist(nil)
		s.setState(Detaching)

		// Not every transport honours ctx, so the timer bounds Detaching too.
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ioTimeout)
		settled := false
		finish := func(err error) {
			if settled {
				return
			}
			settled = true
			cancel()
			if err != nil {
				s.log.WarnContext(ctx, "debugger.disconnect.failed", slog.String("err", err.Error()))
			}
			if gen == s.gen && s.state == Detaching {
				s.setState(Detached)
			}
			s.log.InfoContext(ctx, "debugger.detach.ok")
			s.notifyDetached()
			out.Resolve(struct{}{})
		}
		timer := time.AfterFunc(s.cfg.ioTimeout, func() {
			if !s.loop.Post(func() { finish(context.DeadlineExceeded) }) {
				out.Reject(ErrClosed)
			}
		})
		call := s.tr.Call(callCtx, MethodDisconnect, sessionParams{SessionID: id})
		whenDone(s, call, out, func(_ json.RawMessage, err error) {
			timer.Stop()
			finish(err)
		})
	case Attaching:
		s.gen++
		s.setState(Detached)
		s.notifyDetached()
		out.Resolve(struct{}{})
	default:
		s.notifyDetached()
		out.Resolve(struct{}{})
	}
}

func (s *Session) notifyDetached() {
	each(&s.observers, s.log, func(o DetachObserver) { o.OnDetached() })
}

// Restore resumes a session persisted by an earlier process. It resolves
// true when the backend confirmed the session is still alive. A stale or
// unreadable record resolves false and is cleared; no observers are told.
func (s *Session) Restore() *future.Future[bool] {
	if s.closed.Load() {
		return future.Failed[bool](ErrClosed)
	}
	if s.State() != Detached {
		return future.Failed[bool](ErrAlreadyConnected)
	}
	return submit(s, s.restore)
}

func (s *Session) restore(out *future.Future[bool]) {
	if s.state != Detached {
		out.Reject(ErrAlreadyConnected)
		return
	}
	info, ok := s.load()
	if !ok {
		out.Resolve(false)
		return
	}

	s.gen++
	gen := s.gen
	s.info = &info
	s.probeGen = gen
	s.setState(Attached)

	ctx := s.logCtx()
	s.log.InfoContext(ctx, "debugger.restore.start")
	call := s.tr.Call(ctx, MethodEvents, sessionParams{SessionID: info.SessionID})
	whenDone(s, call, out, func(_ json.RawMessage, err error) {
		if s.probeGen == gen {
			s.probeGen = 0
		}
		if gen != s.gen {
			out.Resolve(false)
			return
		}
		if err != nil {
			s.log.InfoContext(ctx, "debugger.restore.stale", slog.String("err", err.Error()))
			s.gen++
			s.info = nil
			s.setState(Detached)
			s.persist(nil)
			out.Resolve(false)
			return
		}
		s.subscribeChannels(gen)
		s.persist(&info)
		s.log.InfoContext(ctx, "debugger.restore.ok")
		s.pushStaged(gen)
		out.Resolve(true)
	})
}

// load reads the persisted session. Any failure means nothing to restore.
func (s *Session) load() (SessionInfo, bool) {
	if s.cfg.store == nil {
		return SessionInfo{}, false
	}
	ctx, cancel := s.ioCtx()
	defer cancel()
	data, ok, err := s.cfg.store.Get(ctx, s.cfg.storageKey)
	if err != nil {
		s.log.DebugContext(ctx, "debugger.restore.unavailable", slog.String("err", err.Error()))
		return SessionInfo{}, false
	}
	if !ok || len(data) == 0 {
		return SessionInfo{}, false
	}
	var info SessionInfo
	if err := json.Unmarshal(data, &info); err != nil || info.SessionID == "" {
		s.log.WarnContext(ctx, "debugger.restore.corrupt", slog.Int("bytes", len(data)))
		s.persist(nil)
		return SessionInfo{}, false
	}
	return info, true
}

// persist writes info, or the empty tombstone when info is nil.
func (s *Session) persist(info *SessionInfo) {
	if s.cfg.store == nil {
		return
	}
	data := []byte{}
	if info != nil {
		b, err := json.Marshal(info)
		if err != nil {
			s.log.WarnContext(s.ctx, "debugger.persist.failed", slog.String("err", err.Error()))
			return
		}
		data = b
	}
	ctx, cancel := s.ioCtx()
	defer cancel()
	if err := s.cfg.store.Set(ctx, s.cfg.storageKey, data); err != nil {
		s.log.WarnContext(ctx, "debugger.persist.failed", slog.String("err", err.Error()))
	}
}

func (s *Session) subscribeChannels(gen uint64) {
	id := s.info.SessionID
	s.eventsSub = s.subscribe(s.cfg.eventsPrefix+id, &channelHandler{s: s, gen: gen, kind: eventsChannel})
	s.disconnectSub = s.subscribe(s.cfg.disconnectPrefix+id, &channelHandler{s: s, gen: gen, kind: disconnectChannel})
}

func (s *Session) subscribe(channel string, h transport.Handler) transport.Subscription {
	ctx, cancel := s.ioCtx()
	defer cancel()
	sub, err := s.tr.Subscribe(ctx, channel, h)
	if err != nil {
		s.log.ErrorContext(logctx.WithChannel(s.logCtx(), channel), "debugger.subscribe.failed", slog.String("err", err.Error()))
		return nil
	}
	return sub
}

func (s *Session) unsubscribeChannels() {
	s.unsubscribe(&s.eventsSub)
	s.unsubscribe(&s.disconnectSub)
}

func (s *Session) unsubscribe(sub *transport.Subscription) {
	if *sub == nil {
		return
	}
	channel := (*sub).Channel()
	ctx, cancel := s.ioCtx()
	defer cancel()
	err := (*sub).Unsubscribe(ctx)
	*sub = nil
	if err != nil && !errors.Is(err, transport.ErrNotSubscribed) {
		s.log.WarnContext(logctx.WithChannel(s.logCtx(), channel), "debugger.unsubscribe.failed", slog.String("err", err.Error()))
	}
}

func (s *Session) setState(st State) {
	s.state = st
	s.mirror.Store(int32(st))
	s.publish()
}

// publish refreshes the snapshots read by Info and Breakpoints.
func (s *Session) publish() {
	bps := make([]Breakpoint, len(s.breakpoints))
	for i, r := range s.breakpoints {
		bps[i] = r.bp
	}
	var info *SessionInfo
	if s.info != nil {
		c := *s.info
		info = &c
	}
	s.snapMu.Lock()
	s.snapInfo = info
	s.snapBreakpoints = bps
	s.snapMu.Unlock()
}

func (s *Session) ioCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.cfg.ioTimeout)
}

func (s *Session) logCtx() context.Context {
	d := &logctx.SessionData{State: s.state.String()}
	if s.info != nil {
		d.SessionID = s.info.SessionID
		d.Host = s.info.Host
		d.Port = s.info.Port
	}
	return logctx.WithSessionData(s.ctx, d)
}

// submit runs fn on the loop with a fresh future for it to settle.
func submit[T any](s *Session, fn func(out *future.Future[T])) *future.Future[T] {
	out := future.New[T]()
	if !s.loop.Post(func() { fn(out) }) {
		out.Reject(ErrClosed)
	}
	return out
}

// whenDone runs fn on the loop once in settles. If the loop has closed, out
// is failed with ErrClosed instead.
func whenDone[T, U any](s *Session, in *future.Future[T], out *future.Future[U], fn func(T, error)) {
	in.OnComplete(func(v T, err error) {
		if !s.loop.Post(func() { fn(v, err) }) {
			out.Reject(ErrClosed)
		}
	})
}
