package debugger

import (
	"log/slog"

	"github.com/ggoodman/debugsession-go/future"
	"github.com/ggoodman/debugsession-go/internal/logctx"
	"github.com/ggoodman/debugsession-go/transport"
)

type channelKind int

const (
	eventsChannel channelKind = iota
	disconnectChannel
)

// channelHandler forwards deliveries to the loop. It is bound to the
// attachment it was subscribed for; anything arriving after that attachment
// ended is dropped.
type channelHandler struct {
	s    *Session
	gen  uint64
	kind channelKind
}

func (h *channelHandler) HandleMessage(channel string, data []byte) {
	data = append([]byte(nil), data...)
	h.s.loop.Post(func() { h.s.onChannelMessage(h, channel, data) })
}

func (h *channelHandler) HandleError(channel string, err error) {
	h.s.loop.Post(func() { h.s.onChannelError(h, channel, err) })
}

func (s *Session) current(h *channelHandler) bool {
	return h.gen == s.gen && s.state == Attached
}

func (s *Session) onChannelMessage(h *channelHandler, channel string, data []byte) {
	ctx := logctx.WithChannel(s.logCtx(), channel)
	if !s.current(h) {
		s.log.DebugContext(ctx, "debugger.channel.stale")
		return
	}
	switch h.kind {
	case eventsChannel:
		events, err := DecodeEvents(data)
		if err != nil {
			s.log.WarnContext(ctx, "debugger.events.invalid", slog.String("err", err.Error()))
			return
		}
		s.dispatch(events)
	case disconnectChannel:
		s.log.InfoContext(ctx, "debugger.remote.disconnected")
		s.unsubscribe(&s.disconnectSub)
		s.detach(future.New[struct{}]())
	}
}

func (s *Session) onChannelError(h *channelHandler, channel string, err error) {
	ctx := logctx.WithChannel(s.logCtx(), channel)
	if !s.current(h) {
		s.log.DebugContext(ctx, "debugger.channel.stale")
		return
	}
	s.log.WarnContext(ctx, "debugger.channel.error", slog.String("err", err.Error()))
	switch h.kind {
	case eventsChannel:
		s.unsubscribe(&s.eventsSub)
		if transport.IsNotFound(err) {
			s.detach(future.New[struct{}]())
		}
	case disconnectChannel:
		s.unsubscribe(&s.disconnectSub)
	}
}

// dispatch handles one batch strictly in order.
func (s *Session) dispatch(events []Event) {
	for _, ev := range events {
		switch e := ev.(type) {
		case StepEvent:
			s.stopAt(e.Location)
		case BreakpointHitEvent:
			s.stopAt(e.Location)
		case BreakpointActivatedEvent:
			s.activated(e.Location)
		case UnknownEvent:
			s.log.WarnContext(s.logCtx(), "debugger.event.unknown", slog.String("type", e.Type))
		}
	}
}

// stopAt opens the first candidate file that can be opened and then tells
// stop observers, whether or not a file was found.
func (s *Session) stopAt(loc Location) {
	ctx := s.logCtx()
	opened := false
	for _, path := range s.cfg.resolver.ResolveCandidates(loc.TypeIdentifier) {
		octx, cancel := s.ioCtx()
		err := s.cfg.opener.OpenFile(octx, path, loc.Line)
		cancel()
		if err == nil {
			opened = true
			break
		}
		s.log.DebugContext(ctx, "debugger.source.open_failed", slog.String("path", path), slog.String("err", err.Error()))
	}
	if !opened {
		s.log.WarnContext(ctx, "debugger.source.unresolved", slog.String("location", loc.String()))
	}
	each(&s.observers, s.log, func(o StopObserver) { o.OnStoppedAt(loc.TypeIdentifier, loc.Line) })
}

// activated reports the location against every candidate path.
func (s *Session) activated(loc Location) {
	for _, path := range s.cfg.resolver.ResolveCandidates(loc.TypeIdentifier) {
		each(&s.observers, s.log, func(o BreakpointObserver) { o.OnBreakpointActivated(path, loc.Line) })
	}
	s.markActive(loc)
}
