package memorybus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/debugsession-go/internal/eventloop"
	"github.com/ggoodman/debugsession-go/transport"
)

// Bus is an in-memory fan-out channel bus.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

var _ transport.Bus = (*Bus)(nil)

// NewBus creates an empty Bus.
func NewBus(opts ...Option) *Bus {
	cfg := options{log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(&cfg)
	}
	return &Bus{log: cfg.log, subs: make(map[string]map[*subscription]struct{})}
}

type subscription struct {
	bus     *Bus
	channel string
	h       transport.Handler
	loop    *eventloop.Loop
	active  atomic.Bool
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Unsubscribe(context.Context) error {
	if !s.active.CompareAndSwap(true, false) {
		return transport.ErrNotSubscribed
	}
	s.bus.remove(s)
	s.loop.Close()
	return nil
}

func (s *subscription) deliver(fn func(h transport.Handler)) {
	s.loop.Post(func() {
		if s.active.Load() {
			fn(s.h)
		}
	})
}

// Subscribe registers h on channel. Deliveries start with the next publish.
func (b *Bus) Subscribe(ctx context.Context, channel string, h transport.Handler) (transport.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		bus:     b,
		channel: channel,
		h:       h,
		loop:    eventloop.New(eventloop.WithLogger(b.log.With("channel", channel))),
	}
	sub.active.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.loop.Close()
		return nil, transport.ErrClosed
	}
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[channel] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Publish delivers data to every current subscriber of channel.
func (b *Bus) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := append([]byte(nil), data...)
	return b.fanout(channel, func(h transport.Handler) { h.HandleMessage(channel, msg) })
}

// PublishError delivers err to every current subscriber of channel.
func (b *Bus) PublishError(ctx context.Context, channel string, err *transport.RemoteError) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return b.fanout(channel, func(h transport.Handler) { h.HandleError(channel, err) })
}

func (b *Bus) fanout(channel string, fn func(h transport.Handler)) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return transport.ErrClosed
	}
	for sub := range b.subs[channel] {
		sub.deliver(fn)
	}
	return nil
}

// Subscribers reports how many active subscriptions channel has.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Close drops every subscription. Undelivered messages are discarded.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := b.subs
	b.subs = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()

	for _, set := range all {
		for sub := range set {
			sub.active.Store(false)
			sub.loop.Close()
		}
	}
	return nil
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[s.channel]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.channel)
	}
}
