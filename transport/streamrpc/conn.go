// Package streamrpc speaks newline-delimited JSON-RPC 2.0 over any
// io.ReadWriteCloser: a TCP socket, a pipe to a child process, or stdio.
//
// Calls are ordinary requests. Channel subscriptions are requested with the
// channel/subscribe and channel/unsubscribe methods, and the backend pushes
// deliveries as notifications:
//
//	{"jsonrpc":"2.0","method":"channel/message","params":{"channel":"...","data":{...}}}
//	{"jsonrpc":"2.0","method":"channel/error","params":{"channel":"...","error":{"code":-32603,"message":"..."}}}
package streamrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ggoodman/debugsession-go/future"
	"github.com/ggoodman/debugsession-go/internal/eventloop"
	"github.com/ggoodman/debugsession-go/internal/jsonrpc"
	"github.com/ggoodman/debugsession-go/internal/logctx"
	"github.com/ggoodman/debugsession-go/internal/pending"
	"github.com/ggoodman/debugsession-go/transport"
)

// Wire method names for channel management and delivery.
const (
	MethodSubscribe    = "channel/subscribe"
	MethodUnsubscribe  = "channel/unsubscribe"
	MethodMessage      = "channel/message"
	MethodChannelError = "channel/error"
)

const maxFrameSize = 4 << 20

// ChannelParams is the params object of subscribe and unsubscribe calls.
type ChannelParams struct {
	Channel string `json:"channel"`
}

// MessageParams is the params object of a channel/message notification.
type MessageParams struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// ErrorParams is the params object of a channel/error notification.
type ErrorParams struct {
	Channel string         `json:"channel"`
	Error   *jsonrpc.Error `json:"error"`
}

// Option customizes a Conn.
type Option func(*Conn)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.log = l
		}
	}
}

// Conn is a transport.Transport over a single stream.
type Conn struct {
	rwc   io.ReadWriteCloser
	log   *slog.Logger
	calls *pending.Dispatcher

	wmu sync.Mutex
	enc *json.Encoder

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
	// acks holds the backend acknowledgement of a channel/subscribe still in
	// flight.
	acks map[string]*future.Future[struct{}]

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

var _ transport.Transport = (*Conn)(nil)

// New wraps rwc and starts reading from it. The Conn owns rwc.
func New(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	c := &Conn{
		rwc:  rwc,
		log:  slog.New(slog.DiscardHandler),
		enc:  json.NewEncoder(rwc),
		subs: make(map[string]map[*subscription]struct{}),
		acks: make(map[string]*future.Future[struct{}]),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = slog.New(logctx.Handler{Handler: c.log.Handler()})
	c.calls = pending.New(pending.SenderFunc(c.send))
	go c.readLoop()
	return c
}

// Dial connects to addr over network and wraps the connection.
func Dial(ctx context.Context, network, addr string, opts ...Option) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(nc, opts...), nil
}

// Call sends a request and returns a future for its result.
func (c *Conn) Call(ctx context.Context, method string, params any) *future.Future[json.RawMessage] {
	c.log.DebugContext(logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: method}), "streamrpc.call")
	return c.calls.Call(ctx, method, params)
}

// Subscribe registers h on channel. The first local subscriber for a channel
// issues channel/subscribe; every subscriber waits for the backend to
// acknowledge it.
func (c *Conn) Subscribe(ctx context.Context, channel string, h transport.Handler) (transport.Subscription, error) {
	select {
	case <-c.done:
		return nil, transport.ErrClosed
	default:
	}

	sub := &subscription{
		conn:    c,
		channel: channel,
		h:       h,
		loop:    eventloop.New(eventloop.WithLogger(c.log.With("channel", channel))),
		active:  true,
	}

	c.mu.Lock()
	set, existing := c.subs[channel]
	if !existing {
		set = make(map[*subscription]struct{})
		c.subs[channel] = set
	}
	set[sub] = struct{}{}
	ack, waiting := c.acks[channel]
	if !existing {
		ack = future.New[struct{}]()
		c.acks[channel] = ack
		waiting = true
	}
	c.mu.Unlock()

	if !existing {
		_, err := c.calls.Call(ctx, MethodSubscribe, ChannelParams{Channel: channel}).Await(ctx)
		c.settleAck(channel, ack, err)
	}
	if waiting {
		if _, err := ack.Await(ctx); err != nil {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
			c.remove(sub)
			sub.loop.Close()
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	return sub, nil
}

// settleAck publishes the outcome of channel/subscribe. A refused channel is
// forgotten at once so the next subscriber asks the backend again.
func (c *Conn) settleAck(channel string, ack *future.Future[struct{}], err error) {
	c.mu.Lock()
	if c.acks[channel] == ack {
		delete(c.acks, channel)
	}
	if err != nil {
		delete(c.subs, channel)
	}
	c.mu.Unlock()
	ack.Settle(struct{}{}, err)
}

// Done is closed when the stream ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the stream ended, once Done is closed.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the underlying stream and fails in-flight calls.
func (c *Conn) Close() error {
	c.shutdown(transport.ErrClosed)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		_ = c.rwc.Close()
		c.calls.Close(err)

		c.mu.Lock()
		all := c.subs
		c.subs = make(map[string]map[*subscription]struct{})
		acks := c.acks
		c.acks = make(map[string]*future.Future[struct{}])
		c.mu.Unlock()
		for _, ack := range acks {
			ack.Reject(err)
		}
		for _, set := range all {
			for sub := range set {
				sub.loop.Close()
			}
		}
		close(c.done)
	})
}

func (c *Conn) send(_ context.Context, req *jsonrpc.Request) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	sc := bufio.NewScanner(c.rwc)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc.Decode(line)
		if err != nil {
			c.log.Warn("streamrpc.frame.invalid", slog.String("err", err.Error()))
			continue
		}
		switch {
		case msg.Response != nil:
			if !c.calls.OnResponse(msg.Response) {
				c.log.Debug("streamrpc.response.unmatched", slog.String("id", msg.Response.ID.String()))
			}
		case msg.Request.ID != nil:
			c.rejectInbound(msg.Request)
		default:
			c.onNotification(msg.Request)
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		err = transport.ErrClosed
	}
	c.shutdown(err)
}

// The backend never calls the client; answer so it does not wait forever.
func (c *Conn) rejectInbound(req *jsonrpc.Request) {
	resp := jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.enc.Encode(resp); err != nil {
		c.log.Warn("streamrpc.reply.failed", slog.String("err", err.Error()))
	}
}

func (c *Conn) onNotification(req *jsonrpc.Request) {
	switch req.Method {
	case MethodMessage:
		var p MessageParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			c.log.Warn("streamrpc.message.invalid", slog.String("err", err.Error()))
			return
		}
		data := []byte(p.Data)
		c.fanout(p.Channel, func(h transport.Handler) { h.HandleMessage(p.Channel, data) })
	case MethodChannelError:
		var p ErrorParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Error == nil {
			c.log.Warn("streamrpc.error.invalid", slog.String("method", req.Method))
			return
		}
		re := p.Error.Remote()
		c.fanout(p.Channel, func(h transport.Handler) { h.HandleError(p.Channel, re) })
	default:
		c.log.Debug("streamrpc.notification.ignored", slog.String("method", req.Method))
	}
}

func (c *Conn) fanout(channel string, fn func(transport.Handler)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs[channel] {
		sub.deliver(fn)
	}
}

// remove drops sub and reports whether it was the last one on its channel.
func (c *Conn) remove(sub *subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.subs[sub.channel]
	if !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(c.subs, sub.channel)
		return true
	}
	return false
}

type subscription struct {
	conn    *Conn
	channel string
	h       transport.Handler
	loop    *eventloop.Loop

	mu     sync.Mutex
	active bool
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return transport.ErrNotSubscribed
	}
	s.active = false
	s.mu.Unlock()

	last := s.conn.remove(s)
	s.loop.Close()
	if !last {
		return nil
	}
	select {
	case <-s.conn.done:
		return nil
	default:
	}
	if _, err := s.conn.calls.Call(ctx, MethodUnsubscribe, ChannelParams{Channel: s.channel}).Await(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.channel, err)
	}
	return nil
}

func (s *subscription) deliver(fn func(transport.Handler)) {
	s.loop.Post(func() {
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if active {
			fn(s.h)
		}
	})
}
