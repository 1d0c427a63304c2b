// Package natsbus carries debugger calls and channels over NATS.
//
// Calls are JSON-RPC 2.0 request frames sent with request/reply on a single
// RPC subject. Channels map onto subjects under a prefix and carry
// transport.Envelope JSON.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ggoodman/debugsession-go/future"
	"github.com/ggoodman/debugsession-go/internal/jsonrpc"
	"github.com/ggoodman/debugsession-go/internal/logctx"
	"github.com/ggoodman/debugsession-go/transport"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/nats-io/nats.go"
)

// Config for the NATS transport. Defaults can be loaded via envdecode.
type Config struct {
	// URL of the NATS server. ENV: NATS_URL
	URL string `env:"NATS_URL,default=nats://127.0.0.1:4222"`
	// User and Password enable basic auth when set. ENV: NATS_USER, NATS_PASSWORD
	User     string `env:"NATS_USER"`
	Password string `env:"NATS_PASSWORD"`
	// SubjectPrefix roots every subject. ENV: DEBUGGER_NATS_PREFIX
	SubjectPrefix string `env:"DEBUGGER_NATS_PREFIX,default=debugger."`
}

// Option customizes a Transport.
type Option func(*Transport)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// Transport is a transport.Transport over a NATS connection.
type Transport struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New connects to cfg.URL.
func New(cfg Config, opts ...Option) (*Transport, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	natsOpts := []nats.Option{nats.Name("debugsession")}
	if cfg.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(cfg.User, cfg.Password))
	}
	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewWithConn(conn, cfg.SubjectPrefix, opts...), nil
}

// NewWithConn wraps an existing connection. The Transport takes ownership.
func NewWithConn(conn *nats.Conn, prefix string, opts ...Option) *Transport {
	t := &Transport{conn: conn, prefix: prefix, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(t)
	}
	t.log = slog.New(logctx.Handler{Handler: t.log.Handler()})
	return t
}

// NewFromEnv builds a Transport using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Transport, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg, opts...)
}

// RPCSubject is the subject calls are sent on.
func (t *Transport) RPCSubject() string { return t.prefix + "rpc" }

// ChannelSubject maps a channel name onto its subject.
func (t *Transport) ChannelSubject(channel string) string { return t.prefix + "ch." + channel }

// Close drains and closes the connection.
func (t *Transport) Close() error {
	if err := t.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		t.conn.Close()
		return err
	}
	return nil
}

// Call sends a JSON-RPC request and waits for the reply on its own goroutine.
func (t *Transport) Call(ctx context.Context, method string, params any) *future.Future[json.RawMessage] {
	id := jsonrpc.StringID(uuid.NewString())
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return future.Failed[json.RawMessage](err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return future.Failed[json.RawMessage](fmt.Errorf("marshal request: %w", err))
	}

	f := future.New[json.RawMessage]()
	go func() {
		ctx := logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: method, ID: id.String()})
		msg, err := t.conn.RequestWithContext(ctx, t.RPCSubject(), data)
		if err != nil {
			if errors.Is(err, nats.ErrNoResponders) {
				err = &transport.RemoteError{Code: transport.CodeUnavailable, Message: "no debugger backend is listening"}
			}
			t.log.DebugContext(ctx, "natsbus.call.failed", slog.String("err", err.Error()))
			f.Reject(err)
			return
		}
		var resp jsonrpc.Response
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			f.Reject(fmt.Errorf("decode response: %w", err))
			return
		}
		f.Settle(resp.Outcome())
	}()
	return f
}

// Subscribe registers h on the channel subject and flushes so the server
// has the interest before returning.
func (t *Transport) Subscribe(ctx context.Context, channel string, h transport.Handler) (transport.Subscription, error) {
	s := &subscription{channel: channel}
	s.active.Store(true)
	ns, err := t.conn.Subscribe(t.ChannelSubject(channel), func(m *nats.Msg) {
		if s.active.Load() {
			transport.Deliver(h, channel, m.Data)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	s.sub = ns
	return s, nil
}

// Publish sends data to channel as a message envelope.
func (t *Transport) Publish(_ context.Context, channel string, data []byte) error {
	env, err := transport.EncodeMessage(data)
	if err != nil {
		return err
	}
	return t.conn.Publish(t.ChannelSubject(channel), env)
}

// PublishError sends err to channel as an error envelope.
func (t *Transport) PublishError(_ context.Context, channel string, re *transport.RemoteError) error {
	env, err := transport.EncodeError(re)
	if err != nil {
		return err
	}
	return t.conn.Publish(t.ChannelSubject(channel), env)
}

type subscription struct {
	channel string
	sub     *nats.Subscription
	active  atomic.Bool
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Unsubscribe(context.Context) error {
	if !s.active.CompareAndSwap(true, false) {
		return transport.ErrNotSubscribed
	}
	if err := s.sub.Unsubscribe(); err != nil {
		if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
			return nil
		}
		return err
	}
	return nil
}
