package redisbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/debugsession-go/internal/logctx"
	"github.com/ggoodman/debugsession-go/transport"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis bus. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// ChannelPrefix is prepended to every channel name. ENV: DEBUGGER_CHANNEL_PREFIX
	ChannelPrefix string `env:"DEBUGGER_CHANNEL_PREFIX"`
}

// Option customizes a Bus.
type Option func(*Bus)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// Bus is a transport.Bus backed by Redis Pub/Sub.
type Bus struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

var _ transport.Bus = (*Bus)(nil)

// New connects to cfg.RedisAddr and verifies the server answers.
func New(cfg Config, opts ...Option) (*Bus, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg.ChannelPrefix, opts...), nil
}

// NewWithClient wraps an existing client. The Bus takes ownership of it.
func NewWithClient(cl *redis.Client, prefix string, opts ...Option) *Bus {
	b := &Bus{client: cl, prefix: prefix, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(b)
	}
	b.log = slog.New(logctx.Handler{Handler: b.log.Handler()})
	return b
}

// NewFromEnv builds a Bus using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Bus, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg, opts...)
}

// Close closes the Redis client.
func (b *Bus) Close() error { return b.client.Close() }

func (b *Bus) key(channel string) string { return b.prefix + channel }

// Subscribe opens a dedicated Pub/Sub connection for channel and returns
// once Redis has confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, channel string, h transport.Handler) (transport.Subscription, error) {
	ps := b.client.Subscribe(ctx, b.key(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	sub := &subscription{channel: channel, ps: ps, done: make(chan struct{})}
	go sub.run(logctx.WithChannel(context.Background(), channel), b.log, h)
	return sub, nil
}

// Publish sends data to channel as a message envelope.
func (b *Bus) Publish(ctx context.Context, channel string, data []byte) error {
	env, err := transport.EncodeMessage(data)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.key(channel), env).Err()
}

// PublishError sends err to channel as an error envelope.
func (b *Bus) PublishError(ctx context.Context, channel string, re *transport.RemoteError) error {
	env, err := transport.EncodeError(re)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.key(channel), env).Err()
}

type subscription struct {
	channel string
	ps      *redis.PubSub

	once sync.Once
	done chan struct{}
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) run(ctx context.Context, log *slog.Logger, h transport.Handler) {
	log.DebugContext(ctx, "redisbus.subscription.start")
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-s.ps.Channel():
			if !ok {
				log.DebugContext(ctx, "redisbus.subscription.closed")
				return
			}
			select {
			case <-s.done:
				return
			default:
			}
			transport.Deliver(h, s.channel, []byte(m.Payload))
		}
	}
}

func (s *subscription) Unsubscribe(context.Context) error {
	err := transport.ErrNotSubscribed
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
