// Package redis provides a Redis-backed store.Store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/debugsession-go/store"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance. When nil one is created for Addr.
	Client *redis.Client

	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`

	// KeyPrefix is the prefix for all Redis keys. ENV: DEBUGGER_STORE_PREFIX
	// Default: "debugsession:store:"
	KeyPrefix string `env:"DEBUGGER_STORE_PREFIX,default=debugsession:store:"`

	// TTL expires saved sessions that are never refreshed. Zero keeps them.
	// ENV: DEBUGGER_STORE_TTL
	TTL time.Duration `env:"DEBUGGER_STORE_TTL"`
}

// Store implements store.Store using Redis strings.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ store.Store = (*Store)(nil)

// New creates a Redis store, dialing cfg.Addr when no client is supplied.
func New(cfg Config) (*Store, error) {
	cl := cfg.Client
	if cl == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		cl = redis.NewClient(&redis.Options{Addr: addr})
		if err := cl.Ping(context.Background()).Err(); err != nil {
			_ = cl.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "debugsession:store:"
	}
	return &Store{client: cl, keyPrefix: prefix, ttl: cfg.TTL}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", store.ErrUnavailable, key, err)
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", store.ErrUnavailable, key, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }
