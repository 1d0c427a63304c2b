// Package memory provides an in-memory store.Store bounded by
// github.com/hashicorp/golang-lru/v2.
package memory

import (
	"context"
	"fmt"

	"github.com/ggoodman/debugsession-go/store"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems bounds the cache when New is given a non-positive size.
const DefaultMaxItems = 1024

// Store implements store.Store in process memory. The least recently used
// entries are evicted once the size limit is reached.
type Store struct {
	cache *lru.Cache[string, []byte]
}

var _ store.Store = (*Store)(nil)

// New creates a store holding at most maxItems keys.
func New(maxItems int) (*Store, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, []byte](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Store{cache: cache}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (s *Store) Set(_ context.Context, key string, data []byte) error {
	s.cache.Add(key, append([]byte{}, data...))
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int { return s.cache.Len() }

// Close drops every entry.
func (s *Store) Close() error {
	s.cache.Purge()
	return nil
}
