// Package file provides a store.Store that keeps one file per key in a
// directory. Writes go to a temporary file that is renamed into place, so a
// reader never observes a partial value.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ggoodman/debugsession-go/store"
)

// Store implements store.Store on the local filesystem.
type Store struct {
	dir string
}

var _ store.Store = (*Store)(nil)

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read %s: %v", store.ErrUnavailable, key, err)
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: write %s: %v", store.ErrUnavailable, key, werr)
	}
	if err := os.Rename(name, s.path(key)); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: rename %s: %v", store.ErrUnavailable, key, err)
	}
	return nil
}
