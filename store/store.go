// Package store defines the key/value persistence a debugger session uses to
// survive a client restart, and the conformance suite backends must pass.
package store

import (
	"context"
	"errors"
)

// ErrUnavailable wraps backend failures that prevent a read or write.
var ErrUnavailable = errors.New("store: unavailable")

// Store is a string-keyed byte store. Writes replace the whole value and an
// empty value is a valid, present value.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set replaces the value for key.
	Set(ctx context.Context, key string, data []byte) error
}
