package debugger

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/debugsession-go/store"
)

// LocationResolver maps a type identifier to candidate source paths, most
// likely first.
type LocationResolver interface {
	ResolveCandidates(typeIdentifier string) []string
}

// ResolverFunc adapts a function to LocationResolver.
type ResolverFunc func(typeIdentifier string) []string

func (f ResolverFunc) ResolveCandidates(typeIdentifier string) []string { return f(typeIdentifier) }

// FileOpener reveals path at a 0-based line. A non-nil error means the path
// could not be opened and the next candidate should be tried.
type FileOpener interface {
	OpenFile(ctx context.Context, path string, line int) error
}

// FileOpenerFunc adapts a function to FileOpener.
type FileOpenerFunc func(ctx context.Context, path string, line int) error

func (f FileOpenerFunc) OpenFile(ctx context.Context, path string, line int) error {
	return f(ctx, path, line)
}

// Defaults applied by New.
const (
	DefaultEventsChannelPrefix     = "debugger:events:"
	DefaultDisconnectChannelPrefix = "debugger:disconnected:"
	DefaultStorageKey              = "debugsession:session"
	DefaultIOTimeout               = 10 * time.Second
)

type config struct {
	log              *slog.Logger
	resolver         LocationResolver
	opener           FileOpener
	store            store.Store
	eventsPrefix     string
	disconnectPrefix string
	storageKey       string
	ioTimeout        time.Duration
}

// Option configures a Session.
type Option func(*config)

// WithLogger sets the session logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithResolver sets how stop locations map to files. The default proposes
// the bare type identifier only.
func WithResolver(r LocationResolver) Option {
	return func(c *config) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithFileOpener sets the collaborator that reveals stop locations. The
// default accepts every path without doing anything.
func WithFileOpener(o FileOpener) Option {
	return func(c *config) {
		if o != nil {
			c.opener = o
		}
	}
}

// WithStore enables persistence of the attached session so Restore can
// resume it after a restart. Without a store nothing is persisted.
func WithStore(s store.Store) Option {
	return func(c *config) { c.store = s }
}

// WithChannelPrefixes overrides the channel name prefixes. Empty values keep
// the defaults.
func WithChannelPrefixes(events, disconnect string) Option {
	return func(c *config) {
		if events != "" {
			c.eventsPrefix = events
		}
		if disconnect != "" {
			c.disconnectPrefix = disconnect
		}
	}
}

// WithStorageKey overrides the key the session is persisted under.
func WithStorageKey(key string) Option {
	return func(c *config) {
		if key != "" {
			c.storageKey = key
		}
	}
}

// WithIOTimeout bounds every store access, channel subscription change and
// file open. It does not apply to RPCs, whose timeouts belong to the
// transport.
func WithIOTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ioTimeout = d
		}
	}
}

func defaultConfig() config {
	return config{
		log:              slog.New(slog.DiscardHandler),
		resolver:         ResolverFunc(func(id string) []string { return []string{id} }),
		opener:           FileOpenerFunc(func(context.Context, string, int) error { return nil }),
		eventsPrefix:     DefaultEventsChannelPrefix,
		disconnectPrefix: DefaultDisconnectChannelPrefix,
		storageKey:       DefaultStorageKey,
		ioTimeout:        DefaultIOTimeout,
	}
}
