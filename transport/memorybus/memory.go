package memorybus

import (
	"log/slog"

	"github.com/ggoodman/debugsession-go/transport"
)

type options struct {
	log *slog.Logger
}

// Option configures a Router, Bus or Transport.
type Option func(*options)

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Transport is a Router and a Bus sharing one process.
type Transport struct {
	*Router
	*Bus
}

var _ transport.Transport = (*Transport)(nil)

// New creates a Transport with an empty Router and Bus.
func New(opts ...Option) *Transport {
	return &Transport{Router: NewRouter(opts...), Bus: NewBus(opts...)}
}
