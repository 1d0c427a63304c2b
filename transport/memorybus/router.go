package memorybus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/debugsession-go/future"
	"github.com/ggoodman/debugsession-go/transport"
)

// CodeMethodNotFound is returned for calls with no registered handler.
const CodeMethodNotFound = -32601

// HandlerFunc answers a call. A non-nil error that is not a
// *transport.RemoteError is reported as an internal error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Call is a recorded invocation.
type Call struct {
	Method string
	Params json.RawMessage
}

// Router dispatches calls to registered handlers on their own goroutine.
type Router struct {
	log *slog.Logger

	mu     sync.Mutex
	routes map[string]HandlerFunc
	calls  []Call
}

var _ transport.Caller = (*Router)(nil)

// NewRouter creates a Router with no routes.
func NewRouter(opts ...Option) *Router {
	cfg := options{log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(&cfg)
	}
	return &Router{log: cfg.log, routes: make(map[string]HandlerFunc)}
}

// Handle registers fn for method, replacing any previous handler.
func (r *Router) Handle(method string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[method] = fn
}

// Call records the invocation and runs the handler asynchronously.
func (r *Router) Call(ctx context.Context, method string, params any) *future.Future[json.RawMessage] {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return future.Failed[json.RawMessage](fmt.Errorf("marshal params: %w", err))
		}
		raw = b
	}

	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Params: raw})
	fn, ok := r.routes[method]
	r.mu.Unlock()

	if !ok {
		r.log.DebugContext(ctx, "memorybus.call.unrouted", slog.String("method", method))
		return future.Failed[json.RawMessage](&transport.RemoteError{Code: CodeMethodNotFound, Message: "method not found: " + method})
	}

	f := future.New[json.RawMessage]()
	go func() {
		res, err := fn(ctx, raw)
		if err != nil {
			var re *transport.RemoteError
			if !errors.As(err, &re) {
				re = &transport.RemoteError{Code: transport.CodeInternal, Message: err.Error()}
			}
			f.Reject(re)
			return
		}
		if b, ok := res.(json.RawMessage); ok {
			f.Resolve(b)
			return
		}
		b, merr := json.Marshal(res)
		if merr != nil {
			f.Reject(fmt.Errorf("marshal result: %w", merr))
			return
		}
		f.Resolve(b)
	}()
	return f
}

// Calls returns a copy of every recorded call.
func (r *Router) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded calls for method.
func (r *Router) CallsTo(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Reply returns a handler that always answers v.
func Reply(v any) HandlerFunc {
	return func(context.Context, json.RawMessage) (any, error) { return v, nil }
}

// Fail returns a handler that always rejects with err.
func Fail(err error) HandlerFunc {
	return func(context.Context, json.RawMessage) (any, error) { return nil, err }
}
