// Package pending correlates outbound JSON-RPC calls with their responses.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/debugsession-go/future"
	"github.com/ggoodman/debugsession-go/internal/jsonrpc"
	"github.com/ggoodman/debugsession-go/transport"
)

// Sender writes a request frame to the peer.
type Sender interface {
	Send(ctx context.Context, req *jsonrpc.Request) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req *jsonrpc.Request) error

func (f SenderFunc) Send(ctx context.Context, req *jsonrpc.Request) error { return f(ctx, req) }

// ErrDispatcherClosed is the default rejection for calls outstanding at Close.
var ErrDispatcherClosed = errors.New("pending: dispatcher closed")

// Dispatcher allocates request ids, tracks in-flight calls and settles them
// when the matching response arrives.
type Dispatcher struct {
	s Sender

	mu      sync.Mutex
	pending map[string]*future.Future[json.RawMessage]

	nextID atomic.Int64

	closed   atomic.Bool
	closeErr error
}

// New constructs a Dispatcher writing through s.
func New(s Sender) *Dispatcher {
	return &Dispatcher{s: s, pending: make(map[string]*future.Future[json.RawMessage])}
}

var _ transport.Caller = (*Dispatcher)(nil)

// Call sends a request and returns a future for its result. The future is
// rejected if the send fails, ctx ends first, or the dispatcher closes.
func (d *Dispatcher) Call(ctx context.Context, method string, params any) *future.Future[json.RawMessage] {
	if d.closed.Load() {
		return future.Failed[json.RawMessage](d.closedErr())
	}

	id := jsonrpc.NumericID(d.nextID.Add(1))
	key := id.String()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return future.Failed[json.RawMessage](err)
	}

	f := future.New[json.RawMessage]()
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return future.Failed[json.RawMessage](d.closedErr())
	}
	d.pending[key] = f
	d.mu.Unlock()

	if err := d.s.Send(ctx, req); err != nil {
		d.forget(key)
		f.Reject(err)
		return f
	}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-f.Done():
			case <-ctx.Done():
				if d.forget(key) {
					f.Reject(ctx.Err())
				}
			}
		}()
	}
	return f
}

// OnResponse settles the call matching resp. It reports whether a call was
// waiting; unmatched responses are ignored.
func (d *Dispatcher) OnResponse(resp *jsonrpc.Response) bool {
	if resp == nil || resp.ID == nil {
		return false
	}
	key := resp.ID.String()
	d.mu.Lock()
	f, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	f.Settle(resp.Outcome())
	return true
}

// Pending returns the number of in-flight calls.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close rejects all in-flight calls with err (ErrDispatcherClosed if nil) and
// fails future calls the same way.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return
	}
	d.closeErr = err
	d.closed.Store(true)
	calls := d.pending
	d.pending = make(map[string]*future.Future[json.RawMessage])
	d.mu.Unlock()

	for _, f := range calls {
		f.Reject(err)
	}
}

func (d *Dispatcher) forget(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[key]; !ok {
		return false
	}
	delete(d.pending, key)
	return true
}

func (d *Dispatcher) closedErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeErr != nil {
		return d.closeErr
	}
	return ErrDispatcherClosed
}
