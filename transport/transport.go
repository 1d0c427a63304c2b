// Package transport defines the collaborators a debugger session needs from
// the wire: request/response calls that return futures, and named channels
// the backend pushes asynchronous messages over.
//
// Implementations live in subpackages:
//
//	memorybus  in-process router and fan-out bus (tests, embedding)
//	streamrpc  newline-delimited JSON-RPC over any io.ReadWriteCloser
//	httprpc    JSON-RPC over HTTP POST (calls only)
//	redisbus   Redis Pub/Sub channels (bus only)
//	natsbus    NATS request/reply calls and subject channels
//
// Call-only and bus-only implementations are combined with Join.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ggoodman/debugsession-go/future"
)

var (
	// ErrNotSubscribed is returned when unsubscribing a subscription that is
	// no longer active. Callers tearing down channels treat it as success.
	ErrNotSubscribed = errors.New("transport: not subscribed")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
)

// Caller issues request/response calls.
type Caller interface {
	// Call sends method with params (JSON-marshalled) and returns a future
	// for the raw JSON result. Remote rejections surface as *RemoteError.
	Call(ctx context.Context, method string, params any) *future.Future[json.RawMessage]
}

// Handler receives deliveries for one subscription. Deliveries for a single
// subscription are made sequentially, in transport order.
type Handler interface {
	HandleMessage(channel string, data []byte)
	HandleError(channel string, err error)
}

// Subscription is an active registration of a Handler on a channel.
type Subscription interface {
	Channel() string
	// Unsubscribe stops deliveries. A second call returns ErrNotSubscribed.
	Unsubscribe(ctx context.Context) error
}

// Bus is the channel-subscription primitive.
type Bus interface {
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
}

// Transport is everything a session needs.
type Transport interface {
	Caller
	Bus
}

type joined struct {
	Caller
	Bus
}

// Join combines a Caller and a Bus into a Transport.
func Join(c Caller, b Bus) Transport {
	return joined{Caller: c, Bus: b}
}

// HandlerFuncs adapts a pair of functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	OnMessage func(channel string, data []byte)
	OnError   func(channel string, err error)
}

func (h HandlerFuncs) HandleMessage(channel string, data []byte) {
	if h.OnMessage != nil {
		h.OnMessage(channel, data)
	}
}

func (h HandlerFuncs) HandleError(channel string, err error) {
	if h.OnError != nil {
		h.OnError(channel, err)
	}
}
