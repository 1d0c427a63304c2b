package jsonrpc

import (
	"fmt"

	"github.com/ggoodman/debugsession-go/transport"
)

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	ErrorCodeParseError     ErrorCode = -32700
	ErrorCodeInvalidRequest ErrorCode = -32600
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	ErrorCodeInternalError  ErrorCode = transport.CodeInternal
	// ErrorCodeNotFound is the application code backends use for an unknown
	// debugger session.
	ErrorCodeNotFound ErrorCode = transport.CodeNotFound
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Remote converts the wire error into the transport-level error type.
func (e *Error) Remote() *transport.RemoteError {
	if e == nil {
		return nil
	}
	return &transport.RemoteError{Code: int(e.Code), Message: e.Message, Data: e.Data}
}
