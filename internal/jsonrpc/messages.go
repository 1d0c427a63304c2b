// Package jsonrpc holds the JSON-RPC 2.0 wire types shared by the stream and
// HTTP transports.
package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Request is a call (with ID) or a notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response answers a Request carrying the same ID.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// NewRequest builds a request, marshalling params when non-nil.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: ProtocolVersion, Method: method, ID: id}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

// NewNotification builds a request without an ID.
func NewNotification(method string, params any) (*Request, error) {
	return NewRequest(nil, method, params)
}

// NewResultResponse builds a successful response.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id *RequestID, code ErrorCode, message string) *Response {
	return &Response{JSONRPCVersion: ProtocolVersion, Error: &Error{Code: code, Message: message}, ID: id}
}

// Outcome returns the result, or the error object converted for transport
// callers. A response with neither is treated as a null result.
func (r *Response) Outcome() (json.RawMessage, error) {
	if r.Error != nil {
		return nil, r.Error.Remote()
	}
	if len(r.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return r.Result, nil
}

// Message is any inbound frame. Exactly one of Request or Response is set
// after a successful Decode.
type Message struct {
	Request  *Request
	Response *Response
}

// ErrInvalidMessage is returned by Decode for frames that are neither a
// request nor a response.
var ErrInvalidMessage = errors.New("jsonrpc: invalid message")

// Decode classifies a raw JSON-RPC frame.
func Decode(data []byte) (Message, error) {
	var raw struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         string          `json:"method"`
		Params         json.RawMessage `json:"params"`
		Result         json.RawMessage `json:"result"`
		Error          *Error          `json:"error"`
		ID             *RequestID      `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if raw.JSONRPCVersion != ProtocolVersion {
		return Message{}, fmt.Errorf("%w: version %q", ErrInvalidMessage, raw.JSONRPCVersion)
	}
	if raw.Method != "" {
		if len(raw.Result) > 0 || raw.Error != nil {
			return Message{}, fmt.Errorf("%w: request carries result or error", ErrInvalidMessage)
		}
		return Message{Request: &Request{JSONRPCVersion: raw.JSONRPCVersion, Method: raw.Method, Params: raw.Params, ID: raw.ID}}, nil
	}
	if len(raw.Result) > 0 && raw.Error != nil {
		return Message{}, fmt.Errorf("%w: response carries both result and error", ErrInvalidMessage)
	}
	if raw.ID == nil {
		return Message{}, fmt.Errorf("%w: response without id", ErrInvalidMessage)
	}
	return Message{Response: &Response{JSONRPCVersion: raw.JSONRPCVersion, Result: raw.Result, Error: raw.Error, ID: raw.ID}}, nil
}
