package transport

import (
	"encoding/json"
	"fmt"
)

// Envelope frames a channel delivery for transports that carry both
// messages and errors over the same byte stream (redisbus, natsbus).
type Envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *RemoteError    `json:"error,omitempty"`
}

// EncodeMessage frames data as a message envelope. data must be valid JSON;
// an empty payload is sent as null.
func EncodeMessage(data []byte) ([]byte, error) {
	if len(data) == 0 {
		data = []byte("null")
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("transport: message payload is not valid JSON")
	}
	return json.Marshal(Envelope{Data: data})
}

// EncodeError frames err as an error envelope.
func EncodeError(err *RemoteError) ([]byte, error) {
	return json.Marshal(Envelope{Error: err})
}

// Deliver decodes an envelope and hands it to h.
func Deliver(h Handler, channel string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.HandleError(channel, fmt.Errorf("transport: decode envelope: %w", err))
		return
	}
	if env.Error != nil {
		h.HandleError(channel, env.Error)
		return
	}
	h.HandleMessage(channel, env.Data)
}
