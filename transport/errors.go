package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Remote error codes shared by the reference transports. JSON-RPC reserved
// codes keep their standard meaning; HTTP statuses are passed through as-is.
const (
	CodeInternal    = -32603
	CodeNotFound    = -32004
	CodeUnavailable = -32005
)

// RemoteError is a structured failure reported by the backend.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err says the remote session no longer exists.
// Besides the explicit not-found codes, backends that report a missing
// session as an internal error with a "not found" message are recognised.
func IsNotFound(err error) bool {
	var re *RemoteError
	if !errors.As(err, &re) {
		return false
	}
	switch re.Code {
	case CodeNotFound, http.StatusNotFound:
		return true
	case CodeInternal, http.StatusInternalServerError:
		return strings.Contains(strings.ToLower(re.Message), "not found")
	}
	return false
}
