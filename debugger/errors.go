package debugger

import "errors"

var (
	// ErrNotConnected is returned by operations that need an attached session.
	ErrNotConnected = errors.New("debugger: not connected")
	// ErrAlreadyConnected is returned by Attach and Restore unless detached.
	ErrAlreadyConnected = errors.New("debugger: already connected")
	// ErrDetached fails operations whose session was detached while they
	// were in flight.
	ErrDetached = errors.New("debugger: session detached")
	// ErrClosed is returned once the Session has been closed.
	ErrClosed = errors.New("debugger: session closed")
)
