package debugger

import (
	"fmt"
	"net"
	"strconv"
)

// Location is a position in debuggable source. Line is 0-based.
type Location struct {
	TypeIdentifier string
	Line           int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.TypeIdentifier, l.Line+1)
}

// wireLocation is the backend form of a Location, with a 1-based line.
type wireLocation struct {
	ClassName  string `json:"className"`
	LineNumber int    `json:"lineNumber"`
}

func (l Location) wire() wireLocation {
	line := l.Line
	if line < 0 {
		line = 0
	}
	return wireLocation{ClassName: l.TypeIdentifier, LineNumber: line + 1}
}

func (w wireLocation) location() Location {
	line := w.LineNumber - 1
	if line < 0 {
		line = 0
	}
	return Location{TypeIdentifier: w.ClassName, Line: line}
}

// Breakpoint is a breakpoint known to the session. Active breakpoints have
// been accepted by the backend; inactive ones are staged locally.
type Breakpoint struct {
	Location Location
	FilePath string
	Enabled  bool
	Active   bool
}

// SessionInfo identifies an attached remote session. It is what the session
// persists for crash recovery.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	VMName    string `json:"vmName,omitempty"`
	VMVersion string `json:"vmVersion,omitempty"`
}

// Address returns host:port.
func (i SessionInfo) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// Descriptor describes an attach attempt to observers.
type Descriptor struct {
	Info    string
	Address string
}

// State is the attachment state of a Session.
type State int32

const (
	Detached State = iota
	Attaching
	Attached
	Detaching
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Attaching:
		return "attaching"
	case Attached:
		return "attached"
	case Detaching:
		return "detaching"
	default:
		return "unknown"
	}
}
