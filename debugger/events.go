package debugger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event is one entry of an event batch pushed by the backend.
type Event interface {
	isEvent()
}

// StepEvent reports that a step finished at Location.
type StepEvent struct{ Location Location }

// BreakpointHitEvent reports that execution stopped on a breakpoint.
type BreakpointHitEvent struct{ Location Location }

// BreakpointActivatedEvent reports that a deferred breakpoint was installed.
type BreakpointActivatedEvent struct{ Location Location }

// UnknownEvent carries an event type this client does not understand.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (StepEvent) isEvent()                {}
func (BreakpointHitEvent) isEvent()       {}
func (BreakpointActivatedEvent) isEvent() {}
func (UnknownEvent) isEvent()             {}

// Wire event type tags.
const (
	EventTypeStep                = "step"
	EventTypeBreakpoint          = "breakpoint"
	EventTypeBreakpointActivated = "breakpoint_activated"
)

type wireEvent struct {
	Type     string        `json:"type"`
	Location *wireLocation `json:"location"`
}

type wireBatch struct {
	Events []json.RawMessage `json:"events"`
}

// DecodeEvents parses an event batch. A null or empty payload is an empty
// batch. Entries with an unrecognised type, or without a location, come back
// as UnknownEvent so the batch as a whole is never rejected for them.
func DecodeEvents(data []byte) ([]Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var batch wireBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode event batch: %w", err)
	}
	out := make([]Event, 0, len(batch.Events))
	for _, raw := range batch.Events {
		var we wireEvent
		if err := json.Unmarshal(raw, &we); err != nil {
			out = append(out, UnknownEvent{Raw: raw})
			continue
		}
		if we.Location == nil {
			out = append(out, UnknownEvent{Type: we.Type, Raw: raw})
			continue
		}
		loc := we.Location.location()
		switch we.Type {
		case EventTypeStep:
			out = append(out, StepEvent{Location: loc})
		case EventTypeBreakpoint:
			out = append(out, BreakpointHitEvent{Location: loc})
		case EventTypeBreakpointActivated:
			out = append(out, BreakpointActivatedEvent{Location: loc})
		default:
			out = append(out, UnknownEvent{Type: we.Type, Raw: raw})
		}
	}
	return out, nil
}

// EncodeEvents builds the wire form of a batch. UnknownEvent entries are
// written back verbatim.
func EncodeEvents(events ...Event) ([]byte, error) {
	batch := wireBatch{Events: make([]json.RawMessage, 0, len(events))}
	for _, ev := range events {
		var we wireEvent
		switch e := ev.(type) {
		case StepEvent:
			we = wireEvent{Type: EventTypeStep, Location: ptr(e.Location.wire())}
		case BreakpointHitEvent:
			we = wireEvent{Type: EventTypeBreakpoint, Location: ptr(e.Location.wire())}
		case BreakpointActivatedEvent:
			we = wireEvent{Type: EventTypeBreakpointActivated, Location: ptr(e.Location.wire())}
		case UnknownEvent:
			batch.Events = append(batch.Events, e.Raw)
			continue
		default:
			return nil, fmt.Errorf("encode event: unsupported type %T", ev)
		}
		b, err := json.Marshal(we)
		if err != nil {
			return nil, err
		}
		batch.Events = append(batch.Events, b)
	}
	return json.Marshal(batch)
}

func ptr[T any](v T) *T { return &v }
