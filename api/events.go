// File: api/events.go
// Package api defines the pipeline event variants.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// EventKind discriminates the pipeline event variants. Dispatch over a
// pipeline is a switch on this tag, not a method hierarchy.
type EventKind uint8

const (
	// EventRegistered fires once when a channel is bound to its event loop.
	EventRegistered EventKind = iota + 1
	// EventActive fires once when the channel becomes usable for I/O.
	EventActive
	// EventRead carries one chunk of inbound data.
	EventRead
	// EventReadComplete fires after the read chunks of one readiness cycle.
	EventReadComplete
	// EventInactive fires once when the channel stops doing I/O.
	EventInactive
	// EventWritabilityChanged fires on each watermark transition.
	EventWritabilityChanged
)

// String returns the event name for logs.
func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventActive:
		return "active"
	case EventRead:
		return "read"
	case EventReadComplete:
		return "read-complete"
	case EventInactive:
		return "inactive"
	case EventWritabilityChanged:
		return "writability-changed"
	default:
		return "unknown"
	}
}

// Event is one tagged inbound or lifecycle event traversing a pipeline
// head to tail. Data is set for EventRead, Writable for
// EventWritabilityChanged.
type Event struct {
	Kind     EventKind
	Data     Buffer
	Writable bool
}
