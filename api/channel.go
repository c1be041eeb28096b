// File: api/channel.go
// Package api defines the channel and pipeline contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"net"
	"time"
)

// Timer is the cancellation handle of a scheduled task. Cancel after
// the task fired reports false and has no effect.
type Timer interface {
	Cancel() bool
}

// ChannelState is the lifecycle position of a channel.
type ChannelState int32

const (
	// StateUnregistered is the initial state before loop binding.
	StateUnregistered ChannelState = iota
	// StateActive means the channel is bound and doing I/O.
	StateActive
	// StateInactive means I/O has stopped; teardown is in progress.
	StateInactive
	// StateClosed is terminal; resources are released.
	StateClosed
)

// String returns the state name for logs.
func (s ChannelState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Channel is one network endpoint bound to exactly one event loop for
// its whole life. All pipeline dispatch for a channel happens on that
// loop's thread; the methods below are safe from any thread.
type Channel interface {
	// ID returns the process-unique channel id.
	ID() uint64

	// State returns the current lifecycle state.
	State() ChannelState

	// IsActive reports whether the channel is in StateActive.
	IsActive() bool

	// IsWritable reports the backpressure flag. False while buffered
	// outbound data sits above the high watermark. Advisory only:
	// writes while false still succeed and still grow the buffer.
	IsWritable() bool

	// LoopID identifies the event loop this channel is bound to.
	LoopID() int

	// LocalAddr returns the local socket address.
	LocalAddr() net.Addr

	// RemoteAddr returns the peer socket address.
	RemoteAddr() net.Addr

	// Pipeline returns the channel's handler chain.
	Pipeline() Pipeline

	// Write passes data through the outbound handlers into the
	// channel's outbound buffer. Ownership of data transfers. Data is
	// not on the wire until a flush.
	Write(data Buffer) error

	// WriteBytes copies p into an arena buffer and writes it.
	WriteBytes(p []byte) error

	// Flush pushes buffered outbound data to the socket.
	Flush() error

	// Close initiates the close sequence. Idempotent.
	Close() error

	// Schedule runs task on the owning loop thread after delay. The
	// timer belongs to the channel: close cancels it if still pending.
	Schedule(delay time.Duration, task func()) (Timer, error)

	// SetValue stores a per-channel value. Safe from any thread.
	SetValue(key string, v any)

	// Value loads a per-channel value, or nil.
	Value(key string) any
}

// Pipeline is an ordered handler chain owned by one channel. Add and
// Remove are safe from any thread; an event in flight observes the
// chain as it was when the event reached each position.
type Pipeline interface {
	// AddFirst inserts the handler after the head.
	AddFirst(name string, h Handler) error

	// AddLast appends the handler before the tail.
	AddLast(name string, h Handler) error

	// AddLastExec appends a handler whose invocations run on exec
	// instead of the loop thread.
	AddLastExec(name string, h Handler, exec Executor) error

	// Remove removes the named handler.
	Remove(name string) error

	// Names lists the handler names head to tail.
	Names() []string

	// Channel returns the owning channel.
	Channel() Channel
}
