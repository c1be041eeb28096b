// Package api
// Author: momentics
//
// Readiness polling contract. One poller instance belongs to one event
// loop; every method except Wake must be called from that loop's
// thread. Wake is safe from any thread.

package api

import "time"

// Readiness is a bitmask of I/O conditions reported for one descriptor.
type Readiness uint8

const (
	ReadyRead Readiness = 1 << iota
	ReadyWrite
	ReadyErr
	ReadyHup
)

// PollAttachment is the per-descriptor callback target registered with
// a poller. Channels and acceptors implement it.
type PollAttachment interface {
	// OnReady handles one readiness report for the attached descriptor.
	OnReady(ev Readiness)

	// Close releases the attachment's descriptor. Pollers call it when
	// the owning loop tears down.
	Close() error
}

// Ready pairs an attachment with the readiness observed for it.
type Ready struct {
	Attachment PollAttachment
	Events     Readiness
}

// Poller multiplexes readiness for the descriptors registered with it.
type Poller interface {
	// AddRead registers fd with read interest and attaches att.
	AddRead(fd int, att PollAttachment) error

	// ModRead reduces interest for fd to read only.
	ModRead(fd int) error

	// ModReadWrite raises interest for fd to read and write.
	ModReadWrite(fd int) error

	// Delete removes fd from the poller and drops its attachment.
	Delete(fd int) error

	// Wait blocks up to timeout and fills ready with observed events,
	// returning the count. A zero timeout polls without blocking.
	Wait(timeout time.Duration, ready []Ready) (int, error)

	// Wake forces a concurrent Wait to return early.
	Wake() error

	// Range visits every registered attachment until fn returns false.
	Range(fn func(fd int, att PollAttachment) bool)

	// Len returns the number of registered descriptors.
	Len() int

	// Close releases the poller.
	Close() error
}
