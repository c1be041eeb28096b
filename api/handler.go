// File: api/handler.go
// Package api defines the pipeline handler contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Handler is a pipeline participant. A handler implements any subset of
// InboundHandler, OutboundHandler and LifecycleHandler; the pipeline
// detects the capabilities once at add time and skips the handler for
// event kinds it does not implement.
//
// Handlers run on the owning channel's event loop thread unless added
// with an auxiliary executor, in which case every invocation of that
// handler is submitted to the executor keyed by the channel id and the
// loop does not wait for it.
type Handler interface{}

// InboundHandler receives inbound data events.
//
// Propagation is explicit: a handler that wants the next inbound
// handler to run must call ctx.FireRead or ctx.FireReadComplete,
// possibly with transformed data. Returning without firing stops the
// event. A non-nil error closes the channel; the loop itself survives.
type InboundHandler interface {
	OnRead(ctx HandlerCtx, data Buffer) error
	OnReadComplete(ctx HandlerCtx) error
}

// OutboundHandler intercepts writes and flushes on their way from the
// pipeline tail to the socket. OnWrite may transform the payload and
// forward it with ctx.Write; OnFlush forwards with ctx.Flush.
type OutboundHandler interface {
	OnWrite(ctx HandlerCtx, data Buffer) error
	OnFlush(ctx HandlerCtx) error
}

// LifecycleHandler observes channel lifecycle transitions.
type LifecycleHandler interface {
	OnRegistered(ctx HandlerCtx) error
	OnActive(ctx HandlerCtx) error
	OnInactive(ctx HandlerCtx) error
	OnWritabilityChanged(ctx HandlerCtx, writable bool) error
}

// HandlerCtx is the handler's view of its pipeline position. Fire
// methods propagate an inbound event to the next capable handler
// toward the tail; Write and Flush propagate outbound toward the head.
//
// Fire, Write and Flush may be called from an auxiliary executor
// thread; the invocation hops back to the loop thread when required.
type HandlerCtx interface {
	// Channel returns the channel this pipeline belongs to.
	Channel() Channel

	// Name returns the name the handler was registered under.
	Name() string

	// Alloc obtains a buffer from the owning loop's arena.
	Alloc(size int) Buffer

	FireRegistered()
	FireActive()
	FireRead(data Buffer)
	FireReadComplete()
	FireInactive()
	FireWritabilityChanged(writable bool)

	// Write sends data toward the head through the remaining outbound
	// handlers. Ownership of data transfers to the pipeline.
	Write(data Buffer) error

	// Flush pushes buffered outbound data to the socket.
	Flush() error

	// Close initiates the channel close sequence.
	Close() error
}
