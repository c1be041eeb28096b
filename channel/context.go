// File: channel/context.go
// Package channel implements pipeline entries and handler contexts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"go.uber.org/zap"

	"github.com/momentics/netloop/api"
)

// entry is one pipeline position. Capabilities are resolved once at
// add time; exec is nil for handlers running on the loop thread.
type entry struct {
	name      string
	handler   api.Handler
	inbound   api.InboundHandler
	outbound  api.OutboundHandler
	lifecycle api.LifecycleHandler
	exec      api.Executor

	prev, next *entry
	pipe       *Pipeline
	ctx        *handlerCtx
}

func (e *entry) handles(kind api.EventKind) bool {
	switch kind {
	case api.EventRead, api.EventReadComplete:
		return e.inbound != nil
	default:
		return e.lifecycle != nil
	}
}

// invoke runs ev against this entry in its execution context: inline
// when already on the loop thread, hopped to the loop otherwise, or
// submitted to the auxiliary executor keyed by channel id.
func (e *entry) invoke(ev api.Event) {
	ch := e.pipe.ch
	if e.exec != nil {
		if err := e.exec.SubmitKeyed(ch.ID(), func() { e.dispatch(ev) }); err != nil {
			releaseEvent(ev)
			ch.logger.Warn("executor rejected event",
				zap.String("handler", e.name),
				zap.Stringer("event", ev.Kind), zap.Error(err))
		}
		return
	}
	if ch.loop.InLoop() {
		e.dispatch(ev)
		return
	}
	if err := ch.loop.Execute(func() { e.dispatch(ev) }); err != nil {
		releaseEvent(ev)
	}
}

// dispatch assumes ownership of ev.Data passed to the handler. On a
// panic the buffer is deliberately leaked to the GC rather than
// released here: the handler may have released it already.
func (e *entry) dispatch(ev api.Event) {
	defer func() {
		if v := recover(); v != nil {
			e.pipe.handlerPanic(e, v)
		}
	}()
	var err error
	switch ev.Kind {
	case api.EventRegistered:
		err = e.lifecycle.OnRegistered(e.ctx)
	case api.EventActive:
		err = e.lifecycle.OnActive(e.ctx)
	case api.EventRead:
		err = e.inbound.OnRead(e.ctx, ev.Data)
	case api.EventReadComplete:
		err = e.inbound.OnReadComplete(e.ctx)
	case api.EventInactive:
		err = e.lifecycle.OnInactive(e.ctx)
	case api.EventWritabilityChanged:
		err = e.lifecycle.OnWritabilityChanged(e.ctx, ev.Writable)
	}
	if err != nil {
		e.pipe.handlerError(e, err)
	}
}

func (e *entry) invokeWrite(data api.Buffer) {
	ch := e.pipe.ch
	run := func() {
		defer func() {
			if v := recover(); v != nil {
				e.pipe.handlerPanic(e, v)
			}
		}()
		if err := e.outbound.OnWrite(e.ctx, data); err != nil {
			e.pipe.handlerError(e, err)
		}
	}
	if e.exec != nil {
		if err := e.exec.SubmitKeyed(ch.ID(), run); err != nil {
			data.Release()
		}
		return
	}
	if ch.loop.InLoop() {
		run()
		return
	}
	if err := ch.loop.Execute(run); err != nil {
		data.Release()
	}
}

func (e *entry) invokeFlush() {
	ch := e.pipe.ch
	run := func() {
		defer func() {
			if v := recover(); v != nil {
				e.pipe.handlerPanic(e, v)
			}
		}()
		if err := e.outbound.OnFlush(e.ctx); err != nil {
			e.pipe.handlerError(e, err)
		}
	}
	if e.exec != nil {
		_ = e.exec.SubmitKeyed(ch.ID(), run)
		return
	}
	if ch.loop.InLoop() {
		run()
		return
	}
	_ = ch.loop.Execute(run)
}

func releaseEvent(ev api.Event) {
	if ev.Data != nil {
		ev.Data.Release()
	}
}

// handlerCtx is the api.HandlerCtx for one entry.
type handlerCtx struct {
	e *entry
}

func (c *handlerCtx) Channel() api.Channel { return c.e.pipe.ch }

func (c *handlerCtx) Name() string { return c.e.name }

func (c *handlerCtx) Alloc(size int) api.Buffer {
	return c.e.pipe.ch.loop.Arena().Alloc(size)
}

func (c *handlerCtx) FireRegistered() {
	c.e.pipe.forwardInbound(c.e, api.Event{Kind: api.EventRegistered})
}

func (c *handlerCtx) FireActive() {
	c.e.pipe.forwardInbound(c.e, api.Event{Kind: api.EventActive})
}

func (c *handlerCtx) FireRead(data api.Buffer) {
	c.e.pipe.forwardInbound(c.e, api.Event{Kind: api.EventRead, Data: data})
}

func (c *handlerCtx) FireReadComplete() {
	c.e.pipe.forwardInbound(c.e, api.Event{Kind: api.EventReadComplete})
}

func (c *handlerCtx) FireInactive() {
	c.e.pipe.forwardInbound(c.e, api.Event{Kind: api.EventInactive})
}

func (c *handlerCtx) FireWritabilityChanged(writable bool) {
	c.e.pipe.forwardInbound(c.e, api.Event{Kind: api.EventWritabilityChanged, Writable: writable})
}

func (c *handlerCtx) Write(data api.Buffer) error {
	return c.e.pipe.forwardWrite(c.e, data)
}

func (c *handlerCtx) Flush() error {
	return c.e.pipe.forwardFlush(c.e)
}

func (c *handlerCtx) Close() error {
	return c.e.pipe.ch.Close()
}

var _ api.HandlerCtx = (*handlerCtx)(nil)
