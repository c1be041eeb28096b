// File: channel/pipeline.go
// Package channel implements the handler pipeline.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/netloop/api"
)

// Pipeline is a doubly linked handler chain between two sentinels.
// The head sentinel terminates outbound traffic into the channel's
// outbound queue; the tail sentinel swallows inbound events nothing
// consumed. Links are guarded by mu so handlers can be added and
// removed from any thread; an unlinked entry keeps its own pointers,
// letting an event in flight continue past it.
type Pipeline struct {
	ch *TCPChannel

	mu         sync.Mutex
	head, tail *entry
}

func newPipeline(ch *TCPChannel) *Pipeline {
	p := &Pipeline{ch: ch}
	p.head = &entry{name: "head", pipe: p}
	p.tail = &entry{name: "tail", pipe: p}
	p.head.next = p.tail
	p.tail.prev = p.head
	p.head.ctx = &handlerCtx{e: p.head}
	p.tail.ctx = &handlerCtx{e: p.tail}
	return p
}

// AddFirst inserts the handler right after the head.
func (p *Pipeline) AddFirst(name string, h api.Handler) error {
	return p.add(name, h, nil, true)
}

// AddLast appends the handler right before the tail.
func (p *Pipeline) AddLast(name string, h api.Handler) error {
	return p.add(name, h, nil, false)
}

// AddLastExec appends a handler whose invocations run on exec, keyed
// by the channel id so events for this channel stay ordered there.
func (p *Pipeline) AddLastExec(name string, h api.Handler, exec api.Executor) error {
	if exec == nil {
		return api.ErrInvalidArgument
	}
	return p.add(name, h, exec, false)
}

func (p *Pipeline) add(name string, h api.Handler, exec api.Executor, first bool) error {
	if name == "" || h == nil {
		return api.ErrInvalidArgument
	}
	e := &entry{name: name, handler: h, exec: exec, pipe: p}
	e.inbound, _ = h.(api.InboundHandler)
	e.outbound, _ = h.(api.OutboundHandler)
	e.lifecycle, _ = h.(api.LifecycleHandler)
	if e.inbound == nil && e.outbound == nil && e.lifecycle == nil {
		return api.ErrInvalidArgument
	}
	e.ctx = &handlerCtx{e: e}

	p.mu.Lock()
	defer p.mu.Unlock()
	for cur := p.head.next; cur != p.tail; cur = cur.next {
		if cur.name == name {
			return api.WrapError(api.ErrCodeInvalidArgument,
				"duplicate handler name "+name, api.ErrInvalidArgument)
		}
	}
	at := p.tail.prev
	if first {
		at = p.head
	}
	e.prev = at
	e.next = at.next
	at.next.prev = e
	at.next = e
	return nil
}

// Remove unlinks the named handler. The removed entry keeps its prev
// and next pointers so in-flight events pass through.
func (p *Pipeline) Remove(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for cur := p.head.next; cur != p.tail; cur = cur.next {
		if cur.name == name {
			cur.prev.next = cur.next
			cur.next.prev = cur.prev
			return nil
		}
	}
	return api.WrapError(api.ErrCodeInvalidArgument,
		"no handler named "+name, api.ErrInvalidArgument)
}

// Names lists handler names head to tail, sentinels excluded.
func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for cur := p.head.next; cur != p.tail; cur = cur.next {
		names = append(names, cur.name)
	}
	return names
}

// Channel returns the owning channel.
func (p *Pipeline) Channel() api.Channel { return p.ch }

// Inbound event entry points; called on the loop thread.

func (p *Pipeline) fireRegistered() {
	p.forwardInbound(p.head, api.Event{Kind: api.EventRegistered})
}

func (p *Pipeline) fireActive() {
	p.forwardInbound(p.head, api.Event{Kind: api.EventActive})
}

func (p *Pipeline) fireRead(data api.Buffer) {
	p.forwardInbound(p.head, api.Event{Kind: api.EventRead, Data: data})
}

func (p *Pipeline) fireReadComplete() {
	p.forwardInbound(p.head, api.Event{Kind: api.EventReadComplete})
}

func (p *Pipeline) fireInactive() {
	p.forwardInbound(p.head, api.Event{Kind: api.EventInactive})
}

func (p *Pipeline) fireWritabilityChanged(writable bool) {
	p.forwardInbound(p.head, api.Event{Kind: api.EventWritabilityChanged, Writable: writable})
}

// forwardInbound moves ev to the next entry past from that handles its
// kind, in that entry's execution context. Events reaching the tail
// stop there; unconsumed read payloads are released.
func (p *Pipeline) forwardInbound(from *entry, ev api.Event) {
	e := p.nextInbound(from, ev.Kind)
	if e == p.tail {
		p.tailConsume(ev)
		return
	}
	e.invoke(ev)
}

func (p *Pipeline) nextInbound(from *entry, kind api.EventKind) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := from.next; e != nil && e != p.tail; e = e.next {
		if e.handles(kind) {
			return e
		}
	}
	return p.tail
}

func (p *Pipeline) tailConsume(ev api.Event) {
	if ev.Kind == api.EventRead && ev.Data != nil {
		p.ch.logger.Debug("inbound data reached pipeline tail unhandled",
			zap.Int("bytes", ev.Data.Len()))
		ev.Data.Release()
	}
}

// Outbound entry points. write and flush start at the tail, as if the
// application sat behind the last handler.

func (p *Pipeline) write(data api.Buffer) error {
	return p.forwardWrite(p.tail, data)
}

func (p *Pipeline) flush() error {
	return p.forwardFlush(p.tail)
}

// forwardWrite moves data toward the head through outbound handlers.
// The head deposits it in the channel's outbound queue.
func (p *Pipeline) forwardWrite(from *entry, data api.Buffer) error {
	e := p.prevOutbound(from)
	if e == p.head {
		return p.ch.depositWrite(data)
	}
	e.invokeWrite(data)
	return nil
}

func (p *Pipeline) forwardFlush(from *entry) error {
	e := p.prevOutbound(from)
	if e == p.head {
		return p.ch.flushOutbound()
	}
	e.invokeFlush()
	return nil
}

func (p *Pipeline) prevOutbound(from *entry) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := from.prev; e != nil && e != p.head; e = e.prev {
		if e.outbound != nil {
			return e
		}
	}
	return p.head
}

// handlerError implements the per-channel failure boundary: the error
// is logged and the channel closes, the loop and its other channels
// are untouched.
func (p *Pipeline) handlerError(e *entry, err error) {
	p.ch.logger.Error("handler failed, closing channel",
		zap.String("handler", e.name), zap.Error(err))
	_ = p.ch.Close()
}

func (p *Pipeline) handlerPanic(e *entry, v any) {
	p.ch.logger.Error("handler panicked, closing channel",
		zap.String("handler", e.name), zap.Any("panic", v),
		zap.Stack("stack"))
	_ = p.ch.Close()
}

var _ api.Pipeline = (*Pipeline)(nil)
