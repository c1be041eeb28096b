// File: protocol/ws/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ws

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/momentics/netloop/api"
)

type serverState uint8

const (
	stateHandshake serverState = iota
	stateOpen
	stateClosing
)

// ServerOption customizes a ServerHandler.
type ServerOption func(*ServerHandler)

// WithMaxPayload caps one inbound frame payload.
func WithMaxPayload(n int) ServerOption {
	return func(h *ServerHandler) {
		if n > 0 {
			h.maxPayload = n
		}
	}
}

// WithTextFrames makes outbound writes text frames instead of binary.
func WithTextFrames() ServerOption {
	return func(h *ServerHandler) { h.outOpcode = OpText }
}

// ServerHandler is a per-channel WebSocket endpoint. Inbound it runs
// the upgrade handshake, then forwards each complete message payload
// to the next handler; outbound it wraps writes in server frames.
// Ping and close frames are answered without involving the
// application.
//
// One instance serves exactly one channel; all state is loop-thread
// owned.
type ServerHandler struct {
	maxPayload int
	outOpcode  byte

	state     serverState
	acc       []byte
	fragOp    byte
	fragData  []byte
	closeSent bool
}

// NewServerHandler creates a server endpoint handler.
func NewServerHandler(opts ...ServerOption) *ServerHandler {
	h := &ServerHandler{maxPayload: DefaultMaxPayload, outOpcode: OpBinary}
	for _, o := range opts {
		o(h)
	}
	return h
}

// OnRead consumes the inbound stream: first the HTTP upgrade, then
// frames.
func (h *ServerHandler) OnRead(ctx api.HandlerCtx, data api.Buffer) error {
	h.acc = append(h.acc, data.Bytes()...)
	data.Release()

	if h.state == stateHandshake {
		if err := h.tryHandshake(ctx); err != nil {
			return err
		}
		if h.state == stateHandshake {
			return nil // request still incomplete
		}
	}
	return h.drainFrames(ctx)
}

// OnReadComplete forwards the batch boundary once the endpoint is
// open; handshake traffic is not application-visible.
func (h *ServerHandler) OnReadComplete(ctx api.HandlerCtx) error {
	if h.state == stateOpen {
		ctx.FireReadComplete()
	}
	return nil
}

// OnWrite wraps the payload in one unfragmented server frame.
func (h *ServerHandler) OnWrite(ctx api.HandlerCtx, data api.Buffer) error {
	if h.state != stateOpen {
		data.Release()
		return api.ErrChannelClosed
	}
	n := data.Len()
	hs := headerSize(n)
	out := ctx.Alloc(hs + n)
	encodeHeader(out.Bytes(), h.outOpcode, n)
	copy(out.Bytes()[hs:], data.Bytes())
	data.Release()
	return ctx.Write(out)
}

// OnFlush forwards the flush unchanged.
func (h *ServerHandler) OnFlush(ctx api.HandlerCtx) error {
	return ctx.Flush()
}

func (h *ServerHandler) tryHandshake(ctx api.HandlerCtx) error {
	end := bytes.Index(h.acc, []byte("\r\n\r\n"))
	if end < 0 {
		if len(h.acc) > maxHandshakeSize {
			h.reject(ctx)
			return ErrHandshakeTooLarge
		}
		return nil
	}
	head := end + 4
	resp, err := parseUpgrade(h.acc[:head])
	if err != nil {
		h.reject(ctx)
		return err
	}
	if err := h.send(ctx, resp); err != nil {
		return err
	}
	h.acc = append([]byte(nil), h.acc[head:]...)
	h.state = stateOpen
	return nil
}

func (h *ServerHandler) drainFrames(ctx api.HandlerCtx) error {
	for h.state == stateOpen && len(h.acc) > 0 {
		f, consumed, err := decodeFrame(h.acc, h.maxPayload)
		if err != nil {
			h.sendClose(ctx)
			return err
		}
		if consumed == 0 {
			break
		}
		h.acc = h.acc[consumed:]
		if err := h.handleFrame(ctx, f); err != nil {
			return err
		}
	}
	if len(h.acc) == 0 {
		h.acc = nil
	}
	return nil
}

func (h *ServerHandler) handleFrame(ctx api.HandlerCtx, f frame) error {
	switch f.opcode {
	case OpText, OpBinary:
		if h.fragData != nil {
			h.sendClose(ctx)
			return errors.New("ws: data frame inside fragmented message")
		}
		if f.fin {
			h.deliver(ctx, f.payload)
			return nil
		}
		h.fragOp = f.opcode
		h.fragData = append([]byte(nil), f.payload...)
	case OpContinuation:
		if h.fragData == nil {
			h.sendClose(ctx)
			return errors.New("ws: continuation without initial frame")
		}
		if len(h.fragData)+len(f.payload) > h.maxPayload {
			h.sendClose(ctx)
			return ErrPayloadTooLarge
		}
		h.fragData = append(h.fragData, f.payload...)
		if f.fin {
			h.deliver(ctx, h.fragData)
			h.fragOp = 0
			h.fragData = nil
		}
	case OpPing:
		return h.sendControl(ctx, OpPong, f.payload)
	case OpPong:
		// Unsolicited pongs are legal and ignored.
	case OpClose:
		h.sendClose(ctx)
		h.state = stateClosing
		return ctx.Close()
	}
	return nil
}

func (h *ServerHandler) deliver(ctx api.HandlerCtx, payload []byte) {
	buf := ctx.Alloc(len(payload))
	copy(buf.Bytes(), payload)
	ctx.FireRead(buf)
}

func (h *ServerHandler) sendControl(ctx api.HandlerCtx, opcode byte, payload []byte) error {
	hs := headerSize(len(payload))
	out := ctx.Alloc(hs + len(payload))
	encodeHeader(out.Bytes(), opcode, len(payload))
	copy(out.Bytes()[hs:], payload)
	return h.sendRaw(ctx, out)
}

func (h *ServerHandler) sendClose(ctx api.HandlerCtx) {
	if h.closeSent {
		return
	}
	h.closeSent = true
	if err := h.sendControl(ctx, OpClose, nil); err != nil {
		return
	}
}

func (h *ServerHandler) reject(ctx api.HandlerCtx) {
	_ = h.send(ctx, badHandshakeResponse)
}

func (h *ServerHandler) send(ctx api.HandlerCtx, p []byte) error {
	buf := ctx.Alloc(len(p))
	copy(buf.Bytes(), p)
	return h.sendRaw(ctx, buf)
}

// sendRaw bypasses OnWrite: handshake responses and control frames are
// already wire format, so they go toward the head from this position
// and flush immediately.
func (h *ServerHandler) sendRaw(ctx api.HandlerCtx, buf api.Buffer) error {
	if err := ctx.Write(buf); err != nil {
		return fmt.Errorf("ws: write control data: %w", err)
	}
	return ctx.Flush()
}

var (
	_ api.InboundHandler  = (*ServerHandler)(nil)
	_ api.OutboundHandler = (*ServerHandler)(nil)
)
