// File: protocol/frame/frame.go
// Package frame implements length-prefix framing as pipeline handlers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wire format: a 4-byte big-endian payload length followed by the
// payload. The codec turns the byte stream arriving at OnRead into one
// FireRead per complete frame, and prefixes every outbound write with
// its header.

package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/netloop/api"
)

// HeaderSize is the frame header length in bytes.
const HeaderSize = 4

// DefaultMaxFrameSize caps one decoded payload. Oversized frames close
// the connection instead of exhausting the arena.
const DefaultMaxFrameSize = 1 << 20

// Codec is a per-channel framing handler. One instance serves exactly
// one channel: decode state lives in the struct and is only touched on
// the owning loop thread.
type Codec struct {
	maxFrame int
	acc      []byte
}

// NewCodec creates a codec with the given payload cap; non-positive
// means DefaultMaxFrameSize.
func NewCodec(maxFrame int) *Codec {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Codec{maxFrame: maxFrame}
}

// OnRead accumulates the inbound stream and forwards each complete
// payload, without its header, to the next handler.
func (c *Codec) OnRead(ctx api.HandlerCtx, data api.Buffer) error {
	c.acc = append(c.acc, data.Bytes()...)
	data.Release()

	for len(c.acc) >= HeaderSize {
		size := int(binary.BigEndian.Uint32(c.acc))
		if size > c.maxFrame {
			return fmt.Errorf("frame of %d bytes exceeds limit %d", size, c.maxFrame)
		}
		total := HeaderSize + size
		if len(c.acc) < total {
			break
		}
		payload := ctx.Alloc(size)
		copy(payload.Bytes(), c.acc[HeaderSize:total])
		c.acc = c.acc[total:]
		ctx.FireRead(payload)
	}
	if len(c.acc) == 0 {
		c.acc = nil
	}
	return nil
}

// OnReadComplete forwards the batch boundary unchanged.
func (c *Codec) OnReadComplete(ctx api.HandlerCtx) error {
	ctx.FireReadComplete()
	return nil
}

// OnWrite prefixes the payload with its length header.
func (c *Codec) OnWrite(ctx api.HandlerCtx, data api.Buffer) error {
	n := data.Len()
	if n > c.maxFrame {
		data.Release()
		return fmt.Errorf("outbound frame of %d bytes exceeds limit %d", n, c.maxFrame)
	}
	framed := ctx.Alloc(HeaderSize + n)
	binary.BigEndian.PutUint32(framed.Bytes(), uint32(n))
	copy(framed.Bytes()[HeaderSize:], data.Bytes())
	data.Release()
	return ctx.Write(framed)
}

// OnFlush forwards the flush unchanged.
func (c *Codec) OnFlush(ctx api.HandlerCtx) error {
	return ctx.Flush()
}

var (
	_ api.InboundHandler  = (*Codec)(nil)
	_ api.OutboundHandler = (*Codec)(nil)
)
