// File: protocol/ws/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RFC 6455 frame parsing and serialization over raw byte slices. The
// decoder is incremental: an incomplete frame reports zero consumed
// bytes and no error, and the caller retries with more data.

package ws

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame opcodes.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

const (
	finBit  = 0x80
	maskBit = 0x80

	// DefaultMaxPayload caps one frame payload.
	DefaultMaxPayload = 1 << 20
)

var (
	ErrPayloadTooLarge  = errors.New("ws: frame payload exceeds limit")
	ErrReservedBits     = errors.New("ws: reserved bits set without extension")
	ErrBadControlFrame  = errors.New("ws: fragmented or oversized control frame")
	ErrUnmaskedClient   = errors.New("ws: client frame is not masked")
	ErrUnknownOpcode    = errors.New("ws: unknown opcode")
)

// frame is one decoded WebSocket frame. Payload aliases the input; the
// caller copies before the input is reused.
type frame struct {
	fin     bool
	opcode  byte
	payload []byte
}

func (f frame) isControl() bool { return f.opcode&0x8 != 0 }

// decodeFrame parses one client frame from raw. It returns the frame,
// the bytes consumed, and an error. Incomplete input returns consumed
// zero and a nil error. Client frames must be masked; the payload is
// unmasked in place.
func decodeFrame(raw []byte, maxPayload int) (frame, int, error) {
	if len(raw) < 2 {
		return frame{}, 0, nil
	}
	if raw[0]&0x70 != 0 {
		return frame{}, 0, ErrReservedBits
	}
	f := frame{fin: raw[0]&finBit != 0, opcode: raw[0] & 0x0F}
	switch f.opcode {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
	default:
		return frame{}, 0, fmt.Errorf("%w: 0x%x", ErrUnknownOpcode, f.opcode)
	}
	masked := raw[1]&maskBit != 0
	length := int64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return frame{}, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return frame{}, 0, nil
		}
		// The most significant bit of the 64-bit length must be zero
		// (RFC 6455 section 5.2); anything above is oversized anyway.
		v := binary.BigEndian.Uint64(raw[offset:])
		if v > uint64(maxPayload) {
			return frame{}, 0, ErrPayloadTooLarge
		}
		length = int64(v)
		offset += 8
	}

	if f.isControl() && (!f.fin || length > 125) {
		return frame{}, 0, ErrBadControlFrame
	}
	if length > int64(maxPayload) {
		return frame{}, 0, ErrPayloadTooLarge
	}
	if !masked {
		return frame{}, 0, ErrUnmaskedClient
	}
	if len(raw) < offset+4 {
		return frame{}, 0, nil
	}
	var key [4]byte
	copy(key[:], raw[offset:])
	offset += 4

	total := offset + int(length)
	if len(raw) < total {
		return frame{}, 0, nil
	}
	f.payload = raw[offset:total]
	for i := range f.payload {
		f.payload[i] ^= key[i%4]
	}
	return f, total, nil
}

// headerSize returns the server-frame header length for a payload of n
// bytes. Server frames are never masked.
func headerSize(n int) int {
	switch {
	case n <= 125:
		return 2
	case n <= 0xFFFF:
		return 4
	default:
		return 10
	}
}

// encodeHeader writes an unmasked FIN frame header for opcode and a
// payload of n bytes into dst, returning the header length. dst must
// hold headerSize(n) bytes.
func encodeHeader(dst []byte, opcode byte, n int) int {
	dst[0] = finBit | opcode
	switch {
	case n <= 125:
		dst[1] = byte(n)
		return 2
	case n <= 0xFFFF:
		dst[1] = 126
		binary.BigEndian.PutUint16(dst[2:], uint16(n))
		return 4
	default:
		dst[1] = 127
		binary.BigEndian.PutUint64(dst[2:], uint64(n))
		return 10
	}
}
