package ws

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// clientFrame encodes a masked client frame the way a browser would.
func clientFrame(fin bool, opcode byte, payload []byte) []byte {
	var out []byte
	b0 := opcode
	if fin {
		b0 |= finBit
	}
	out = append(out, b0)
	n := len(payload)
	switch {
	case n <= 125:
		out = append(out, byte(n)|maskBit)
	case n <= 0xFFFF:
		out = append(out, 126|maskBit, 0, 0)
		binary.BigEndian.PutUint16(out[2:], uint16(n))
	default:
		out = append(out, 127|maskBit, 0, 0, 0, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint64(out[2:], uint64(n))
	}
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	out = append(out, key[:]...)
	for i, b := range payload {
		out = append(out, b^key[i%4])
	}
	return out
}

func TestDecodeFrameUnmasksPayload(t *testing.T) {
	raw := clientFrame(true, OpText, []byte("hello"))
	f, consumed, err := decodeFrame(raw, DefaultMaxPayload)
	require.NoError(t, err)
	require.Equal(t, len(raw), consumed)
	require.True(t, f.fin)
	require.Equal(t, OpText, f.opcode)
	require.Equal(t, []byte("hello"), f.payload)
}

func TestDecodeFrameExtendedLength(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	raw := clientFrame(true, OpBinary, payload)
	f, consumed, err := decodeFrame(raw, DefaultMaxPayload)
	require.NoError(t, err)
	require.Equal(t, len(raw), consumed)
	require.Equal(t, payload, f.payload)
}

func TestDecodeFrameIncomplete(t *testing.T) {
	raw := clientFrame(true, OpText, []byte("partial"))
	for cut := 0; cut < len(raw); cut++ {
		_, consumed, err := decodeFrame(raw[:cut], DefaultMaxPayload)
		require.NoError(t, err, "cut=%d", cut)
		require.Zero(t, consumed, "cut=%d", cut)
	}
}

func TestDecodeFrameRejectsUnmasked(t *testing.T) {
	raw := []byte{finBit | OpText, 3, 'a', 'b', 'c'}
	_, _, err := decodeFrame(raw, DefaultMaxPayload)
	require.ErrorIs(t, err, ErrUnmaskedClient)
}

func TestDecodeFrameRejectsOversize(t *testing.T) {
	raw := clientFrame(true, OpBinary, make([]byte, 200))
	_, _, err := decodeFrame(raw, 100)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecodeFrameRejectsHugeExtendedLength(t *testing.T) {
	// A 64-bit length with the sign bit set must be rejected, not
	// wrapped into a negative count.
	raw := []byte{finBit | OpBinary, 127 | maskBit}
	raw = append(raw, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	raw = append(raw, 0x12, 0x34, 0x56, 0x78)
	_, _, err := decodeFrame(raw, DefaultMaxPayload)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecodeFrameRejectsFragmentedControl(t *testing.T) {
	raw := clientFrame(false, OpPing, nil)
	_, _, err := decodeFrame(raw, DefaultMaxPayload)
	require.ErrorIs(t, err, ErrBadControlFrame)
}

func TestDecodeFrameRejectsReservedBits(t *testing.T) {
	raw := clientFrame(true, OpText, []byte("x"))
	raw[0] |= 0x40
	_, _, err := decodeFrame(raw, DefaultMaxPayload)
	require.ErrorIs(t, err, ErrReservedBits)
}

func TestEncodeHeaderSizes(t *testing.T) {
	var dst [10]byte
	require.Equal(t, 2, encodeHeader(dst[:], OpBinary, 125))
	require.Equal(t, byte(125), dst[1])

	require.Equal(t, 4, encodeHeader(dst[:], OpBinary, 126))
	require.Equal(t, byte(126), dst[1])
	require.Equal(t, uint16(126), binary.BigEndian.Uint16(dst[2:]))

	require.Equal(t, 10, encodeHeader(dst[:], OpBinary, 1<<16))
	require.Equal(t, byte(127), dst[1])
	require.Equal(t, uint64(1<<16), binary.BigEndian.Uint64(dst[2:]))
}
