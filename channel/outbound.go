// File: channel/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Buffered outbound queue with watermark backpressure. Owned by the
// channel's loop thread; only the byte count and the writability flag
// are readable from outside.

package channel

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/internal/netpoll"
)

const (
	// Watermark defaults, bytes of buffered unflushed outbound data.
	DefaultHighWatermark = 64 * 1024
	DefaultLowWatermark  = 32 * 1024
)

type outbound struct {
	pending []api.Buffer
	headOff int
	armed   bool

	high, low int

	bytes    atomic.Int64
	writable atomic.Bool
}

func (o *outbound) init(high, low int) {
	o.high = high
	o.low = low
	o.writable.Store(true)
}

// enqueue takes ownership of buf. Crossing the high watermark flips
// writability exactly once per transition; the CAS is the guarantee.
func (o *outbound) enqueue(c *TCPChannel, buf api.Buffer) {
	if c.State() == api.StateClosed {
		buf.Release()
		return
	}
	o.pending = append(o.pending, buf)
	if o.bytes.Add(int64(buf.Len())) > int64(o.high) &&
		o.writable.CompareAndSwap(true, false) {
		c.pipe.fireWritabilityChanged(false)
	}
}

// flush writes pending data until the socket refuses more. Write
// interest is armed only while data remains, so EPOLLOUT never spins
// on an idle connection.
func (o *outbound) flush(c *TCPChannel) {
	for len(o.pending) > 0 {
		buf := o.pending[0]
		n, err := netpoll.WriteFD(c.fd, buf.Bytes()[o.headOff:])
		if n > 0 {
			o.headOff += n
			o.bytes.Add(-int64(n))
		}
		if err == netpoll.ErrWouldBlock {
			o.armWrite(c)
			o.maybeWritable(c)
			return
		}
		if err != nil {
			c.logger.Debug("flush failed", zap.Error(err))
			c.closeOnLoop(err)
			return
		}
		if o.headOff >= buf.Len() {
			buf.Release()
			o.pending[0] = nil
			o.pending = o.pending[1:]
			o.headOff = 0
		}
	}
	o.pending = nil
	o.disarmWrite(c)
	o.maybeWritable(c)
}

// maybeWritable flips writability back on once the buffered byte count
// falls to the low watermark, again exactly once per transition.
func (o *outbound) maybeWritable(c *TCPChannel) {
	if o.bytes.Load() <= int64(o.low) &&
		o.writable.CompareAndSwap(false, true) {
		c.pipe.fireWritabilityChanged(true)
	}
}

func (o *outbound) armWrite(c *TCPChannel) {
	if o.armed {
		return
	}
	if err := c.loop.Poller().ModReadWrite(c.fd); err != nil {
		c.logger.Warn("arm write interest", zap.Error(err))
		return
	}
	o.armed = true
}

func (o *outbound) disarmWrite(c *TCPChannel) {
	if !o.armed {
		return
	}
	if err := c.loop.Poller().ModRead(c.fd); err != nil {
		c.logger.Warn("disarm write interest", zap.Error(err))
		return
	}
	o.armed = false
}

// abandon drops undelivered data during teardown.
func (o *outbound) abandon(c *TCPChannel) {
	if n := len(o.pending); n > 0 {
		c.logger.Debug("abandoning unflushed writes", zap.Int("buffers", n))
	}
	for _, buf := range o.pending {
		buf.Release()
	}
	o.pending = nil
	o.headOff = 0
	o.bytes.Store(0)
}
