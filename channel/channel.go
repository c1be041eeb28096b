// File: channel/channel.go
// Package channel implements the TCP channel bound to one event loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/internal/netpoll"
	"github.com/momentics/netloop/reactor"
)

// Per-readiness read burst cap. A connection streaming faster than the
// loop cannot starve its siblings past this many reads; level-triggered
// polling reports the remainder on the next wait.
const maxReadsPerCycle = 16

const defaultReadBufferSize = 16 * 1024

var channelIDs atomic.Uint64

// ChannelOption customizes channel construction.
type ChannelOption func(*channelConfig)

type channelConfig struct {
	readBufSize int
	high, low   int
}

// WithReadBufferSize sets the arena lease size for each socket read.
func WithReadBufferSize(n int) ChannelOption {
	return func(c *channelConfig) {
		if n > 0 {
			c.readBufSize = n
		}
	}
}

// WithWatermarks sets the outbound buffering thresholds that drive the
// writability flag.
func WithWatermarks(high, low int) ChannelOption {
	return func(c *channelConfig) {
		if high > 0 && low > 0 && low <= high {
			c.high = high
			c.low = low
		}
	}
}

// TCPChannel is one TCP endpoint. It implements api.Channel for
// applications, reactor.Registrant for loop binding and
// api.PollAttachment for the poller.
type TCPChannel struct {
	fd  int
	id  uint64
	cfg channelConfig

	loop   *reactor.EventLoop
	pipe   *Pipeline
	logger *zap.Logger

	localAddr  net.Addr
	remoteAddr net.Addr

	// regMu serializes registration attempts; registered is the
	// publication barrier for loop and logger.
	regMu      sync.Mutex
	state      atomic.Int32
	registered atomic.Bool

	out outbound

	// Loop-thread state.
	polled  bool
	closing bool

	timerMu sync.Mutex
	timers  map[*reactor.Timer]struct{}

	values sync.Map
}

// NewTCPChannel wraps a connected nonblocking descriptor. The channel
// does nothing until registered to an event loop.
func NewTCPChannel(fd int, opts ...ChannelOption) *TCPChannel {
	cfg := channelConfig{
		readBufSize: defaultReadBufferSize,
		high:        DefaultHighWatermark,
		low:         DefaultLowWatermark,
	}
	for _, o := range opts {
		o(&cfg)
	}
	c := &TCPChannel{
		fd:         fd,
		id:         channelIDs.Add(1),
		cfg:        cfg,
		logger:     zap.NewNop(),
		localAddr:  netpoll.LocalTCPAddr(fd),
		remoteAddr: netpoll.RemoteTCPAddr(fd),
		timers:     make(map[*reactor.Timer]struct{}),
	}
	c.out.init(cfg.high, cfg.low)
	c.pipe = newPipeline(c)
	return c
}

// RegisterTo binds the channel to l for life. A second registration is
// rejected synchronously. The poller add and the registered and active
// events run on l's thread.
func (c *TCPChannel) RegisterTo(l *reactor.EventLoop) error {
	if c.State() == api.StateClosed {
		return api.ErrChannelClosed
	}
	c.regMu.Lock()
	if c.registered.Load() {
		c.regMu.Unlock()
		return api.ErrAlreadyRegistered
	}
	c.loop = l
	c.logger = l.Logger().With(zap.Uint64("channel", c.id))
	c.registered.Store(true)
	c.regMu.Unlock()

	if l.InLoop() {
		c.registerOnLoop()
		return nil
	}
	if err := l.Execute(c.registerOnLoop); err != nil {
		c.regMu.Lock()
		c.registered.Store(false)
		c.loop = nil
		c.logger = zap.NewNop()
		c.regMu.Unlock()
		return err
	}
	return nil
}

func (c *TCPChannel) registerOnLoop() {
	if c.State() != api.StateUnregistered {
		return
	}
	if err := c.loop.Poller().AddRead(c.fd, c); err != nil {
		c.logger.Error("poller add failed", zap.Error(err))
		c.closeOnLoop(err)
		return
	}
	c.polled = true
	c.pipe.fireRegistered()
	// A registered handler may have closed the channel already.
	if !c.state.CompareAndSwap(int32(api.StateUnregistered), int32(api.StateActive)) {
		return
	}
	c.pipe.fireActive()
}

// OnReady is the poller callback, always on the loop thread. Order:
// socket errors, then write capacity, then inbound data, then hangup,
// so buffered inbound bytes are read out before a peer close wins.
func (c *TCPChannel) OnReady(ev api.Readiness) {
	if c.State() != api.StateActive {
		return
	}
	if ev&api.ReadyErr != 0 {
		err := netpoll.SocketError(c.fd)
		if err == nil {
			err = errors.New("socket error readiness")
		}
		c.closeOnLoop(err)
		return
	}
	if ev&api.ReadyWrite != 0 {
		c.out.flush(c)
		if c.State() != api.StateActive {
			return
		}
	}
	if ev&api.ReadyRead != 0 {
		c.readReady()
		if c.State() != api.StateActive {
			return
		}
	}
	// Hangup with readable data pending is left to the read path: the
	// level-triggered poller reports it again until the reads hit EOF.
	if ev&api.ReadyHup != 0 && ev&api.ReadyRead == 0 {
		c.closeOnLoop(nil)
	}
}

func (c *TCPChannel) readReady() {
	fired := false
	for i := 0; i < maxReadsPerCycle; i++ {
		buf := c.loop.Arena().Alloc(c.cfg.readBufSize)
		n, err := netpoll.ReadFD(c.fd, buf.Bytes())
		if err != nil {
			buf.Release()
			if err == netpoll.ErrWouldBlock {
				break
			}
			if fired {
				c.pipe.fireReadComplete()
			}
			if err == io.EOF {
				c.closeOnLoop(nil)
			} else {
				c.closeOnLoop(err)
			}
			return
		}
		buf.Shrink(n)
		fired = true
		c.pipe.fireRead(buf)
		if c.State() != api.StateActive {
			return
		}
		if n < c.cfg.readBufSize {
			break
		}
	}
	if fired {
		c.pipe.fireReadComplete()
	}
}

// ID returns the process-unique channel id.
func (c *TCPChannel) ID() uint64 { return c.id }

// State returns the current lifecycle state.
func (c *TCPChannel) State() api.ChannelState {
	return api.ChannelState(c.state.Load())
}

// IsActive reports whether the channel is doing I/O.
func (c *TCPChannel) IsActive() bool { return c.State() == api.StateActive }

// IsWritable reports the advisory backpressure flag.
func (c *TCPChannel) IsWritable() bool { return c.out.writable.Load() }

// LoopID identifies the bound event loop, -1 before registration.
func (c *TCPChannel) LoopID() int {
	if !c.registered.Load() {
		return -1
	}
	return c.loop.ID()
}

// LocalAddr returns the local socket address.
func (c *TCPChannel) LocalAddr() net.Addr { return c.localAddr }

// RemoteAddr returns the peer socket address.
func (c *TCPChannel) RemoteAddr() net.Addr { return c.remoteAddr }

// Pipeline returns the channel's handler chain.
func (c *TCPChannel) Pipeline() api.Pipeline { return c.pipe }

// Write sends data through the outbound handlers into the outbound
// queue. Ownership of data transfers; nothing hits the wire until a
// flush.
func (c *TCPChannel) Write(data api.Buffer) error {
	if data == nil {
		return api.ErrInvalidArgument
	}
	if !c.usable() {
		data.Release()
		return api.ErrChannelClosed
	}
	return c.pipe.write(data)
}

// WriteBytes copies p into an arena buffer and writes it.
func (c *TCPChannel) WriteBytes(p []byte) error {
	if !c.usable() {
		return api.ErrChannelClosed
	}
	buf := c.loop.Arena().Alloc(len(p))
	copy(buf.Bytes(), p)
	return c.pipe.write(buf)
}

// Flush pushes buffered outbound data to the socket.
func (c *TCPChannel) Flush() error {
	if !c.usable() {
		return api.ErrChannelClosed
	}
	return c.pipe.flush()
}

func (c *TCPChannel) usable() bool {
	return c.registered.Load() && c.State() < api.StateInactive
}

// depositWrite is the head sentinel's outbound terminal: the buffer
// lands in the loop-owned outbound queue.
func (c *TCPChannel) depositWrite(data api.Buffer) error {
	if c.loop.InLoop() {
		c.out.enqueue(c, data)
		return nil
	}
	if err := c.loop.Execute(func() { c.out.enqueue(c, data) }); err != nil {
		data.Release()
		return err
	}
	return nil
}

// flushOutbound is the head sentinel's flush terminal.
func (c *TCPChannel) flushOutbound() error {
	if c.loop.InLoop() {
		if c.IsActive() {
			c.out.flush(c)
		}
		return nil
	}
	return c.loop.Execute(func() {
		if c.IsActive() {
			c.out.flush(c)
		}
	})
}

// Schedule runs task on the owning loop after delay. The timer belongs
// to this channel; close cancels it synchronously on the loop thread.
func (c *TCPChannel) Schedule(delay time.Duration, task func()) (api.Timer, error) {
	if task == nil {
		return nil, api.ErrInvalidArgument
	}
	if !c.usable() {
		return nil, api.ErrChannelClosed
	}
	var tm *reactor.Timer
	tm, err := c.loop.Schedule(delay, func() {
		c.timerMu.Lock()
		delete(c.timers, tm)
		c.timerMu.Unlock()
		task()
	})
	if err != nil {
		return nil, err
	}
	c.timerMu.Lock()
	c.timers[tm] = struct{}{}
	c.timerMu.Unlock()
	return tm, nil
}

func (c *TCPChannel) cancelTimers() {
	c.timerMu.Lock()
	tms := make([]*reactor.Timer, 0, len(c.timers))
	for tm := range c.timers {
		tms = append(tms, tm)
	}
	c.timers = make(map[*reactor.Timer]struct{})
	c.timerMu.Unlock()
	for _, tm := range tms {
		tm.Cancel()
	}
}

// SetValue stores a per-channel value.
func (c *TCPChannel) SetValue(key string, v any) { c.values.Store(key, v) }

// Value loads a per-channel value, or nil.
func (c *TCPChannel) Value(key string) any {
	v, _ := c.values.Load(key)
	return v
}

// Close initiates the close sequence from any thread. Idempotent.
func (c *TCPChannel) Close() error {
	if c.State() == api.StateClosed {
		return nil
	}
	if !c.registered.Load() {
		if c.state.CompareAndSwap(int32(api.StateUnregistered), int32(api.StateClosed)) {
			return netpoll.CloseFD(c.fd)
		}
		return nil
	}
	if c.loop.InLoop() {
		c.closeOnLoop(nil)
		return nil
	}
	if err := c.loop.Execute(func() { c.closeOnLoop(nil) }); err != nil {
		// Loop already draining or dead; its teardown closes the fd.
		if errors.Is(err, api.ErrEventLoopClosed) {
			return nil
		}
		return err
	}
	return nil
}

// closeOnLoop runs the close sequence on the loop thread: one inactive
// event, synchronous timer cancellation, a last flush attempt, then
// poller removal and descriptor release.
func (c *TCPChannel) closeOnLoop(cause error) {
	if c.closing || c.State() == api.StateClosed {
		return
	}
	c.closing = true
	if cause != nil {
		c.logger.Debug("closing on error", zap.Error(cause))
	}

	if c.state.CompareAndSwap(int32(api.StateActive), int32(api.StateInactive)) {
		c.out.flush(c)
		c.cancelTimers()
		c.pipe.fireInactive()
	} else {
		c.cancelTimers()
	}

	c.state.Store(int32(api.StateClosed))
	c.out.abandon(c)
	if c.polled {
		if err := c.loop.Poller().Delete(c.fd); err != nil {
			c.logger.Debug("poller delete", zap.Error(err))
		}
		c.polled = false
	}
	if err := netpoll.CloseFD(c.fd); err != nil {
		c.logger.Debug("fd close", zap.Error(err))
	}
}

var (
	_ api.Channel        = (*TCPChannel)(nil)
	_ api.PollAttachment = (*TCPChannel)(nil)
	_ reactor.Registrant = (*TCPChannel)(nil)
)
