// File: channel/acceptor.go
// Package channel implements the boss-side listener.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/internal/netpoll"
	"github.com/momentics/netloop/reactor"
)

const (
	defaultBacklog = 1024

	// Accept pause bounds after descriptor exhaustion. The pause
	// doubles on consecutive exhaustions and resets on success.
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// AcceptorOption customizes listener construction.
type AcceptorOption func(*Acceptor)

// WithListenBacklog sets the kernel accept backlog.
func WithListenBacklog(n int) AcceptorOption {
	return func(a *Acceptor) {
		if n > 0 {
			a.backlog = n
		}
	}
}

// WithNoDelay toggles TCP_NODELAY on accepted sockets. Default on.
func WithNoDelay(enable bool) AcceptorOption {
	return func(a *Acceptor) { a.noDelay = enable }
}

// WithChannelOptions forwards options to every accepted channel.
func WithChannelOptions(opts ...ChannelOption) AcceptorOption {
	return func(a *Acceptor) { a.chOpts = append(a.chOpts, opts...) }
}

// Acceptor owns a listening socket on a boss loop. Each accepted
// connection becomes a TCPChannel, runs the initializer to build its
// pipeline, and is handed to the worker group round-robin.
type Acceptor struct {
	fd      int
	addr    net.Addr
	workers *reactor.Group
	init    func(api.Channel) error
	chOpts  []ChannelOption
	noDelay bool
	backlog int

	boss   *reactor.EventLoop
	logger *zap.Logger

	registered atomic.Bool
	closed     atomic.Bool

	// Boss-thread state.
	backoff time.Duration
	paused  bool
}

// NewAcceptor binds and listens on address. The listener starts
// accepting once registered to a boss loop.
func NewAcceptor(network, address string, workers *reactor.Group, init func(api.Channel) error, opts ...AcceptorOption) (*Acceptor, error) {
	if workers == nil {
		return nil, api.ErrInvalidArgument
	}
	a := &Acceptor{
		workers: workers,
		init:    init,
		noDelay: true,
		backlog: defaultBacklog,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(a)
	}
	fd, addr, err := netpoll.TCPListen(network, address, a.backlog)
	if err != nil {
		return nil, err
	}
	a.fd = fd
	a.addr = addr
	return a, nil
}

// Addr returns the bound listen address.
func (a *Acceptor) Addr() net.Addr { return a.addr }

// RegisterTo arms the listener on boss loop l.
func (a *Acceptor) RegisterTo(l *reactor.EventLoop) error {
	if a.closed.Load() {
		return api.ErrChannelClosed
	}
	if !a.registered.CompareAndSwap(false, true) {
		return api.ErrAlreadyRegistered
	}
	a.boss = l
	a.logger = l.Logger().With(zap.String("listen", a.addr.String()))
	reg := func() {
		if a.closed.Load() {
			return
		}
		if err := l.Poller().AddRead(a.fd, a); err != nil {
			a.logger.Error("listener poller add failed", zap.Error(err))
		}
	}
	if l.InLoop() {
		reg()
		return nil
	}
	if err := l.Execute(reg); err != nil {
		a.registered.Store(false)
		a.boss = nil
		return err
	}
	return nil
}

// OnReady drains the accept backlog. Runs on the boss loop thread.
func (a *Acceptor) OnReady(ev api.Readiness) {
	if a.closed.Load() {
		return
	}
	if ev&(api.ReadyErr|api.ReadyHup) != 0 {
		a.logger.Error("listener readiness error", zap.Error(netpoll.SocketError(a.fd)))
		return
	}
	for {
		nfd, err := netpoll.Accept(a.fd)
		if err == netpoll.ErrWouldBlock {
			return
		}
		if err != nil {
			if netpoll.IsFDLimit(err) {
				a.pause(err)
				return
			}
			a.logger.Warn("accept failed", zap.Error(err))
			return
		}
		a.backoff = 0
		a.serve(nfd)
	}
}

func (a *Acceptor) serve(nfd int) {
	if a.noDelay {
		if err := netpoll.SetNoDelay(nfd, true); err != nil {
			a.logger.Debug("set nodelay", zap.Error(err))
		}
	}
	ch := NewTCPChannel(nfd, a.chOpts...)
	if a.init != nil {
		if err := a.init(ch); err != nil {
			a.logger.Warn("channel initializer failed", zap.Error(err))
			_ = ch.Close()
			return
		}
	}
	if err := a.workers.Register(ch); err != nil {
		a.logger.Warn("worker registration failed", zap.Error(err))
		_ = ch.Close()
	}
}

// pause takes the listener out of the poller and schedules a re-arm.
// Accepting again immediately would spin on EMFILE; the pending
// connection stays in the kernel backlog meanwhile.
func (a *Acceptor) pause(cause error) {
	if a.backoff == 0 {
		a.backoff = acceptBackoffMin
	} else if a.backoff *= 2; a.backoff > acceptBackoffMax {
		a.backoff = acceptBackoffMax
	}
	a.logger.Warn("descriptor limit reached, pausing accepts",
		zap.Duration("pause", a.backoff), zap.Error(cause))
	if err := a.boss.Poller().Delete(a.fd); err != nil {
		a.logger.Debug("listener poller delete", zap.Error(err))
	}
	a.paused = true
	if _, err := a.boss.Schedule(a.backoff, a.resume); err != nil {
		a.logger.Error("accept resume scheduling failed", zap.Error(err))
	}
}

func (a *Acceptor) resume() {
	if a.closed.Load() || !a.paused {
		return
	}
	a.paused = false
	if err := a.boss.Poller().AddRead(a.fd, a); err != nil {
		a.logger.Error("listener re-arm failed", zap.Error(err))
	}
}

// Close stops accepting and releases the listening socket. Idempotent.
// The poller removal and the descriptor close stay paired on the boss
// thread so a recycled descriptor number cannot be removed by mistake.
func (a *Acceptor) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !a.registered.Load() {
		return netpoll.CloseFD(a.fd)
	}
	boss := a.boss
	teardown := func() {
		_ = boss.Poller().Delete(a.fd)
		_ = netpoll.CloseFD(a.fd)
	}
	if boss.InLoop() {
		teardown()
		return nil
	}
	if err := boss.Execute(teardown); err != nil {
		// Boss already draining. Its own close of polled attachments
		// re-enters here and stops at the CAS above, so the descriptor
		// must be released on this path whether or not the listener
		// was paused.
		return netpoll.CloseFD(a.fd)
	}
	return nil
}

var (
	_ api.PollAttachment = (*Acceptor)(nil)
	_ reactor.Registrant = (*Acceptor)(nil)
)
