//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

package channel_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/channel"
	"github.com/momentics/netloop/internal/netpoll"
	"github.com/momentics/netloop/reactor"
)

func newLoop(t *testing.T) *reactor.EventLoop {
	t.Helper()
	g, err := reactor.NewGroup(1)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	})
	return g.Loop(0)
}

// pairChannel returns a registered channel and the raw peer descriptor
// driving it.
func pairChannel(t *testing.T, l *reactor.EventLoop, init func(*channel.TCPChannel), opts ...channel.ChannelOption) (*channel.TCPChannel, int) {
	t.Helper()
	local, peer, err := netpoll.Socketpair()
	require.NoError(t, err)
	ch := channel.NewTCPChannel(local, opts...)
	if init != nil {
		init(ch)
	}
	require.NoError(t, l.Register(ch))
	t.Cleanup(func() {
		_ = ch.Close()
		_ = netpoll.CloseFD(peer)
	})
	return ch, peer
}

// peerWrite pushes p into the raw side, waiting out transient refusals.
func peerWrite(t *testing.T, fd int, p []byte) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(p) > 0 {
		n, err := netpoll.WriteFD(fd, p)
		if err == netpoll.ErrWouldBlock {
			if time.Now().After(deadline) {
				t.Fatal("peer write stalled")
			}
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		p = p[n:]
	}
}

// peerRead collects exactly n bytes from the raw side.
func peerRead(t *testing.T, fd int, n int) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n {
		r, err := netpoll.ReadFD(fd, buf)
		if err == netpoll.ErrWouldBlock {
			if time.Now().After(deadline) {
				t.Fatalf("peer read stalled at %d of %d bytes", len(out), n)
			}
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		out = append(out, buf[:r]...)
	}
	return out
}

// echoHandler writes every chunk back and flushes when the burst ends.
type echoHandler struct{}

func (echoHandler) OnRead(ctx api.HandlerCtx, data api.Buffer) error {
	return ctx.Write(data)
}

func (echoHandler) OnReadComplete(ctx api.HandlerCtx) error {
	return ctx.Flush()
}

// recorder keeps lifecycle order and writability transitions.
type recorder struct {
	mu     sync.Mutex
	events []string
	flips  []bool
}

func (r *recorder) log(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) transitions() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.flips...)
}

func (r *recorder) OnRegistered(ctx api.HandlerCtx) error {
	r.log("registered")
	ctx.FireRegistered()
	return nil
}

func (r *recorder) OnActive(ctx api.HandlerCtx) error {
	r.log("active")
	ctx.FireActive()
	return nil
}

func (r *recorder) OnInactive(ctx api.HandlerCtx) error {
	r.log("inactive")
	ctx.FireInactive()
	return nil
}

func (r *recorder) OnWritabilityChanged(ctx api.HandlerCtx, writable bool) error {
	r.mu.Lock()
	r.flips = append(r.flips, writable)
	r.mu.Unlock()
	ctx.FireWritabilityChanged(writable)
	return nil
}

func TestChannelEcho(t *testing.T) {
	l := newLoop(t)
	_, peer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		require.NoError(t, ch.Pipeline().AddLast("echo", echoHandler{}))
	})

	payload := []byte("the quick brown fox")
	peerWrite(t, peer, payload)
	require.Equal(t, payload, peerRead(t, peer, len(payload)))
}

func TestChannelLifecycleOrder(t *testing.T) {
	l := newLoop(t)
	rec := &recorder{}
	ch, peer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		require.NoError(t, ch.Pipeline().AddLast("rec", rec))
	})

	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) == 2 && ev[0] == "registered" && ev[1] == "active"
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, ch.IsActive())

	// Peer close drives the inactive transition.
	require.NoError(t, netpoll.CloseFD(peer))
	require.Eventually(t, func() bool {
		ev := rec.snapshot()
		return len(ev) == 3 && ev[2] == "inactive"
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return ch.State() == api.StateClosed
	}, 2*time.Second, 5*time.Millisecond)

	// Redundant close adds no duplicate events.
	require.NoError(t, ch.Close())
	require.Len(t, rec.snapshot(), 3)
}

func TestChannelDoubleRegistration(t *testing.T) {
	l := newLoop(t)
	ch, _ := pairChannel(t, l, nil)
	require.ErrorIs(t, ch.RegisterTo(l), api.ErrAlreadyRegistered)
}

func TestChannelWriteAfterClose(t *testing.T) {
	l := newLoop(t)
	ch, _ := pairChannel(t, l, nil)
	require.NoError(t, ch.Close())
	require.Eventually(t, func() bool {
		return ch.State() == api.StateClosed
	}, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, ch.WriteBytes([]byte("late")), api.ErrChannelClosed)
	require.ErrorIs(t, ch.Flush(), api.ErrChannelClosed)
}

func TestWritabilityTransitionsExactlyOnce(t *testing.T) {
	l := newLoop(t)
	rec := &recorder{}
	const high, low = 16 * 1024, 8 * 1024

	local, peer, err := netpoll.Socketpair()
	require.NoError(t, err)
	require.NoError(t, netpoll.SetSendBuffer(local, 4096))
	ch := channel.NewTCPChannel(local, channel.WithWatermarks(high, low))
	require.NoError(t, ch.Pipeline().AddLast("rec", rec))
	require.NoError(t, l.Register(ch))
	t.Cleanup(func() {
		_ = ch.Close()
		_ = netpoll.CloseFD(peer)
	})

	payload := make([]byte, 128*1024)
	require.NoError(t, ch.WriteBytes(payload))
	require.NoError(t, ch.Flush())

	require.Eventually(t, func() bool {
		return !ch.IsWritable()
	}, 2*time.Second, time.Millisecond, "high watermark crossing never flipped writability")

	// Draining the peer lets the loop flush until the byte count falls
	// back under the low watermark.
	got := peerRead(t, peer, len(payload))
	require.Len(t, got, len(payload))
	require.Eventually(t, func() bool {
		return ch.IsWritable()
	}, 2*time.Second, time.Millisecond)

	require.Equal(t, []bool{false, true}, rec.transitions(),
		"each watermark crossing must fire exactly one event")
}

func TestHandlerErrorClosesOnlyThatChannel(t *testing.T) {
	l := newLoop(t)

	poison := handlerFunc(func(ctx api.HandlerCtx, data api.Buffer) error {
		data.Release()
		return errors.New("poisoned payload")
	})
	sick, sickPeer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		require.NoError(t, ch.Pipeline().AddLast("poison", poison))
	})
	_, healthyPeer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		require.NoError(t, ch.Pipeline().AddLast("echo", echoHandler{}))
	})

	peerWrite(t, sickPeer, []byte("boom"))
	require.Eventually(t, func() bool {
		return sick.State() == api.StateClosed
	}, 2*time.Second, 5*time.Millisecond)

	// The sibling on the same loop keeps working.
	payload := []byte("still alive")
	peerWrite(t, healthyPeer, payload)
	require.Equal(t, payload, peerRead(t, healthyPeer, len(payload)))

	// The poisoned side observes the close as EOF.
	require.Eventually(t, func() bool {
		_, err := netpoll.ReadFD(sickPeer, make([]byte, 1))
		return err == io.EOF
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandlerPanicClosesOnlyThatChannel(t *testing.T) {
	l := newLoop(t)

	angry := handlerFunc(func(ctx api.HandlerCtx, data api.Buffer) error {
		panic("handler bug")
	})
	sick, sickPeer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		require.NoError(t, ch.Pipeline().AddLast("angry", angry))
	})
	_, healthyPeer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		require.NoError(t, ch.Pipeline().AddLast("echo", echoHandler{}))
	})

	peerWrite(t, sickPeer, []byte("boom"))
	require.Eventually(t, func() bool {
		return sick.State() == api.StateClosed
	}, 2*time.Second, 5*time.Millisecond)

	payload := []byte("unaffected")
	peerWrite(t, healthyPeer, payload)
	require.Equal(t, payload, peerRead(t, healthyPeer, len(payload)))
}

func TestCloseCancelsChannelTimers(t *testing.T) {
	l := newLoop(t)
	ch, _ := pairChannel(t, l, nil)

	fired := make(chan struct{}, 1)
	_, err := ch.Schedule(50*time.Millisecond, func() { fired <- struct{}{} })
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	select {
	case <-fired:
		t.Fatal("timer fired after channel close")
	case <-time.After(150 * time.Millisecond):
	}
}

// handlerFunc adapts a function to api.InboundHandler.
type handlerFunc func(ctx api.HandlerCtx, data api.Buffer) error

func (f handlerFunc) OnRead(ctx api.HandlerCtx, data api.Buffer) error { return f(ctx, data) }

func (f handlerFunc) OnReadComplete(ctx api.HandlerCtx) error { return nil }
