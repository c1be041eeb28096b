//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

package channel_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/channel"
	"github.com/momentics/netloop/core/concurrency"
)

// tagHandler prepends its tag to inbound data and forwards it.
type tagHandler struct {
	tag string
}

func (h *tagHandler) OnRead(ctx api.HandlerCtx, data api.Buffer) error {
	out := ctx.Alloc(len(h.tag) + data.Len())
	copy(out.Bytes(), h.tag)
	copy(out.Bytes()[len(h.tag):], data.Bytes())
	data.Release()
	ctx.FireRead(out)
	return nil
}

func (h *tagHandler) OnReadComplete(ctx api.HandlerCtx) error {
	ctx.FireReadComplete()
	return nil
}

// sinkHandler echoes whatever reaches it without forwarding further.
type sinkHandler struct{}

func (sinkHandler) OnRead(ctx api.HandlerCtx, data api.Buffer) error {
	return ctx.Write(data)
}

func (sinkHandler) OnReadComplete(ctx api.HandlerCtx) error {
	return ctx.Flush()
}

func TestPipelineInboundTraversalOrder(t *testing.T) {
	l := newLoop(t)
	_, peer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		p := ch.Pipeline()
		require.NoError(t, p.AddLast("a", &tagHandler{tag: "a:"}))
		require.NoError(t, p.AddLast("b", &tagHandler{tag: "b:"}))
		require.NoError(t, p.AddLast("sink", sinkHandler{}))
	})

	// Head-to-tail traversal applies a first, then b.
	peerWrite(t, peer, []byte("x"))
	require.Equal(t, []byte("b:a:x"), peerRead(t, peer, 5))
}

func TestPipelineAddFirst(t *testing.T) {
	l := newLoop(t)
	_, peer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		p := ch.Pipeline()
		require.NoError(t, p.AddLast("b", &tagHandler{tag: "b:"}))
		require.NoError(t, p.AddLast("sink", sinkHandler{}))
		require.NoError(t, p.AddFirst("a", &tagHandler{tag: "a:"}))
		require.Equal(t, []string{"a", "b", "sink"}, p.Names())
	})

	peerWrite(t, peer, []byte("x"))
	require.Equal(t, []byte("b:a:x"), peerRead(t, peer, 5))
}

// mute consumes inbound data without firing it onward.
type muteHandler struct {
	seen chan int
}

func (h *muteHandler) OnRead(ctx api.HandlerCtx, data api.Buffer) error {
	h.seen <- data.Len()
	data.Release()
	return nil
}

func (h *muteHandler) OnReadComplete(ctx api.HandlerCtx) error { return nil }

func TestPipelinePropagationIsExplicit(t *testing.T) {
	l := newLoop(t)
	mute := &muteHandler{seen: make(chan int, 8)}
	reached := make(chan struct{}, 8)
	after := handlerFunc(func(ctx api.HandlerCtx, data api.Buffer) error {
		reached <- struct{}{}
		data.Release()
		return nil
	})
	_, peer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		p := ch.Pipeline()
		require.NoError(t, p.AddLast("mute", mute))
		require.NoError(t, p.AddLast("after", after))
	})

	peerWrite(t, peer, []byte("quiet"))
	select {
	case n := <-mute.seen:
		require.Equal(t, 5, n)
	case <-time.After(2 * time.Second):
		t.Fatal("first handler never saw the data")
	}
	select {
	case <-reached:
		t.Fatal("event propagated although the handler did not fire it")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPipelineDuplicateAndMissingNames(t *testing.T) {
	l := newLoop(t)
	ch, _ := pairChannel(t, l, nil)
	p := ch.Pipeline()

	require.NoError(t, p.AddLast("one", sinkHandler{}))
	require.Error(t, p.AddLast("one", sinkHandler{}))
	require.Error(t, p.Remove("ghost"))
	require.NoError(t, p.Remove("one"))
	require.Empty(t, p.Names())
}

func TestPipelineRejectsCapabilityFreeHandler(t *testing.T) {
	l := newLoop(t)
	ch, _ := pairChannel(t, l, nil)
	require.ErrorIs(t, ch.Pipeline().AddLast("nothing", struct{}{}), api.ErrInvalidArgument)
}

// outTagHandler appends its tag to outbound data.
type outTagHandler struct {
	tag string
}

func (h *outTagHandler) OnWrite(ctx api.HandlerCtx, data api.Buffer) error {
	out := ctx.Alloc(data.Len() + len(h.tag))
	copy(out.Bytes(), data.Bytes())
	copy(out.Bytes()[data.Len():], h.tag)
	data.Release()
	return ctx.Write(out)
}

func (h *outTagHandler) OnFlush(ctx api.HandlerCtx) error {
	return ctx.Flush()
}

func TestPipelineOutboundTraversalOrder(t *testing.T) {
	l := newLoop(t)
	ch, peer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		p := ch.Pipeline()
		require.NoError(t, p.AddLast("a", &outTagHandler{tag: ":a"}))
		require.NoError(t, p.AddLast("b", &outTagHandler{tag: ":b"}))
	})

	// Tail-to-head traversal applies b first, then a.
	require.NoError(t, ch.WriteBytes([]byte("x")))
	require.NoError(t, ch.Flush())
	require.Equal(t, []byte("x:b:a"), peerRead(t, peer, 5))
}

// gidEchoHandler records the goroutine it ran on, then echoes.
type gidEchoHandler struct {
	mu   sync.Mutex
	gids map[int64]struct{}
}

func (h *gidEchoHandler) OnRead(ctx api.HandlerCtx, data api.Buffer) error {
	h.mu.Lock()
	if h.gids == nil {
		h.gids = make(map[int64]struct{})
	}
	h.gids[concurrency.GoroutineID()] = struct{}{}
	h.mu.Unlock()
	if err := ctx.Write(data); err != nil {
		return err
	}
	return ctx.Flush()
}

func (h *gidEchoHandler) OnReadComplete(ctx api.HandlerCtx) error { return nil }

func TestPipelineExecutorOffload(t *testing.T) {
	l := newLoop(t)
	pool := concurrency.NewPool(2, 64, zap.NewNop())
	t.Cleanup(func() { _ = pool.Close() })

	var loopGID int64
	gidReady := make(chan struct{})
	require.NoError(t, l.Execute(func() {
		loopGID = concurrency.GoroutineID()
		close(gidReady)
	}))
	<-gidReady

	h := &gidEchoHandler{}
	_, peer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		require.NoError(t, ch.Pipeline().AddLastExec("offload", h, pool))
	})

	payload := []byte("offloaded")
	peerWrite(t, peer, payload)
	require.Equal(t, payload, peerRead(t, peer, len(payload)))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.gids, 1)
	_, ranOnLoop := h.gids[loopGID]
	require.False(t, ranOnLoop, "offloaded handler ran on the loop thread")
}

// sleeperHandler simulates blocking work on the auxiliary executor.
type sleeperHandler struct {
	d    time.Duration
	done chan struct{}
}

func (h *sleeperHandler) OnRead(ctx api.HandlerCtx, data api.Buffer) error {
	data.Release()
	time.Sleep(h.d)
	close(h.done)
	return nil
}

func (h *sleeperHandler) OnReadComplete(ctx api.HandlerCtx) error { return nil }

func TestOffloadedSleepDoesNotStallSiblings(t *testing.T) {
	l := newLoop(t)
	pool := concurrency.NewPool(1, 64, zap.NewNop())
	t.Cleanup(func() { _ = pool.Close() })

	sleeper := &sleeperHandler{d: 200 * time.Millisecond, done: make(chan struct{})}
	_, slowPeer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		require.NoError(t, ch.Pipeline().AddLastExec("sleeper", sleeper, pool))
	})
	_, echoPeer := pairChannel(t, l, func(ch *channel.TCPChannel) {
		require.NoError(t, ch.Pipeline().AddLast("echo", echoHandler{}))
	})

	// Warm the echo path so the measured section sees no first-use cost.
	peerWrite(t, echoPeer, []byte("warmup"))
	peerRead(t, echoPeer, len("warmup"))

	// 200ms of "blocking" work lands on the executor thread...
	peerWrite(t, slowPeer, []byte("block"))

	// ...while 50 round trips for an unrelated channel on the same
	// loop must finish long before the sleeper does.
	start := time.Now()
	for i := 0; i < 50; i++ {
		peerWrite(t, echoPeer, []byte("ping"))
		peerRead(t, echoPeer, len("ping"))
	}
	elapsed := time.Since(start)

	select {
	case <-sleeper.done:
		t.Fatal("sleeper finished before the echo burst, nothing was proven")
	default:
	}
	require.Less(t, elapsed, 150*time.Millisecond,
		"echo traffic stalled behind offloaded work")

	select {
	case <-sleeper.done:
	case <-time.After(2 * time.Second):
		t.Fatal("offloaded handler never completed")
	}
}
