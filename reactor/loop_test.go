//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

package reactor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/netloop/core/concurrency"
	"github.com/momentics/netloop/reactor"
)

func newTestGroup(t *testing.T, n int, opts ...reactor.Option) *reactor.Group {
	t.Helper()
	g, err := reactor.NewGroup(n, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	})
	return g
}

func TestExecuteFIFOAcrossSubmitters(t *testing.T) {
	g := newTestGroup(t, 1)
	l := g.Loop(0)

	const submitters = 10
	const perSubmitter = 100

	type rec struct{ submitter, seq int }
	var order []rec
	var running atomic.Int32
	var wg sync.WaitGroup
	done := make(chan struct{})

	for s := 0; s < submitters; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				i := i
				require.NoError(t, l.Execute(func() {
					if running.Add(1) != 1 {
						t.Error("tasks ran concurrently")
					}
					order = append(order, rec{s, i})
					running.Add(-1)
				}))
			}
		}(s)
	}
	wg.Wait()
	require.NoError(t, l.Execute(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not finish")
	}

	require.Len(t, order, submitters*perSubmitter)
	next := make([]int, submitters)
	for _, r := range order {
		require.Equal(t, next[r.submitter], r.seq,
			"submitter %d reordered", r.submitter)
		next[r.submitter]++
	}
}

func TestDispatchThreadAffinity(t *testing.T) {
	g := newTestGroup(t, 2)
	l := g.Loop(0)

	var mu sync.Mutex
	seen := make(map[int64]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		require.NoError(t, l.Execute(func() {
			mu.Lock()
			seen[concurrency.GoroutineID()] = struct{}{}
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()
	require.Len(t, seen, 1, "tasks observed more than one loop thread")
}

func TestScheduleFires(t *testing.T) {
	g := newTestGroup(t, 1)
	l := g.Loop(0)

	fired := make(chan time.Time, 1)
	start := time.Now()
	_, err := l.Schedule(20*time.Millisecond, func() { fired <- time.Now() })
	require.NoError(t, err)

	select {
	case at := <-fired:
		require.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestScheduleCancelBeforeFire(t *testing.T) {
	g := newTestGroup(t, 1)
	l := g.Loop(0)

	var fired atomic.Bool
	tm, err := l.Schedule(50*time.Millisecond, func() { fired.Store(true) })
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.True(t, tm.Cancel())
	require.False(t, tm.Cancel(), "second cancel must be a no-op")

	time.Sleep(100 * time.Millisecond)
	require.False(t, fired.Load(), "cancelled timer fired")
}

func TestScheduleCancelAfterFire(t *testing.T) {
	g := newTestGroup(t, 1)
	l := g.Loop(0)

	fired := make(chan struct{})
	tm, err := l.Schedule(time.Millisecond, func() { close(fired) })
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	require.False(t, tm.Cancel())
}

func TestScheduleEqualDeadlinesKeepOrder(t *testing.T) {
	g := newTestGroup(t, 1)
	l := g.Loop(0)

	var mu sync.Mutex
	var got []int
	when := 30 * time.Millisecond
	block := make(chan struct{})

	// Scheduled from the loop thread so insertion order is fixed.
	require.NoError(t, l.Execute(func() {
		for i := 0; i < 10; i++ {
			i := i
			l.Schedule(when, func() {
				mu.Lock()
				got = append(got, i)
				if len(got) == 10 {
					close(block)
				}
				mu.Unlock()
			})
		}
	}))

	select {
	case <-block:
	case <-time.After(2 * time.Second):
		t.Fatal("timers did not all fire")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, i, v, "equal-deadline timers reordered")
	}
}
