// File: reactor/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"container/heap"
	"sync/atomic"
	"time"

	"github.com/momentics/netloop/core/concurrency"
)

const (
	timerPending int32 = iota
	timerFired
	timerCancelled
)

// Timer is the cancellation handle returned by EventLoop.Schedule.
type Timer struct {
	when time.Time
	seq  uint64
	task concurrency.Task
	loop *EventLoop

	index int // heap slot, -1 while off the heap

	state atomic.Int32
}

// Cancel prevents a pending timer from firing. It reports false when
// the timer already fired or was already cancelled; cancelling late is
// a no-op, not an error.
//
// On the owning loop thread the heap entry is unlinked immediately,
// which is what connection close relies on. From other threads the
// entry stays queued and is discarded when it surfaces.
func (t *Timer) Cancel() bool {
	if !t.state.CompareAndSwap(timerPending, timerCancelled) {
		return false
	}
	t.loop.timersCancelled.Inc()
	if t.loop.InLoop() && t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
	}
	return true
}

// When returns the scheduled fire time.
func (t *Timer) When() time.Time { return t.when }

// timerHeap orders by fire time, then by scheduling order so equal
// deadlines fire in the order they were scheduled.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
