// File: core/concurrency/taskqueue.go
// Package concurrency provides the per-loop task queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unbounded multi-producer/single-consumer FIFO. The hot path is the
// bounded lock-free ring; when the ring fills, producers spill into a
// mutex-guarded overflow queue.
//
// Ordering invariant: while the overflow holds tasks, every producer
// bypasses the ring (spilled flag, set and cleared under the overflow
// mutex), so the consumer draining ring first and overflow second
// observes any two causally ordered submissions in order.

package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Task is one deferred unit of work.
type Task func()

// TaskQueue is the unbounded MPSC queue owned by one event loop.
// Enqueue is safe from any goroutine; Dequeue is single-consumer.
type TaskQueue struct {
	ring     *LockFreeQueue[Task]
	mu       sync.Mutex
	overflow *queue.Queue
	spilled  atomic.Bool
	size     atomic.Int64
}

// NewTaskQueue creates a queue with the given ring capacity.
func NewTaskQueue(ringCapacity int) *TaskQueue {
	return &TaskQueue{
		ring:     NewLockFreeQueue[Task](ringCapacity),
		overflow: queue.New(),
	}
}

// Enqueue appends t.
func (q *TaskQueue) Enqueue(t Task) {
	if !q.spilled.Load() && q.ring.Enqueue(t) {
		q.size.Add(1)
		return
	}
	q.mu.Lock()
	q.overflow.Add(t)
	q.spilled.Store(true)
	q.mu.Unlock()
	q.size.Add(1)
}

// Dequeue removes the oldest task. Must only be called by the owning
// consumer.
func (q *TaskQueue) Dequeue() (Task, bool) {
	if t, ok := q.ring.Dequeue(); ok {
		q.size.Add(-1)
		return t, true
	}
	if !q.spilled.Load() {
		return nil, false
	}
	q.mu.Lock()
	var t Task
	ok := q.overflow.Length() > 0
	if ok {
		t = q.overflow.Remove().(Task)
	}
	if q.overflow.Length() == 0 {
		q.spilled.Store(false)
	}
	q.mu.Unlock()
	if ok {
		q.size.Add(-1)
	}
	return t, ok
}

// Len returns the approximate queued task count.
func (q *TaskQueue) Len() int { return int(q.size.Load()) }

// Empty reports whether no tasks are queued.
func (q *TaskQueue) Empty() bool { return q.size.Load() == 0 }
