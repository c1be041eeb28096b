// File: core/concurrency/lock_free_queue.go
// Package concurrency provides the bounded lock-free ring.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded MPMC ring buffer with per-cell sequence numbers, after the
// design by Dmitry Vyukov. Enqueue and Dequeue never block; a full or
// empty ring reports false instead.

package concurrency

import "sync/atomic"

const cacheLinePad = 64

// LockFreeQueue is a bounded MPMC queue. Capacity is rounded up to a
// power of two.
type LockFreeQueue[T any] struct {
	head  atomic.Uint64
	_     [cacheLinePad]byte
	tail  atomic.Uint64
	_     [cacheLinePad]byte
	mask  uint64
	cells []cell[T]
}

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// NewLockFreeQueue creates a ring with at least the given capacity.
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &LockFreeQueue[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

// Enqueue adds val; returns false if the ring is full.
func (q *LockFreeQueue[T]) Enqueue(val T) bool {
	for {
		tail := q.tail.Load()
		c := &q.cells[tail&q.mask]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(tail)
		switch {
		case dif == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				c.data = val
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false
		default:
			// tail moved under us, retry
		}
	}
}

// Dequeue removes the oldest item; ok is false if the ring is empty.
func (q *LockFreeQueue[T]) Dequeue() (item T, ok bool) {
	for {
		head := q.head.Load()
		c := &q.cells[head&q.mask]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(head+1)
		switch {
		case dif == 0:
			if q.head.CompareAndSwap(head, head+1) {
				item = c.data
				var zero T
				c.data = zero
				c.sequence.Store(head + q.mask + 1)
				return item, true
			}
		case dif < 0:
			var zero T
			return zero, false
		default:
			// head moved under us, retry
		}
	}
}

// Cap returns the ring capacity.
func (q *LockFreeQueue[T]) Cap() int { return len(q.cells) }
