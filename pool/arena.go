// File: pool/arena.go
// Package pool implements size-classed buffer arenas with lock-free freelists.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync/atomic"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/core/concurrency"
)

// Power-of-two size classes (bytes). Reads and typical frames land in
// the lower classes; the top class matches the default high watermark.
var sizeClasses = [...]int{
	512,
	1 * 1024,
	2 * 1024,
	4 * 1024,
	8 * 1024,
	16 * 1024,
	32 * 1024,
	64 * 1024,
}

// Freelist capacity per size class. A full freelist drops the buffer
// and lets the GC take it.
const classCapacity = 1024

// classFor returns the index of the smallest class holding size,
// or -1 when the request exceeds the largest class.
func classFor(size int) int {
	for i, c := range sizeClasses {
		if size <= c {
			return i
		}
	}
	return -1
}

// Arena leases buffers from per-size-class freelists. One arena is
// owned by each event loop; Alloc and Release may still be called from
// auxiliary executor threads because the freelists are MPMC-safe.
//
// Leased payloads are not zeroed. Callers overwrite before reading.
type Arena struct {
	classes [len(sizeClasses)]*concurrency.LockFreeQueue[*Buf]

	allocs   atomic.Int64
	reuses   atomic.Int64
	releases atomic.Int64
	inUse    atomic.Int64
}

func NewArena() *Arena {
	a := &Arena{}
	for i := range a.classes {
		a.classes[i] = concurrency.NewLockFreeQueue[*Buf](classCapacity)
	}
	return a
}

// Alloc leases a buffer with a payload of exactly size bytes.
// Oversize requests bypass the freelists and go straight to the heap.
func (a *Arena) Alloc(size int) api.Buffer {
	if size < 0 {
		panic("pool: negative Alloc size")
	}
	ci := classFor(size)
	if ci < 0 {
		a.allocs.Add(1)
		a.inUse.Add(1)
		return &Buf{arena: a, class: -1, data: make([]byte, size), n: size}
	}
	if b, ok := a.classes[ci].Dequeue(); ok {
		b.released.Store(false)
		b.n = size
		a.reuses.Add(1)
		a.inUse.Add(1)
		return b
	}
	a.allocs.Add(1)
	a.inUse.Add(1)
	return &Buf{arena: a, class: ci, data: make([]byte, sizeClasses[ci]), n: size}
}

func (a *Arena) recycle(b *Buf) {
	a.releases.Add(1)
	a.inUse.Add(-1)
	if b.class < 0 {
		return
	}
	a.classes[b.class].Enqueue(b)
}

func (a *Arena) Stats() api.BufferStats {
	return api.BufferStats{
		Allocs:   a.allocs.Load(),
		Reuses:   a.reuses.Load(),
		Releases: a.releases.Load(),
		InUse:    a.inUse.Load(),
	}
}

var _ api.Allocator = (*Arena)(nil)
