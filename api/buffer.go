// Package api
// Author: momentics
//
// Move-only memory buffers backed by per-loop arenas.
//
// A Buffer has exactly one owner at a time. Passing a buffer to
// FireRead, Write or another component transfers ownership; the final
// owner calls Release exactly once. Release after Release panics.

package api

// Buffer is an owned memory region leased from an Allocator.
type Buffer interface {
	// Bytes returns the current payload view.
	Bytes() []byte

	// Len returns the payload length in bytes.
	Len() int

	// Shrink reduces the payload view to the first n bytes.
	Shrink(n int) Buffer

	// Release returns the region to its arena. The buffer must not be
	// used afterwards; a second Release panics.
	Release()
}

// Allocator leases buffers from an arena.
type Allocator interface {
	// Alloc returns a buffer with a payload of exactly size bytes.
	Alloc(size int) Buffer
}

// BufferStats aggregates arena allocation and reuse counters.
type BufferStats struct {
	Allocs   int64
	Reuses   int64
	Releases int64
	InUse    int64
}
