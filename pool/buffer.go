// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/netloop/api"
)

// Buf is an arena-leased buffer with exactly one owner.
// The final owner calls Release once; any use after that panics.
type Buf struct {
	arena *Arena
	class int // size class index, -1 for oversize leases
	data  []byte
	n     int

	released atomic.Bool
}

func (b *Buf) Bytes() []byte {
	b.ensureLive()
	return b.data[:b.n]
}

func (b *Buf) Len() int {
	b.ensureLive()
	return b.n
}

// Shrink trims the payload view to the first n bytes. The backing
// storage is untouched, so the full class size is restored on reuse.
func (b *Buf) Shrink(n int) api.Buffer {
	b.ensureLive()
	if n < 0 || n > b.n {
		panic(fmt.Sprintf("pool: Shrink(%d) outside payload of %d bytes", n, b.n))
	}
	b.n = n
	return b
}

func (b *Buf) Release() {
	if !b.released.CompareAndSwap(false, true) {
		panic("pool: buffer released twice")
	}
	b.arena.recycle(b)
}

func (b *Buf) ensureLive() {
	if b.released.Load() {
		panic("pool: use of released buffer")
	}
}

var _ api.Buffer = (*Buf)(nil)
