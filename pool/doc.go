// Package pool
// Author: momentics <momentics@gmail.com>
//
// Arena-backed buffer leasing for event loops.
// Each loop owns one Arena; buffers move through the pipeline with
// single-owner semantics and return to the arena on Release. Freelists
// are lock-free, so Release is safe from auxiliary executor threads.
package pool
