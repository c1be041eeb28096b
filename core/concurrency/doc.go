// File: core/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package concurrency holds the queueing and worker primitives under
// the reactor: the bounded lock-free ring, the unbounded MPSC task
// queue built on it, the auxiliary executor pool and goroutine
// identity helpers.
package concurrency
