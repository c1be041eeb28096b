// Package api
// Author: momentics
//
// Executor contract for offloading blocking or CPU-heavy handler work
// off the event loop threads.

package api

// Executor runs tasks on a pool of worker goroutines.
type Executor interface {
	// Submit schedules a task on any worker.
	Submit(task func()) error

	// SubmitKeyed schedules a task on the worker selected by key.
	// Tasks sharing a key run in submission order, never concurrently
	// with each other.
	SubmitKeyed(key uint64, task func()) error

	// NumWorkers returns the worker count.
	NumWorkers() int

	// Close stops the executor after draining pending tasks.
	Close() error
}
