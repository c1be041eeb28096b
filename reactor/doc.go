// Package reactor
// Author: momentics <momentics@gmail.com>
//
// Single-threaded event loops and loop groups.
//
// Each EventLoop owns one OS thread, one readiness poller, one task
// queue and one timer heap. Everything the loop owns is touched only
// from its own thread; the sole cross-thread entry points are Execute,
// Schedule, Register and Shutdown. A Group is a fixed pool of loops
// with round-robin assignment, used in pairs: a boss group accepts,
// a worker group serves the accepted connections.
package reactor
