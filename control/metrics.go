// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Aggregate runtime counters. Loops and channels never hand out live
// references to their internals; they bump counters here and scrapers
// read snapshots.

package control

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Canonical counter names used by the runtime. Applications may
// register their own alongside.
const (
	MetricConnectionsAccepted = "connections_accepted"
	MetricConnectionsActive   = "connections_active"
	MetricTasksExecuted       = "tasks_executed"
	MetricEventsDispatched    = "events_dispatched"
	MetricTimersFired         = "timers_fired"
	MetricTimersCancelled     = "timers_cancelled"
	MetricBytesRead           = "bytes_read"
	MetricBytesWritten        = "bytes_written"
	MetricLoopFailures        = "loop_failures"
)

// Metrics is a registry of named monotonic counters and gauges.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	updated  atomic.Time
}

// NewMetrics creates an empty registry.
func NewMetrics() *Metrics {
	return &Metrics{counters: make(map[string]*atomic.Int64)}
}

// Counter returns the named counter, registering it on first use.
func (m *Metrics) Counter(name string) *atomic.Int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; ok {
		return c
	}
	c = atomic.NewInt64(0)
	m.counters[name] = c
	return c
}

// Add bumps the named counter by delta.
func (m *Metrics) Add(name string, delta int64) {
	m.Counter(name).Add(delta)
	m.updated.Store(time.Now())
}

// Inc bumps the named counter by one.
func (m *Metrics) Inc(name string) { m.Add(name, 1) }

// Snapshot copies every counter value. The map carries no live
// references into the runtime.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		out[name] = c.Load()
	}
	return out
}

// Updated returns the time of the last Add or Inc.
func (m *Metrics) Updated() time.Time { return m.updated.Load() }
