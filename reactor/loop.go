// File: reactor/loop.go
// Package reactor implements the single-threaded event loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"container/heap"
	"context"
	"runtime"
	"sync/atomic"
	"time"

	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/control"
	"github.com/momentics/netloop/core/concurrency"
	"github.com/momentics/netloop/internal/affinity"
	"github.com/momentics/netloop/internal/netpoll"
	"github.com/momentics/netloop/pool"
)

// Loop lifecycle. Transitions only move forward.
const (
	loopStarting int32 = iota
	loopRunning
	loopShuttingDown
	loopTerminated
	loopFailed
)

const (
	// Longest a loop sleeps in the poller with nothing scheduled.
	maxPollInterval = time.Second

	// Drain budget applied when the shutdown context has no deadline.
	defaultDrainTimeout = 5 * time.Second

	// Task batch size between clock checks while draining the queue
	// under an I/O time budget. Matches the check interval so a burst
	// of cheap tasks does not pay a clock read each.
	taskBatchCheck = 64

	readyBatch = 256
)

// pollRetryDelays bounds recovery attempts after a poller failure.
// Exhausting it is fatal to the loop.
var pollRetryDelays = [...]time.Duration{time.Millisecond, 10 * time.Millisecond, 100 * time.Millisecond}

// Registrant is anything that can bind itself to an event loop.
// Connections implement it; the group hands them to a loop picked by
// the assignment policy.
type Registrant interface {
	RegisterTo(loop *EventLoop) error
}

// EventLoop drives one poller, one task queue and one timer heap on a
// single locked OS thread.
//
// Fields below the poller are owned by the loop thread. Cross-thread
// access goes through Execute, Schedule, Register and Shutdown only.
type EventLoop struct {
	id     int
	logger *zap.Logger
	poller *netpoll.Poller
	tasks  *concurrency.TaskQueue
	arena  *pool.Arena

	// ioRatio splits each iteration between I/O dispatch and queued
	// tasks: after spending t on I/O the loop grants the queue up to
	// t*(100-ratio)/ratio. 100 removes the budget entirely.
	ioRatio atomic.Int32

	pinCPU int

	gid         atomic.Int64
	state       atomic.Int32
	wakePending atomic.Bool
	graceNano   atomic.Int64

	onFatal func(id int, err error)

	// Counters shared with the owning group's metrics registry.
	tasksExecuted    *uatomic.Int64
	eventsDispatched *uatomic.Int64
	timersFired      *uatomic.Int64
	timersCancelled  *uatomic.Int64

	done chan struct{}

	// Loop-thread state.
	timers   timerHeap
	timerSeq uint64
	ready    []api.Ready
}

type loopConfig struct {
	logger   *zap.Logger
	ioRatio  int32
	pinCPU   int
	queueCap int
	metrics  *control.Metrics
	onFatal  func(id int, err error)
}

func newEventLoop(id int, cfg loopConfig) (*EventLoop, error) {
	p, err := netpoll.NewPoller()
	if err != nil {
		return nil, api.WrapError(api.ErrCodePoller, "create poller", err)
	}
	m := cfg.metrics
	if m == nil {
		m = control.NewMetrics()
	}
	l := &EventLoop{
		id:      id,
		logger:  cfg.logger.With(zap.Int("loop", id)),
		poller:  p,
		tasks:   concurrency.NewTaskQueue(cfg.queueCap),
		arena:   pool.NewArena(),
		pinCPU:  cfg.pinCPU,
		onFatal: cfg.onFatal,
		done:    make(chan struct{}),
		ready:   make([]api.Ready, readyBatch),

		tasksExecuted:    m.Counter(control.MetricTasksExecuted),
		eventsDispatched: m.Counter(control.MetricEventsDispatched),
		timersFired:      m.Counter(control.MetricTimersFired),
		timersCancelled:  m.Counter(control.MetricTimersCancelled),
	}
	l.ioRatio.Store(cfg.ioRatio)
	return l, nil
}

// ID returns the loop's index within its group.
func (l *EventLoop) ID() int { return l.id }

// Arena returns the loop-owned buffer arena.
func (l *EventLoop) Arena() *pool.Arena { return l.arena }

// Poller exposes the loop's readiness poller. Mutating calls other
// than Wake must come from the loop thread.
func (l *EventLoop) Poller() api.Poller { return l.poller }

// Logger returns the loop-scoped logger.
func (l *EventLoop) Logger() *zap.Logger { return l.logger }

// InLoop reports whether the caller runs on this loop's thread.
func (l *EventLoop) InLoop() bool {
	return concurrency.GoroutineID() == l.gid.Load()
}

// Healthy reports whether the loop still accepts work.
func (l *EventLoop) Healthy() bool {
	s := l.state.Load()
	return s == loopStarting || s == loopRunning
}

// IORatio returns the current I/O versus task time split.
func (l *EventLoop) IORatio() int { return int(l.ioRatio.Load()) }

// SetIORatio tunes the I/O versus task time split, range 1 to 100.
func (l *EventLoop) SetIORatio(ratio int) error {
	if ratio < 1 || ratio > 100 {
		return api.ErrInvalidArgument
	}
	l.ioRatio.Store(int32(ratio))
	return nil
}

// Execute submits a task to run on the loop thread. Tasks submitted
// from any one thread run in submission order relative to each other.
func (l *EventLoop) Execute(task concurrency.Task) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	if s := l.state.Load(); s != loopStarting && s != loopRunning {
		return api.ErrEventLoopClosed
	}
	l.tasks.Enqueue(task)
	l.wake()
	return nil
}

// Schedule runs task on the loop thread after delay. A non-positive
// delay fires on the next iteration. The returned handle cancels a
// pending timer; cancelling after the fact is a no-op.
func (l *EventLoop) Schedule(delay time.Duration, task concurrency.Task) (*Timer, error) {
	if task == nil {
		return nil, api.ErrInvalidArgument
	}
	t := &Timer{when: time.Now().Add(delay), task: task, loop: l, index: -1}
	if l.InLoop() {
		l.pushTimer(t)
		return t, nil
	}
	if err := l.Execute(func() { l.pushTimer(t) }); err != nil {
		return nil, err
	}
	return t, nil
}

// Register binds r to this loop. Duplicate registration is rejected
// synchronously with api.ErrAlreadyRegistered.
func (l *EventLoop) Register(r Registrant) error {
	if !l.Healthy() {
		return api.ErrEventLoopClosed
	}
	return r.RegisterTo(l)
}

// Shutdown stops the loop, draining queued tasks and closing bound
// connections within the context deadline, or a default grace period
// when the context carries none. Work still pending at the deadline is
// dropped and reported. Shutdown is idempotent.
func (l *EventLoop) Shutdown(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultDrainTimeout)
	}
	if l.state.CompareAndSwap(loopStarting, loopShuttingDown) ||
		l.state.CompareAndSwap(loopRunning, loopShuttingDown) {
		l.graceNano.Store(deadline.UnixNano())
		_ = l.poller.Wake()
	}
	select {
	case <-l.done:
		if l.state.Load() == loopFailed {
			return api.NewError(api.ErrCodePoller, "event loop failed before shutdown")
		}
		return nil
	case <-ctx.Done():
		return api.ErrShutdownTimeout
	}
}

func (l *EventLoop) wake() {
	if l.InLoop() {
		return
	}
	if l.wakePending.CompareAndSwap(false, true) {
		if err := l.poller.Wake(); err != nil {
			l.logger.Warn("wakeup failed", zap.Error(err))
		}
	}
}

// run is the loop body. The goroutine stays locked to its OS thread so
// connections observe a stable thread identity for their lifetime.
func (l *EventLoop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.gid.Store(concurrency.GoroutineID())
	if l.pinCPU >= 0 {
		if err := affinity.PinThread(l.pinCPU); err != nil {
			l.logger.Warn("cpu pinning failed", zap.Int("cpu", l.pinCPU), zap.Error(err))
		}
	}
	l.state.CompareAndSwap(loopStarting, loopRunning)
	defer close(l.done)

	failures := 0
	for l.state.Load() == loopRunning {
		// The wake flag is cleared before the timeout is computed. A
		// producer that loses the flag race afterwards is still seen:
		// its task makes the queue non-empty, forcing a zero timeout.
		l.wakePending.Store(false)
		n, err := l.poller.Wait(l.pollTimeout(), l.ready)
		if err != nil {
			if failures++; failures > len(pollRetryDelays) {
				l.fail(err)
				return
			}
			l.logger.Warn("poll failed, retrying",
				zap.Int("attempt", failures), zap.Error(err))
			time.Sleep(pollRetryDelays[failures-1])
			continue
		}
		failures = 0

		ioStart := time.Now()
		for i := 0; i < n; i++ {
			l.dispatch(l.ready[i])
			l.ready[i] = api.Ready{}
		}
		ioTime := time.Since(ioStart)

		l.fireTimers(time.Now())
		l.runTasks(ioTime)
	}

	l.drain()
	l.state.Store(loopTerminated)
}

// dispatch feeds one readiness record to its attachment. A panic here
// means the attachment itself is broken; it is closed and the loop
// moves on.
func (l *EventLoop) dispatch(r api.Ready) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("attachment panic",
				zap.Any("panic", p), zap.Stack("stack"))
			_ = r.Attachment.Close()
		}
	}()
	l.eventsDispatched.Inc()
	r.Attachment.OnReady(r.Events)
}

func (l *EventLoop) pollTimeout() time.Duration {
	if !l.tasks.Empty() {
		return 0
	}
	timeout := maxPollInterval
	if when, ok := l.nextTimer(); ok {
		d := time.Until(when)
		if d <= 0 {
			return 0
		}
		if d < timeout {
			timeout = d
		}
	}
	return timeout
}

// nextTimer peeks the earliest live timer, discarding cancelled heads.
func (l *EventLoop) nextTimer() (time.Time, bool) {
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.state.Load() == timerCancelled {
			heap.Pop(&l.timers)
			continue
		}
		return t.when, true
	}
	return time.Time{}, false
}

func (l *EventLoop) pushTimer(t *Timer) {
	if t.state.Load() != timerPending {
		return
	}
	l.timerSeq++
	t.seq = l.timerSeq
	heap.Push(&l.timers, t)
}

func (l *EventLoop) fireTimers(now time.Time) {
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.state.Load() == timerCancelled {
			heap.Pop(&l.timers)
			continue
		}
		if t.when.After(now) {
			return
		}
		heap.Pop(&l.timers)
		if t.state.CompareAndSwap(timerPending, timerFired) {
			l.timersFired.Inc()
			l.safeRun(t.task)
		}
	}
}

// runTasks drains the queue under the time budget derived from ioTime
// and the configured ratio. The clock is read every taskBatchCheck
// tasks, so short bursts always run even under a tiny budget.
func (l *EventLoop) runTasks(ioTime time.Duration) {
	ratio := int64(l.ioRatio.Load())
	if ratio >= 100 {
		for {
			t, ok := l.tasks.Dequeue()
			if !ok {
				return
			}
			l.safeRun(t)
			l.tasksExecuted.Inc()
		}
	}
	budget := time.Duration(int64(ioTime) * (100 - ratio) / ratio)
	deadline := time.Now().Add(budget)
	ran := 0
	for {
		t, ok := l.tasks.Dequeue()
		if !ok {
			return
		}
		l.safeRun(t)
		l.tasksExecuted.Inc()
		if ran++; ran%taskBatchCheck == 0 && !time.Now().Before(deadline) {
			return
		}
	}
}

func (l *EventLoop) safeRun(t concurrency.Task) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("task panic", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()
	t()
}

// drain runs on the loop thread after the state leaves loopRunning.
// It closes every bound connection, gives queued tasks until the grace
// deadline, then drops the rest and releases the poller.
func (l *EventLoop) drain() {
	deadline := time.Now().Add(defaultDrainTimeout)
	if ns := l.graceNano.Load(); ns != 0 {
		deadline = time.Unix(0, ns)
	}

	var atts []api.PollAttachment
	l.poller.Range(func(fd int, att api.PollAttachment) bool {
		atts = append(atts, att)
		return true
	})
	for _, att := range atts {
		if err := att.Close(); err != nil {
			l.logger.Warn("close during drain", zap.Error(err))
		}
	}

	for time.Now().Before(deadline) {
		t, ok := l.tasks.Dequeue()
		if !ok {
			break
		}
		l.safeRun(t)
		l.tasksExecuted.Inc()
	}
	if dropped := l.tasks.Len(); dropped > 0 {
		l.logger.Warn("shutdown grace period exceeded, dropping tasks",
			zap.Int("dropped", dropped))
	}
	if len(l.timers) > 0 {
		l.logger.Debug("discarding pending timers", zap.Int("timers", len(l.timers)))
		l.timers = nil
	}

	if err := l.poller.Close(); err != nil {
		l.logger.Warn("poller close", zap.Error(err))
	}
}

// fail terminates the loop after an unrecoverable poller error. Bound
// connections are closed and the owning group is notified so callers
// can fail over. Called only from run, which closes done on return.
func (l *EventLoop) fail(err error) {
	l.logger.Error("event loop failed", zap.Error(err))
	l.state.Store(loopFailed)
	l.drain()
	if l.onFatal != nil {
		l.onFatal(l.id, err)
	}
}
