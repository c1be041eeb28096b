// File: core/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool dispatches tasks across worker goroutines, each owning its own
// MPSC queue. Keyed submission pins a key to one worker, which is how
// offloaded pipeline handlers keep per-channel invocation order while
// running off the loop thread.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/netloop/api"
)

// Pool is a fixed-size worker pool implementing api.Executor.
type Pool struct {
	workers []*poolWorker
	rr      atomic.Uint64
	closed  atomic.Bool
	wg      sync.WaitGroup
	logger  *zap.Logger
}

type poolWorker struct {
	id     int
	tasks  *TaskQueue
	wake   chan struct{}
	stop   chan struct{}
	logger *zap.Logger
}

// NewPool creates and starts a pool. Zero or negative numWorkers means
// one worker per CPU.
func NewPool(numWorkers, queueCapacity int, logger *zap.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		workers: make([]*poolWorker, numWorkers),
		logger:  logger,
	}
	for i := 0; i < numWorkers; i++ {
		w := &poolWorker{
			id:     i,
			tasks:  NewTaskQueue(queueCapacity),
			wake:   make(chan struct{}, 1),
			stop:   make(chan struct{}),
			logger: logger.With(zap.Int("worker", i)),
		}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(&p.wg)
	}
	return p
}

// Submit schedules a task on the next worker round-robin.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	return p.submit(int((p.rr.Add(1)-1)%uint64(len(p.workers))), task)
}

// SubmitKeyed schedules a task on the worker owning key. Tasks sharing
// a key run in submission order on one goroutine.
func (p *Pool) SubmitKeyed(key uint64, task func()) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	return p.submit(int(key%uint64(len(p.workers))), task)
}

func (p *Pool) submit(idx int, task func()) error {
	if p.closed.Load() {
		return api.ErrExecutorClosed
	}
	w := p.workers[idx]
	w.tasks.Enqueue(task)
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// NumWorkers returns the worker count.
func (p *Pool) NumWorkers() int { return len(p.workers) }

// Close stops the workers after draining their queues.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, w := range p.workers {
		close(w.stop)
	}
	p.wg.Wait()
	// Tasks that raced with the close flag drain here.
	for _, w := range p.workers {
		w.drain()
	}
	return nil
}

func (w *poolWorker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		if task, ok := w.tasks.Dequeue(); ok {
			w.safeExecute(task)
			continue
		}
		select {
		case <-w.wake:
		case <-w.stop:
			w.drain()
			return
		}
	}
}

func (w *poolWorker) drain() {
	for {
		task, ok := w.tasks.Dequeue()
		if !ok {
			return
		}
		w.safeExecute(task)
	}
}

func (w *poolWorker) safeExecute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("executor task panic",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	task()
}
