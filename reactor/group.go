// File: reactor/group.go
// Package reactor implements fixed pools of event loops.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/control"
)

// Group is a fixed pool of event loops sharing one assignment policy.
// Registrations go to loops round-robin; a failed loop is skipped.
type Group struct {
	name  string
	loops []*EventLoop
	next  atomic.Uint64

	logger        *zap.Logger
	onLoopFailure func(loopID int, err error)

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes group construction.
type Option func(*groupConfig)

type groupConfig struct {
	name       string
	logger     *zap.Logger
	ioRatio    int
	pinCPUs    bool
	pinBase    int
	queueCap   int
	metrics    *control.Metrics
	onFailure  func(loopID int, err error)
}

// WithName tags the group's loggers, conventionally "boss" or "worker".
func WithName(name string) Option {
	return func(c *groupConfig) { c.name = name }
}

// WithLogger sets the base logger for the group and its loops.
func WithLogger(logger *zap.Logger) Option {
	return func(c *groupConfig) { c.logger = logger }
}

// WithIORatio sets the per-iteration I/O versus task time split for
// every loop, range 1 to 100. Default 50 grants tasks as much time as
// I/O dispatch consumed.
func WithIORatio(ratio int) Option {
	return func(c *groupConfig) { c.ioRatio = ratio }
}

// WithCPUPinning pins loop i to CPU (base+i) modulo NumCPU.
func WithCPUPinning(base int) Option {
	return func(c *groupConfig) {
		c.pinCPUs = true
		c.pinBase = base
	}
}

// WithTaskQueueCapacity sets each loop's lock-free fast path capacity.
func WithTaskQueueCapacity(n int) Option {
	return func(c *groupConfig) { c.queueCap = n }
}

// WithMetrics directs every loop in the group to bump the canonical
// runtime counters in m: tasks executed, events dispatched, timers
// fired and cancelled.
func WithMetrics(m *control.Metrics) Option {
	return func(c *groupConfig) { c.metrics = m }
}

// WithLoopFailureCallback registers cb to run when a loop dies from an
// unrecoverable poller error. Connections bound to the dead loop are
// already closed when cb fires.
func WithLoopFailureCallback(cb func(loopID int, err error)) Option {
	return func(c *groupConfig) { c.onFailure = cb }
}

// NewGroup starts n event loops, each on its own locked OS thread.
// n defaults to GOMAXPROCS when non-positive.
func NewGroup(n int, opts ...Option) (*Group, error) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	cfg := groupConfig{
		name:     "loopgroup",
		logger:   zap.NewNop(),
		ioRatio:  50,
		queueCap: 1024,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.ioRatio < 1 || cfg.ioRatio > 100 {
		return nil, api.ErrInvalidArgument
	}
	if cfg.metrics == nil {
		cfg.metrics = control.NewMetrics()
	}

	g := &Group{
		name:          cfg.name,
		logger:        cfg.logger.Named(cfg.name),
		onLoopFailure: cfg.onFailure,
		loops:         make([]*EventLoop, 0, n),
	}
	for i := 0; i < n; i++ {
		pin := -1
		if cfg.pinCPUs {
			pin = (cfg.pinBase + i) % runtime.NumCPU()
		}
		l, err := newEventLoop(i, loopConfig{
			logger:   g.logger,
			ioRatio:  int32(cfg.ioRatio),
			pinCPU:   pin,
			queueCap: cfg.queueCap,
			metrics:  cfg.metrics,
			onFatal:  g.loopFailed,
		})
		if err != nil {
			for _, started := range g.loops {
				_ = started.Shutdown(context.Background())
			}
			return nil, err
		}
		g.loops = append(g.loops, l)
		go l.run()
	}
	return g, nil
}

// Len returns the number of loops in the group.
func (g *Group) Len() int { return len(g.loops) }

// Loop returns loop i.
func (g *Group) Loop(i int) *EventLoop { return g.loops[i] }

// Next picks the loop for the next registration: strict round-robin
// over healthy loops, nil when every loop is down.
func (g *Group) Next() *EventLoop {
	n := uint64(len(g.loops))
	start := g.next.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		l := g.loops[(start+i)%n]
		if l.Healthy() {
			return l
		}
	}
	return nil
}

// Register binds r to the loop chosen by the assignment policy.
func (g *Group) Register(r Registrant) error {
	l := g.Next()
	if l == nil {
		return api.ErrEventLoopClosed
	}
	return l.Register(r)
}

// Shutdown stops every loop in parallel and aggregates their drain
// results. Repeated calls return the first call's outcome.
func (g *Group) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down", zap.Int("loops", len(g.loops)))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, l := range g.loops {
			wg.Add(1)
			go func(l *EventLoop) {
				defer wg.Done()
				if err := l.Shutdown(ctx); err != nil {
					mu.Lock()
					g.shutdownErr = multierr.Append(g.shutdownErr,
						api.WrapError(api.ErrCodeTimeout, "loop shutdown", err))
					mu.Unlock()
				}
			}(l)
		}
		wg.Wait()
	})
	return g.shutdownErr
}

func (g *Group) loopFailed(loopID int, err error) {
	g.logger.Error("loop removed from rotation",
		zap.Int("loop", loopID), zap.Error(err))
	if g.onLoopFailure != nil {
		g.onLoopFailure(loopID, err)
	}
}
