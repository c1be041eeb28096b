// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/channel"
	"github.com/momentics/netloop/control"
	"github.com/momentics/netloop/core/concurrency"
	"github.com/momentics/netloop/reactor"
)

// Initializer builds a freshly accepted channel's pipeline. It runs on
// the boss thread before the channel is handed to a worker loop.
type Initializer func(ch api.Channel) error

// Server owns the boss and worker loop groups, the listener and the
// auxiliary executor pool for one listen address.
type Server struct {
	network string
	address string
	init    Initializer

	cfg           control.Config
	logger        *zap.Logger
	metrics       *control.Metrics
	onLoopFailure func(loopID int, err error)

	boss     *reactor.Group
	workers  *reactor.Group
	executor *concurrency.Pool
	acceptor *channel.Acceptor

	started      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New describes a server; nothing starts until Run.
func New(network, address string, init Initializer, opts ...Option) *Server {
	s := &Server{
		network: network,
		address: address,
		init:    init,
		cfg:     control.DefaultConfig(),
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = control.NewMetrics()
	}
	return s
}

// Run validates the configuration, starts both loop groups and the
// executor, binds the listener and begins accepting. It returns once
// the server is serving.
func (s *Server) Run() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.started.Swap(true) {
		return api.NewError(api.ErrCodeInvalidArgument, "server already started")
	}

	workerOpts := []reactor.Option{
		reactor.WithName("worker"),
		reactor.WithLogger(s.logger),
		reactor.WithIORatio(s.cfg.IORatio),
		reactor.WithTaskQueueCapacity(s.cfg.TaskQueueSize),
		reactor.WithMetrics(s.metrics),
		reactor.WithLoopFailureCallback(s.workerFailed),
	}
	if s.cfg.PinCPUs {
		workerOpts = append(workerOpts, reactor.WithCPUPinning(s.cfg.BossLoops))
	}
	var err error
	s.workers, err = reactor.NewGroup(s.cfg.WorkerLoops, workerOpts...)
	if err != nil {
		return err
	}
	s.boss, err = reactor.NewGroup(s.cfg.BossLoops,
		reactor.WithName("boss"),
		reactor.WithLogger(s.logger),
		reactor.WithIORatio(s.cfg.IORatio),
		reactor.WithTaskQueueCapacity(s.cfg.TaskQueueSize),
		reactor.WithMetrics(s.metrics),
	)
	if err != nil {
		return multierr.Append(err, s.workers.Shutdown(context.Background()))
	}
	s.executor = concurrency.NewPool(s.cfg.ExecutorWorkers, s.cfg.ExecutorQueueSize, s.logger.Named("executor"))

	s.acceptor, err = channel.NewAcceptor(s.network, s.address, s.workers, s.initChannel,
		channel.WithListenBacklog(s.cfg.ListenBacklog),
		channel.WithChannelOptions(
			channel.WithReadBufferSize(s.cfg.ReadBufferSize),
			channel.WithWatermarks(s.cfg.HighWatermark, s.cfg.LowWatermark),
		),
	)
	if err != nil {
		return multierr.Append(err, s.stopGroups(context.Background()))
	}
	if err := s.boss.Register(s.acceptor); err != nil {
		_ = s.acceptor.Close()
		return multierr.Append(err, s.stopGroups(context.Background()))
	}

	s.logger.Info("serving",
		zap.String("addr", s.acceptor.Addr().String()),
		zap.Int("boss_loops", s.cfg.BossLoops),
		zap.Int("worker_loops", s.cfg.WorkerLoops))
	return nil
}

// initChannel wraps the application initializer with metrics
// accounting.
func (s *Server) initChannel(ch api.Channel) error {
	s.metrics.Inc(control.MetricConnectionsAccepted)
	s.metrics.Inc(control.MetricConnectionsActive)
	if err := ch.Pipeline().AddLast("server-metrics", &metricsHandler{metrics: s.metrics}); err != nil {
		return err
	}
	if s.init == nil {
		return nil
	}
	return s.init(ch)
}

func (s *Server) workerFailed(loopID int, err error) {
	s.metrics.Inc(control.MetricLoopFailures)
	if s.onLoopFailure != nil {
		s.onLoopFailure(loopID, err)
	}
}

// Addr returns the bound listen address, nil before Run.
func (s *Server) Addr() net.Addr {
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

// Workers exposes the worker loop group, e.g. for outbound Dial.
func (s *Server) Workers() *reactor.Group { return s.workers }

// Executor exposes the auxiliary pool for offloaded handlers.
func (s *Server) Executor() api.Executor { return s.executor }

// Metrics exposes the server's counter registry.
func (s *Server) Metrics() *control.Metrics { return s.metrics }

// ApplySettings binds a live settings store to the running server.
// Changes to "logging.level" retune every logger built by
// control.NewLogger; changes to "io_ratio" retune every worker loop.
// The current store values are applied immediately, so a store reloaded
// from file takes effect on the next Reload as well.
func (s *Server) ApplySettings(st *control.Store) {
	apply := func(path string) {
		if path == "" || path == "logging.level" {
			if lvl, err := zapcore.ParseLevel(st.GetString("logging.level", "info")); err == nil {
				control.SetLogLevel(lvl)
			}
		}
		if path == "" || path == "io_ratio" {
			ratio := int(st.GetInt("io_ratio", int64(s.cfg.IORatio)))
			for i := 0; i < s.workers.Len(); i++ {
				if err := s.workers.Loop(i).SetIORatio(ratio); err != nil {
					s.logger.Warn("io_ratio retune rejected",
						zap.Int("ratio", ratio), zap.Error(err))
					return
				}
			}
		}
	}
	st.OnChange(apply)
	apply("")
}

// Shutdown stops accepting, drains both loop groups within the context
// deadline and closes the executor. Idempotent: repeated calls return
// the first call's result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		if !s.started.Load() {
			return
		}
		s.logger.Info("shutting down")
		var err error
		if s.acceptor != nil {
			err = multierr.Append(err, s.acceptor.Close())
		}
		err = multierr.Append(err, s.stopGroups(ctx))
		if s.executor != nil {
			err = multierr.Append(err, s.executor.Close())
		}
		s.shutdownErr = err
	})
	return s.shutdownErr
}

func (s *Server) stopGroups(ctx context.Context) error {
	var err error
	if s.boss != nil {
		err = multierr.Append(err, s.boss.Shutdown(ctx))
	}
	if s.workers != nil {
		err = multierr.Append(err, s.workers.Shutdown(ctx))
	}
	return err
}

// metricsHandler keeps the active-connection gauge honest and counts
// bytes in both directions. It sits at the pipeline head, so outbound
// writes are counted after every codec has run. It forwards
// everything.
type metricsHandler struct {
	metrics *control.Metrics
	gone    atomic.Bool
}

func (h *metricsHandler) OnRegistered(ctx api.HandlerCtx) error {
	ctx.FireRegistered()
	return nil
}

func (h *metricsHandler) OnActive(ctx api.HandlerCtx) error {
	ctx.FireActive()
	return nil
}

func (h *metricsHandler) OnInactive(ctx api.HandlerCtx) error {
	if !h.gone.Swap(true) {
		h.metrics.Add(control.MetricConnectionsActive, -1)
	}
	ctx.FireInactive()
	return nil
}

func (h *metricsHandler) OnWritabilityChanged(ctx api.HandlerCtx, writable bool) error {
	ctx.FireWritabilityChanged(writable)
	return nil
}

func (h *metricsHandler) OnRead(ctx api.HandlerCtx, data api.Buffer) error {
	h.metrics.Add(control.MetricBytesRead, int64(data.Len()))
	ctx.FireRead(data)
	return nil
}

func (h *metricsHandler) OnReadComplete(ctx api.HandlerCtx) error {
	ctx.FireReadComplete()
	return nil
}

func (h *metricsHandler) OnWrite(ctx api.HandlerCtx, data api.Buffer) error {
	h.metrics.Add(control.MetricBytesWritten, int64(data.Len()))
	return ctx.Write(data)
}

func (h *metricsHandler) OnFlush(ctx api.HandlerCtx) error {
	return ctx.Flush()
}

var (
	_ api.LifecycleHandler = (*metricsHandler)(nil)
	_ api.InboundHandler   = (*metricsHandler)(nil)
	_ api.OutboundHandler  = (*metricsHandler)(nil)
)
