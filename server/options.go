// File: server/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/netloop/control"
)

// Option customizes server construction.
type Option func(*Server)

// WithConfig replaces the default configuration wholesale.
func WithConfig(cfg control.Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithLogger sets the base logger. Default is a nop logger; examples
// build a real one with control.NewLogger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics shares an external metrics registry instead of the
// server-owned one.
func WithMetrics(m *control.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithWorkerLoops overrides the worker group size from the config.
func WithWorkerLoops(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.cfg.WorkerLoops = n
		}
	}
}

// WithBossLoops overrides the boss group size from the config.
func WithBossLoops(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.cfg.BossLoops = n
		}
	}
}

// WithLoopFailureCallback registers cb for fatal worker-loop failures.
// The loop's channels are already closed when cb runs.
func WithLoopFailureCallback(cb func(loopID int, err error)) Option {
	return func(s *Server) { s.onLoopFailure = cb }
}
