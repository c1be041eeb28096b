// File: control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed runtime configuration: defaults, JSON file loading and
// validation. The dynamic overlay lives in store.go.

package control

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"
)

// Duration is a time.Duration that reads from JSON as either a
// duration string ("5s", "1m30s") or a bare nanosecond count, and
// writes back as the string form.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(time.Duration(x))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("duration: unsupported JSON value %v", v)
	}
	return nil
}

// Config carries every tunable the runtime exposes to setup code.
// Zero values mean "use the default"; Validate rejects the rest.
type Config struct {
	// BossLoops sizes the accept-side loop group.
	BossLoops int `json:"boss_loops"`

	// WorkerLoops sizes the connection-side loop group. Zero means
	// GOMAXPROCS.
	WorkerLoops int `json:"worker_loops"`

	// IORatio splits each loop iteration between I/O dispatch and
	// queued tasks, range 1 to 100.
	IORatio int `json:"io_ratio"`

	// ShutdownGrace bounds task draining during shutdown.
	ShutdownGrace Duration `json:"shutdown_grace"`

	// HighWatermark and LowWatermark are the outbound buffering
	// thresholds, in bytes, driving the per-channel writability flag.
	HighWatermark int `json:"high_watermark"`
	LowWatermark  int `json:"low_watermark"`

	// ReadBufferSize is the arena lease per socket read.
	ReadBufferSize int `json:"read_buffer_size"`

	// TaskQueueSize is the lock-free fast-path capacity of each loop's
	// task queue.
	TaskQueueSize int `json:"task_queue_size"`

	// ExecutorWorkers and ExecutorQueueSize shape the auxiliary
	// executor pool for offloaded handlers.
	ExecutorWorkers   int `json:"executor_workers"`
	ExecutorQueueSize int `json:"executor_queue_size"`

	// PinCPUs pins each worker loop thread to one CPU.
	PinCPUs bool `json:"pin_cpus"`

	// ListenBacklog is the kernel accept backlog for acceptors.
	ListenBacklog int `json:"listen_backlog"`

	Logging LoggingConfig `json:"logging"`
}

// DefaultConfig returns the runtime defaults.
func DefaultConfig() Config {
	return Config{
		BossLoops:         1,
		WorkerLoops:       runtime.GOMAXPROCS(0),
		IORatio:           50,
		ShutdownGrace:     Duration(5 * time.Second),
		HighWatermark:     64 * 1024,
		LowWatermark:      32 * 1024,
		ReadBufferSize:    16 * 1024,
		TaskQueueSize:     1024,
		ExecutorWorkers:   runtime.NumCPU(),
		ExecutorQueueSize: 1024,
		ListenBacklog:     1024,
		Logging:           LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads a JSON config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.BossLoops < 1:
		return fmt.Errorf("boss_loops must be at least 1, got %d", c.BossLoops)
	case c.WorkerLoops < 0:
		return fmt.Errorf("worker_loops must not be negative, got %d", c.WorkerLoops)
	case c.IORatio < 1 || c.IORatio > 100:
		return fmt.Errorf("io_ratio must be in [1,100], got %d", c.IORatio)
	case c.ShutdownGrace <= 0:
		return fmt.Errorf("shutdown_grace must be positive, got %v", c.ShutdownGrace)
	case c.HighWatermark <= 0 || c.LowWatermark <= 0:
		return fmt.Errorf("watermarks must be positive, got high=%d low=%d",
			c.HighWatermark, c.LowWatermark)
	case c.LowWatermark > c.HighWatermark:
		return fmt.Errorf("low_watermark %d exceeds high_watermark %d",
			c.LowWatermark, c.HighWatermark)
	case c.ReadBufferSize <= 0:
		return fmt.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize)
	case c.TaskQueueSize <= 0:
		return fmt.Errorf("task_queue_size must be positive, got %d", c.TaskQueueSize)
	case c.ExecutorWorkers < 1:
		return fmt.Errorf("executor_workers must be at least 1, got %d", c.ExecutorWorkers)
	case c.ExecutorQueueSize <= 0:
		return fmt.Errorf("executor_queue_size must be positive, got %d", c.ExecutorQueueSize)
	case c.ListenBacklog <= 0:
		return fmt.Errorf("listen_backlog must be positive, got %d", c.ListenBacklog)
	}
	return nil
}
