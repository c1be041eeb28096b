//go:build linux
// +build linux

// File: internal/affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread CPU pinning via sched_setaffinity. Callers must have locked
// the goroutine to its OS thread first.

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PinThread binds the calling OS thread to the given CPU core.
func PinThread(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpu, err)
	}
	return nil
}

// Supported reports whether pinning works on this platform.
func Supported() bool { return true }
