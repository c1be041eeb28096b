//go:build !linux
// +build !linux

// File: internal/affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

// PinThread is a no-op where thread pinning is unavailable.
func PinThread(cpu int) error { return nil }

// Supported reports whether pinning works on this platform.
func Supported() bool { return false }
