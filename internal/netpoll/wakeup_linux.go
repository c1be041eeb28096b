//go:build linux
// +build linux

// File: internal/netpoll/wakeup_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Eventfd-based poller wakeup.

package netpoll

import "golang.org/x/sys/unix"

// newWakeFd creates the nonblocking eventfd used to interrupt waits.
func newWakeFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
}

// triggerWakeFd adds one to the eventfd counter. EAGAIN means the
// counter is saturated and the wait will fire anyway.
func triggerWakeFd(fd int) error {
	v := [8]byte{1}
	_, err := unix.Write(fd, v[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// drainWakeFd resets the eventfd counter after a wakeup fired.
func drainWakeFd(fd int) {
	var v [8]byte
	for {
		if _, err := unix.Read(fd, v[:]); err != nil {
			return
		}
	}
}
