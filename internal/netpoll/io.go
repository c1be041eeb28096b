//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

// File: internal/netpoll/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Nonblocking descriptor I/O with portable error mapping.

package netpoll

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock reports that a nonblocking read or write found no
// kernel capacity. Callers wait for the next readiness report.
var ErrWouldBlock = errors.New("netpoll: operation would block")

// ReadFD reads once from fd into p. io.EOF means the peer closed.
func ReadFD(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// WriteFD writes once from p to fd. A short count with a nil error is
// normal; ErrWouldBlock means nothing more fits right now.
func WriteFD(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// CloseFD closes the descriptor.
func CloseFD(fd int) error {
	return unix.Close(fd)
}
