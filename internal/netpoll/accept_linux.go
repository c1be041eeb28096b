//go:build linux
// +build linux

// File: internal/netpoll/accept_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netpoll

import "golang.org/x/sys/unix"

// Accept takes one pending connection off the listening descriptor.
// The returned descriptor is already nonblocking and close-on-exec.
// ErrWouldBlock means the backlog is drained.
func Accept(lfd int) (int, error) {
	for {
		nfd, _, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			return nfd, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN, unix.ECONNABORTED:
			return -1, ErrWouldBlock
		default:
			return -1, err
		}
	}
}

// IsFDLimit reports whether err is descriptor exhaustion, the accept
// failure worth backing off on instead of giving up.
func IsFDLimit(err error) bool {
	return err == unix.EMFILE || err == unix.ENFILE
}
