//go:build darwin || dragonfly || freebsd
// +build darwin dragonfly freebsd

// File: internal/netpoll/accept_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netpoll

import "golang.org/x/sys/unix"

// Accept takes one pending connection off the listening descriptor and
// switches it to nonblocking close-on-exec mode. ErrWouldBlock means
// the backlog is drained.
func Accept(lfd int) (int, error) {
	for {
		nfd, _, err := unix.Accept(lfd)
		switch err {
		case nil:
			if err := unix.SetNonblock(nfd, true); err != nil {
				unix.Close(nfd)
				return -1, err
			}
			unix.CloseOnExec(nfd)
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
