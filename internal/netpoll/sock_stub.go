//go:build !linux && !darwin && !dragonfly && !freebsd
// +build !linux,!darwin,!dragonfly,!freebsd

// File: internal/netpoll/sock_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netpoll

import (
	"errors"
	"net"

	"github.com/momentics/netloop/api"
)

// ErrWouldBlock mirrors the supported-platform sentinel.
var ErrWouldBlock = errors.New("netpoll: operation would block")

func ReadFD(fd int, p []byte) (int, error) { return 0, api.ErrNotSupported }

func WriteFD(fd int, p []byte) (int, error) { return 0, api.ErrNotSupported }

func CloseFD(fd int) error { return api.ErrNotSupported }

func TCPListen(network, address string, backlog int) (int, net.Addr, error) {
	return -1, nil, api.ErrNotSupported
}

func Connect(network, address string) (int, error) { return -1, api.ErrNotSupported }

func Socketpair() (int, int, error) { return -1, -1, api.ErrNotSupported }

func Accept(lfd int) (int, error) { return -1, api.ErrNotSupported }

func IsFDLimit(err error) bool { return false }

func SetNoDelay(fd int, enable bool) error { return api.ErrNotSupported }

func SetSendBuffer(fd, bytes int) error { return api.ErrNotSupported }

func SetRecvBuffer(fd, bytes int) error { return api.ErrNotSupported }

func SocketError(fd int) error { return api.ErrNotSupported }

func LocalTCPAddr(fd int) net.Addr { return nil }

func RemoteTCPAddr(fd int) net.Addr { return nil }
