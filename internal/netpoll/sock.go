//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

// File: internal/netpoll/sock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw nonblocking TCP socket helpers shared by acceptors, channels and
// the dial path.

package netpoll

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// TCPListen opens a nonblocking listening socket for address and
// returns its descriptor and bound address.
func TCPListen(network, address string, backlog int) (int, net.Addr, error) {
	taddr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return -1, nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	family := familyOf(taddr)
	fd, err := newStreamSocket(family)
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, tcpAddrToSockaddr(family, taddr)); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("bind %s: %w", address, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("listen %s: %w", address, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("set nonblock: %w", err)
	}
	lsa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("getsockname: %w", err)
	}
	return fd, SockaddrToTCPAddr(lsa), nil
}

// Connect opens a TCP connection to address and returns its descriptor
// in nonblocking mode. The connect itself is blocking; callers that
// need timeouts wrap this in their own deadline.
func Connect(network, address string) (int, error) {
	taddr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return -1, fmt.Errorf("resolve %s: %w", address, err)
	}
	family := familyOf(taddr)
	fd, err := newStreamSocket(family)
	if err != nil {
		return -1, err
	}
	sa := tcpAddrToSockaddr(family, taddr)
	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", address, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}
	return fd, nil
}

// Socketpair returns a connected nonblocking unix stream pair.
func Socketpair() (int, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, -1, fmt.Errorf("socketpair: %w", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return -1, -1, fmt.Errorf("set nonblock: %w", err)
		}
		unix.CloseOnExec(fd)
	}
	return fds[0], fds[1], nil
}

// SetNoDelay toggles TCP_NODELAY on fd.
func SetNoDelay(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// SetSendBuffer sets SO_SNDBUF on fd.
func SetSendBuffer(fd, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}

// SetRecvBuffer sets SO_RCVBUF on fd.
func SetRecvBuffer(fd, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
}

// SocketError reads and clears the pending socket error on fd.
func SocketError(fd int) error {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if code != 0 {
		return unix.Errno(code)
	}
	return nil
}

// LocalTCPAddr returns the local address bound to fd.
func LocalTCPAddr(fd int) net.Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return SockaddrToTCPAddr(sa)
}

// RemoteTCPAddr returns the peer address of fd.
func RemoteTCPAddr(fd int) net.Addr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil
	}
	return SockaddrToTCPAddr(sa)
}

// SockaddrToTCPAddr converts a raw sockaddr to a net.Addr.
func SockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Net: "unix", Name: a.Name}
	default:
		return nil
	}
}

func newStreamSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

func familyOf(a *net.TCPAddr) int {
	if a.IP == nil || a.IP.To4() != nil {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func tcpAddrToSockaddr(family int, a *net.TCPAddr) unix.Sockaddr {
	if family == unix.AF_INET {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if ip := a.IP.To4(); ip != nil {
			copy(sa.Addr[:], ip)
		}
		return sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	if ip := a.IP.To16(); ip != nil {
		copy(sa.Addr[:], ip)
	}
	return sa
}
