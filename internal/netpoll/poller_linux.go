//go:build linux
// +build linux

// File: internal/netpoll/poller_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll poller. Level-triggered: descriptors left in ready when
// the caller's batch fills up are reported again on the next wait.

package netpoll

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/netloop/api"
)

const maxEpollEvents = 256

// Poller is the epoll implementation of api.Poller.
type Poller struct {
	epfd        int
	wakeFd      int
	events      [maxEpollEvents]unix.EpollEvent
	attachments map[int]api.PollAttachment
	closed      atomic.Bool
}

// NewPoller creates an epoll instance with its wake descriptor armed.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakeFd, err := newWakeFd()
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wake: %w", err)
	}
	return &Poller{
		epfd:        epfd,
		wakeFd:      wakeFd,
		attachments: make(map[int]api.PollAttachment),
	}, nil
}

const readEvents = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP

// AddRead registers fd with read interest and attaches att.
func (p *Poller) AddRead(fd int, att api.PollAttachment) error {
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	p.attachments[fd] = att
	return nil
}

// ModRead reduces interest for fd to read only.
func (p *Poller) ModRead(fd int) error {
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// ModReadWrite raises interest for fd to read and write.
func (p *Poller) ModReadWrite(fd int) error {
	ev := unix.EpollEvent{Events: readEvents | unix.EPOLLOUT, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Delete removes fd from the interest set and drops its attachment.
func (p *Poller) Delete(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		delete(p.attachments, fd)
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	delete(p.attachments, fd)
	return nil
}

// Wait blocks up to timeout and fills ready with observed events.
// A signal interruption reports zero events, not an error.
func (p *Poller) Wait(timeout time.Duration, ready []api.Ready) (int, error) {
	if p.closed.Load() {
		return 0, api.ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.events[:], durationToMs(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	filled := 0
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakeFd {
			drainWakeFd(p.wakeFd)
			continue
		}
		att, ok := p.attachments[fd]
		if !ok {
			continue
		}
		if filled == len(ready) {
			break
		}
		ready[filled] = api.Ready{Attachment: att, Events: epollToReadiness(ev.Events)}
		filled++
	}
	return filled, nil
}

// Wake forces a concurrent Wait to return early. Safe from any thread.
func (p *Poller) Wake() error {
	return triggerWakeFd(p.wakeFd)
}

// Range visits every registered attachment until fn returns false.
func (p *Poller) Range(fn func(fd int, att api.PollAttachment) bool) {
	for fd, att := range p.attachments {
		if !fn(fd, att) {
			return
		}
	}
}

// Len returns the number of registered descriptors.
func (p *Poller) Len() int { return len(p.attachments) }

// Close releases the epoll and wake descriptors.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}

func epollToReadiness(events uint32) api.Readiness {
	var r api.Readiness
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		r |= api.ReadyRead
	}
	if events&unix.EPOLLOUT != 0 {
		r |= api.ReadyWrite
	}
	if events&unix.EPOLLERR != 0 {
		r |= api.ReadyErr
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		r |= api.ReadyHup
	}
	return r
}

// durationToMs converts a poll timeout for epoll_wait. Sub-millisecond
// positive timeouts round up so a near timer cannot spin the loop.
func durationToMs(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if ms == 0 {
		return 1
	}
	return ms
}
