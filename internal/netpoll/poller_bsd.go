//go:build darwin || dragonfly || freebsd
// +build darwin dragonfly freebsd

// File: internal/netpoll/poller_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Kqueue poller for Darwin and the BSDs. Wakeups use EVFILT_USER, so
// no pipe or socketpair is needed.

package netpoll

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/netloop/api"
)

const maxKqueueEvents = 256

// Poller is the kqueue implementation of api.Poller.
type Poller struct {
	kq          int
	events      [maxKqueueEvents]unix.Kevent_t
	attachments map[int]api.PollAttachment
	closed      atomic.Bool
}

// NewPoller creates a kqueue instance with the user wake event armed.
func NewPoller() (*Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}
	unix.CloseOnExec(kq)

	var ev unix.Kevent_t
	unix.SetKevent(&ev, 0, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("kevent add user: %w", err)
	}
	return &Poller{
		kq:          kq,
		attachments: make(map[int]api.PollAttachment),
	}, nil
}

// AddRead registers fd with read interest and attaches att.
func (p *Poller) AddRead(fd int, att api.PollAttachment) error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return fmt.Errorf("kevent add read: %w", err)
	}
	p.attachments[fd] = att
	return nil
}

// ModRead drops write interest for fd. Missing write filters are fine.
func (p *Poller) ModRead(fd int) error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("kevent del write: %w", err)
	}
	return nil
}

// ModReadWrite raises interest for fd to read and write.
func (p *Poller) ModReadWrite(fd int) error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, unix.EVFILT_WRITE, unix.EV_ADD)
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return fmt.Errorf("kevent add write: %w", err)
	}
	return nil
}

// Delete removes both filters for fd and drops its attachment.
func (p *Poller) Delete(fd int) error {
	var evs [2]unix.Kevent_t
	unix.SetKevent(&evs[0], fd, unix.EVFILT_READ, unix.EV_DELETE)
	unix.SetKevent(&evs[1], fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	// A closed fd drops its filters on its own; stale deletes are fine.
	unix.Kevent(p.kq, evs[:], nil, nil)
	delete(p.attachments, fd)
	return nil
}

// Wait blocks up to timeout and fills ready with observed events.
func (p *Poller) Wait(timeout time.Duration, ready []api.Ready) (int, error) {
	if p.closed.Load() {
		return 0, api.ErrPollerClosed
	}
	ts := unix.NsecToTimespec(int64(timeout))
	n, err := unix.Kevent(p.kq, nil, p.events[:], &ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("kevent wait: %w", err)
	}

	filled := 0
	for i := 0; i < n; i++ {
		ev := p.events[i]
		if ev.Filter == unix.EVFILT_USER {
			continue
		}
		att, ok := p.attachments[int(ev.Ident)]
		if !ok {
			continue
		}
		if filled == len(ready) {
			break
		}
		ready[filled] = api.Ready{Attachment: att, Events: keventToReadiness(ev)}
		filled++
	}
	return filled, nil
}

// Wake triggers the user event. Safe from any thread.
func (p *Poller) Wake() error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, 0, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	ev.Fflags = unix.NOTE_TRIGGER
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return fmt.Errorf("kevent wake: %w", err)
	}
	return nil
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

// Close releases the kqueue descriptor.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(p.kq)
}

func keventToReadiness(ev unix.Kevent_t) api.Readiness {
	var r api.Readiness
	switch ev.Filter {
	case unix.EVFILT_READ:
		r |= api.ReadyRead
	case unix.EVFILT_WRITE:
		r |= api.ReadyWrite
	}
	if ev.Flags&unix.EV_EOF != 0 {
		r |= api.ReadyHup
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		r |= api.ReadyErr
	}
	return r
}
