//go:build !linux && !darwin && !dragonfly && !freebsd
// +build !linux,!darwin,!dragonfly,!freebsd

// File: internal/netpoll/poller_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unsupported-platform stub.

package netpoll

import (
	"time"

	"github.com/momentics/netloop/api"
)

// Poller is a placeholder on platforms without a readiness backend.
type Poller struct{}

// NewPoller reports that no readiness backend exists here.
func NewPoller() (*Poller, error) {
	return nil, api.ErrNotSupported
}

func (p *Poller) AddRead(int, api.PollAttachment) error { return api.ErrNotSupported }

func (p *Poller) ModRead(int) error { return api.ErrNotSupported }

func (p *Poller) ModReadWrite(int) error { return api.ErrNotSupported }

func (p *Poller) Delete(int) error { return api.ErrNotSupported }

func (p *Poller) Wait(time.Duration, []api.Ready) (int, error) {
	return 0, api.ErrNotSupported
}

func (p *Poller) Wake() error { return api.ErrNotSupported }

func (p *Poller) Range(func(int, api.PollAttachment) bool) {}

func (p *Poller) Len() int { return 0 }

func (p *Poller) Close() error { return nil }
