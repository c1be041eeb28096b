// File: channel/dial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"github.com/momentics/netloop/api"
	"github.com/momentics/netloop/internal/netpoll"
	"github.com/momentics/netloop/reactor"
)

// Dial connects to address, builds the pipeline with init, and
// registers the channel to a loop from g. The connect itself blocks;
// everything after registration is loop-driven.
func Dial(network, address string, g *reactor.Group, init func(api.Channel) error, opts ...ChannelOption) (*TCPChannel, error) {
	if g == nil {
		return nil, api.ErrInvalidArgument
	}
	fd, err := netpoll.Connect(network, address)
	if err != nil {
		return nil, err
	}
	if err := netpoll.SetNoDelay(fd, true); err != nil {
		_ = netpoll.CloseFD(fd)
		return nil, err
	}
	ch := NewTCPChannel(fd, opts...)
	if init != nil {
		if err := init(ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}
	if err := g.Register(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}
