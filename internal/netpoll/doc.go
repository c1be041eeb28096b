// File: internal/netpoll/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package netpoll implements the api.Poller contract on the platform
// readiness primitives: epoll on Linux, kqueue on Darwin and the BSDs,
// and a stub elsewhere. It also owns the raw nonblocking socket
// helpers used by channels and acceptors.
//
// One poller belongs to one event loop. Every method except Wake must
// run on that loop's thread; the attachment table is therefore
// unlocked. Wake is the cross-thread entry and only touches the wake
// descriptor.
package netpoll
