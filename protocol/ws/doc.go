// File: protocol/ws/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package ws implements a minimal server-side WebSocket endpoint as a
// pipeline handler: the HTTP upgrade handshake, frame parsing with
// client-mask enforcement, ping/pong and close signalling.
//
// The handler forwards each complete text or binary message payload to
// the next inbound handler and wraps every outbound write in a single
// unfragmented server frame. Extensions, compression and subprotocol
// negotiation are out of scope.
package ws
