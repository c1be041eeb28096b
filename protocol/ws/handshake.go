// File: protocol/ws/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP upgrade handshake: request validation and the
// Sec-WebSocket-Accept computation.

package ws

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	websocketGUID    = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	requiredVersion  = "13"
	maxHandshakeSize = 8192
)

var (
	ErrInvalidUpgradeHeaders = errors.New("ws: invalid upgrade headers")
	ErrMissingWebSocketKey   = errors.New("ws: missing Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = errors.New("ws: unsupported WebSocket version")
	ErrHandshakeTooLarge     = errors.New("ws: handshake request too large")
)

// acceptKey computes the Sec-WebSocket-Accept value for a client key.
func acceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey + websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// parseUpgrade validates a complete HTTP upgrade request and returns
// the 101 response to send back.
func parseUpgrade(raw []byte) ([]byte, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("ws: read upgrade request: %w", err)
	}
	if !headerContainsToken(req.Header, "Connection", "Upgrade") ||
		!headerContainsToken(req.Header, "Upgrade", "websocket") {
		return nil, ErrInvalidUpgradeHeaders
	}
	if req.Header.Get("Sec-WebSocket-Version") != requiredVersion {
		return nil, ErrBadWebSocketVersion
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, ErrMissingWebSocketKey
	}

	var resp bytes.Buffer
	resp.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	resp.WriteString("Upgrade: websocket\r\n")
	resp.WriteString("Connection: Upgrade\r\n")
	resp.WriteString("Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n\r\n")
	return resp.Bytes(), nil
}

// headerContainsToken reports whether any comma-separated value of the
// named header equals token, case-insensitively.
func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h[http.CanonicalHeaderKey(name)] {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

var badHandshakeResponse = []byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
