package ws

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const upgradeRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

func TestAcceptKeyKnownVector(t *testing.T) {
	// The worked example from RFC 6455 section 1.3.
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
		acceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestParseUpgradeSuccess(t *testing.T) {
	resp, err := parseUpgrade([]byte(upgradeRequest))
	require.NoError(t, err)
	require.Contains(t, string(resp), "HTTP/1.1 101 Switching Protocols\r\n")
	require.Contains(t, string(resp), "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n")
}

func TestParseUpgradeMissingKey(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\n" +
		"Connection: Upgrade\r\nSec-WebSocket-Version: 13\r\n\r\n"
	_, err := parseUpgrade([]byte(req))
	require.ErrorIs(t, err, ErrMissingWebSocketKey)
}

func TestParseUpgradeWrongVersion(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\n" +
		"Connection: Upgrade\r\nSec-WebSocket-Key: abc\r\n" +
		"Sec-WebSocket-Version: 8\r\n\r\n"
	_, err := parseUpgrade([]byte(req))
	require.ErrorIs(t, err, ErrBadWebSocketVersion)
}

func TestParseUpgradeNotAnUpgrade(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	_, err := parseUpgrade([]byte(req))
	require.ErrorIs(t, err, ErrInvalidUpgradeHeaders)
}
