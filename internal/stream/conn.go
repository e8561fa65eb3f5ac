package stream

import (
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the registry and sessions need.
// Tests substitute an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Close reasons sent in the close frame so devices can tell why they were
// dropped.
const (
	reasonConnectionLimit = "connection limit reached"
	reasonIdleTimeout     = "idle timeout"
	reasonShutdown        = "server shutting down"
)

// closeFrame builds a close frame payload for the given code and reason.
func closeFrame(code int, reason string) []byte {
	return websocket.FormatCloseMessage(code, reason)
}
