package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/envirosense/envirosense-core/internal/stream"
)

const (
	// wsCloseTimeout bounds the close-frame write when rejecting a socket.
	wsCloseTimeout = 5 * time.Second

	// defaultMaxMessageSize caps inbound frames when no limit is configured.
	defaultMaxMessageSize = 64 << 10
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleSensorSocket upgrades the connection and runs a sensor ingestion
// session.
//
// Authentication happens after the upgrade so the device receives a
// proper close frame (policy violation) instead of a bare HTTP error:
// microcontroller websocket clients typically surface close codes but
// not upgrade failures.
func (s *Server) handleSensorSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	identity, err := s.auth.Verify(token)
	if err != nil {
		s.logger.Warn("websocket auth failed", "error", err, "remote", r.RemoteAddr)
		s.rejectSocket(conn, "authentication failed")
		return
	}

	maxSize := int64(s.wsCfg.MaxMessageSize)
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}

	session := stream.NewSession(s.registry, conn, *identity, s.store, maxSize, s.logger)
	if err := session.Run(r.Context()); err != nil {
		s.logger.Debug("sensor session ended", "error", err, "user_id", identity.UserID)
	}
}

// rejectSocket sends a policy-violation close frame and drops the socket.
func (s *Server) rejectSocket(conn *websocket.Conn, reason string) {
	frame := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	//nolint:errcheck // Best-effort close frame; the socket is dropped either way
	conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(wsCloseTimeout))
	conn.Close()
}
