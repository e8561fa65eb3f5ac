package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/envirosense/envirosense-core/internal/auth"
	"github.com/envirosense/envirosense-core/internal/infrastructure/logging"
	"github.com/envirosense/envirosense-core/internal/sensor"
)

// Store persists an inbound reading and fills in its assigned ID before
// the session broadcasts it. The relay package provides the production
// implementation (SQLite plus best-effort MQTT/InfluxDB mirroring).
type Store interface {
	Record(ctx context.Context, r *sensor.Reading) error
}

// Session drives one authenticated socket: registration, the read loop,
// message routing, and teardown. All writes go through the registry.
type Session struct {
	reg      *Registry
	conn     Conn
	identity auth.Identity
	store    Store
	logger   *logging.Logger

	maxMessageSize int64
	now            func() time.Time
}

// NewSession wraps an upgraded, authenticated connection.
func NewSession(reg *Registry, conn Conn, identity auth.Identity, store Store, maxMessageSize int64, logger *logging.Logger) *Session {
	return &Session{
		reg:            reg,
		conn:           conn,
		identity:       identity,
		store:          store,
		logger:         logger.With("user_id", identity.UserID),
		maxMessageSize: maxMessageSize,
		now:            time.Now,
	}
}

// Run registers the connection and processes messages until the peer
// disconnects or is evicted. It always leaves the registry clean.
func (s *Session) Run(ctx context.Context) error {
	counts, err := s.reg.Register(s.identity.UserID, s.conn)
	if err != nil {
		s.conn.Close() //nolint:errcheck // duplicate registration, nothing to salvage
		return err
	}
	defer func() {
		s.reg.Unregister(s.conn)
		s.conn.Close() //nolint:errcheck // teardown
	}()

	if s.maxMessageSize > 0 {
		s.conn.SetReadLimit(s.maxMessageSize)
	}
	s.conn.SetPongHandler(func(string) error {
		s.reg.Touch(s.conn)
		return nil
	})

	if err := s.reg.Send(s.conn, encodeWelcome(s.identity.Username, counts)); err != nil {
		return err
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("socket read error", "error", err)
			} else {
				s.logger.Debug("socket closed", "error", err)
			}
			return nil
		}

		s.reg.Touch(s.conn)
		s.handleMessage(ctx, data)
	}
}

// handleMessage routes one inbound frame. Control frames with
// {"type":"ping"} get a pong; frames carrying a temperature key are data;
// anything else is acknowledged as unknown. Every failure path answers the
// device so firmware can tell a rejected frame from a dropped one.
func (s *Session) handleMessage(ctx context.Context, data []byte) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.send(encodeError("Invalid JSON data"))
		return
	}

	if rawType, ok := envelope["type"]; ok {
		var msgType string
		if err := json.Unmarshal(rawType, &msgType); err == nil && msgType == "ping" {
			s.send(encodePong())
			return
		}
	}

	if _, ok := envelope["temperature"]; !ok {
		s.send(encodeError("Unknown message type"))
		return
	}

	reading, err := sensor.ParseFrame(data, s.identity.UserID, s.now())
	if err != nil {
		s.send(encodeError("Invalid sensor data"))
		return
	}

	if err := s.store.Record(ctx, reading); err != nil {
		s.logger.Error("storing reading failed", "error", err)
		s.send(encodeError("Failed to store data"))
		return
	}

	s.send(encodeSuccess(reading.ID))

	event, err := json.Marshal(reading)
	if err != nil {
		s.logger.Error("encoding broadcast failed", "error", err)
		return
	}
	delivered := s.reg.Broadcast(s.identity.UserID, event)
	s.logger.Debug("reading broadcast", "reading_id", reading.ID, "recipients", delivered)
}

// send writes through the registry, ignoring failures: a failed ack means
// the registry already dropped this socket and the read loop is about to
// observe the close.
func (s *Session) send(data []byte) {
	if err := s.reg.Send(s.conn, data); err != nil && !errors.Is(err, ErrNotRegistered) {
		s.logger.Debug("ack send failed", "error", err)
	}
}
