package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/envirosense/envirosense-core/internal/infrastructure/config"
	"github.com/envirosense/envirosense-core/internal/infrastructure/logging"
)

// Registry errors.
var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrNotRegistered     = errors.New("connection not registered")
)

// Counts reports connection totals after a registry operation.
type Counts struct {
	// Total is the number of sockets across all users.
	Total int

	// User is the number of sockets held by the affected user.
	User int
}

// record tracks one registered socket.
type record struct {
	userID       string
	conn         Conn
	connectedAt  time.Time
	lastActivity time.Time

	// probed is set when a liveness ping was written without any inbound
	// frame arriving since. A socket found stale again while probed is
	// closed outright: a half-open peer can accept writes into the kernel
	// buffer indefinitely, so a successful probe alone is not proof of life.
	probed bool
}

// Registry tracks every open sensor socket, grouped by owning user.
//
// It enforces the per-user connection cap by evicting the oldest socket,
// sweeps stale connections, and funnels every outbound write through one
// mutex so each socket only ever has a single concurrent writer. A send
// failure removes only the failing socket; the rest of the user's sockets
// are untouched.
type Registry struct {
	mu     sync.Mutex
	conns  map[string][]*record // per user, oldest first
	byConn map[Conn]*record

	maxPerUser   int
	idleTimeout  time.Duration
	reapInterval time.Duration
	writeTimeout time.Duration
	lastReap     time.Time

	logger *logging.Logger
	now    func() time.Time
}

// NewRegistry creates a connection registry from websocket configuration.
func NewRegistry(cfg config.WebSocketConfig, logger *logging.Logger) *Registry {
	return &Registry{
		conns:        make(map[string][]*record),
		byConn:       make(map[Conn]*record),
		maxPerUser:   cfg.MaxConnectionsPerUser,
		idleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
		reapInterval: time.Duration(cfg.ReapInterval) * time.Second,
		writeTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		logger:       logger,
		now:          time.Now,
	}
}

// Register adds a socket for a user and returns the counts after adding.
//
// If the user is already at the connection cap, the oldest socket is sent
// a close frame and dropped before the new one is admitted, so a device
// stuck in a reconnect loop converges instead of piling up. Registration
// also piggybacks a stale sweep when one is due, so an idle deployment
// with no background reaper still converges.
func (r *Registry) Register(userID string, conn Conn) (Counts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[conn]; exists {
		return Counts{}, ErrAlreadyRegistered
	}

	if r.now().Sub(r.lastReap) >= r.reapInterval {
		r.reapLocked()
	}

	for r.maxPerUser > 0 && len(r.conns[userID]) >= r.maxPerUser {
		oldest := r.conns[userID][0]
		r.logger.Info("evicting oldest connection at cap",
			"user_id", userID,
			"connected_at", oldest.connectedAt,
		)
		r.dropLocked(oldest, websocket.CloseNormalClosure, reasonConnectionLimit)
	}

	now := r.now()
	rec := &record{
		userID:       userID,
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
	}
	r.conns[userID] = append(r.conns[userID], rec)
	r.byConn[conn] = rec

	counts := Counts{Total: len(r.byConn), User: len(r.conns[userID])}
	r.logger.Debug("connection registered",
		"user_id", userID,
		"user_connections", counts.User,
		"total_connections", counts.Total,
	)
	return counts, nil
}

// Unregister removes a socket without closing it. Returns false if the
// socket was not registered (already evicted or reaped).
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byConn[conn]
	if !ok {
		return false
	}
	r.removeLocked(rec)

	r.logger.Debug("connection unregistered",
		"user_id", rec.userID,
		"total_connections", len(r.byConn),
	)
	return true
}

// Send writes a message to a single registered socket. A write failure
// drops the socket from the registry and closes it.
func (r *Registry) Send(conn Conn, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byConn[conn]
	if !ok {
		return ErrNotRegistered
	}
	return r.writeLocked(rec, data)
}

// Broadcast delivers a message to every socket the user has open and
// returns how many received it. Sockets that fail to accept the write are
// dropped; delivery to the rest continues.
func (r *Registry) Broadcast(userID string, data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Snapshot: writeLocked mutates the slice on failure.
	targets := make([]*record, len(r.conns[userID]))
	copy(targets, r.conns[userID])

	delivered := 0
	for _, rec := range targets {
		if err := r.writeLocked(rec, data); err != nil {
			r.logger.Warn("dropping connection after failed broadcast",
				"user_id", userID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Touch records read activity on a socket, deferring its stale deadline.
func (r *Registry) Touch(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.byConn[conn]; ok {
		rec.lastActivity = r.now()
		rec.probed = false
	}
}

// CountsFor returns the current totals for a user.
func (r *Registry) CountsFor(userID string) Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Counts{Total: len(r.byConn), User: len(r.conns[userID])}
}

// Run sweeps stale connections on the configured interval until the
// context is cancelled, then closes every socket with a going-away frame.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.mu.Lock()
			r.reapLocked()
			r.mu.Unlock()
		}
	}
}

// ReapStale runs one stale sweep immediately and returns how many sockets
// were dropped.
func (r *Registry) ReapStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reapLocked()
}

// reapLocked probes every socket idle past the timeout. A probe that
// cannot be written means the peer is gone; the socket is dropped. A
// successful probe defers the deadline once: the peer gets one more idle
// period to send anything at all (a pong suffices), and a socket that is
// stale again with the probe still unanswered is closed. Caller must
// hold r.mu.
func (r *Registry) reapLocked() int {
	now := r.now()
	r.lastReap = now

	var stale []*record
	for _, rec := range r.byConn {
		if now.Sub(rec.lastActivity) > r.idleTimeout {
			stale = append(stale, rec)
		}
	}

	dropped := 0
	for _, rec := range stale {
		if rec.probed {
			r.logger.Info("reaping unresponsive connection",
				"user_id", rec.userID,
				"idle", now.Sub(rec.lastActivity),
			)
			r.dropLocked(rec, websocket.CloseNormalClosure, reasonIdleTimeout)
			dropped++
			continue
		}

		rec.conn.SetWriteDeadline(now.Add(r.writeTimeout)) //nolint:errcheck // failure surfaces on the write
		if err := rec.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			r.logger.Info("reaping stale connection",
				"user_id", rec.userID,
				"idle", now.Sub(rec.lastActivity),
				"error", err,
			)
			r.dropLocked(rec, websocket.CloseNormalClosure, reasonIdleTimeout)
			dropped++
			continue
		}
		rec.probed = true
		rec.lastActivity = now
	}
	return dropped
}

// writeLocked sends data to a record's socket, dropping it on failure.
// Caller must hold r.mu.
func (r *Registry) writeLocked(rec *record, data []byte) error {
	rec.conn.SetWriteDeadline(r.now().Add(r.writeTimeout)) //nolint:errcheck // failure surfaces on the write
	if err := rec.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		r.removeLocked(rec)
		rec.conn.Close() //nolint:errcheck // connection already failed
		return err
	}
	rec.lastActivity = r.now()
	return nil
}

// dropLocked sends a best-effort close frame, closes the socket, and
// removes it from the registry. Caller must hold r.mu.
func (r *Registry) dropLocked(rec *record, code int, reason string) {
	rec.conn.SetWriteDeadline(r.now().Add(r.writeTimeout))        //nolint:errcheck // best-effort close
	rec.conn.WriteMessage(websocket.CloseMessage, closeFrame(code, reason)) //nolint:errcheck // best-effort close
	rec.conn.Close()                                              //nolint:errcheck // best-effort close
	r.removeLocked(rec)
}

// removeLocked deletes a record from both maps. Caller must hold r.mu.
func (r *Registry) removeLocked(rec *record) {
	delete(r.byConn, rec.conn)

	list := r.conns[rec.userID]
	for i, candidate := range list {
		if candidate == rec {
			r.conns[rec.userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.conns[rec.userID]) == 0 {
		delete(r.conns, rec.userID)
	}
}

// closeAll drops every socket with a going-away frame during shutdown.
func (r *Registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byConn {
		r.dropLocked(rec, websocket.CloseGoingAway, reasonShutdown)
	}
}
