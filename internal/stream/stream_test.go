package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/envirosense/envirosense-core/internal/infrastructure/config"
	"github.com/envirosense/envirosense-core/internal/infrastructure/logging"
	"github.com/envirosense/envirosense-core/internal/sensor"
)

// fakeConn is an in-memory Conn for registry and session tests.
type fakeConn struct {
	mu          sync.Mutex
	inbound     chan []byte
	texts       [][]byte
	pings       int
	closeFrames [][]byte
	closed      bool
	failWrites  bool
	readLimit   int64
	pongHandler func(string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failWrites || c.closed {
		return errors.New("write on dead connection")
	}

	switch messageType {
	case websocket.TextMessage:
		c.texts = append(c.texts, append([]byte(nil), data...))
	case websocket.PingMessage:
		c.pings++
	case websocket.CloseMessage:
		c.closeFrames = append(c.closeFrames, append([]byte(nil), data...))
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	c.readLimit = limit
	c.mu.Unlock()
}

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	c.pongHandler = h
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

// push queues an inbound message for the session read loop.
func (c *fakeConn) push(data string) {
	c.inbound <- []byte(data)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) textCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func (c *fakeConn) textAt(t *testing.T, i int) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	if i >= len(c.texts) {
		t.Fatalf("text message %d not received, have %d", i, len(c.texts))
	}
	var m map[string]any
	if err := json.Unmarshal(c.texts[i], &m); err != nil {
		t.Fatalf("unmarshalling text message %d: %v", i, err)
	}
	return m
}

// lastCloseReason extracts the reason string from the most recent close frame.
func (c *fakeConn) lastCloseReason(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.closeFrames) == 0 {
		t.Fatal("no close frame received")
	}
	frame := c.closeFrames[len(c.closeFrames)-1]
	if len(frame) < 2 {
		return ""
	}
	return string(frame[2:])
}

// fakeStore records readings and assigns sequential IDs.
type fakeStore struct {
	mu       sync.Mutex
	readings []sensor.Reading
	nextID   int64
	err      error
}

func (s *fakeStore) Record(_ context.Context, r *sensor.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.nextID++
	r.ID = s.nextID
	s.readings = append(s.readings, *r)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

// testClock is a hand-cranked clock safe to advance while registry
// goroutines read it.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testRegistry builds a registry with production timings and an
// adjustable clock.
func testRegistry(t *testing.T) (*Registry, *testClock) {
	t.Helper()

	reg := NewRegistry(config.WebSocketConfig{
		MaxMessageSize:        8192,
		MaxConnectionsPerUser: 5,
		IdleTimeout:           300,
		ReapInterval:          60,
		WriteTimeout:          5,
	}, logging.Default())

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg.now = clock.Now
	return reg, clock
}

// waitUntil polls a condition with a deadline, for assertions against
// goroutines.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
