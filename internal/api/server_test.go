package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	_ "github.com/envirosense/envirosense-core/migrations"

	"github.com/envirosense/envirosense-core/internal/auth"
	"github.com/envirosense/envirosense-core/internal/infrastructure/config"
	"github.com/envirosense/envirosense-core/internal/infrastructure/database"
	"github.com/envirosense/envirosense-core/internal/infrastructure/logging"
	"github.com/envirosense/envirosense-core/internal/relay"
	"github.com/envirosense/envirosense-core/internal/sensor"
	"github.com/envirosense/envirosense-core/internal/stream"
)

// testServer bundles a running httptest server with the pieces tests need
// to seed data directly.
type testServer struct {
	ts       *httptest.Server
	auth     *auth.Service
	readings sensor.Repository
	registry *stream.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	// The blank migrations import above registers the embedded schema;
	// fail loudly here rather than with "no such table" in every test.
	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='users'").Scan(&name)
	if err != nil {
		t.Fatalf("users table missing after migrations: %v", err)
	}

	logger := logging.Default()
	users := auth.NewUserRepository(db.DB)
	authSvc := auth.NewService(users, auth.Config{
		JWTSecret:       "test-secret",
		TokenTTL:        30 * time.Minute,
		MaxFailures:     5,
		LockoutDuration: 15 * time.Minute,
	}, logger)

	readings := sensor.NewRepository(db.DB)
	registry := stream.NewRegistry(config.WebSocketConfig{
		MaxMessageSize:        4096,
		MaxConnectionsPerUser: 5,
		IdleTimeout:           300,
		ReapInterval:          60,
		WriteTimeout:          5,
	}, logger)

	srv, err := New(Deps{
		Config:   config.ServerConfig{},
		WS:       config.WebSocketConfig{MaxMessageSize: 4096},
		Logger:   logger,
		Auth:     authSvc,
		Readings: readings,
		Registry: registry,
		Store:    relay.NewRecorder(readings, nil, nil, logger),
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, auth: authSvc, readings: readings, registry: registry}
}

// registerAndLogin creates an account and returns a valid bearer token.
func (s *testServer) registerAndLogin(t *testing.T, username string) string {
	t.Helper()

	ctx := context.Background()
	if _, err := s.auth.Register(ctx, username, username+"@example.com", "correct-horse-9"); err != nil {
		t.Fatalf("registering %s: %v", username, err)
	}
	token, _, err := s.auth.Login(ctx, username, "correct-horse-9")
	if err != nil {
		t.Fatalf("logging in %s: %v", username, err)
	}
	return token
}

func (s *testServer) postJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshalling request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.ts.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (s *testServer) get(t *testing.T, path, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, s.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp := s.get(t, "/api/v1/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	resp := s.postJSON(t, "/api/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "correct-horse-9",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["username"] != "alice" {
		t.Errorf("username = %v, want alice", body["username"])
	}
	if _, leaked := body["password_hash"]; leaked {
		t.Error("response leaked password_hash")
	}

	// Duplicate username conflicts
	resp = s.postJSON(t, "/api/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"password": "correct-horse-9",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", resp.StatusCode)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	s := newTestServer(t)

	resp := s.postJSON(t, "/api/v1/auth/register", "", map[string]string{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "short",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	s.registerAndLogin(t, "alice")

	resp := s.postJSON(t, "/api/v1/auth/token", "", map[string]string{
		"username": "alice",
		"password": "correct-horse-9",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Error("access_token missing from login response")
	}
	if body["token_type"] != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", body["token_type"])
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.registerAndLogin(t, "alice")

	resp := s.postJSON(t, "/api/v1/auth/token", "", map[string]string{
		"username": "alice",
		"password": "wrong-password-1",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	s := newTestServer(t)
	s.registerAndLogin(t, "alice")

	for i := 0; i < 5; i++ {
		resp := s.postJSON(t, "/api/v1/auth/token", "", map[string]string{
			"username": "alice",
			"password": "wrong-password-1",
		})
		resp.Body.Close()
	}

	// Correct password now rejected while locked
	resp := s.postJSON(t, "/api/v1/auth/token", "", map[string]string{
		"username": "alice",
		"password": "correct-horse-9",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("status = %d, want 423 while locked", resp.StatusCode)
	}
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	resp := s.get(t, "/api/v1/auth/me", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["username"] != "alice" {
		t.Errorf("username = %v, want alice", body["username"])
	}
}

func TestMe_RequiresAuth(t *testing.T) {
	s := newTestServer(t)

	resp := s.get(t, "/api/v1/auth/me", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}

	resp = s.get(t, "/api/v1/auth/me", "not-a-jwt")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", resp.StatusCode)
	}
}

func TestUpdateMe(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	req, err := http.NewRequest(http.MethodPut, s.ts.URL+"/api/v1/auth/me",
		strings.NewReader(`{"email":"new@example.com"}`))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT /auth/me: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["email"] != "new@example.com" {
		t.Errorf("email = %v, want new@example.com", body["email"])
	}
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	resp := s.postJSON(t, "/api/v1/auth/change-password", token, map[string]string{
		"current_password": "correct-horse-9",
		"new_password":     "battery-staple-7",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// Old password no longer works
	resp = s.postJSON(t, "/api/v1/auth/token", "", map[string]string{
		"username": "alice",
		"password": "correct-horse-9",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("old password status = %d, want 401", resp.StatusCode)
	}

	// New one does
	resp = s.postJSON(t, "/api/v1/auth/token", "", map[string]string{
		"username": "alice",
		"password": "battery-staple-7",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("new password status = %d, want 200", resp.StatusCode)
	}
}

func TestForgotPassword_UniformResponse(t *testing.T) {
	s := newTestServer(t)
	s.registerAndLogin(t, "alice")

	known := s.postJSON(t, "/api/v1/auth/forgot-password", "", map[string]string{
		"email": "alice@example.com",
	})
	known.Body.Close()
	unknown := s.postJSON(t, "/api/v1/auth/forgot-password", "", map[string]string{
		"email": "nobody@example.com",
	})
	unknown.Body.Close()

	if known.StatusCode != http.StatusOK || unknown.StatusCode != http.StatusOK {
		t.Errorf("statuses = %d/%d, want 200/200 (no account enumeration)",
			known.StatusCode, unknown.StatusCode)
	}
}

func seedReadings(t *testing.T, s *testServer, token string, n int) string {
	t.Helper()

	identity, err := s.auth.Verify(token)
	if err != nil {
		t.Fatalf("verifying token: %v", err)
	}
	for i := 0; i < n; i++ {
		r := &sensor.Reading{
			Temperature: 20 + float64(i),
			Humidity:    40,
			UserID:      identity.UserID,
			RecordedAt:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := s.readings.Append(context.Background(), r); err != nil {
			t.Fatalf("seeding reading %d: %v", i, err)
		}
	}
	return identity.UserID
}

func TestListReadings(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")
	seedReadings(t, s, token, 3)

	resp := s.get(t, "/api/v1/sensors/data", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["total"] != float64(3) {
		t.Errorf("total = %v, want 3", body["total"])
	}
	data, ok := body["data"].([]any)
	if !ok || len(data) != 3 {
		t.Fatalf("data length = %d, want 3", len(data))
	}

	// Newest first
	first := data[0].(map[string]any)
	if first["temperature"] != float64(22) {
		t.Errorf("first temperature = %v, want 22 (newest)", first["temperature"])
	}
}

func TestListReadings_Pagination(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")
	seedReadings(t, s, token, 5)

	resp := s.get(t, "/api/v1/sensors/data?limit=2&offset=2", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	data := body["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("page length = %d, want 2", len(data))
	}
	first := data[0].(map[string]any)
	if first["temperature"] != float64(22) {
		t.Errorf("first of page 2 temperature = %v, want 22", first["temperature"])
	}
}

func TestListReadings_InvalidParams(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	for _, query := range []string{"?limit=abc", "?offset=-1"} {
		resp := s.get(t, "/api/v1/sensors/data"+query, token)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestListReadings_ScopedToOwner(t *testing.T) {
	s := newTestServer(t)
	alice := s.registerAndLogin(t, "alice")
	bob := s.registerAndLogin(t, "bob")
	seedReadings(t, s, alice, 3)

	resp := s.get(t, "/api/v1/sensors/data", bob)
	body := decodeBody(t, resp)
	if body["total"] != float64(0) {
		t.Errorf("bob sees total = %v, want 0", body["total"])
	}
}

func TestLatestReading(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	// Empty store is a 404
	resp := s.get(t, "/api/v1/sensors/data/latest", token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("empty status = %d, want 404", resp.StatusCode)
	}

	seedReadings(t, s, token, 2)
	resp = s.get(t, "/api/v1/sensors/data/latest", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["temperature"] != float64(21) {
		t.Errorf("temperature = %v, want 21 (newest)", body["temperature"])
	}
}

// wsURL converts the httptest server URL to a websocket URL.
func (s *testServer) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/api/v1/sensors/ws?token=" + token
}

func dialSensor(t *testing.T, s *testServer, token string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dialling sensor socket: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSONMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding message %q: %v", data, err)
	}
	return msg
}

func TestSensorSocket_Welcome(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	conn := dialSensor(t, s, token)

	welcome := readJSONMessage(t, conn)
	if welcome["status"] != "connected" {
		t.Errorf("welcome status = %v, want connected", welcome["status"])
	}
	if msg, _ := welcome["message"].(string); !strings.Contains(msg, "alice") {
		t.Errorf("welcome message = %v, want it to name the user", welcome["message"])
	}
}

func TestSensorSocket_RejectsBadToken(t *testing.T) {
	s := newTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL("bogus"), nil)
	if err != nil {
		t.Fatalf("dial should upgrade before auth: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("read error = %v, want policy violation close", err)
	}
}

func TestSensorSocket_IngestAndRetrieve(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	conn := dialSensor(t, s, token)
	readJSONMessage(t, conn) // welcome

	frame := `{"temperature":22.5,"humidity":51.0,"obstacle":true}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("writing data frame: %v", err)
	}

	ack := readJSONMessage(t, conn)
	if ack["status"] != "success" {
		t.Fatalf("ack = %v, want success", ack)
	}

	// The stored reading is visible over REST
	resp := s.get(t, fmt.Sprintf("/api/v1/sensors/data?limit=%d", 1), token)
	body := decodeBody(t, resp)
	data := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("stored readings = %d, want 1", len(data))
	}
	reading := data[0].(map[string]any)
	if reading["temperature"] != 22.5 || reading["obstacle"] != true {
		t.Errorf("stored reading = %v, want temperature 22.5 obstacle true", reading)
	}
}

func TestSensorSocket_PingPong(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	conn := dialSensor(t, s, token)
	readJSONMessage(t, conn) // welcome

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("writing ping: %v", err)
	}
	pong := readJSONMessage(t, conn)
	if pong["type"] != "pong" {
		t.Errorf("response = %v, want pong", pong)
	}
}

func TestSensorSocket_BroadcastToSiblings(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "alice")

	sender := dialSensor(t, s, token)
	sibling := dialSensor(t, s, token)
	readJSONMessage(t, sender)
	readJSONMessage(t, sibling)

	frame := `{"temperature":19.0,"humidity":60.0,"obstacle":false}`
	if err := sender.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("writing data frame: %v", err)
	}

	// Sender gets the ack then the broadcast; the sibling just the broadcast.
	ack := readJSONMessage(t, sender)
	if ack["status"] != "success" {
		t.Fatalf("ack = %v, want success", ack)
	}
	broadcast := readJSONMessage(t, sibling)
	if broadcast["temperature"] != float64(19) {
		t.Errorf("sibling broadcast = %v, want the stored reading", broadcast)
	}
	if broadcast["id"] == nil {
		t.Error("broadcast missing assigned id")
	}
}
