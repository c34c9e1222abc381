// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/models"
	"github.com/tomtom215/syncrelay/internal/relay"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type testServer struct {
	*httptest.Server
	hub *relay.Hub
}

func newTestServer(t *testing.T, cfg *config.RelayConfig) *testServer {
	t.Helper()
	hub := relay.NewHub(relay.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()

	router := NewRouter(NewHandler(hub, cfg), cfg)
	srv := httptest.NewServer(router.SetupChi())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &testServer{Server: srv, hub: hub}
}

func (s *testServer) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(s.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (s *testServer) get(t *testing.T, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

// connect dials /ws, consumes connection_status and registers as clientType.
func (s *testServer) connect(t *testing.T, clientType string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if msg := readMessage(t, conn); msg.Type != models.MessageConnectionStatus {
		t.Fatalf("first message = %q", msg.Type)
	}

	data, _ := json.Marshal(models.RegisterClient{ClientType: clientType, Platform: "test"})
	payload, _ := json.Marshal(models.Message{Type: models.MessageRegisterClient, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("register: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) models.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg models.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmitEventToRoom(t *testing.T) {
	s := newTestServer(t, nil)
	dash1 := s.connect(t, models.ClientTypeDashboard)
	dash2 := s.connect(t, models.ClientTypeDashboard)
	collector := s.connect(t, models.ClientTypeMobile)
	waitFor(t, "registrations", func() bool {
		st := s.hub.Stats()
		return st.Rooms[models.RoomDashboard] == 2 && st.Rooms[models.RoomCollectors] == 1
	})

	resp, body := s.post(t, "/emit-event", `{"eventType":"pago_registrado","data":{"prestamo_id":12,"monto":150},"room":"dashboard"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var out models.EmitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.ConnectedClients != 3 || out.Delivered != 2 {
		t.Errorf("response = %+v", out)
	}

	for _, conn := range []*websocket.Conn{dash1, dash2} {
		msg := readMessage(t, conn)
		if msg.Type != models.EventPaymentRecorded || msg.Timestamp == nil {
			t.Errorf("dashboard got %+v", msg)
		}
	}

	_ = collector.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := collector.ReadMessage(); err == nil {
		t.Error("collector received a dashboard-only event")
	}
}

func TestEmitEventBroadcastAllAndAliases(t *testing.T) {
	s := newTestServer(t, nil)
	conn := s.connect(t, models.ClientTypeMobile)
	waitFor(t, "registration", func() bool { return s.hub.Stats().Rooms[models.RoomCollectors] == 1 })

	resp, body := s.post(t, "/events", `{"eventType":"prestamo_creado","payload":{"id":7}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	msg := readMessage(t, conn)
	if msg.Type != models.EventLoanCreated || string(msg.Data) != `{"id":7}` {
		t.Errorf("got %+v", msg)
	}
}

func TestEmitEventValidation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty body", ``, http.StatusBadRequest},
		{"malformed json", `{"eventType":`, http.StatusBadRequest},
		{"missing event type", `{"data":{}}`, http.StatusBadRequest},
		{"reserved event type", `{"eventType":"connection_status","data":{}}`, http.StatusBadRequest},
		{"bad event name", `{"eventType":"pago registrado"}`, http.StatusBadRequest},
		{"too large", `{"eventType":"x","data":"` + strings.Repeat("a", maxEmitBody) + `"}`, http.StatusRequestEntityTooLarge},
		{"no clients is fine", `{"eventType":"prestamo_actualizado","data":{"id":1}}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.post(t, "/emit-event", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.status, body)
			}
			if tt.status != http.StatusOK {
				var e models.ErrorResponse
				if err := json.Unmarshal(body, &e); err != nil || e.Success || e.Error == "" {
					t.Errorf("error body = %s", body)
				}
			}
		})
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	s.connect(t, models.ClientTypeDashboard)
	waitFor(t, "connection", func() bool { return s.hub.ClientCount() == 1 })

	var h models.HealthResponse
	resp := s.get(t, "/health", &h)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if h.Status != "ok" || h.ConnectedClients != 1 || h.Uptime < 0 {
		t.Errorf("health = %+v", h)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestStatsAndConnections(t *testing.T) {
	s := newTestServer(t, nil)
	s.connect(t, models.ClientTypeMobile)
	s.connect(t, models.ClientTypeDashboard)
	waitFor(t, "registrations", func() bool {
		st := s.hub.Stats()
		return st.Rooms[models.RoomCollectors] == 1 && st.Rooms[models.RoomDashboard] == 1
	})
	s.post(t, "/emit-event", `{"eventType":"pago_registrado","data":{}}`)

	var st models.StatsResponse
	s.get(t, "/stats", &st)
	if st.ConnectedClients != 2 || st.Broadcasts != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.Rooms[models.RoomCollectors] != 1 || st.ClientTypes[models.ClientTypeDashboard] != 1 {
		t.Errorf("rooms = %v, types = %v", st.Rooms, st.ClientTypes)
	}
	if st.MemoryUsage.Sys == 0 || st.MemoryUsage.Goroutines == 0 {
		t.Errorf("memory = %+v", st.MemoryUsage)
	}

	var conns []models.ConnectionInfo
	s.get(t, "/stats/connections", &conns)
	if len(conns) != 2 || conns[0].ClientType != models.ClientTypeMobile {
		t.Errorf("connections = %+v", conns)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	resp, err := http.Get(s.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("relay_connections")) {
		t.Errorf("status %d, relay_connections present = %v", resp.StatusCode, bytes.Contains(body, []byte("relay_connections")))
	}
}

func TestWebSocketOriginCheck(t *testing.T) {
	cfg := &config.RelayConfig{
		CORSOrigins:       []string{"https://panel.example.com"},
		RateLimitRequests: 0,
	}
	s := newTestServer(t, cfg)
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"mobile without origin", "", true},
		{"allowed dashboard", "https://panel.example.com", true},
		{"foreign origin", "https://evil.example.net", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if conn != nil {
				conn.Close()
			}
			if (err == nil) != tt.ok {
				t.Errorf("dial error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestWebSocketClosedWhenHubNotRunning(t *testing.T) {
	prev := hubAttachTimeout
	hubAttachTimeout = 50 * time.Millisecond
	t.Cleanup(func() { hubAttachTimeout = prev })

	hub := relay.NewHub(relay.DefaultOptions())
	srv := httptest.NewServer(NewRouter(NewHandler(hub, nil), nil).SetupChi())
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := time.Now()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to close the connection")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connection held for %v, want it closed after the attach timeout", elapsed)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d", hub.ClientCount())
	}
}

func TestRateLimit(t *testing.T) {
	cfg := &config.RelayConfig{
		CORSOrigins:       []string{"*"},
		RateLimitRequests: 2,
		RateLimitWindow:   time.Minute,
	}
	s := newTestServer(t, cfg)

	var last int
	for i := 0; i < 3; i++ {
		resp, _ := s.post(t, "/emit-event", `{"eventType":"pago_registrado"}`)
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}
