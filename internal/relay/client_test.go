// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncrelay/internal/models"
)

// setupWebSocketServer serves the hub on a test server.
func setupWebSocketServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		client := NewClient(hub, conn)
		hub.Register <- client
		client.Start()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialWebSocket(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
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

func writeMessage(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	payload, err := json.Marshal(models.Message{Type: msgType, Data: raw})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
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

func TestClientRegistersIntoRoom(t *testing.T) {
	hub := setupHub(t, DefaultOptions())
	srv := setupWebSocketServer(t, hub)
	conn := dialWebSocket(t, srv)

	if msg := readMessage(t, conn); msg.Type != models.MessageConnectionStatus {
		t.Fatalf("first message = %q", msg.Type)
	}

	writeMessage(t, conn, models.MessageRegisterClient, models.RegisterClient{ClientType: models.ClientTypeMobile, Platform: "android"})
	waitFor(t, "collectors room", func() bool { return hub.Stats().Rooms[models.RoomCollectors] == 1 })

	hub.Broadcast(models.EventPaymentRecorded, json.RawMessage(`{"monto":150}`), models.RoomCollectors)
	msg := readMessage(t, conn)
	if msg.Type != models.EventPaymentRecorded || string(msg.Data) != `{"monto":150}` {
		t.Errorf("event = %+v", msg)
	}
}

func TestClientJoinRoomAndPing(t *testing.T) {
	hub := setupHub(t, DefaultOptions())
	srv := setupWebSocketServer(t, hub)
	conn := dialWebSocket(t, srv)
	readMessage(t, conn)

	writeMessage(t, conn, models.MessageJoinRoom, models.JoinRoom{Room: "auditoria"})
	waitFor(t, "join", func() bool { return hub.Stats().Rooms["auditoria"] == 1 })

	writeMessage(t, conn, models.MessagePing, nil)
	if msg := readMessage(t, conn); msg.Type != models.MessagePong {
		t.Errorf("reply = %q, want pong", msg.Type)
	}
}

func TestClientIgnoresMalformedMessages(t *testing.T) {
	hub := setupHub(t, DefaultOptions())
	srv := setupWebSocketServer(t, hub)
	conn := dialWebSocket(t, srv)
	readMessage(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeMessage(t, conn, "something_else", map[string]int{"x": 1})
	writeMessage(t, conn, models.MessagePing, nil)

	if msg := readMessage(t, conn); msg.Type != models.MessagePong {
		t.Errorf("connection did not survive malformed input, got %q", msg.Type)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount = %d", hub.ClientCount())
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := setupHub(t, DefaultOptions())
	srv := setupWebSocketServer(t, hub)
	conn := dialWebSocket(t, srv)
	readMessage(t, conn)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitFor(t, "unregister", func() bool { return hub.ClientCount() == 0 })
}
