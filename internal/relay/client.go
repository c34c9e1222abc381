// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package relay

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/models"
)

// clientIDCounter orders clients for deterministic fan-out.
var clientIDCounter atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id          uint64
	socketID    string
	remoteAddr  string
	connectedAt time.Time

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Guarded by hub.mu.
	clientType string
	platform   string
	rooms      map[string]struct{}
}

// NewClient creates a client for conn. Register it with the hub before
// calling Start.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		id:          clientIDCounter.Add(1),
		socketID:    uuid.NewString(),
		connectedAt: time.Now().UTC(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, hub.opts.SendBuffer),
		rooms:       make(map[string]struct{}),
	}
	if conn != nil {
		c.remoteAddr = conn.RemoteAddr().String()
	}
	return c
}

// SocketID is the identifier sent to the client in connection_status.
func (c *Client) SocketID() string {
	return c.socketID
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	pongWait := c.hub.opts.PongWait
	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Str("socket_id", c.socketID).Msg("unexpected websocket close error")
			}
			return
		}
		// Any inbound traffic proves liveness.
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(data)
	}
}

// handle processes one inbound message. Malformed messages are logged and
// ignored; they never close the connection.
func (c *Client) handle(data []byte) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.RelayMessagesReceived.WithLabelValues("invalid").Inc()
		logging.Debug().Err(err).Str("socket_id", c.socketID).Msg("ignoring malformed client message")
		return
	}

	switch msg.Type {
	case models.MessageRegisterClient:
		metrics.RelayMessagesReceived.WithLabelValues(msg.Type).Inc()
		var reg models.RegisterClient
		if err := json.Unmarshal(msg.Data, &reg); err != nil {
			logging.Debug().Err(err).Str("socket_id", c.socketID).Msg("invalid register_client data")
			return
		}
		room := c.hub.identify(c, reg)
		logging.Info().
			Str("socket_id", c.socketID).
			Str("client_type", reg.ClientType).
			Str("platform", reg.Platform).
			Str("room", room).
			Msg("client registered")

	case models.MessageJoinRoom:
		metrics.RelayMessagesReceived.WithLabelValues(msg.Type).Inc()
		var join models.JoinRoom
		if err := json.Unmarshal(msg.Data, &join); err != nil || join.Room == "" {
			logging.Debug().Str("socket_id", c.socketID).Msg("invalid join_room data")
			return
		}
		if c.hub.JoinRoom(c, join.Room) {
			logging.Info().Str("socket_id", c.socketID).Str("room", join.Room).Msg("client joined room")
		}

	case models.MessagePing:
		metrics.RelayMessagesReceived.WithLabelValues(msg.Type).Inc()
		if pong, err := encodeEvent(models.MessagePong, nil); err == nil {
			c.hub.sendTo(c, pong)
		}

	default:
		metrics.RelayMessagesReceived.WithLabelValues("other").Inc()
		logging.Debug().Str("socket_id", c.socketID).Str("type", msg.Type).Msg("ignoring unknown client message")
	}
}

func (c *Client) writePump() {
	writeWait := c.hub.opts.WriteWait
	ticker := time.NewTicker((c.hub.opts.PongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Debug().Err(err).Str("socket_id", c.socketID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
