// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Relay message types. Domain event names are fixed by the backend.
const (
	MessageConnectionStatus = "connection_status"
	MessageRegisterClient   = "register_client"
	MessageJoinRoom         = "join_room"
	MessagePing             = "ping"
	MessagePong             = "pong"

	EventPaymentRecorded = "pago_registrado"
	EventLoanCreated     = "prestamo_creado"
	EventLoanUpdated     = "prestamo_actualizado"
)

// DomainEvents lists the event types the apps react to.
var DomainEvents = []string{EventPaymentRecorded, EventLoanCreated, EventLoanUpdated}

// IsReservedMessage reports whether name is a protocol message type that
// must not be emitted as a domain event.
func IsReservedMessage(name string) bool {
	switch name {
	case MessageConnectionStatus, MessageRegisterClient, MessageJoinRoom, MessagePing, MessagePong:
		return true
	}
	return false
}

// Client types sent in register_client and the rooms they map to.
const (
	ClientTypeMobile    = "mobile"
	ClientTypeDashboard = "dashboard"

	RoomCollectors = "collectors"
	RoomDashboard  = "dashboard"
)

// DefaultRoom returns the room a client type joins on registration, or "".
func DefaultRoom(clientType string) string {
	switch clientType {
	case ClientTypeMobile:
		return RoomCollectors
	case ClientTypeDashboard:
		return RoomDashboard
	}
	return ""
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *Timestamp      `json:"timestamp,omitempty"`
}

// RegisterClient is the data of a register_client message.
type RegisterClient struct {
	ClientType string `json:"clientType"`
	Platform   string `json:"platform"`
}

// JoinRoom is the data of a join_room message.
type JoinRoom struct {
	Room string `json:"room"`
}

// ConnectionStatus is the data of a connection_status message.
type ConnectionStatus struct {
	Status   string `json:"status"`
	SocketID string `json:"socketId"`
}

// ConnectionError is the data of the local connection_error event raised by
// the realtime agent.
type ConnectionError struct {
	MaxAttemptsReached bool   `json:"maxAttemptsReached"`
	Attempts           int    `json:"attempts"`
	Error              string `json:"error,omitempty"`
}

// NotificationEvent is a domain event as delivered to in-process handlers.
type NotificationEvent struct {
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"data,omitempty"`
	ServerTimestamp Timestamp       `json:"timestamp"`
}

// EmitRequest is the body of POST /emit-event. Backends that send the
// event body as "payload" instead of "data" are accepted too.
type EmitRequest struct {
	EventType string          `json:"eventType" validate:"required,max=64,eventname"`
	Data      json.RawMessage `json:"data,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Room      string          `json:"room,omitempty" validate:"omitempty,max=64,excludesall= "`
}

// Body returns Data, falling back to Payload.
func (r *EmitRequest) Body() json.RawMessage {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Payload
}

// EmitResponse is the body returned by POST /emit-event.
type EmitResponse struct {
	Success          bool   `json:"success"`
	ConnectedClients int    `json:"connectedClients"`
	Delivered        int    `json:"delivered"`
	Error            string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string  `json:"status"`
	Uptime           float64 `json:"uptime"`
	ConnectedClients int     `json:"connectedClients"`
}

// MemoryUsage reports Go runtime memory figures in bytes.
type MemoryUsage struct {
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapInuse  uint64 `json:"heapInuse"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	ConnectedClients int            `json:"connectedClients"`
	Uptime           float64        `json:"uptime"`
	MemoryUsage      MemoryUsage    `json:"memoryUsage"`
	Rooms            map[string]int `json:"rooms"`
	ClientTypes      map[string]int `json:"clientTypes"`
	Broadcasts       uint64         `json:"broadcasts"`
	Dropped          uint64         `json:"dropped"`
}

// ConnectionInfo describes one connected websocket client.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	ClientType  string    `json:"clientType,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Rooms       []string  `json:"rooms,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ErrorResponse is the body written for failed API requests.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
