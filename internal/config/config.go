// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package config loads layered configuration for the relay and the agent.
//
// Precedence is environment > YAML file > built-in defaults. Both binaries
// read the same document; each uses the sections it needs.
package config

import "time"

// Config is the complete application configuration.
type Config struct {
	Relay    RelayConfig    `koanf:"relay"`
	NATS     NATSConfig     `koanf:"nats"`
	Store    StoreConfig    `koanf:"store"`
	Sync     SyncConfig     `koanf:"sync"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Notify   NotifyConfig   `koanf:"notify"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// RelayConfig configures the Notification Relay HTTP and websocket surface.
type RelayConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// SendBuffer is the per-connection outbound queue length. A broadcast
	// to a client whose queue is full is dropped for that client.
	SendBuffer int `koanf:"send_buffer" validate:"min=1,max=4096"`

	MaxMessageSize int64         `koanf:"max_message_size" validate:"min=1024"`
	WriteWait      time.Duration `koanf:"write_wait" validate:"gt=0"`
	PongWait       time.Duration `koanf:"pong_wait" validate:"gt=0"`

	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitRequests per RateLimitWindow per client IP on the ingress
	// endpoints. Zero disables limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// NATSConfig configures the optional broker ingress of the relay.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// EmbeddedServer starts an in-process NATS server listening on Host:Port.
	EmbeddedServer bool   `koanf:"embedded_server"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port" validate:"min=0,max=65535"`

	// Subject is the wildcard subject the ingress subscribes to. Each
	// message body is an emit request carrying its own eventType.
	Subject          string `koanf:"subject"`
	QueueGroup       string `koanf:"queue_group"`
	SubscribersCount int    `koanf:"subscribers_count" validate:"min=1,max=64"`

	// MaxReconnects of -1 reconnects forever.
	MaxReconnects int           `koanf:"max_reconnects" validate:"min=-1"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// StoreConfig configures the client of the Change Record Store API.
type StoreConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	BreakerEnabled bool `koanf:"breaker_enabled"`

	// RequestsPerSecond caps outbound store requests. Zero disables it.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"min=0"`
}

// SyncConfig configures the Sync Agent.
type SyncConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"gte=100ms"`

	// MaxRetries consecutive failures switch the agent to degraded. Polling
	// continues regardless.
	MaxRetries int `koanf:"max_retries" validate:"min=1"`

	// Acknowledge sends mark_synced after each dispatched batch.
	Acknowledge bool `koanf:"acknowledge"`

	DedupCapacity int           `koanf:"dedup_capacity" validate:"min=1"`
	DedupTTL      time.Duration `koanf:"dedup_ttl" validate:"gt=0"`

	// CursorPath is the badger directory for the persisted cursor.
	// MemoryCursorPath keeps it in process memory, so it resets on restart.
	CursorPath string `koanf:"cursor_path"`
	CursorKey  string `koanf:"cursor_key" validate:"required"`
}

// RealtimeConfig configures the Realtime Agent.
type RealtimeConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	ClientType string `koanf:"client_type" validate:"oneof=mobile dashboard"`
	Platform   string `koanf:"platform"`

	// Room is joined after registration in addition to the client type's
	// default room. Empty joins nothing extra.
	Room string `koanf:"room"`

	ConnectTimeout       time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay" validate:"gt=0"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts" validate:"min=1"`
}

// NotifyConfig configures auto-expiring notifications.
type NotifyConfig struct {
	Duration  time.Duration `koanf:"duration" validate:"gt=0"`
	MaxActive int           `koanf:"max_active" validate:"min=0"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`

	Caller bool `koanf:"caller"`
}

// Addr returns the relay listen address.
func (r *RelayConfig) Addr() string {
	return joinHostPort(r.Host, r.Port)
}

// Addr returns the embedded NATS listen address.
func (n *NATSConfig) Addr() string {
	return joinHostPort(n.Host, n.Port)
}
