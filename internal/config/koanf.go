// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, first
// match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/syncrelay/config.yaml",
	"/etc/syncrelay/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// MemoryCursorPath as sync.cursor_path keeps the sync cursor in memory.
const MemoryCursorPath = ":memory:"

func defaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			Host:              "0.0.0.0",
			Port:              3001,
			ShutdownTimeout:   10 * time.Second,
			SendBuffer:        256,
			MaxMessageSize:    512 * 1024,
			WriteWait:         10 * time.Second,
			PongWait:          60 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 600,
			RateLimitWindow:   time.Minute,
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   false,
			Host:             "127.0.0.1",
			Port:             4222,
			Subject:          "loans.events.>",
			QueueGroup:       "relay",
			SubscribersCount: 1,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
		},
		Store: StoreConfig{
			BaseURL:           "http://127.0.0.1:8080/api",
			Timeout:           15 * time.Second,
			BreakerEnabled:    true,
			RequestsPerSecond: 5,
		},
		Sync: SyncConfig{
			Enabled:       true,
			Interval:      5 * time.Second,
			MaxRetries:    3,
			Acknowledge:   true,
			DedupCapacity: 10000,
			DedupTTL:      time.Hour,
			CursorPath:    "./data/cursor",
			CursorKey:     "sync:last_sync",
		},
		Realtime: RealtimeConfig{
			Enabled:              true,
			URL:                  "ws://127.0.0.1:3001/ws",
			ClientType:           "dashboard",
			Platform:             "linux",
			ConnectTimeout:       10 * time.Second,
			ReconnectDelay:       3 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Notify: NotifyConfig{
			Duration:  5 * time.Second,
			MaxActive: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load reads defaults, then the config file if one exists, then mapped
// environment variables, and validates the result.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as a single string.
var sliceConfigPaths = []string{
	"relay.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"relay_host":                "relay.host",
	"relay_port":                "relay.port",
	"relay_shutdown_timeout":    "relay.shutdown_timeout",
	"relay_send_buffer":         "relay.send_buffer",
	"relay_max_message_size":    "relay.max_message_size",
	"relay_write_wait":          "relay.write_wait",
	"relay_pong_wait":           "relay.pong_wait",
	"cors_origins":              "relay.cors_origins",
	"relay_rate_limit_requests": "relay.rate_limit_requests",
	"relay_rate_limit_window":   "relay.rate_limit_window",

	"nats_enabled":           "nats.enabled",
	"nats_url":               "nats.url",
	"nats_embedded_server":   "nats.embedded_server",
	"nats_embedded":          "nats.embedded_server",
	"nats_host":              "nats.host",
	"nats_port":              "nats.port",
	"nats_subject":           "nats.subject",
	"nats_queue_group":       "nats.queue_group",
	"nats_subscribers_count": "nats.subscribers_count",
	"nats_max_reconnects":    "nats.max_reconnects",
	"nats_reconnect_wait":    "nats.reconnect_wait",

	"store_base_url":            "store.base_url",
	"api_base_url":              "store.base_url",
	"store_timeout":             "store.timeout",
	"store_breaker_enabled":     "store.breaker_enabled",
	"store_requests_per_second": "store.requests_per_second",

	"sync_enabled":        "sync.enabled",
	"sync_interval":       "sync.interval",
	"sync_max_retries":    "sync.max_retries",
	"sync_acknowledge":    "sync.acknowledge",
	"sync_dedup_capacity": "sync.dedup_capacity",
	"sync_dedup_ttl":      "sync.dedup_ttl",
	"sync_cursor_path":    "sync.cursor_path",
	"sync_cursor_key":     "sync.cursor_key",

	"realtime_enabled":                "realtime.enabled",
	"relay_url":                       "realtime.url",
	"realtime_url":                    "realtime.url",
	"realtime_client_type":            "realtime.client_type",
	"realtime_platform":               "realtime.platform",
	"realtime_room":                   "realtime.room",
	"realtime_connect_timeout":        "realtime.connect_timeout",
	"realtime_reconnect_delay":        "realtime.reconnect_delay",
	"realtime_max_reconnect_attempts": "realtime.max_reconnect_attempts",

	"notify_duration":   "notify.duration",
	"notify_max_active": "notify.max_active",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
