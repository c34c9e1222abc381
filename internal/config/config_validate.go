// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/syncrelay/internal/validation"
)

// Validate checks field constraints, then the cross-field rules each
// section needs.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return c.validateRealtime()
}

func (c *Config) validateRelay() error {
	if c.Relay.PongWait <= c.Relay.WriteWait {
		return fmt.Errorf("relay.pong_wait (%v) must be greater than relay.write_wait (%v)", c.Relay.PongWait, c.Relay.WriteWait)
	}
	if c.Relay.RateLimitRequests > 0 && c.Relay.RateLimitWindow <= 0 {
		return fmt.Errorf("relay.rate_limit_window must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats is enabled")
	}
	if c.NATS.EmbeddedServer {
		return nil
	}
	return validateURL(c.NATS.URL, "nats.url", "nats", "tls")
}

func (c *Config) validateStore() error {
	if !c.Sync.Enabled {
		return nil
	}
	if c.Sync.CursorPath == "" {
		return fmt.Errorf("sync.cursor_path is required when sync is enabled (use %q for a non-persistent cursor)", MemoryCursorPath)
	}
	return validateURL(c.Store.BaseURL, "store.base_url", "http", "https")
}

func (c *Config) validateRealtime() error {
	if !c.Realtime.Enabled {
		return nil
	}
	return validateURL(c.Realtime.URL, "realtime.url", "ws", "wss")
}

// validateURL requires an absolute URL with one of the given schemes.
func validateURL(raw, field string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("%s must use scheme %s, got %q", field, strings.Join(schemes, " or "), u.Scheme)
}
