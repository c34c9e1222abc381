// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package client assembles one client process: the change listener
// registry, the sync agent that feeds it, the realtime agent and the
// notification tray.
//
// Realtime domain events are shown as notifications and nudge the sync
// agent, so the durable poll reconciles what the push path announced
// without waiting for the next tick.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/cursor"
	"github.com/tomtom215/syncrelay/internal/listener"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/models"
	"github.com/tomtom215/syncrelay/internal/notify"
	"github.com/tomtom215/syncrelay/internal/realtime"
	"github.com/tomtom215/syncrelay/internal/store"
	"github.com/tomtom215/syncrelay/internal/syncagent"
)

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	api         store.API
	cursorStore cursor.Store
	dialer      realtime.Dialer
}

// WithAPI replaces the HTTP store client.
func WithAPI(api store.API) Option {
	return func(o *options) { o.api = api }
}

// WithCursorStore replaces the configured cursor store.
func WithCursorStore(s cursor.Store) Option {
	return func(o *options) { o.cursorStore = s }
}

// WithDialer replaces the realtime websocket dialer.
func WithDialer(d realtime.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// App owns every client-side component and their lifecycle.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	api      store.API
	cursor   *cursor.Cursor
	changes  *listener.Registry[models.ChangeRecord]
	sync     *syncagent.Agent
	realtime *realtime.Agent
	tray     *notify.Tray

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds the client from cfg and loads the persisted cursor. Disabled
// components are left nil.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:     cfg,
		logger:  logging.WithComponent("client"),
		changes: listener.NewRegistry[models.ChangeRecord]("changes"),
		tray: notify.NewTray(notify.Config{
			Duration:  cfg.Notify.Duration,
			MaxActive: cfg.Notify.MaxActive,
		}),
	}

	a.api = o.api
	if a.api == nil {
		a.api = NewStoreAPI(&cfg.Store)
	}

	if cfg.Sync.Enabled {
		cs := o.cursorStore
		if cs == nil {
			var err error
			if cs, err = OpenCursorStore(&cfg.Sync); err != nil {
				return nil, err
			}
		}
		a.cursor = cursor.New(cs)
		if _, err := a.cursor.Load(ctx); err != nil {
			_ = a.cursor.Close()
			return nil, fmt.Errorf("load sync cursor: %w", err)
		}

		a.sync = syncagent.New(a.api, a.cursor, a.changes, syncagent.Config{
			Interval:      cfg.Sync.Interval,
			MaxRetries:    cfg.Sync.MaxRetries,
			Acknowledge:   cfg.Sync.Acknowledge,
			DedupCapacity: cfg.Sync.DedupCapacity,
			DedupTTL:      cfg.Sync.DedupTTL,
		})
		a.sync.SetOnStatus(a.onSyncStatus)
	}

	if cfg.Realtime.Enabled {
		var rtOpts []realtime.Option
		if o.dialer != nil {
			rtOpts = append(rtOpts, realtime.WithDialer(o.dialer))
		}
		a.realtime = realtime.New(realtime.Config{
			URL:                  cfg.Realtime.URL,
			ClientType:           cfg.Realtime.ClientType,
			Platform:             cfg.Realtime.Platform,
			Room:                 cfg.Realtime.Room,
			ConnectTimeout:       cfg.Realtime.ConnectTimeout,
			ReconnectDelay:       cfg.Realtime.ReconnectDelay,
			MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		}, rtOpts...)
		a.bridge()
	}

	return a, nil
}

// NewStoreAPI builds the store client described by cfg, wrapped in a
// circuit breaker when enabled.
func NewStoreAPI(cfg *config.StoreConfig) store.API {
	var api store.API = store.NewClient(cfg.BaseURL, cfg.Timeout, store.WithRateLimit(cfg.RequestsPerSecond))
	if cfg.BreakerEnabled {
		api = store.NewBreakerClient(api, store.DefaultBreakerSettings())
	}
	return api
}

// OpenCursorStore opens the badger cursor store at cfg.CursorPath. Only
// config.MemoryCursorPath selects the in-memory store.
func OpenCursorStore(cfg *config.SyncConfig) (cursor.Store, error) {
	switch cfg.CursorPath {
	case "":
		return nil, errors.New("sync.cursor_path is empty")
	case config.MemoryCursorPath:
		return cursor.NewMemoryStore(), nil
	}
	s, err := cursor.OpenBadgerStore(cfg.CursorPath, cfg.CursorKey)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// bridge wires realtime events into notifications and poll nudges.
func (a *App) bridge() {
	for _, eventType := range models.DomainEvents {
		a.realtime.On(eventType, func(e models.NotificationEvent) {
			a.tray.Show(e)
			if a.sync != nil {
				a.sync.Trigger()
			}
		})
	}
	a.realtime.On(realtime.EventConnect, func(models.NotificationEvent) {
		// Anything broadcast while we were away is only in the change log.
		if a.sync != nil {
			a.sync.Trigger()
		}
	})
	a.realtime.On(realtime.EventConnectionError, func(e models.NotificationEvent) {
		a.logger.Error().RawJSON("detail", e.Payload).Msg("realtime updates unavailable, relying on sync polling")
	})
}

func (a *App) onSyncStatus(status syncagent.Status, err error) {
	if status == syncagent.StatusDegraded {
		a.logger.Error().Err(err).Msg("change sync degraded")
		return
	}
	a.logger.Info().Msg("change sync healthy")
}

// Start begins polling and connecting. ctx bounds the sync agent.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return errors.New("client: already stopped")
	}
	if a.started {
		return nil
	}
	if a.sync != nil {
		if err := a.sync.Start(ctx); err != nil {
			return fmt.Errorf("start sync agent: %w", err)
		}
	}
	if a.realtime != nil {
		a.realtime.Connect()
	}
	a.started = true
	a.logger.Info().Bool("sync", a.sync != nil).Bool("realtime", a.realtime != nil).Msg("client started")
	return nil
}

// Stop closes the connection, stops polling and releases the cursor
// store. Every component is stopped even if one fails.
func (a *App) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	if a.realtime != nil {
		a.realtime.Close()
	}
	if a.sync != nil {
		a.sync.Stop()
	}
	a.tray.Close()
	a.changes.Close()

	var err error
	if a.cursor != nil {
		if cerr := a.cursor.Close(); cerr != nil {
			err = fmt.Errorf("close cursor store: %w", cerr)
		}
	}
	a.logger.Info().Msg("client stopped")
	return err
}

// Foreground is the host's "app came to the foreground" hook: it verifies
// the realtime connection and asks for an immediate poll.
func (a *App) Foreground() {
	if a.realtime != nil {
		a.realtime.EnsureConnected()
	}
	if a.sync != nil {
		a.sync.Trigger()
	}
}

// ForceFullResync restarts change sync from the epoch.
func (a *App) ForceFullResync(ctx context.Context) error {
	if a.sync == nil {
		return errors.New("client: sync disabled")
	}
	return a.sync.ForceFullResync(ctx)
}

// Changes is the registry change listeners subscribe to.
func (a *App) Changes() *listener.Registry[models.ChangeRecord] { return a.changes }

// Sync returns the sync agent, or nil when disabled.
func (a *App) Sync() *syncagent.Agent { return a.sync }

// Realtime returns the realtime agent, or nil when disabled.
func (a *App) Realtime() *realtime.Agent { return a.realtime }

// Tray returns the notification tray.
func (a *App) Tray() *notify.Tray { return a.tray }

// API returns the store client.
func (a *App) API() store.API { return a.api }
