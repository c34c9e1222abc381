// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package cursor persists the sync agent's position in the change log.
//
// The cursor is non-decreasing: Advance ignores older timestamps and only
// Reset moves it back, to the epoch.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/models"
)

// ErrNotFound is returned by a Store that holds no cursor yet.
var ErrNotFound = errors.New("cursor not found")

// Store is the persistence backend for a cursor.
type Store interface {
	Get(ctx context.Context) (models.SyncCursor, error)
	Put(ctx context.Context, c models.SyncCursor) error
	Close() error
}

// Cursor is the in-process view of a persisted SyncCursor.
type Cursor struct {
	mu     sync.Mutex
	store  Store
	value  time.Time
	now    func() time.Time
	logger zerolog.Logger
}

// New returns a cursor backed by store. Call Load before use.
func New(store Store) *Cursor {
	return &Cursor{
		store:  store,
		value:  models.Epoch,
		now:    time.Now,
		logger: logging.WithComponent("cursor"),
	}
}

// Load reads the persisted value. A missing cursor starts at the epoch.
func (c *Cursor) Load(ctx context.Context) (time.Time, error) {
	stored, err := c.store.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		c.mu.Lock()
		c.value = models.Epoch
		c.mu.Unlock()
		return models.Epoch, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load cursor: %w", err)
	}

	v := stored.LastSync.Time
	if v.IsZero() {
		v = models.Epoch
	}
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	return v, nil
}

// Value returns the current cursor.
func (c *Cursor) Value() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Advance moves the cursor to t and persists it. A t older than the current
// value is ignored and reported as false.
func (c *Cursor) Advance(ctx context.Context, t time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.IsZero() {
		return false, nil
	}
	if t.Before(c.value) {
		c.logger.Warn().
			Time("cursor", c.value).
			Time("server_timestamp", t).
			Msg("server timestamp behind cursor, keeping cursor")
		return false, nil
	}
	if t.Equal(c.value) {
		return false, nil
	}

	if err := c.persist(ctx, t); err != nil {
		return false, err
	}
	c.value = t.UTC()
	return true, nil
}

// Reset moves the cursor back to the epoch for a full resync.
func (c *Cursor) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.persist(ctx, models.Epoch); err != nil {
		return err
	}
	c.value = models.Epoch
	c.logger.Info().Msg("cursor reset to epoch")
	return nil
}

// Close releases the backing store.
func (c *Cursor) Close() error {
	return c.store.Close()
}

// persist must be called with mu held.
func (c *Cursor) persist(ctx context.Context, t time.Time) error {
	err := c.store.Put(ctx, models.SyncCursor{
		LastSync:  models.NewTimestamp(t),
		UpdatedAt: models.NewTimestamp(c.now()),
	})
	if err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	return nil
}

// MemoryStore keeps the cursor in process memory. It does not survive a
// restart.
type MemoryStore struct {
	mu     sync.Mutex
	cursor *models.SyncCursor
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context) (models.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor == nil {
		return models.SyncCursor{}, ErrNotFound
	}
	return *m.cursor, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, c models.SyncCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = &c
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
