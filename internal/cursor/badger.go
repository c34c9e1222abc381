// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/syncrelay/internal/models"
)

// BadgerStore persists the cursor as a JSON value under one key.
type BadgerStore struct {
	db     *badger.DB
	key    []byte
	ownsDB bool
}

// OpenBadgerStore opens (or creates) a badger database at path. An empty
// path opens an in-memory database.
func OpenBadgerStore(path, key string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.ValueLogFileSize = 16 << 20
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for cursor: %w", err)
	}
	return &BadgerStore{db: db, key: []byte(key), ownsDB: true}, nil
}

// NewBadgerStoreFromDB shares an existing database. Close leaves it open.
func NewBadgerStoreFromDB(db *badger.DB, key string) *BadgerStore {
	return &BadgerStore{db: db, key: []byte(key)}
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context) (models.SyncCursor, error) {
	var c models.SyncCursor
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get cursor: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	return c, err
}

// Put implements Store.
func (s *BadgerStore) Put(_ context.Context, c models.SyncCursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
