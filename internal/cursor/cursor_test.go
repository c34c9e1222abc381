// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package cursor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func TestCursorStartsAtEpoch(t *testing.T) {
	c := New(NewMemoryStore())
	got, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(models.Epoch) {
		t.Errorf("Load() = %v, want epoch", got)
	}
}

func TestCursorAdvanceIsNonDecreasing(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore())
	t1 := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Second)

	steps := []struct {
		to      time.Time
		moved   bool
		current time.Time
	}{
		{t1, true, t1},
		{t2, true, t2},
		{t1, false, t2},
		{t2, false, t2},
		{time.Time{}, false, t2},
	}

	for i, s := range steps {
		moved, err := c.Advance(ctx, s.to)
		if err != nil {
			t.Fatalf("step %d: Advance: %v", i, err)
		}
		if moved != s.moved {
			t.Errorf("step %d: moved = %v, want %v", i, moved, s.moved)
		}
		if !c.Value().Equal(s.current) {
			t.Errorf("step %d: Value() = %v, want %v", i, c.Value(), s.current)
		}
	}
}

func TestCursorResetReturnsToEpoch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store)
	if _, err := c.Advance(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !c.Value().Equal(models.Epoch) {
		t.Errorf("Value() after Reset = %v", c.Value())
	}
	stored, err := store.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.LastSync.Equal(models.Epoch) {
		t.Errorf("persisted cursor = %v, want epoch", stored.LastSync.Time)
	}
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Put(context.Context, models.SyncCursor) error {
	return errors.New("disk full")
}

func TestCursorAdvanceKeepsValueOnPersistError(t *testing.T) {
	c := New(&failingStore{})
	_, err := c.Advance(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected persist error")
	}
	if !c.Value().Equal(models.Epoch) {
		t.Errorf("Value() = %v, want unchanged epoch", c.Value())
	}
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	want := time.Date(2024, 3, 5, 14, 32, 0, 0, time.UTC)

	store, err := OpenBadgerStore(dir, "sync:last_sync")
	if err != nil {
		t.Fatalf("OpenBadgerStore: %v", err)
	}
	c := New(store)
	if _, err := c.Load(ctx); err != nil {
		t.Fatalf("Load on empty store: %v", err)
	}
	if _, err := c.Advance(ctx, want); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenBadgerStore(dir, "sync:last_sync")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	c2 := New(reopened)
	got, err := c2.Load(ctx)
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Load() after reopen = %v, want %v", got, want)
	}
}

func TestBadgerStoreMissingKey(t *testing.T) {
	store, err := OpenBadgerStore("", "sync:last_sync")
	if err != nil {
		t.Fatalf("OpenBadgerStore in memory: %v", err)
	}
	defer store.Close()

	if _, err := store.Get(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}
