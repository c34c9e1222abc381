// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package cache

import (
	"sync"
	"testing"
	"time"
)

func TestLRU_IsDuplicate(t *testing.T) {
	c := NewLRU[int64](10, time.Minute)

	if c.IsDuplicate(1) {
		t.Error("first sighting of 1 reported as duplicate")
	}
	if !c.IsDuplicate(1) {
		t.Error("second sighting of 1 not reported as duplicate")
	}
	if c.IsDuplicate(2) {
		t.Error("first sighting of 2 reported as duplicate")
	}

	hits, misses, size := c.Stats()
	if hits != 1 || misses != 2 || size != 2 {
		t.Errorf("Stats() = %d, %d, %d; want 1, 2, 2", hits, misses, size)
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string](3, time.Minute)
	c.IsDuplicate("a")
	c.IsDuplicate("b")
	c.IsDuplicate("c")

	// touch a so b becomes the oldest
	c.IsDuplicate("a")
	c.IsDuplicate("d")

	if c.Contains("b") {
		t.Error("expected b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !c.Contains(k) {
			t.Errorf("expected %s to be present", k)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU[int64](10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.IsDuplicate(5)
	now = now.Add(2 * time.Minute)

	if c.Contains(5) {
		t.Error("expired key reported present")
	}
	if c.IsDuplicate(5) {
		t.Error("expired key reported as duplicate")
	}
}

func TestLRU_ForgetAndClear(t *testing.T) {
	c := NewLRU[int64](10, time.Minute)
	c.IsDuplicate(1)
	c.IsDuplicate(2)

	if !c.Forget(1) {
		t.Error("Forget(1) = false, want true")
	}
	if c.Forget(1) {
		t.Error("second Forget(1) = true, want false")
	}
	if c.IsDuplicate(1) {
		t.Error("forgotten key reported as duplicate")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
	if c.IsDuplicate(2) {
		t.Error("key survived Clear")
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[int](100, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.IsDuplicate(base*1000 + i%150)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}
