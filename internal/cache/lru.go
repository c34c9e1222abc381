// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Package cache provides the bounded de-duplication cache used by the sync
// agent to suppress change records it has already dispatched.
package cache

import (
	"sync"
	"time"
)

type lruEntry[K comparable] struct {
	key       K
	prev      *lruEntry[K]
	next      *lruEntry[K]
	expiresAt time.Time
}

// LRU is a thread-safe least recently used set with TTL.
//
// Operations are O(1): a hashmap indexes nodes of a doubly linked list whose
// head is the most recently used key.
type LRU[K comparable] struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration
	now      func() time.Time

	items map[K]*lruEntry[K]
	head  *lruEntry[K]
	tail  *lruEntry[K]

	hits   int64
	misses int64
}

// NewLRU creates a cache holding at most capacity keys for ttl each.
func NewLRU[K comparable](capacity int, ttl time.Duration) *LRU[K] {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	c := &LRU[K]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[K]*lruEntry[K], capacity),
		head:     &lruEntry[K]{},
		tail:     &lruEntry[K]{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// IsDuplicate reports whether key was seen within the TTL. Unseen or expired
// keys are recorded and false is returned.
func (c *LRU[K]) IsDuplicate(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.items[key]; ok {
		if now.Before(entry.expiresAt) {
			c.moveToFront(entry)
			c.hits++
			return true
		}
		c.removeEntry(entry)
	}

	entry := &lruEntry[K]{key: key, expiresAt: now.Add(c.ttl)}
	c.addToFront(entry)
	c.items[key] = entry
	for len(c.items) > c.capacity {
		c.removeEntry(c.tail.prev)
	}

	c.misses++
	return false
}

// Contains reports whether key is present and unexpired without touching
// recency.
func (c *LRU[K]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	return ok && c.now().Before(entry.expiresAt)
}

// Forget removes key so the next IsDuplicate call for it returns false.
func (c *LRU[K]) Forget(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		c.removeEntry(entry)
		return true
	}
	return false
}

// Clear drops every key.
func (c *LRU[K]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*lruEntry[K], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len returns the number of keys held, expired ones included.
func (c *LRU[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns duplicate hits, first sightings and current size.
func (c *LRU[K]) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.items)
}

// Internal list operations. Callers hold mu.

func (c *LRU[K]) addToFront(entry *lruEntry[K]) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *LRU[K]) moveToFront(entry *lruEntry[K]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *LRU[K]) removeEntry(entry *lruEntry[K]) {
	if entry == c.head || entry == c.tail {
		return
	}
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}
