// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

// Package cache provides in-process TTL caches for authentication state.
//
// All caches here are advisory: losing an entry forces a re-check or a
// re-login, never an incorrect admit. Entries age out from their insertion
// time; a background sweeper reclaims expired entries so unread keys do not
// accumulate.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// TTLCache is a concurrency-safe map whose entries expire a fixed duration
// after insertion. A ttl of zero or less disables expiry and the sweeper;
// entries then live until removed.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	ttl     time.Duration

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewTTLCache creates a cache whose entries expire ttl after insertion.
// A background sweeper runs every sweepInterval; if sweepInterval is zero
// it defaults to ttl. No sweeper is started when ttl <= 0.
func NewTTLCache[K comparable, V any](ttl, sweepInterval time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		entries: make(map[K]entry[V]),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if ttl > 0 {
		if sweepInterval <= 0 {
			sweepInterval = ttl
		}
		go c.sweeper(sweepInterval)
	}
	return c
}

func (c *TTLCache[K, V]) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep(c.now())
		case <-c.stop:
			return
		}
	}
}

// An entry is expired at exactly insertedAt+ttl, not one instant later.
func (c *TTLCache[K, V]) expired(e entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.insertedAt) >= c.ttl
}

// Get returns the live value for key. Expired entries are treated as absent
// and removed on sight.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key with a fresh insertion time, restarting its TTL.
func (c *TTLCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, insertedAt: c.now()}
}

// Upsert atomically replaces the value for key with fn's result, keeping the
// existing insertion time when a live entry is present. Counters that must
// expire relative to their first write use this so updates do not slide the
// window. fn receives the zero value and ok=false when no live entry exists.
func (c *TTLCache[K, V]) Upsert(key K, fn func(old V, ok bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok && !c.expired(e, now) {
		updated := fn(e.value, true)
		c.entries[key] = entry[V]{value: updated, insertedAt: e.insertedAt}
		return updated
	}
	var zero V
	updated := fn(zero, false)
	c.entries[key] = entry[V]{value: updated, insertedAt: now}
	return updated
}

// Remove deletes key if present.
func (c *TTLCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, including not-yet-swept expired ones.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every entry that is expired as of now.
func (c *TTLCache[K, V]) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (c *TTLCache[K, V]) Close() {
	c.once.Do(func() { close(c.stop) })
}
