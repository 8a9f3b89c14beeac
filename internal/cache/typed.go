// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package cache

import (
	"strings"
	"time"
)

// CachedSession records a completed authentication so a quick reconnect from
// the same address can skip the password prompt.
type CachedSession struct {
	CreatedAt time.Time
	Addr      string
	Username  string // exact case as authenticated
}

// SessionCache remembers recently authenticated identities, keyed by
// lowercase nickname.
type SessionCache struct {
	cache *TTLCache[string, CachedSession]
}

// NewSessionCache creates a session cache with the given TTL.
func NewSessionCache(ttl, sweepEvery time.Duration) *SessionCache {
	return &SessionCache{cache: NewTTLCache[string, CachedSession](ttl, sweepEvery)}
}

// Record stores a successful authentication for username from addr.
func (s *SessionCache) Record(username, addr string) {
	s.cache.Put(strings.ToLower(username), CachedSession{
		CreatedAt: time.Now(),
		Addr:      addr,
		Username:  username,
	})
}

// Valid reports whether a live cached session covers this connection. The
// source address must match and the username must match in exact case; a
// case-variant reconnect re-authenticates.
func (s *SessionCache) Valid(username, addr string) bool {
	cached, ok := s.cache.Get(strings.ToLower(username))
	if !ok {
		return false
	}
	return cached.Addr == addr && cached.Username == username
}

// Invalidate drops any cached session for username.
func (s *SessionCache) Invalidate(username string) {
	s.cache.Remove(strings.ToLower(username))
}

// Close stops the background sweeper.
func (s *SessionCache) Close() { s.cache.Close() }

// CachedPremium is a remembered premium verdict for a nickname.
type CachedPremium struct {
	CreatedAt time.Time
	Premium   bool
	Forced    bool
}

// PremiumCache remembers premium verdicts by lowercase nickname. Forced
// verdicts come from an authoritative internal fact and are not overridden
// by later advisory results.
type PremiumCache struct {
	cache *TTLCache[string, CachedPremium]
}

// NewPremiumCache creates a premium-verdict cache with the given TTL.
func NewPremiumCache(ttl, sweepEvery time.Duration) *PremiumCache {
	return &PremiumCache{cache: NewTTLCache[string, CachedPremium](ttl, sweepEvery)}
}

// Set records an advisory verdict. It never downgrades a live forced entry.
func (p *PremiumCache) Set(username string, premium bool) {
	p.cache.Upsert(strings.ToLower(username), func(old CachedPremium, ok bool) CachedPremium {
		if ok && old.Forced {
			return old
		}
		return CachedPremium{CreatedAt: time.Now(), Premium: premium}
	})
}

// SetForced records a verdict derived from an authoritative source.
func (p *PremiumCache) SetForced(username string, premium bool) {
	p.cache.Put(strings.ToLower(username), CachedPremium{
		CreatedAt: time.Now(),
		Premium:   premium,
		Forced:    true,
	})
}

// Get returns the cached verdict for username, if live.
func (p *PremiumCache) Get(username string) (CachedPremium, bool) {
	return p.cache.Get(strings.ToLower(username))
}

// Invalidate drops any cached verdict for username.
func (p *PremiumCache) Invalidate(username string) {
	p.cache.Remove(strings.ToLower(username))
}

// Close stops the background sweeper.
func (p *PremiumCache) Close() { p.cache.Close() }

// BruteforceCache counts failed authentication attempts per source address.
// The window starts at the first failure and does not slide on later ones.
type BruteforceCache struct {
	cache *TTLCache[string, int]
	max   int
}

// NewBruteforceCache creates an attempt counter with the given TTL and limit.
func NewBruteforceCache(ttl, sweepEvery time.Duration, maxAttempts int) *BruteforceCache {
	return &BruteforceCache{
		cache: NewTTLCache[string, int](ttl, sweepEvery),
		max:   maxAttempts,
	}
}

// Increment records one failed attempt for addr and returns the new count.
func (b *BruteforceCache) Increment(addr string) int {
	return b.cache.Upsert(addr, func(old int, _ bool) int {
		return old + 1
	})
}

// Attempts returns the live failure count for addr.
func (b *BruteforceCache) Attempts(addr string) int {
	n, _ := b.cache.Get(addr)
	return n
}

// Blocked reports whether addr has reached the attempt limit.
func (b *BruteforceCache) Blocked(addr string) bool {
	return b.Attempts(addr) >= b.max
}

// Clear forgets all failures for addr.
func (b *BruteforceCache) Clear(addr string) {
	b.cache.Remove(addr)
}

// Close stops the background sweeper.
func (b *BruteforceCache) Close() { b.cache.Close() }

// PendingCache marks identities whose premium verdict is still being decided,
// so a duplicate connection cannot trigger a second classification.
type PendingCache struct {
	cache *TTLCache[string, struct{}]
}

// NewPendingCache creates a pending-marker cache. The TTL bounds how long a
// crashed flow can hold a marker.
func NewPendingCache(ttl, sweepEvery time.Duration) *PendingCache {
	return &PendingCache{cache: NewTTLCache[string, struct{}](ttl, sweepEvery)}
}

// TryAcquire marks username as pending. Returns false if a live marker exists.
func (p *PendingCache) TryAcquire(username string) bool {
	acquired := false
	p.cache.Upsert(strings.ToLower(username), func(_ struct{}, ok bool) struct{} {
		acquired = !ok
		return struct{}{}
	})
	return acquired
}

// Release removes the pending marker for username.
func (p *PendingCache) Release(username string) {
	p.cache.Remove(strings.ToLower(username))
}

// Pending reports whether username holds a live marker.
func (p *PendingCache) Pending(username string) bool {
	_, ok := p.cache.Get(strings.ToLower(username))
	return ok
}

// Close stops the background sweeper.
func (p *PendingCache) Close() { p.cache.Close() }
