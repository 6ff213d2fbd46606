// Package cache provides a small in-memory key/value store with per-entry
// expiry. Expiry is checked on every read; stale entries are reclaimed by an
// explicit Sweep call rather than a background goroutine.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a string-keyed store whose entries expire after a fixed duration.
type TTL[V any] struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]entry[V]
	now  func() time.Time
}

// NewTTL creates a store whose entries live for ttl after Set.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		ttl:  ttl,
		data: make(map[string]entry[V]),
		now:  time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, resetting its expiry.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *TTL[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for k, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
