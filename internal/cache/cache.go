// Package cache holds a single computed value for a fixed time-to-live.
package cache

import (
	"sync"
	"time"
)

// Cache stores one value of type T together with the time it was computed.
// The zero value is an empty cache ready for use.
type Cache[T any] struct {
	mu         sync.Mutex
	value      T
	computedAt time.Time
	valid      bool
}

// RefreshIfStale returns the cached value when it is younger than ttl.
// Otherwise it calls compute while holding the lock, so concurrent callers
// wait for the single in-flight computation instead of stampeding upstream.
// The second return value reports whether the cached value was served.
//
// When compute fails the previous value is kept and returned alongside the
// error; callers decide whether a stale value is acceptable.
func (c *Cache[T]) RefreshIfStale(now time.Time, ttl time.Duration, compute func() (T, error)) (T, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && now.Sub(c.computedAt) < ttl {
		return c.value, true, nil
	}

	v, err := compute()
	if err != nil {
		return c.value, false, err
	}
	c.value = v
	c.computedAt = now
	c.valid = true
	return v, false, nil
}

// Peek returns the cached value and when it was computed, regardless of age.
func (c *Cache[T]) Peek() (T, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.computedAt, c.valid
}

// Invalidate forces the next RefreshIfStale to recompute.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
