// Package ratelimit provides the sliding-window limiter used as local
// back-pressure on the outgoing publish path. Exceeding the window makes
// publish fail visibly instead of queuing messages invisibly.
package ratelimit

import (
	"sync"
	"time"
)

// PublishLimiter limits outgoing publish rate per key (one key per room)
// using a sliding window.
type PublishLimiter struct {
	events map[string][]time.Time
	window time.Duration
	limit  int
	mu     sync.Mutex
}

// NewPublishLimiter creates a publish limiter.
// window: the sliding window (e.g. 10s); limit: publishes allowed per window.
func NewPublishLimiter(window time.Duration, limit int) *PublishLimiter {
	return &PublishLimiter{
		events: make(map[string][]time.Time),
		window: window,
		limit:  limit,
	}
}

// Allow reports whether a publish is allowed for the key right now, and
// records it if so.
func (pl *PublishLimiter) Allow(key string) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-pl.window)

	// Filter out events outside the window
	var recent []time.Time
	for _, t := range pl.events[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	// No else needed: early return pattern (guard clause)
	if len(recent) >= pl.limit {
		pl.events[key] = recent
		return false
	}

	recent = append(recent, now)
	pl.events[key] = recent
	return true
}

// RetryAfter returns the time until the next publish for the key would be
// allowed. Zero when the key is under the limit.
func (pl *PublishLimiter) RetryAfter(key string) time.Duration {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	events := pl.events[key]
	if len(events) < pl.limit {
		return 0
	}

	now := time.Now()
	cutoff := now.Add(-pl.window)

	var oldest time.Time
	for _, t := range events {
		if t.After(cutoff) {
			if oldest.IsZero() || t.Before(oldest) {
				oldest = t
			}
		}
	}
	if oldest.IsZero() {
		return 0
	}

	retryAfter := oldest.Add(pl.window).Sub(now)
	if retryAfter < 0 {
		return 0
	}
	return retryAfter
}

// Reset clears the history for a key
func (pl *PublishLimiter) Reset(key string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	delete(pl.events, key)
}

// Cleanup removes expired events to prevent unbounded map growth.
// Called opportunistically by long-lived owners.
func (pl *PublishLimiter) Cleanup() {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	cutoff := time.Now().Add(-pl.window)
	for key, events := range pl.events {
		var recent []time.Time
		for _, t := range events {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(pl.events, key)
		} else {
			pl.events[key] = recent
		}
	}
}
