// Package ratelimit implements sliding-window admission control keyed by
// caller identity and route. Buckets are process-local; a multi-instance
// deployment needs a shared store behind the same interface.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter applies a sliding window per string key and opportunistically
// evicts idle entries. Safe for concurrent use.
type Limiter struct {
	window time.Duration
	max    int

	mu    sync.Mutex
	byKey map[string]*bucket
	hits  uint64
}

type bucket struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a limiter admitting at most max requests per key within window.
func New(window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 5
	}
	return &Limiter{
		window: window,
		max:    max,
		byKey:  make(map[string]*bucket),
	}
}

// Allow records an admission attempt for key at now. When the window is
// full it returns false and the number of seconds after which a retry can
// succeed, computed from the oldest entry still inside the window.
func (l *Limiter) Allow(key string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-2 * l.window)
		for k, b := range l.byKey {
			if b.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}

	b, ok := l.byKey[key]
	if !ok {
		b = &bucket{}
		l.byKey[key] = b
	}
	b.lastSeen = now

	// Drop entries that have slid out of the window.
	kept := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}
	b.timestamps = kept

	if len(b.timestamps) >= l.max {
		oldest := b.timestamps[0]
		retryAfter := int(math.Ceil((l.window - now.Sub(oldest)).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	b.timestamps = append(b.timestamps, now)
	return true, 0
}
