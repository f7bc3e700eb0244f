package rate

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// AttemptCounter is the per-IP brute-force guard consulted before any
// per-account check. Implementations are best-effort.
type AttemptCounter interface {
	RecordAttempt(ctx context.Context, key string) error
	IsBlocked(ctx context.Context, key string) (bool, time.Duration, error)
}

const gcProbability = 0.01

// MemoryCounter keeps a sliding window of attempt timestamps per key in
// process memory. Stale keys are swept on a random 1% of writes.
type MemoryCounter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	gcRate   float64
}

func NewMemoryCounter(limit int, window time.Duration, now func() time.Time) *MemoryCounter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryCounter{attempts: map[string][]time.Time{}, limit: limit, window: window, now: now, gcRate: gcProbability}
}

func (c *MemoryCounter) RecordAttempt(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.attempts[key] = append(c.prune(c.attempts[key], now), now)
	if rand.Float64() < c.gcRate {
		c.gc(now)
	}
	return nil
}

func (c *MemoryCounter) IsBlocked(_ context.Context, key string) (bool, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	live := c.prune(c.attempts[key], now)
	if len(live) == 0 {
		delete(c.attempts, key)
		return false, 0, nil
	}
	c.attempts[key] = live
	if len(live) < c.limit {
		return false, 0, nil
	}
	return true, live[0].Add(c.window).Sub(now), nil
}

func (c *MemoryCounter) prune(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

func (c *MemoryCounter) gc(now time.Time) {
	for k, ts := range c.attempts {
		if live := c.prune(ts, now); len(live) == 0 {
			delete(c.attempts, k)
		} else {
			c.attempts[k] = live
		}
	}
}

func (c *MemoryCounter) keys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.attempts)
}
