package events

import (
	"context"
	"sync"
	"time"
)

// Cache holds the last aggregated public result for a fixed TTL.
// Results carrying notices are not cached so a failed source is retried on
// the next request.
type Cache struct {
	agg *Aggregator
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	resp      *Result
	updatedAt time.Time
	// generation is bumped by Invalidate. A result is stored only if no
	// invalidation happened while it was being aggregated.
	generation uint64
}

// NewCache wraps agg. A ttl of zero disables caching.
func NewCache(agg *Aggregator, ttl time.Duration) *Cache {
	return &Cache{agg: agg, ttl: ttl, now: time.Now}
}

// GetEvents returns the cached result while fresh, otherwise aggregates.
func (c *Cache) GetEvents(ctx context.Context) Result {
	c.mu.RLock()
	if c.ttl > 0 && c.resp != nil && c.now().Sub(c.updatedAt) < c.ttl {
		resp := *c.resp
		c.mu.RUnlock()
		return resp
	}
	generation := c.generation
	c.mu.RUnlock()

	resp := c.agg.GetEvents(ctx)
	if c.ttl > 0 && len(resp.Notices) == 0 {
		c.mu.Lock()
		if c.generation == generation {
			c.resp = &resp
			c.updatedAt = c.now()
		}
		c.mu.Unlock()
	}
	return resp
}

// Invalidate drops the cached result.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.resp = nil
	c.generation++
	c.mu.Unlock()
}

// Warm refreshes the cached result, used by the scheduler.
func (c *Cache) Warm(ctx context.Context) {
	c.Invalidate()
	c.GetEvents(ctx)
}
