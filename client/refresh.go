package client

import (
	"sync"
	"sync/atomic"

	"zonemarket/internal/logger"
)

// RefreshCounter is bumped whenever a change makes cached lists stale, such
// as a successful send. Readers compare the value they last loaded at.
//
// The zero value lives in memory only. A counter from NewRefreshCounter is
// stored under KeyRefreshVersion, so a bump made by one process is seen by
// the next one that opens the same cache.
type RefreshCounter struct {
	n atomic.Int64

	mu    sync.Mutex
	cache Cache
}

// NewRefreshCounter returns a counter persisted in c.
func NewRefreshCounter(c Cache) *RefreshCounter {
	return &RefreshCounter{cache: c}
}

// Bump increments the counter and returns the new value.
func (c *RefreshCounter) Bump() int64 {
	if c.cache == nil {
		return c.n.Add(1)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.load() + 1
	c.n.Store(v)
	if err := setJSON(c.cache, KeyRefreshVersion, v); err != nil {
		logger.Warnf("[cache] ❌ Failed to store refresh version %d: %v", v, err)
	}
	return v
}

// Current returns the latest value, re-reading the cache when persisted.
func (c *RefreshCounter) Current() int64 {
	if c.cache == nil {
		return c.n.Load()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load()
}

// load reads the stored value; on a read error the last known value is used.
func (c *RefreshCounter) load() int64 {
	var v int64
	ok, err := getJSON(c.cache, KeyRefreshVersion, &v)
	if err != nil {
		logger.Warnf("[cache] ❌ Failed to read refresh version: %v", err)
		return c.n.Load()
	}
	if !ok {
		return c.n.Load()
	}
	c.n.Store(v)
	return v
}
