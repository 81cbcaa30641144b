package search

import (
	"sync"
	"time"
)

// cacheKey identifies one cached response. Two queries differing only
// in limit are distinct entries.
type cacheKey struct {
	q     string
	limit int
}

type cacheEntry struct {
	expiresAt time.Time
	response  *Response
}

// resultCache is a TTL map over search responses. Expiry rides the
// monotonic clock inside time.Time, so wall-clock jumps cannot revive
// or prematurely kill entries.
type resultCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[cacheKey]cacheEntry)}
}

func (c *resultCache) get(key cacheKey) *Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return entry.response
}

// set stores resp under key, first sweeping expired entries so one-off
// queries cannot grow the map for the process lifetime. The map never
// exceeds the number of distinct live queries inside one TTL window,
// which keeps the sweep cheap.
func (c *resultCache) set(key cacheKey, resp *Response, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{expiresAt: now.Add(ttl), response: resp}
}
