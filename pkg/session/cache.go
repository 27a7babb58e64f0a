package session

import (
	"sync"
	"time"
)

// ResultCache retains a terminal Result in memory for sessions that
// carried no project_id, so /download/{id} can still serve their bytes
// within a retention window after which they are evicted (spec
// section 4.4's "within a retention window", sized by SPEC_FULL.md
// section 5 at 10 minutes). Eviction is driven by an external janitor
// tick (the scheduler's), not a background goroutine of its own.
type ResultCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// NewResultCache creates a cache whose entries expire ttl after being
// Put.
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Put retains result under sessionID, resetting its expiry.
func (c *ResultCache) Put(sessionID string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sessionID] = cacheEntry{result: result, expiresAt: time.Now().Add(c.ttl)}
}

// Get returns the retained Result for sessionID, if present and not
// yet evicted.
func (c *ResultCache) Get(sessionID string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.result, true
}

// Evict removes every entry whose expiry is at or before now, returning
// the count removed.
func (c *ResultCache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}
