package rules

import (
	"sync"
	"time"
)

// Cache holds a snapshot of one project's enabled rules so the engine
// does not hit the store on every event. Readers always see a complete
// pre- or post-mutation snapshot, never a partial one.
type Cache interface {
	// Get returns the cached snapshot, or nil on miss/expiry.
	Get() []*Rule

	// Set replaces the snapshot.
	Set(rules []*Rule)

	// Invalidate clears the snapshot; the next Get forces a reload.
	Invalidate()
}

// CacheConfig controls cache expiry. A zero TTL means entries live
// until the next mutation invalidates them.
type CacheConfig struct {
	TTL time.Duration
}

// InMemoryCache is the default Cache implementation.
type InMemoryCache struct {
	rules    []*Rule
	cachedAt time.Time
	config   CacheConfig
	valid    bool
	mu       sync.RWMutex
}

func NewInMemoryCache(config CacheConfig) *InMemoryCache {
	return &InMemoryCache{config: config}
}

func (c *InMemoryCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

func (c *InMemoryCache) Set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*Rule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = time.Now()
	c.valid = true
}

func (c *InMemoryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.rules = nil
}
