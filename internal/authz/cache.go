package authz

import (
	"sync"
	"time"
)

type cacheKey struct {
	principal string
	org       string
}

type cacheEntry struct {
	grants  []Grant
	expires time.Time
}

// grantCache time-boxes grant reads per (principal, org) so revocations take
// effect within the TTL. A zero TTL means the cache stores nothing.
type grantCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[cacheKey]cacheEntry
	now     func() time.Time
}

func newGrantCache(ttl time.Duration) *grantCache {
	if ttl <= 0 {
		return nil
	}
	return &grantCache{
		ttl:     ttl,
		entries: make(map[cacheKey]cacheEntry),
		now:     time.Now,
	}
}

func (c *grantCache) get(principalID, orgID string) ([]Grant, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey{principal: principalID, org: orgID}]
	if !ok {
		return nil, false
	}
	if !entry.expires.After(c.now()) {
		delete(c.entries, cacheKey{principal: principalID, org: orgID})
		return nil, false
	}
	return entry.grants, true
}

func (c *grantCache) put(principalID, orgID string, grants []Grant) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	// Sweep expired entries while the lock is held; the map stays bounded by
	// the number of principals active within one TTL.
	for k, e := range c.entries {
		if !e.expires.After(now) {
			delete(c.entries, k)
		}
	}
	c.entries[cacheKey{principal: principalID, org: orgID}] = cacheEntry{
		grants:  grants,
		expires: now.Add(c.ttl),
	}
}

func (c *grantCache) invalidate(principalID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.principal == principalID {
			delete(c.entries, k)
		}
	}
}
