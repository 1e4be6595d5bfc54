package secrets

import (
	"context"
	"sync"
	"time"
)

// CachedBackend is a read-through cache in front of a remote lockbox. Only
// found secrets are cached, so a key added by a tenant is seen on the next
// lookup.
type CachedBackend struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

type cacheKey struct{ tenant, name string }

type cacheEntry struct {
	value   string
	expires time.Time
}

// NewCachedBackend caches b's hits for ttl.
func NewCachedBackend(b Backend, ttl time.Duration) *CachedBackend {
	return &CachedBackend{
		backend: b,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Lookup implements Backend.
func (c *CachedBackend) Lookup(ctx context.Context, tenantID, name string) (string, error) {
	key := cacheKey{tenantID, name}

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.value, nil
	}

	v, err := c.backend.Lookup(ctx, tenantID, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: v, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops every cached secret of tenantID.
func (c *CachedBackend) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.tenant == tenantID {
			delete(c.entries, k)
		}
	}
}
