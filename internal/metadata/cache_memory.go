package metadata

import (
	"context"
	"sync"
	"time"

	"attest/internal/credential"
)

// MemoryCache is an in-process TTL cache used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

type memoryEntry struct {
	meta      credential.Metadata
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), clock: time.Now}
}

// WithClock overrides the time source for tests.
func (c *MemoryCache) WithClock(clock func() time.Time) *MemoryCache {
	c.clock = clock
	return c
}

func (c *MemoryCache) Get(_ context.Context, scope string) (credential.Metadata, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[scope]
	if !ok {
		return credential.Metadata{}, false, nil
	}
	if c.clock().After(entry.expiresAt) {
		delete(c.entries, scope)
		return credential.Metadata{}, false, nil
	}
	return entry.meta, true, nil
}

func (c *MemoryCache) Set(_ context.Context, scope string, meta credential.Metadata, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[scope] = memoryEntry{meta: meta, expiresAt: c.clock().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, scope)
	return nil
}
