package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the in-process fallback implementation of Cache. It is
// contract-identical to the Redis implementation so callers never branch
// on which one they hold.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if current, still := c.entries[key]; still && c.now().After(current.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return false, nil
	}

	if err := unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{data: data, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil
}

// Len returns the number of live entries, counting expired ones that have
// not been swept yet.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
