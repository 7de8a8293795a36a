package loader

import (
	"sync"

	"github.com/chazu/neuron/pkg/metrics"
)

// Cache keeps fetched manifests in memory, keyed by request key, so a
// package reloaded within one process is not fetched again
type Cache struct {
	mu    sync.RWMutex
	items map[string]*FetchResult
}

// NewCache creates a new cache instance
func NewCache() *Cache {
	return &Cache{
		items: make(map[string]*FetchResult),
	}
}

// Get retrieves a result from the cache
func (c *Cache) Get(key string) (*FetchResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result, found := c.items[key]
	if found {
		metrics.RecordCacheHit("memory")
	} else {
		metrics.RecordCacheMiss("memory")
	}
	return result, found
}

// Set stores a result in the cache
func (c *Cache) Set(key string, result *FetchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = result
}

// Delete removes a result from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Clear removes all results from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*FetchResult)
}

// Size returns the number of items in the cache
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}
