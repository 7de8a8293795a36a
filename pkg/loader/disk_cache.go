package loader

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/chazu/neuron/pkg/metrics"
)

const (
	// DefaultMaxEntries is the default maximum number of cached entries
	DefaultMaxEntries = 100

	// DefaultTTL is the default time-to-live for cached entries
	DefaultTTL = 24 * time.Hour

	// MetadataFile is the name of the cache metadata file
	MetadataFile = "cache.json"
)

// ErrCacheMiss is returned by DiskCache.Get for absent, expired or damaged entries
var ErrCacheMiss = errors.New("cache miss")

// DefaultCacheDir returns the directory used when none is configured
func DefaultCacheDir() string {
	return filepath.Join(os.TempDir(), "neuron-manifest-cache")
}

// DiskCache is a persistent, LRU-evicting cache of fetched manifests keyed by
// digest. Remote fetchers consult it after resolving a version to a digest.
type DiskCache struct {
	mu sync.Mutex

	dir        string
	maxEntries int
	ttl        time.Duration
	log        logr.Logger

	// lru holds *CacheEntry, most recently used first
	lru     *list.List
	entries map[string]*list.Element

	metadataPath string
}

// CacheEntry represents a cached manifest
type CacheEntry struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
	AccessedAt time.Time `json:"accessedAt"`
}

// CacheMetadata contains cache state persisted to disk
type CacheMetadata struct {
	Entries []CacheEntry `json:"entries"`
	Version string       `json:"version"`
}

// CacheStats contains cache statistics
type CacheStats struct {
	EntryCount int
	MaxEntries int
	TotalSize  int64
}

// NewDiskCache creates a disk cache in dir. Zero values select
// DefaultCacheDir, DefaultMaxEntries and DefaultTTL.
func NewDiskCache(dir string, maxEntries int, ttl time.Duration, logger logr.Logger) *DiskCache {
	if dir == "" {
		dir = DefaultCacheDir()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	cache := &DiskCache{
		dir:          dir,
		maxEntries:   maxEntries,
		ttl:          ttl,
		log:          logger.WithValues("cacheDir", dir),
		lru:          list.New(),
		entries:      make(map[string]*list.Element),
		metadataPath: filepath.Join(dir, MetadataFile),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		cache.log.Error(err, "failed to create cache directory")
		return cache
	}

	if err := cache.loadMetadata(); err != nil {
		cache.log.Error(err, "failed to load cache metadata")
	}

	return cache
}

// Get retrieves an entry from the cache
func (c *DiskCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		metrics.RecordCacheMiss("disk")
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	entry := elem.Value.(*CacheEntry)

	if time.Since(entry.CreatedAt) > c.ttl {
		c.removeEntry(key)
		metrics.RecordCacheMiss("disk")
		return nil, fmt.Errorf("%w: %s expired", ErrCacheMiss, key)
	}

	content, err := os.ReadFile(c.contentPath(key))
	if err != nil {
		c.removeEntry(key)
		metrics.RecordCacheMiss("disk")
		return nil, fmt.Errorf("%w: %s file missing", ErrCacheMiss, key)
	}

	entry.AccessedAt = time.Now()
	c.lru.MoveToFront(elem)

	metrics.RecordCacheHit("disk")
	return content, nil
}

// Set stores an entry in the cache
func (c *DiskCache) Set(key string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*CacheEntry)
		entry.AccessedAt = now
		entry.Size = int64(len(content))
		c.lru.MoveToFront(elem)
	} else {
		for c.lru.Len() >= c.maxEntries {
			c.evictOldest()
		}

		c.entries[key] = c.lru.PushFront(&CacheEntry{
			Key:        key,
			Size:       int64(len(content)),
			CreatedAt:  now,
			AccessedAt: now,
		})
	}

	if err := os.WriteFile(c.contentPath(key), content, 0644); err != nil {
		c.removeEntry(key)
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if err := c.saveMetadata(); err != nil {
		c.log.Error(err, "failed to save cache metadata")
	}

	return nil
}

// Delete removes an entry from the cache
func (c *DiskCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(key)

	if err := c.saveMetadata(); err != nil {
		return fmt.Errorf("failed to save cache metadata: %w", err)
	}
	return nil
}

// Clear removes all entries from the cache
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, entry := range entries {
		p := filepath.Join(c.dir, entry.Name())
		if err := os.RemoveAll(p); err != nil {
			c.log.Error(err, "failed to remove cache file", "path", p)
		}
	}

	c.lru = list.New()
	c.entries = make(map[string]*list.Element)
	return nil
}

// Size returns the number of entries in the cache
func (c *DiskCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cache statistics
func (c *DiskCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		EntryCount: c.lru.Len(),
		MaxEntries: c.maxEntries,
	}
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		stats.TotalSize += elem.Value.(*CacheEntry).Size
	}
	return stats
}

// Prune removes expired entries from the cache
func (c *DiskCache) Prune() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for key, elem := range c.entries {
		if time.Since(elem.Value.(*CacheEntry).CreatedAt) > c.ttl {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	for _, key := range expired {
		c.removeEntry(key)
	}

	if err := c.saveMetadata(); err != nil {
		return fmt.Errorf("failed to save cache metadata: %w", err)
	}
	return nil
}

func (c *DiskCache) contentPath(key string) string {
	return filepath.Join(c.dir, sanitizeKey(key)+".cue")
}

// sanitizeKey makes a key safe for use as a filename
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, key)
}

// removeEntry must be called with c.mu held
func (c *DiskCache) removeEntry(key string) {
	elem, ok := c.entries[key]
	if !ok {
		return
	}
	c.lru.Remove(elem)
	delete(c.entries, key)
	os.Remove(c.contentPath(key))
}

// evictOldest must be called with c.mu held
func (c *DiskCache) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.removeEntry(elem.Value.(*CacheEntry).Key)
	metrics.RecordCacheEviction("disk")
}

func (c *DiskCache) loadMetadata() error {
	data, err := os.ReadFile(c.metadataPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata CacheMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}

	// Entries are stored most recent first; push in reverse to keep that order
	for i := len(metadata.Entries) - 1; i >= 0; i-- {
		entry := metadata.Entries[i]

		if time.Since(entry.CreatedAt) > c.ttl {
			os.Remove(c.contentPath(entry.Key))
			continue
		}
		if _, err := os.Stat(c.contentPath(entry.Key)); os.IsNotExist(err) {
			continue
		}

		c.entries[entry.Key] = c.lru.PushFront(&entry)
	}

	return nil
}

func (c *DiskCache) saveMetadata() error {
	metadata := CacheMetadata{
		Entries: make([]CacheEntry, 0, c.lru.Len()),
		Version: "v1",
	}
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		metadata.Entries = append(metadata.Entries, *elem.Value.(*CacheEntry))
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tmpPath := c.metadataPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmpPath, c.metadataPath); err != nil {
		return fmt.Errorf("failed to rename metadata: %w", err)
	}
	return nil
}
