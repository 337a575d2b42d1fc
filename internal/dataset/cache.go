package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"drought-tracker/pkg/metrics"
)

// Cache memoizes parsed tables keyed by logical source name. An entry is only
// reused while its content fingerprint still matches, so a changed file or a
// new upload invalidates the previous parse implicitly.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	metrics *metrics.Collector

	hits   int
	misses int
}

type cacheEntry struct {
	fingerprint string
	value       interface{}
}

// NewCache creates an empty load cache. The metrics collector may be nil.
func NewCache(metricsCollector *metrics.Collector) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		metrics: metricsCollector,
	}
}

// Get returns the cached value for key when the fingerprint still matches.
func (c *Cache) Get(key, fingerprint string) (interface{}, bool) {
	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()

	if found && entry.fingerprint == fingerprint {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.DatasetCacheHits.Inc()
		}
		return entry.value, true
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.DatasetCacheMisses.Inc()
	}
	return nil, false
}

// Put stores a parsed value under key with its content fingerprint.
func (c *Cache) Put(key, fingerprint string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{fingerprint: fingerprint, value: value}
}

// Invalidate drops the entry for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats returns cache hit and miss counts.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// FileFingerprint identifies a file source by path, size, and mtime. Cheaper
// than hashing the content and sufficient for files that are immutable within
// a session.
func FileFingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano()), nil
}

// BytesFingerprint identifies an in-memory source by a hash of its content.
func BytesFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
