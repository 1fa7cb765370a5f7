// Package cache keeps loaded split artifacts in memory for serving.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/util"
)

// Loader reads the record batches of an artifact. The returned records are
// owned by the caller.
type Loader func(ctx context.Context, key string) (*arrow.Schema, []arrow.Record, error)

// Cache defines the interface for caching artifact record batches
type Cache interface {
	// Get returns the batches stored under key, loading them on a miss. The
	// caller must release every returned record.
	Get(ctx context.Context, key string) (*arrow.Schema, []arrow.Record, error)
	// Delete drops key from the cache
	Delete(ctx context.Context, key string) error
	// Clear removes all entries from the cache
	Clear(ctx context.Context) error
	// Stats returns the cache statistics
	Stats() Stats
	// Close releases every cached record
	Close() error
}

// Entry is a single cached artifact.
type Entry struct {
	Schema    *arrow.Schema
	Records   []arrow.Record
	CreatedAt time.Time
	LastUsed  time.Time
	Size      int64
}

func (e *Entry) release() {
	for _, rec := range e.Records {
		rec.Release()
	}
}

// MemoryCache implements Cache with a size-bounded LRU over loaded
// artifacts. Entries older than the configured TTL are reloaded.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	maxSize  int64
	ttl      time.Duration
	currSize int64
	loader   Loader
	stats    *StatsCollector
	now      func() time.Time
}

// NewMemoryCache creates a cache that fills itself through loader.
func NewMemoryCache(cfg *Config, loader Loader) *MemoryCache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &MemoryCache{
		entries: make(map[string]*Entry),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		loader:  loader,
		now:     time.Now,
	}
	if cfg.EnableStats {
		c.stats = NewStatsCollector()
	}
	return c
}

// Get returns retained copies of the cached records.
func (c *MemoryCache) Get(ctx context.Context, key string) (*arrow.Schema, []arrow.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		if c.ttl <= 0 || c.now().Sub(entry.CreatedAt) < c.ttl {
			entry.LastUsed = c.now()
			c.recordHit()
			return entry.Schema, retained(entry.Records), nil
		}
		c.remove(key)
	}
	c.recordMiss()

	schema, records, err := c.loader(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	entry := &Entry{
		Schema:    schema,
		Records:   records,
		CreatedAt: c.now(),
		LastUsed:  c.now(),
		Size:      recordsSize(records),
	}
	for c.currSize+entry.Size > c.maxSize && len(c.entries) > 0 {
		c.evictOldest()
	}
	c.entries[key] = entry
	c.currSize += entry.Size
	c.updateSize()

	return schema, retained(records), nil
}

func retained(records []arrow.Record) []arrow.Record {
	out := make([]arrow.Record, len(records))
	for i, rec := range records {
		rec.Retain()
		out[i] = rec
	}
	return out
}

func recordsSize(records []arrow.Record) int64 {
	var size int64
	for _, rec := range records {
		size += util.TotalRecordSize(rec)
	}
	return size
}

// Delete drops key from the cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
	return nil
}

// Clear removes all entries from the cache
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		c.remove(key)
	}
	return nil
}

// Close releases every cached record
func (c *MemoryCache) Close() error {
	return c.Clear(context.Background())
}

// Stats returns the cache statistics; zero when stats are disabled.
func (c *MemoryCache) Stats() Stats {
	if c.stats == nil {
		return Stats{}
	}
	return c.stats.GetStats()
}

// Len returns the number of cached artifacts.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) remove(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	entry.release()
	c.currSize -= entry.Size
	delete(c.entries, key)
	c.updateSize()
}

// evictOldest removes the least recently used entry from the cache
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastUsed
		}
	}

	if oldestKey != "" {
		c.remove(oldestKey)
		if c.stats != nil {
			c.stats.RecordEviction()
		}
	}
}

func (c *MemoryCache) recordHit() {
	if c.stats != nil {
		c.stats.RecordHit()
	}
}

func (c *MemoryCache) recordMiss() {
	if c.stats != nil {
		c.stats.RecordMiss()
	}
}

func (c *MemoryCache) updateSize() {
	if c.stats != nil {
		c.stats.UpdateSize(c.currSize)
	}
}
