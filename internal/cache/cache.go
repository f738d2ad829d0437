package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lyricsync/internal/metrics"
)

const (
	DefaultMaxEntries = 100
	DefaultMaxBytes   = 8 << 20
	DefaultTTL        = 24 * time.Hour
)

// ErrTooLarge is returned by Set when a single value is larger than MaxBytes.
// The cache is left without the key in that case.
var ErrTooLarge = errors.New("cache value exceeds max bytes")

// Entry is the stored form of a cached value.
type Entry struct {
	Key         string
	Payload     []byte
	Size        int64
	ExpiresAt   time.Time
	LastAccess  time.Time
	AccessCount uint64
}

// Stats is a consistent view of the cache counters.
type Stats struct {
	Entries    int
	Valid      int
	TotalBytes int64
	MaxBytes   int64
	MaxEntries int
	Accesses   uint64
}

type Options struct {
	MaxEntries int
	MaxBytes   int64
	DefaultTTL time.Duration
	Now        func() time.Time
	Metrics    *metrics.Metrics
}

// Cache is a bounded TTL store with least-recently-accessed eviction. Every
// operation runs under one mutex so the size accounting is never observed
// half-updated.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	recency    *list.List // front is the most recently accessed
	totalBytes int64
	accesses   uint64

	maxEntries int
	maxBytes   int64
	defaultTTL time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func New[V any](opts Options) *Cache[V] {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[V]{
		entries:    make(map[string]*list.Element),
		recency:    list.New(),
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
		defaultTTL: opts.DefaultTTL,
		now:        opts.Now,
		metrics:    opts.Metrics,
		logger:     log.With().Str("component", "cache").Logger(),
	}
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) error {
	return c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key, evicting least-recently-accessed entries
// until both the entry and the byte limits hold.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key = NormalizeKey(key)
	size := int64(len(payload))

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}

	if size > c.maxBytes {
		c.logger.Warn().Str("key", key).Int64("size", size).Int64("max_bytes", c.maxBytes).Msg("Value larger than cache, not stored")
		c.reportUsage()
		return ErrTooLarge
	}

	evicted := 0
	for len(c.entries)+1 > c.maxEntries && c.evictOldest() {
		evicted++
	}
	for c.totalBytes+size > c.maxBytes && c.evictOldest() {
		evicted++
	}
	c.metrics.CacheEvicted(evicted)

	now := c.now()
	entry := &Entry{
		Key:        key,
		Payload:    payload,
		Size:       size,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
	}
	c.entries[key] = c.recency.PushFront(entry)
	c.totalBytes += size
	c.reportUsage()
	return nil
}

// Get returns the value under key. Expired entries are removed and reported
// as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	key = NormalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.metrics.CacheMiss()
		return zero, false
	}
	entry := el.Value.(*Entry)
	now := c.now()
	if !now.Before(entry.ExpiresAt) {
		c.removeElement(el)
		c.metrics.CacheEvicted(1)
		c.metrics.CacheMiss()
		c.reportUsage()
		return zero, false
	}

	var value V
	if err := json.Unmarshal(entry.Payload, &value); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		c.removeElement(el)
		c.metrics.CacheMiss()
		c.reportUsage()
		return zero, false
	}

	entry.LastAccess = now
	entry.AccessCount++
	c.accesses++
	c.recency.MoveToFront(el)
	c.metrics.CacheHit()
	return value, true
}

// Contains reports whether a fresh entry exists, without touching its
// access statistics.
func (c *Cache[V]) Contains(key string) bool {
	key = NormalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	return c.now().Before(el.Value.(*Entry).ExpiresAt)
}

func (c *Cache[V]) Remove(key string) {
	key = NormalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
		c.reportUsage()
	}
}

func (c *Cache[V]) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.recency.Init()
	c.totalBytes = 0
	c.reportUsage()
}

// RemoveExpired sweeps expired entries and returns how many were dropped.
func (c *Cache[V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.recency.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*Entry).ExpiresAt) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	c.metrics.CacheEvicted(removed)
	c.reportUsage()
	return removed
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	valid := 0
	for _, el := range c.entries {
		if now.Before(el.Value.(*Entry).ExpiresAt) {
			valid++
		}
	}
	return Stats{
		Entries:    len(c.entries),
		Valid:      valid,
		TotalBytes: c.totalBytes,
		MaxBytes:   c.maxBytes,
		MaxEntries: c.maxEntries,
		Accesses:   c.accesses,
	}
}

// RunJanitor sweeps expired entries every interval until ctx is done.
func (c *Cache[V]) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.RemoveExpired(); n > 0 {
				c.logger.Debug().Int("removed", n).Msg("Swept expired cache entries")
			}
		}
	}
}

// evictOldest drops the least recently accessed entry. It reports false when
// the cache is already empty.
func (c *Cache[V]) evictOldest() bool {
	el := c.recency.Back()
	if el == nil {
		return false
	}
	c.logger.Debug().Str("key", el.Value.(*Entry).Key).Msg("Evicted cache entry")
	c.removeElement(el)
	return true
}

func (c *Cache[V]) removeElement(el *list.Element) {
	entry := c.recency.Remove(el).(*Entry)
	delete(c.entries, entry.Key)
	c.totalBytes -= entry.Size
}

func (c *Cache[V]) reportUsage() {
	c.metrics.CacheUsage(len(c.entries), c.totalBytes)
}
