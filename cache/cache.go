// Package cache implements the read cache: a TTL'd mapping from
// string keys to values, invalidated by prefix or glob-shaped key
// patterns. This is a plain keyed store, with prefix/glob pattern
// invalidation for bulk eviction after a write.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/metrics"
)

// entry is one cached value plus its expiry.
type entry struct {
	value     any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool { return now.After(e.expiresAt) }

// Stats is a point-in-time snapshot of cache activity counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	Size      int
}

// Config configures a Cache.
type Config struct {
	// DefaultTTL is used when Set is called without an explicit TTL.
	// Zero means a default of 2 minutes.
	DefaultTTL time.Duration
	// MaxEntries bounds the in-process tier; the oldest entry is evicted
	// when the bound is exceeded. Zero means unbounded.
	MaxEntries int
}

// Cache is the process-local, optionally Redis-backed read cache.
// If redisClient is nil or unreachable, the in-process map alone
// serves every request.
type Cache struct {
	mu    sync.RWMutex
	store map[string]*entry

	defaultTTL time.Duration
	maxEntries int

	redisClient *redis.Client
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	hits, misses, sets, evictions atomic.Int64
}

// New constructs a Cache. redisClient may be nil, in which case the
// cache runs purely in-process. m may be nil in tests that don't
// assert on exported metrics.
func New(logger zerolog.Logger, redisClient *redis.Client, cfg Config, m *metrics.Metrics) *Cache {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Cache{
		store:       make(map[string]*entry),
		defaultTTL:  ttl,
		maxEntries:  cfg.MaxEntries,
		redisClient: redisClient,
		logger:      logger,
		metrics:     m,
	}
}

// category derives the CacheHits label from a key's prefix up to its
// first ":", e.g. "books", "entries", "fx" — the same namespacing the
// store and the fx resolver already use to keep their keys from
// colliding in one shared Cache instance.
func category(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

func (c *Cache) recordLookup(key, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.CacheHits.WithLabelValues(category(key), result).Inc()
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache) Get(ctx context.Context, key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if ok {
		if e.expired(time.Now()) {
			c.mu.Lock()
			delete(c.store, key)
			c.mu.Unlock()
		} else {
			c.hits.Add(1)
			c.recordLookup(key, "hit")
			return e.value, true
		}
	}

	if c.redisClient != nil {
		val, err := c.redisClient.Get(ctx, key).Result()
		if err == nil {
			c.hits.Add(1)
			c.recordLookup(key, "hit")
			return val, true
		}
		if err != redis.Nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("redis get failed, falling back to in-process miss")
		}
	}

	c.misses.Add(1)
	c.recordLookup(key, "miss")
	return nil, false
}

// Set stores value under key with the cache's default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetTTL(ctx, key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL.
func (c *Cache) SetTTL(ctx context.Context, key string, value any, ttl time.Duration) {
	c.mu.Lock()
	if c.maxEntries > 0 && len(c.store) >= c.maxEntries {
		if _, exists := c.store[key]; !exists {
			c.evictOldest()
		}
	}
	c.store[key] = &entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	c.sets.Add(1)

	if c.redisClient != nil {
		if s, ok := value.(string); ok {
			if err := c.redisClient.Set(ctx, key, s, ttl).Err(); err != nil {
				c.logger.Debug().Err(err).Str("key", key).Msg("redis set failed, in-process tier still holds the value")
			}
		}
	}
}

// evictOldest drops the entry with the earliest expiry. Caller must hold
// c.mu.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.store {
		if first || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.expiresAt
			first = false
		}
	}
	if !first {
		delete(c.store, oldestKey)
		c.evictions.Add(1)
	}
}

// Invalidate removes a single exact key.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
	if c.redisClient != nil {
		c.redisClient.Del(ctx, key)
	}
}

// InvalidatePattern drops every cached key matching pattern, where
// pattern is either a plain prefix ("books:userId:abc") or a
// doublestar glob ("entries:bookId:*"). After this returns, no
// subsequent Get observes the pre-invalidate value for a matched key;
// reads already in flight may observe either.
func (c *Cache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	isGlob := containsGlobMeta(pattern)
	n := 0
	for k := range c.store {
		matched := false
		if isGlob {
			matched, _ = doublestar.Match(pattern, k)
		} else {
			matched = len(k) >= len(pattern) && k[:len(pattern)] == pattern
		}
		if matched {
			delete(c.store, k)
			n++
		}
	}
	c.evictions.Add(int64(n))
	return n
}

func containsGlobMeta(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// FlushAll clears the entire in-process tier. The Redis tier, if any, is
// left alone since it may be shared by other processes.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	n := len(c.store)
	c.store = make(map[string]*entry)
	c.mu.Unlock()
	c.evictions.Add(int64(n))
}

// Stats returns a snapshot of cache activity counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	size := len(c.store)
	c.mu.RUnlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}
