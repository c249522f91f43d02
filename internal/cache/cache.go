// Package cache wraps a Redis-backed value store for the system's one
// genuinely shared, evictable cache: computed validation and recommendation
// query results. Metadata about every entry (key, type, timestamps) is
// mirrored into the relational store so the admin methods can report
// statistics and clean up without scanning Redis directly.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/babar-raza/tbcv-sub003/internal/store"
)

// DefaultTTL is how long a cache entry lives in Redis before natural
// expiry, independent of the administrative cleanup/clear operations.
const DefaultTTL = time.Hour

// Cache is the shared value cache behind the admin cache-management
// methods.
type Cache struct {
	rdb   *redis.Client
	store *store.Store

	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a Cache over rdb and st.
func New(rdb *redis.Client, st *store.Store) *Cache {
	return &Cache{rdb: rdb, store: st}
}

// NewClient constructs a go-redis client from addr/db, matching the shape
// of internal/config.CacheConfig.
func NewClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

// Set writes value under key in Redis with ttl, and upserts the entry's
// metadata row in the store.
func (c *Cache) Set(ctx context.Context, key, cacheType, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	return c.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.UpsertCacheEntry(ctx, &store.CacheEntry{CacheKey: key, CacheType: cacheType, Value: value})
	})
}

// Get reads key from Redis, reporting whether it was present and updating
// the hit/miss counters behind the reported hit rate.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}
	c.hits.Add(1)
	return val, true, nil
}

// Stats is the get_cache_stats response shape.
type Stats struct {
	TotalItems     int
	TotalSizeBytes int
	HitRate        float64
	ByType         map[string]int
}

// Stats reports the entry count, approximate byte size, hit rate, and a
// per-type breakdown, derived from the store's cache entry metadata rather
// than scanning Redis (Redis holds the live values; the store holds the
// administrative view).
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var entries []*store.CacheEntry
	err := c.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		entries, err = sess.ListCacheEntries(ctx, nil)
		return err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("computing cache stats: %w", err)
	}

	byType := make(map[string]int)
	totalSize := 0
	for _, e := range entries {
		byType[e.CacheType]++
		totalSize += len(e.Value)
	}

	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Stats{
		TotalItems:     len(entries),
		TotalSizeBytes: totalSize,
		HitRate:        hitRate,
		ByType:         byType,
	}, nil
}

// Clear removes every entry matching cacheTypes (or all entries, when
// cacheTypes is empty) from both Redis and the store, returning the number
// removed.
func (c *Cache) Clear(ctx context.Context, cacheTypes []string) (int, error) {
	var entries []*store.CacheEntry
	err := c.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		entries, err = sess.ListCacheEntries(ctx, cacheTypes)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("listing cache entries to clear: %w", err)
	}

	for _, e := range entries {
		if err := c.rdb.Del(ctx, e.CacheKey).Err(); err != nil {
			return 0, fmt.Errorf("deleting cache key %s: %w", e.CacheKey, err)
		}
	}

	var cleared int
	err = c.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		cleared, err = sess.ClearCacheEntries(ctx, cacheTypes)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clearing cache entry metadata: %w", err)
	}
	return cleared, nil
}

// Cleanup removes entries not accessed since maxAge, from both Redis and
// the store, returning the number removed.
func (c *Cache) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)

	var entries []*store.CacheEntry
	err := c.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		entries, err = sess.ListCacheEntries(ctx, nil)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("listing cache entries to clean up: %w", err)
	}

	for _, e := range entries {
		if e.AccessedAt < cutoff {
			if err := c.rdb.Del(ctx, e.CacheKey).Err(); err != nil {
				return 0, fmt.Errorf("deleting cache key %s: %w", e.CacheKey, err)
			}
		}
	}

	var cleaned int
	err = c.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		cleaned, err = sess.DeleteCacheEntriesOlderThan(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleaning up cache entry metadata: %w", err)
	}
	return cleaned, nil
}

// Rebuild repopulates the cache from the current validation records,
// warming it the way a cold start would after a clear.
func (c *Cache) Rebuild(ctx context.Context) (int, error) {
	var validations []*store.ValidationRecord
	err := c.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		validations, err = sess.ListValidations(ctx, store.ListValidationsFilter{Limit: 1000})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("listing validations for cache rebuild: %w", err)
	}

	count := 0
	for _, v := range validations {
		key := "validation:" + v.ID
		if err := c.Set(ctx, key, "validation", v.ValidationResults, DefaultTTL); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// Ping reports whether the Redis server is reachable, backing the "cache"
// component of get_system_status.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging cache: %w", err)
	}
	return nil
}
