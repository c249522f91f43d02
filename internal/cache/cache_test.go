package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babar-raza/tbcv-sub003/internal/store"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return New(rdb, st)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "validation:1", "validation", `{"status":"pass"}`, time.Minute))

	val, found, err := c.Get(ctx, "validation:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"status":"pass"}`, val)
}

func TestGetMissReportsNotFound(t *testing.T) {
	c := newTestCache(t)
	_, found, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStatsTracksHitRateAndByType(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "validation", "x", time.Minute))
	require.NoError(t, c.Set(ctx, "b", "recommendation", "y", time.Minute))

	_, _, err := c.Get(ctx, "a")
	require.NoError(t, err)
	_, _, err = c.Get(ctx, "missing")
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalItems)
	assert.Equal(t, 1, stats.ByType["validation"])
	assert.Equal(t, 1, stats.ByType["recommendation"])
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestClearRemovesFromRedisAndStore(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", "validation", "x", time.Minute))

	cleared, err := c.Clear(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	_, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClearScopedToType(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", "validation", "x", time.Minute))
	require.NoError(t, c.Set(ctx, "b", "recommendation", "y", time.Minute))

	cleared, err := c.Clear(ctx, []string{"validation"})
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	_, found, err := c.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCleanupRemovesOnlyStaleEntries(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "fresh", "validation", "x", time.Minute))

	cleaned, err := c.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, cleaned)

	_, found, err := c.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRebuildWarmsFromValidations(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.CreateValidation(ctx, &store.ValidationRecord{FilePath: "a.md", Status: store.ValidationStatusPass, Severity: "info"})
	}))

	count, err := c.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPingSucceedsAgainstMiniredis(t *testing.T) {
	c := newTestCache(t)
	assert.NoError(t, c.Ping(context.Background()))
}
