package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() *Cache {
	return New(zerolog.Nop(), nil, Config{DefaultTTL: 50 * time.Millisecond}, nil)
}

func TestCacheSetGet(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	_, ok := c.Get(ctx, "books:userId:u1")
	assert.False(t, ok)

	c.Set(ctx, "books:userId:u1", "value")
	v, ok := c.Get(ctx, "books:userId:u1")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	c.SetTTL(ctx, "k", "v", 10*time.Millisecond)
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestInvalidatePatternPrefix(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "books:userId:u1", "a")
	c.Set(ctx, "books:userId:u1:extra", "b")
	c.Set(ctx, "books:userId:u2", "c")

	n := c.InvalidatePattern("books:userId:u1")
	assert.Equal(t, 2, n)

	_, ok := c.Get(ctx, "books:userId:u2")
	assert.True(t, ok)
}

func TestInvalidatePatternGlob(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "entries:bookId:b1", "a")
	c.Set(ctx, "entries:bookId:b2", "b")

	n := c.InvalidatePattern("entries:bookId:*")
	assert.Equal(t, 2, n)

	_, ok := c.Get(ctx, "entries:bookId:b1")
	assert.False(t, ok)
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "k", "v")
	c.Get(ctx, "k")
	c.Get(ctx, "missing")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Sets)
}

func TestFlushAll(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()
	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.FlushAll()
	assert.Equal(t, 0, c.Stats().Size)
}
