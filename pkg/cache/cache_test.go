package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

func newCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisCache(rdb, "test:"), mr
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Miss", func(t *testing.T) {
		c, _ := newCache(t)
		var got item
		assert.ErrorIs(t, c.Get(ctx, "absent", &got), ErrCacheMiss)
	})

	t.Run("Round trip with prefix and ttl", func(t *testing.T) {
		c, mr := newCache(t)
		require.NoError(t, c.Set(ctx, "p1", item{Name: "A", Stock: 3}, time.Minute))

		assert.True(t, mr.Exists("test:p1"))
		var got item
		require.NoError(t, c.Get(ctx, "p1", &got))
		assert.Equal(t, item{Name: "A", Stock: 3}, got)

		mr.FastForward(2 * time.Minute)
		assert.ErrorIs(t, c.Get(ctx, "p1", &got), ErrCacheMiss)
	})

	t.Run("Delete", func(t *testing.T) {
		c, _ := newCache(t)
		require.NoError(t, c.Set(ctx, "p1", item{Name: "A"}, time.Minute))
		require.NoError(t, c.Delete(ctx, "p1", "p2"))

		var got item
		assert.ErrorIs(t, c.Get(ctx, "p1", &got), ErrCacheMiss)
		assert.NoError(t, c.Delete(ctx))
	})
}
