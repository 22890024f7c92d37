package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/pkg/domain/model"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return server, client
}

func TestCartStorage(t *testing.T) {
	server, client := setupRedis(t)
	storage := NewCartStorage(client, time.Hour)
	ctx := context.Background()

	t.Run("Missing cart", func(t *testing.T) {
		_, err := storage.Load(ctx, "nobody")
		assert.ErrorIs(t, err, model.ErrCartNotFound)
	})

	t.Run("Save and load", func(t *testing.T) {
		require.NoError(t, storage.Save(ctx, "s1", []byte(`{"items":[]}`)))

		data, err := storage.Load(ctx, "s1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[]}`, string(data))
		assert.True(t, server.Exists("storefront:cart:s1"))
		assert.Equal(t, time.Hour, server.TTL("storefront:cart:s1"))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, storage.Delete(ctx, "s1"))
		_, err := storage.Load(ctx, "s1")
		assert.ErrorIs(t, err, model.ErrCartNotFound)
	})

	t.Run("Server failure is a persistence error", func(t *testing.T) {
		server.SetError("LOADING")
		defer server.SetError("")

		_, err := storage.Load(ctx, "s2")
		assert.ErrorIs(t, err, model.ErrPersistence)
	})
}

func TestSlidingWindowLimiter(t *testing.T) {
	_, client := setupRedis(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(client, 3, 10*time.Second).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	denied, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 0, denied.Remaining)
	assert.Equal(t, now.Add(10*time.Second).UnixMilli(), denied.Reset.UnixMilli())

	other, err := limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	count, err := client.ZCard(ctx, "storefront:ratelimit:10.0.0.1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	now = now.Add(10 * time.Second)
	decision, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 2, decision.Remaining)
}
