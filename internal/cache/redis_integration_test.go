//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/alfredjeanlab/ctxconf/internal/model"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	client, err := DialRedis(ctx, url)
	if err != nil {
		t.Fatalf("failed to dial redis: %v", err)
	}
	return client
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)
	c := New(NewRedisBackend(client, ""), WithOpTimeout(time.Second))
	t.Cleanup(func() { c.Close() })

	// Unrelated keys survive a flush.
	require.NoError(t, client.Set(ctx, "other:key", "x", 0).Err())

	c.Set(ctx, alice, hit("cfg-1", model.Payload{"theme": map[string]any{"mode": "dark"}}), 0)
	c.Set(ctx, editor, Entry{Found: false}, 0)

	e, ok := c.Get(ctx, alice)
	require.True(t, ok)
	assert.Equal(t, "dark", e.Record.Payload["theme"].(map[string]any)["mode"])

	neg, ok := c.Get(ctx, editor)
	require.True(t, ok)
	assert.False(t, neg.Found)
	assert.Equal(t, 2, c.Stats(ctx).Size)

	ttl, err := client.TTL(ctx, DefaultRedisPrefix+alice.Key()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	c.Invalidate(ctx, alice)
	_, ok = c.Get(ctx, alice)
	assert.False(t, ok)

	c.InvalidateAll(ctx)
	assert.Equal(t, 0, c.Stats(ctx).Size)
	v, err := client.Get(ctx, "other:key").Result()
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}
