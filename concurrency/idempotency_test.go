package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/store"
)

func newTestIdempotencyCache(t *testing.T) *IdempotencyCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewIdempotencyCache(client, "align:idem:")
}

func TestIdempotencyCacheFirstCheckIsNew(t *testing.T) {
	c := newTestIdempotencyCache(t)

	status, result, err := c.CheckAndMark(context.Background(), store.LayerAPI, "key-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, store.StatusNew, status)
	assert.Nil(t, result)
}

func TestIdempotencyCacheSecondCheckIsProcessing(t *testing.T) {
	c := newTestIdempotencyCache(t)
	ctx := context.Background()

	_, _, err := c.CheckAndMark(ctx, store.LayerAPI, "key-1", time.Minute)
	require.NoError(t, err)

	status, _, err := c.CheckAndMark(ctx, store.LayerAPI, "key-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessing, status)
}

func TestIdempotencyCacheMarkCompleteThenCheckReturnsResult(t *testing.T) {
	c := newTestIdempotencyCache(t)
	ctx := context.Background()

	_, _, err := c.CheckAndMark(ctx, store.LayerAPI, "key-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.MarkComplete(ctx, store.LayerAPI, "key-1", []byte(`{"ok":true}`), time.Minute))

	status, result, err := c.CheckAndMark(ctx, store.LayerAPI, "key-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, store.StatusComplete, status)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestIdempotencyCacheReleaseAllowsRetry(t *testing.T) {
	c := newTestIdempotencyCache(t)
	ctx := context.Background()

	_, _, err := c.CheckAndMark(ctx, store.LayerAPI, "key-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, store.LayerAPI, "key-1"))

	status, _, err := c.CheckAndMark(ctx, store.LayerAPI, "key-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, store.StatusNew, status, "expected released key to look fresh again")
}

func TestIdempotencyCacheLayersAreIndependent(t *testing.T) {
	c := newTestIdempotencyCache(t)
	ctx := context.Background()

	_, _, err := c.CheckAndMark(ctx, store.LayerAPI, "shared-key", time.Minute)
	require.NoError(t, err)

	status, _, err := c.CheckAndMark(ctx, store.LayerTool, "shared-key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, store.StatusNew, status, "expected the same key in a different layer to be independent")
}
