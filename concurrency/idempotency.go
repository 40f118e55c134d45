package concurrency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turnkit/align/store"
)

// IdempotencyCache is a Redis-backed store.IdempotencyCache, the
// multi-instance counterpart to store/inmem's single-process map (spec.md
// §4.7, §8 property 8). Each (layer, key) maps to one Redis key holding a
// small JSON envelope; atomicity of the NEW->PROCESSING transition comes
// directly from Redis SET NX, the same primitive RedisLocker and the
// retrieval pack's redis_task_store.go SetNX-backed claim use.
type IdempotencyCache struct {
	Client *redis.Client
	Prefix string
}

// NewIdempotencyCache wires a Redis client. prefix namespaces keys (e.g.
// "align:idem:") and defaults to "idem:" when empty.
func NewIdempotencyCache(client *redis.Client, prefix string) *IdempotencyCache {
	if prefix == "" {
		prefix = "idem:"
	}
	return &IdempotencyCache{Client: client, Prefix: prefix}
}

type envelope struct {
	Status store.IdempotencyStatus `json:"status"`
	Result []byte                  `json:"result,omitempty"`
}

func (c *IdempotencyCache) redisKey(layer store.IdempotencyLayer, key string) string {
	return c.Prefix + string(layer) + ":" + key
}

func (c *IdempotencyCache) CheckAndMark(ctx context.Context, layer store.IdempotencyLayer, key string, ttl time.Duration) (store.IdempotencyStatus, []byte, error) {
	rk := c.redisKey(layer, key)
	processing, err := json.Marshal(envelope{Status: store.StatusProcessing})
	if err != nil {
		return "", nil, err
	}

	ok, err := c.Client.SetNX(ctx, rk, processing, ttl).Result()
	if err != nil {
		return "", nil, err
	}
	if ok {
		return store.StatusNew, nil, nil
	}

	raw, err := c.Client.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SetNX's failure and our Get; treat as fresh.
		return store.StatusNew, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	return env.Status, env.Result, nil
}

func (c *IdempotencyCache) MarkComplete(ctx context.Context, layer store.IdempotencyLayer, key string, result []byte, ttl time.Duration) error {
	env, err := json.Marshal(envelope{Status: store.StatusComplete, Result: result})
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, c.redisKey(layer, key), env, ttl).Err()
}

func (c *IdempotencyCache) Release(ctx context.Context, layer store.IdempotencyLayer, key string) error {
	return c.Client.Del(ctx, c.redisKey(layer, key)).Err()
}

var _ store.IdempotencyCache = (*IdempotencyCache)(nil)
