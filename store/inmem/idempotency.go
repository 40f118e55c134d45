package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/turnkit/align/store"
)

type idemEntry struct {
	status  store.IdempotencyStatus
	result  []byte
	expires time.Time
}

type idemKey struct {
	layer store.IdempotencyLayer
	key   string
}

// IdempotencyCache is an in-memory store.IdempotencyCache. CheckAndMark is
// atomic under a single mutex, so exactly one caller observes StatusNew for
// contending requests on the same (layer, key) (spec.md §8 property 8). A
// distributed deployment swaps this for the Redis-backed implementation in
// concurrency.IdempotencyCache.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[idemKey]idemEntry
	now     func() time.Time
}

// NewIdempotencyCache returns an empty cache. now defaults to time.Now if
// nil (tests may override it for deterministic expiry checks).
func NewIdempotencyCache(now func() time.Time) *IdempotencyCache {
	if now == nil {
		now = time.Now
	}
	return &IdempotencyCache{entries: make(map[idemKey]idemEntry), now: now}
}

func (c *IdempotencyCache) CheckAndMark(_ context.Context, layer store.IdempotencyLayer, key string, ttl time.Duration) (store.IdempotencyStatus, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := idemKey{layer, key}
	now := c.now()
	if e, ok := c.entries[k]; ok && e.expires.After(now) {
		return e.status, e.result, nil
	}

	c.entries[k] = idemEntry{status: store.StatusProcessing, expires: now.Add(ttl)}
	return store.StatusNew, nil, nil
}

func (c *IdempotencyCache) MarkComplete(_ context.Context, layer store.IdempotencyLayer, key string, result []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := idemKey{layer, key}
	c.entries[k] = idemEntry{status: store.StatusComplete, result: result, expires: c.now().Add(ttl)}
	return nil
}

func (c *IdempotencyCache) Release(_ context.Context, layer store.IdempotencyLayer, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, idemKey{layer, key})
	return nil
}
