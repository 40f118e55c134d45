// Package concurrency provides the per-session serialization, idempotency,
// channel normalization, and shared-pool rate limiting spec.md §5 and §6
// describe: a worker holds a session-scoped lock for the full turn so two
// turns for the same session never execute concurrently, while different
// sessions progress in parallel.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turnkit/align/domain"
)

// Locker acquires a session-scoped lock for the duration of one turn.
// Unlock must be called exactly once per successful Lock, typically via
// defer immediately after a successful acquisition.
type Locker interface {
	// Lock blocks until the session's lock is held or ctx is done. The
	// returned func releases it.
	Lock(ctx context.Context, sessionID domain.ID) (unlock func(), err error)
}

// InProcessLocker is a keyed mutex-per-session lock manager suitable for a
// single-instance deployment (spec.md §5 "local for single-instance").
// Mutexes are created lazily and never removed, so a small amount of memory
// is kept per session ever seen. Every Lock call takes the map mutex briefly
// to look up or create the session's mutex.
type InProcessLocker struct {
	mu    sync.Mutex
	locks map[domain.ID]*sync.Mutex
}

// NewInProcessLocker returns an empty InProcessLocker.
func NewInProcessLocker() *InProcessLocker {
	return &InProcessLocker{locks: make(map[domain.ID]*sync.Mutex)}
}

func (l *InProcessLocker) Lock(ctx context.Context, sessionID domain.ID) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	if m.TryLock() {
		return m.Unlock, nil
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if m.TryLock() {
				return m.Unlock, nil
			}
		}
	}
}

// RedisLocker is a cluster-wide distributed lock on `lock:{session_id}`
// (spec.md §5 "cluster-wide via a short-lived distributed lock... for
// multi-instance"), grounded on the SETNX-claim + Lua-check-and-delete
// pattern used for multi-pod checkpoint claims in the retrieval pack
// (orchestration/hitl_checkpoint_store.go's claimExpiredCheckpoint /
// releaseExpiredCheckpointClaim).
type RedisLocker struct {
	Client     *redis.Client
	InstanceID string
	TTL        time.Duration
}

// NewRedisLocker constructs a RedisLocker. ttl defaults to 30s when zero;
// instanceID should be unique per process replica (e.g. hostname+pid).
func NewRedisLocker(client *redis.Client, instanceID string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{Client: client, InstanceID: instanceID, TTL: ttl}
}

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Lock polls SET NX PX until it acquires the lock or ctx is done. Renewal
// of long-running turns is the caller's responsibility (spec.md "Lock TTL
// >= deadline; renewed on long phases") via RedisLocker.Renew.
func (l *RedisLocker) Lock(ctx context.Context, sessionID domain.ID) (func(), error) {
	key := lockKey(sessionID)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := l.Client.SetNX(ctx, key, l.InstanceID, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("concurrency: redis lock %s: %w", key, err)
		}
		if ok {
			return func() {
				l.Client.Eval(context.Background(), releaseLockScript, []string{key}, l.InstanceID)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Renew extends a held lock's TTL; callers invoke this from a long-running
// phase to avoid losing the lock mid-turn.
func (l *RedisLocker) Renew(ctx context.Context, sessionID domain.ID) error {
	return l.Client.Expire(ctx, lockKey(sessionID), l.TTL).Err()
}

func lockKey(sessionID domain.ID) string {
	return "lock:" + sessionID.String()
}

var (
	_ Locker = (*InProcessLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
