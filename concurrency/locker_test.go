package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
)

func TestInProcessLockerSerializesSameSession(t *testing.T) {
	l := NewInProcessLocker()
	sessionID := domain.NewID()

	var active int32
	var maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), sessionID)
			require.NoError(t, err)
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive, "expected at most one holder of the same session lock at a time")
}

func TestInProcessLockerDifferentSessionsRunConcurrently(t *testing.T) {
	l := NewInProcessLocker()
	a, b := domain.NewID(), domain.NewID()

	unlockA, err := l.Lock(context.Background(), a)
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(context.Background(), b)
		require.NoError(t, err)
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different session blocked unexpectedly")
	}
}

func TestInProcessLockerRespectsContextCancellation(t *testing.T) {
	l := NewInProcessLocker()
	sessionID := domain.NewID()

	unlock, err := l.Lock(context.Background(), sessionID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, sessionID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newTestRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, "instance-1", 2*time.Second), mr
}

func TestRedisLockerAcquireAndRelease(t *testing.T) {
	l, mr := newTestRedisLocker(t)
	sessionID := domain.NewID()

	unlock, err := l.Lock(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockKey(sessionID)))

	unlock()
	assert.False(t, mr.Exists(lockKey(sessionID)))
}

func TestRedisLockerBlocksSecondClaimant(t *testing.T) {
	l, _ := newTestRedisLocker(t)
	sessionID := domain.NewID()

	unlock, err := l.Lock(context.Background(), sessionID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, sessionID)
	assert.Error(t, err, "expected second claimant to time out while the lock is held")

	unlock()
}

func TestRedisLockerRenewExtendsTTL(t *testing.T) {
	l, mr := newTestRedisLocker(t)
	sessionID := domain.NewID()

	unlock, err := l.Lock(context.Background(), sessionID)
	require.NoError(t, err)
	defer unlock()

	mr.FastForward(time.Second)
	require.NoError(t, l.Renew(context.Background(), sessionID))
	assert.True(t, mr.Exists(lockKey(sessionID)))
}
