package concurrency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dims  int
	calls int
	err   error
}

func (e *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return make([]float32, e.dims), nil
}

func (e *fakeEmbedder) Dimensions() int { return e.dims }

func TestEmbedRateLimiterDelegatesEmbed(t *testing.T) {
	fe := &fakeEmbedder{dims: 4}
	l := NewEmbedRateLimiter(fe, 100)

	vec, err := l.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 1, fe.calls)
	assert.Equal(t, 4, l.Dimensions())
}

func TestEmbedRateLimiterPropagatesError(t *testing.T) {
	wantErr := errors.New("embedding provider down")
	fe := &fakeEmbedder{dims: 4, err: wantErr}
	l := NewEmbedRateLimiter(fe, 100)

	_, err := l.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, wantErr)
}

func TestEmbedRateLimiterBoundsThroughput(t *testing.T) {
	fe := &fakeEmbedder{dims: 1}
	l := NewEmbedRateLimiter(fe, 5) // 5 rps, burst 5

	start := time.Now()
	for i := 0; i < 7; i++ {
		_, err := l.Embed(context.Background(), "x")
		require.NoError(t, err)
	}
	elapsed := time.Since(start)
	assert.Greater(t, elapsed, 100*time.Millisecond, "expected the 6th/7th call to wait once the burst is exhausted")
}

func TestEmbedRateLimiterRespectsContextCancellation(t *testing.T) {
	fe := &fakeEmbedder{dims: 1}
	l := NewEmbedRateLimiter(fe, 1) // burst 1

	_, err := l.Embed(context.Background(), "x") // consumes the only token
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Embed(ctx, "y")
	assert.Error(t, err)
}
