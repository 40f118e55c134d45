package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/turnkit/align/store"
)

// TestIdempotencyCacheLayeringProperty verifies spec.md §8 property 8: the
// NEW->PROCESSING transition for the same (layer, key) succeeds for exactly
// one caller under contention, regardless of how many goroutines race it or
// what the key itself looks like.
func TestIdempotencyCacheLayeringProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one contender observes StatusNew for a contended key", prop.ForAll(
		func(key string, contenders int) bool {
			cache := newTestIdempotencyCache(t)
			ctx := context.Background()

			var newCount int64
			var wg sync.WaitGroup
			start := make(chan struct{})
			wg.Add(contenders)
			for i := 0; i < contenders; i++ {
				go func() {
					defer wg.Done()
					<-start
					status, _, err := cache.CheckAndMark(ctx, store.LayerTurn, key, time.Minute)
					if err != nil {
						return
					}
					if status == store.StatusNew {
						atomic.AddInt64(&newCount, 1)
					}
				}()
			}
			close(start)
			wg.Wait()

			return atomic.LoadInt64(&newCount) == 1
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.IntRange(2, 12),
	))

	properties.TestingRun(t)
}
