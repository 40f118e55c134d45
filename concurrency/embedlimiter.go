package concurrency

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/turnkit/align/embedgw"
)

// EmbedRateLimiter applies a fixed requests-per-second token bucket on top
// of an embedgw.Embedder, the embedding-pool counterpart to
// llmgw.RateLimiter (spec.md §5 "LLM/embedding clients are process-wide and
// internally rate-limited; the pipeline treats them as shared pools").
// Unlike llmgw.RateLimiter it does not AIMD-adjust its budget: embedding
// providers in this module's stack do not surface a distinguishable
// rate-limit error shape the way chat completion providers do, so a fixed
// budget is the honest simplification rather than a guessed backoff
// heuristic.
type EmbedRateLimiter struct {
	next    embedgw.Embedder
	limiter *rate.Limiter
}

// NewEmbedRateLimiter wraps next with a limiter allowing rps requests per
// second and a burst of the same size.
func NewEmbedRateLimiter(next embedgw.Embedder, rps float64) *EmbedRateLimiter {
	if rps <= 0 {
		rps = 50
	}
	return &EmbedRateLimiter{next: next, limiter: rate.NewLimiter(rate.Limit(rps), int(rps))}
}

func (l *EmbedRateLimiter) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Embed(ctx, text)
}

func (l *EmbedRateLimiter) Dimensions() int {
	return l.next.Dimensions()
}

var _ embedgw.Embedder = (*EmbedRateLimiter)(nil)
