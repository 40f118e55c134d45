// Package embedgw provides a provider-agnostic embedding client with
// primary→fallback failover, used by memory ingestion's entity dedup
// pipeline and retrieval's vector search (spec.md §4.6, §6).
package embedgw

import (
	"context"
	"errors"
	"time"
)

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// ErrEmbedderRequired indicates FailoverEmbedder was constructed without a
// primary embedder.
var ErrEmbedderRequired = errors.New("embedgw: primary embedder is required")

// FailoverEmbedder wraps a primary Embedder with a bounded timeout and an
// optional fallback, matching spec.md §4.6's "embedding calls degrade to a
// fallback provider within the phase's budget rather than blocking the
// turn" requirement. Fallback is skipped and the primary's own error is
// returned when Fallback is nil.
type FailoverEmbedder struct {
	Primary  Embedder
	Fallback Embedder
	Budget   time.Duration
}

// NewFailoverEmbedder constructs a FailoverEmbedder. budget defaults to
// 500ms (the pipeline's default embedding_budget, see domain.DefaultPipelineConfig)
// when zero.
func NewFailoverEmbedder(primary, fallback Embedder, budget time.Duration) (*FailoverEmbedder, error) {
	if primary == nil {
		return nil, ErrEmbedderRequired
	}
	if budget <= 0 {
		budget = 500 * time.Millisecond
	}
	return &FailoverEmbedder{Primary: primary, Fallback: fallback, Budget: budget}, nil
}

func (f *FailoverEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Budget)
	defer cancel()

	vec, err := f.Primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	if f.Fallback == nil {
		return nil, err
	}
	return f.Fallback.Embed(ctx, text)
}

func (f *FailoverEmbedder) Dimensions() int {
	return f.Primary.Dimensions()
}
