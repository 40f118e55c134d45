package llmgw

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter applies an AIMD-style token bucket, estimated in output
// tokens per minute, on top of a Generator. It blocks callers until budget
// is available and backs off its effective budget when a completion error
// looks like a provider rate-limit rejection. Process-local: one instance
// per deployed replica, shared across all sessions pulling from the same
// provider account (spec.md §4.7 "LLM call budgets are pooled per
// provider, not per session").
type RateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64
}

// NewRateLimiter constructs a RateLimiter with an initial tokens-per-minute
// budget and an upper bound. maxTPM is clamped to initialTPM if smaller.
func NewRateLimiter(initialTPM, maxTPM float64) *RateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM: initialTPM,
		minTPM:     minTPM,
		maxTPM:     maxTPM,
	}
}

// Wrap returns a Generator that enforces the limiter's budget around next.
func (l *RateLimiter) Wrap(next Generator) Generator {
	if next == nil {
		return nil
	}
	return &limitedGenerator{next: next, limiter: l}
}

func (l *RateLimiter) reserve(ctx context.Context, estTokens int) error {
	if estTokens <= 0 {
		estTokens = 1
	}
	return l.limiter.WaitN(ctx, estTokens)
}

// backoff halves the effective budget, floored at minTPM, in response to a
// provider-reported rate-limit error.
func (l *RateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentTPM = max(l.currentTPM/2, l.minTPM)
	l.limiter.SetLimit(rate.Limit(l.currentTPM / 60.0))
}

// recover grows the effective budget by 5%, capped at maxTPM, after a
// successful call.
func (l *RateLimiter) recover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentTPM = min(l.currentTPM*1.05, l.maxTPM)
	l.limiter.SetLimit(rate.Limit(l.currentTPM / 60.0))
}

func looksRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}

// estimateTokens is a coarse heuristic (≈4 characters per token) used when
// the request carries no explicit MaxTokens hint, matching the estimator
// every provider SDK in this package otherwise leaves to the caller.
func estimateTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return max(chars/4, 1)
}

type limitedGenerator struct {
	next    Generator
	limiter *RateLimiter
}

func (g *limitedGenerator) Complete(ctx context.Context, req Request) (Response, error) {
	if err := g.limiter.reserve(ctx, estimateTokens(req)); err != nil {
		return Response{}, err
	}
	resp, err := g.next.Complete(ctx, req)
	if looksRateLimited(err) {
		g.limiter.backoff()
	} else if err == nil {
		g.limiter.recover()
	}
	return resp, err
}

func (g *limitedGenerator) Stream(ctx context.Context, req Request) (Streamer, error) {
	if err := g.limiter.reserve(ctx, estimateTokens(req)); err != nil {
		return nil, err
	}
	s, err := g.next.Stream(ctx, req)
	if looksRateLimited(err) {
		g.limiter.backoff()
	}
	return s, err
}
