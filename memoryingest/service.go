// Package memoryingest implements spec.md §4.6: per-turn episode storage,
// asynchronous entity extraction with four-stage deduplication, bi-temporal
// relationship rewriting, and hierarchical window/meta summarization. It
// implements pipeline.IngestionQueue so Phase 12 can enqueue a turn without
// waiting on any of this work.
package memoryingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/embedgw"
	"github.com/turnkit/align/llmgw"
	"github.com/turnkit/align/pipeline"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/telemetry"
)

// jobContext is the subset of a pipeline.IngestionJob carried between a
// service's internal helpers, widened with the derived GroupID.
type jobContext struct {
	pipeline.IngestionJob
	GroupID string
}

// Service is a background worker pool processing pipeline.IngestionJob
// values (spec.md §5 "background tasks run on a separate worker pool").
// Construct with NewService; it must not be copied after first use.
type Service struct {
	Memory     store.MemoryRepository
	Embedder   embedgw.Embedder
	Extractor  llmgw.Generator
	Summarizer llmgw.Generator
	Model      string

	ExtractionConfig domain.EntityExtractionConfig
	DedupConfig      domain.DedupConfig
	Summarization    domain.SummarizationConfig

	Log   telemetry.Logger
	Clock func() time.Time

	dedup *Deduplicator
	jobs  chan jobContext
	wg    sync.WaitGroup
}

// NewService starts workerCount background goroutines draining an internal
// job queue of size queueSize. Enqueue never blocks the caller: when the
// queue is full the turn is dropped and an error returned, matching spec.md's "Enqueue must not block the caller on LLM or
// embedding I/O".
func NewService(memory store.MemoryRepository, emb embedgw.Embedder, extractor, summarizer llmgw.Generator, model string, extractionCfg domain.EntityExtractionConfig, dedupCfg domain.DedupConfig, summaryCfg domain.SummarizationConfig, log telemetry.Logger, clock func() time.Time, workerCount, queueSize int) *Service {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if clock == nil {
		clock = time.Now
	}
	if workerCount <= 0 {
		workerCount = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &Service{
		Memory: memory, Embedder: emb, Extractor: extractor, Summarizer: summarizer, Model: model,
		ExtractionConfig: extractionCfg, DedupConfig: dedupCfg, Summarization: summaryCfg,
		Log: log, Clock: clock,
		dedup: &Deduplicator{Memory: memory, Embedder: emb, Config: dedupCfg},
		jobs:  make(chan jobContext, queueSize),
	}
	s.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go s.worker()
	}
	return s
}

// Enqueue implements pipeline.IngestionQueue.
func (s *Service) Enqueue(ctx context.Context, job pipeline.IngestionJob) error {
	jc := jobContext{IngestionJob: job, GroupID: domain.GroupID(job.TenantID, job.SessionID)}
	select {
	case s.jobs <- jc:
		return nil
	default:
		return fmt.Errorf("memoryingest: queue full, dropping turn %s", job.TurnID)
	}
}

// Close stops accepting new jobs and blocks until every worker has drained
// the channel buffer and finished its in-flight job.
func (s *Service) Close() {
	close(s.jobs)
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for job := range s.jobs {
		s.process(context.Background(), job)
	}
}

func (s *Service) process(ctx context.Context, job jobContext) {
	episode := s.newEpisode(job, buildEpisodeContent(job), domain.ContentMessage)
	if err := s.embedAndSave(ctx, &episode); err != nil {
		s.Log.Warn(ctx, "memoryingest: save episode failed", "error", err, "turn_id", job.TurnID)
		return
	}

	if err := s.retrying(ctx, func() error { return s.ingestEntities(ctx, job, episode) }); err != nil {
		s.Log.Warn(ctx, "memoryingest: entity extraction failed", "error", err, "turn_id", job.TurnID)
	}
	if err := s.maybeSummarize(ctx, job); err != nil {
		s.Log.Warn(ctx, "memoryingest: summarization failed", "error", err, "turn_id", job.TurnID)
	}
}

// retrying applies bounded exponential backoff to a background task, the
// same resilience the tool gateway gives externally visible side effects
// (toolsgw.RetryingGateway) — here for idempotent, internally-visible work
// (spec.md §5 "declared idempotent: re-running with the same inputs
// produces the same outputs").
func (s *Service) retrying(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(fn, bo)
}

func (s *Service) newEpisode(job jobContext, content string, contentType domain.ContentType) domain.Episode {
	now := s.Clock()
	return domain.Episode{
		Timestamps:  domain.Timestamps{CreatedAt: now, UpdatedAt: now},
		TenantScope: domain.TenantScope{TenantID: job.TenantID, AgentID: job.AgentID},
		ID:          domain.NewID(),
		GroupID:     job.GroupID,
		Content:     content,
		ContentType: contentType,
		Source:      domain.SourceSystem,
		OccurredAt:  job.Now,
		RecordedAt:  now,
	}
}

func (s *Service) embedAndSave(ctx context.Context, episode *domain.Episode) error {
	if s.Embedder != nil {
		if vec, err := s.Embedder.Embed(ctx, episode.Content); err == nil {
			episode.Embedding = vec
		} else {
			s.Log.Warn(ctx, "memoryingest: embedding failed, storing without vector", "error", err)
		}
	}
	return s.Memory.SaveEpisode(ctx, *episode)
}

func buildEpisodeContent(job jobContext) string {
	return "User: " + job.UserMessage + "\nAgent: " + job.AgentResponse
}

func (s *Service) ingestEntities(ctx context.Context, job jobContext, episode domain.Episode) error {
	if s.Extractor == nil {
		return nil
	}
	result, err := extractEntities(ctx, s.Extractor, s.Model, episode.Content)
	if err != nil {
		return err
	}

	minConfidence := s.ExtractionConfig.MinConfidence
	byName := make(map[string]domain.Entity, len(result.Entities))
	var entityIDs []domain.ID
	for _, ext := range result.Entities {
		if ext.Confidence < minConfidence {
			continue
		}
		entity, err := resolveOrCreateEntity(ctx, s.Memory, s.dedup, job.TenantID, job.AgentID, ext, s.Clock())
		if err != nil {
			return err
		}
		byName[normalizeName(ext.Name)] = entity
		entityIDs = append(entityIDs, entity.ID)
	}

	for _, rel := range result.Relationships {
		if rel.Confidence < minConfidence {
			continue
		}
		if err := rewriteRelationship(ctx, s.Memory, job.TenantID, job.AgentID, rel, byName, s.Clock()); err != nil {
			return err
		}
	}

	if len(entityIDs) > 0 {
		episode.EntityIDs = entityIDs
		return s.Memory.SaveEpisode(ctx, episode)
	}
	return nil
}
