// Package align wires the turn pipeline, migration engine, enforcement,
// memory ingestion, and concurrency packages into the single
// ProcessTurn/ProcessTurnStream API spec.md §6 describes.
package align

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turnkit/align/concurrency"
	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/embedgw"
	"github.com/turnkit/align/enforcement"
	"github.com/turnkit/align/llmgw"
	"github.com/turnkit/align/memoryingest"
	"github.com/turnkit/align/migration"
	"github.com/turnkit/align/pipeline"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/store/inmem"
	"github.com/turnkit/align/telemetry"
	"github.com/turnkit/align/toolsgw"
)

// Models names the chat-completion model to use for each phase that calls
// a Generator or Judge. All fields are required except Sensor, Judge and
// Extraction, which default to Generation's model when empty. Summarization
// is not read: memory ingestion uses the Extraction model for both entity
// extraction and summarization.
type Models struct {
	Generation   string
	Sensor       string
	Judge        string
	Extraction   string
	Summarization string
}

// Deps wires every collaborator the turn pipeline, migration engine,
// enforcement, and memory ingestion need. Repositories are required;
// everything else has a workable single-instance default when left zero.
type Deps struct {
	Config        store.ConfigRepository
	Sessions      store.SessionRepository
	Interlocutors store.InterlocutorRepository
	Memory        store.MemoryRepository
	Audit         store.AuditRepository

	Generator llmgw.Generator
	Judge     llmgw.Judge // defaults to llmgw.NewGeneratorJudge(Generator) when nil
	Embedder  embedgw.Embedder
	Tools     toolsgw.Gateway

	Models Models

	Identities  pipeline.IdentityResolver // defaults to DefaultIdentityResolver{}
	Locker      concurrency.Locker        // defaults to concurrency.NewInProcessLocker()
	Idempotency store.IdempotencyCache    // defaults to store/inmem's IdempotencyCache

	Log   telemetry.Logger
	Clock func() time.Time

	IngestionWorkers   int // default 4
	IngestionQueueSize int // default 256
}

// Service is the assembled turn pipeline exposed through ProcessTurn and
// ProcessTurnStream.
type Service struct {
	pipeline    *pipeline.Pipeline
	migrations  *migration.Executor
	ingestion   *memoryingest.Service
	locker      concurrency.Locker
	idempotency store.IdempotencyCache
	clock       func() time.Time
	log         telemetry.Logger
}

// NewService assembles a Service from deps. The pipeline order and phase
// failure modes are fixed (spec.md §4.1's table); only the collaborators
// behind each phase vary.
func NewService(deps Deps) (*Service, error) {
	if deps.Config == nil || deps.Sessions == nil || deps.Interlocutors == nil || deps.Memory == nil || deps.Audit == nil {
		return nil, fmt.Errorf("align: Config, Sessions, Interlocutors, Memory, and Audit repositories are required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("align: Generator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Log
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	judge := deps.Judge
	if judge == nil {
		judge = llmgw.NewGeneratorJudge(deps.Generator)
	}
	identities := deps.Identities
	if identities == nil {
		identities = DefaultIdentityResolver{}
	}
	locker := deps.Locker
	if locker == nil {
		locker = concurrency.NewInProcessLocker()
	}

	composite := migration.NewCompositeMapper(deps.Config)
	// Extractor left nil: MissingFieldResolver.ExtractField's interface
	// takes only a session ID (spec.md §4.5), but every store method needs
	// a tenant ID too, so a generic conversation-extraction implementation
	// would have to guess tenant scope. Resolution falls back to profile
	// fields only (DESIGN.md).
	resolver := migration.NewMissingFieldResolver(deps.Interlocutors, nil)
	migrations := migration.NewExecutor(deps.Config, deps.Sessions, composite, resolver, log)

	workers, queueSize := deps.IngestionWorkers, deps.IngestionQueueSize
	ingestion := memoryingest.NewService(
		deps.Memory, deps.Embedder, deps.Generator, deps.Generator,
		modelOrDefault(deps.Models.Extraction, deps.Models.Generation),
		domain.EntityExtractionConfig{MinConfidence: 0.6},
		domain.DedupConfig{FuzzyThreshold: 0.90, EmbeddingThreshold: 0.85},
		domain.SummarizationConfig{TurnsPerSummary: 10, SummariesPerMeta: 5, EnabledAtTurnCount: 10},
		log, clock, workers, queueSize,
	)

	enforcer := enforcement.NewEnforcer(deps.Config, judge, domain.EnforcementConfig{MaxRetries: 2, AlwaysEnforceGlobal: true}, log)

	contextLoader := pipeline.NewContextLoader(deps.Sessions, deps.Config, deps.Interlocutors, identities, migrations, clock, log)
	sensor := pipeline.NewSituationalSensor(deps.Generator, modelOrDefault(deps.Models.Sensor, deps.Models.Generation), log)
	interlocutorUpdate := pipeline.NewInterlocutorUpdater(log)
	retriever := pipeline.NewRetriever(deps.Config, deps.Embedder, log)
	filterer := pipeline.NewFilterer(deps.Config, judge, modelOrDefault(deps.Models.Judge, deps.Models.Generation), log)
	gapFill := pipeline.NewGapFillPlanner(resolver, log)
	beforeDuring := pipeline.NewBeforeDuringExecutor(deps.Tools, log)
	generator := pipeline.NewGenerator(deps.Config, deps.Generator, deps.Models.Generation, log)
	enforcementPhase := pipeline.NewEnforcementPhase(deps.Config, enforcer, deps.Generator, deps.Models.Generation, log)
	after := pipeline.NewAfterExecutor(deps.Tools, log)
	persister := pipeline.NewPersister(deps.Sessions, deps.Interlocutors, log)
	auditor := pipeline.NewAuditRecorder(deps.Audit, ingestion, log)

	p := pipeline.NewDefaultPipeline(
		contextLoader, sensor, interlocutorUpdate, retriever, filterer, gapFill,
		beforeDuring, generator, enforcementPhase, after, persister, auditor,
		clock, log,
	)

	idempotency := deps.Idempotency
	if idempotency == nil {
		idempotency = inmem.NewIdempotencyCache(clock)
	}

	return &Service{
		pipeline: p, migrations: migrations, ingestion: ingestion,
		locker: locker, idempotency: idempotency, clock: clock, log: log,
	}, nil
}

// Close drains the memory-ingestion worker pool, blocking until every
// in-flight job finishes.
func (s *Service) Close() {
	s.log.Info(context.Background(), "align: shutting down, draining memory ingestion queue")
	s.ingestion.Close()
}

// Migrations exposes the scenario-migration executor ContextLoader
// otherwise runs internally, for operators that need to trigger or inspect
// reconciliation directly (e.g. an admin endpoint re-running migration for
// a parked session).
func (s *Service) Migrations() *migration.Executor {
	return s.migrations
}

// Request is ProcessTurn's input (spec.md §6).
type Request struct {
	TenantID       domain.ID
	AgentID        domain.ID
	Channel        string
	ChannelUserID  string
	Message        string
	SessionID      *domain.ID
	Metadata       map[string]any
	IdempotencyKey string
}

// ErrTurnInFlight is returned when a request's IdempotencyKey matches a
// turn this (or another) instance is still processing.
var ErrTurnInFlight = fmt.Errorf("align: a turn with this idempotency key is already in flight")

const apiIdempotencyTTL = 300 * time.Second

// ProcessTurn runs the full twelve-phase pipeline for one inbound message,
// holding the turn's session-scoped lock for its duration (spec.md §5
// "parallel workers with per-session serial execution").
func (s *Service) ProcessTurn(ctx context.Context, req Request) (domain.AlignmentResult, error) {
	if req.IdempotencyKey != "" && s.idempotency != nil {
		status, cached, err := s.idempotency.CheckAndMark(ctx, store.LayerAPI, req.IdempotencyKey, apiIdempotencyTTL)
		if err != nil {
			return domain.AlignmentResult{}, fmt.Errorf("align: idempotency check: %w", err)
		}
		switch status {
		case store.StatusComplete:
			var result domain.AlignmentResult
			if err := json.Unmarshal(cached, &result); err != nil {
				return domain.AlignmentResult{}, fmt.Errorf("align: decode cached result: %w", err)
			}
			return result, nil
		case store.StatusProcessing:
			return domain.AlignmentResult{}, ErrTurnInFlight
		}
	}

	lockKey := req.lockKey()
	unlock, err := s.locker.Lock(ctx, lockKey)
	if err != nil {
		return domain.AlignmentResult{}, fmt.Errorf("align: acquire session lock: %w", err)
	}
	defer unlock()

	result, err := s.runPipeline(ctx, req)
	if err != nil {
		if req.IdempotencyKey != "" && s.idempotency != nil {
			s.idempotency.Release(ctx, store.LayerAPI, req.IdempotencyKey)
		}
		return domain.AlignmentResult{}, err
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if encoded, err := json.Marshal(result); err == nil {
			s.idempotency.MarkComplete(ctx, store.LayerAPI, req.IdempotencyKey, encoded, apiIdempotencyTTL)
		}
	}
	return result, nil
}

func (s *Service) runPipeline(ctx context.Context, req Request) (domain.AlignmentResult, error) {
	msg := pipeline.InboundMessage{
		TenantID: req.TenantID, AgentID: req.AgentID, Channel: req.Channel, ChannelUserID: req.ChannelUserID,
		Content: req.Message, Metadata: req.Metadata, SessionID: req.SessionID, IdempotencyKey: req.IdempotencyKey,
	}
	ws := pipeline.NewTurnWorkingSet(msg)
	if err := s.pipeline.Run(ctx, ws); err != nil {
		return domain.AlignmentResult{}, fmt.Errorf("align: pipeline run: %w", err)
	}

	result := domain.AlignmentResult{
		TurnID: ws.TurnID, Response: ws.CandidateResponse, MatchedRules: ws.MatchedRules,
		ToolsCalled: ws.ToolResults, TokensUsed: ws.TokensUsed,
		Timings: ws.Timings, Passed: ws.EnforcementPassed, FallbackUsed: ws.FallbackUsed,
	}
	if ws.Session != nil {
		result.SessionID = ws.Session.ID
		result.ScenarioState = domain.ScenarioState{ScenarioID: ws.Session.ActiveScenarioID, StepID: ws.Session.ActiveStepID}
	}
	var total int64
	for _, t := range ws.Timings {
		total += t.DurationMS
	}
	result.LatencyMS = total
	return result, nil
}

// lockKey picks the session-scoped lock identity: the caller-supplied
// SessionID when present, otherwise a deterministic UUID derived from the
// routing identity so two concurrent first turns from the same channel
// user still serialize (spec.md §5 "per-session serial execution") even
// before a session row exists to key on.
func (r Request) lockKey() domain.ID {
	if r.SessionID != nil {
		return *r.SessionID
	}
	name := r.TenantID.String() + "/" + r.AgentID.String() + "/" + r.Channel + "/" + r.ChannelUserID
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

func modelOrDefault(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}
