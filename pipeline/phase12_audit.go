package pipeline

import (
	"context"
	"time"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/telemetry"
)

// IngestionJob is what Phase 12 enqueues for the asynchronous memory
// ingestion pipeline (spec.md §4.6): episode creation/embedding and the
// entity-extraction + summarization background tasks it schedules.
type IngestionJob struct {
	TenantID      domain.ID
	AgentID       domain.ID
	SessionID     domain.ID
	TurnID        domain.ID
	TurnNumber    int
	UserMessage   string
	AgentResponse string
	Now           time.Time
}

// IngestionQueue accepts a turn's episode content for asynchronous
// processing; Enqueue must not block the caller on LLM or embedding I/O.
type IngestionQueue interface {
	Enqueue(ctx context.Context, job IngestionJob) error
}

// AuditRecorder is Phase 12: it writes the immutable TurnRecord, emits
// AuditEvents for every skipped phase and enforcement violation, and
// enqueues memory ingestion. It is best-effort: none of its failures
// propagate back to the caller, since the response was already decided by
// Phase 9 (spec.md §4.1, §7 "best-effort, never blocks return").
type AuditRecorder struct {
	Audit     store.AuditRepository
	Ingestion IngestionQueue
	Log       telemetry.Logger
}

func NewAuditRecorder(audit store.AuditRepository, ingestion IngestionQueue, log telemetry.Logger) *AuditRecorder {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &AuditRecorder{Audit: audit, Ingestion: ingestion, Log: log}
}

func (a *AuditRecorder) Name() string            { return "audit_memory_ingestion" }
func (a *AuditRecorder) FailureMode() FailureMode { return FailSkip }

func (a *AuditRecorder) Run(ctx context.Context, ws *TurnWorkingSet) error {
	rec := domain.TurnRecord{
		Timestamps:    domain.Timestamps{CreatedAt: ws.Now, UpdatedAt: ws.Now},
		TenantScope:   domain.TenantScope{TenantID: ws.TenantID, AgentID: ws.AgentID},
		ID:            ws.TurnID,
		SessionID:     ws.Session.ID,
		TurnNumber:    ws.TurnNumber,
		UserMessage:   ws.Message,
		Response:      ws.CandidateResponse,
		MatchedRules:  ws.MatchedRules,
		ToolsCalled:   ws.ToolResults,
		ScenarioState: domain.ScenarioState{ScenarioID: ws.Session.ActiveScenarioID, StepID: ws.Session.ActiveStepID},
		TokensUsed:    ws.TokensUsed,
		Timings:       ws.Timings,
		Passed:        ws.EnforcementPassed,
		FallbackUsed:  ws.FallbackUsed,
	}
	if a.Audit != nil {
		if err := a.Audit.SaveTurnRecord(ctx, rec); err != nil {
			a.Log.Warn(ctx, "audit_memory_ingestion: save turn record failed", "error", err)
		}
		for _, t := range ws.Timings {
			if !t.Skipped {
				continue
			}
			a.emitEvent(ctx, ws, domain.AuditEventPhaseSkipped, t.Name+": "+t.SkipReason, map[string]any{"phase": t.Name})
		}
		for _, v := range ws.EnforcementViolations {
			a.emitEvent(ctx, ws, domain.AuditEventViolation, v, nil)
		}
	}

	if a.Ingestion != nil {
		job := IngestionJob{
			TenantID:      ws.TenantID,
			AgentID:       ws.AgentID,
			SessionID:     ws.Session.ID,
			TurnID:        ws.TurnID,
			TurnNumber:    ws.TurnNumber,
			UserMessage:   ws.Message,
			AgentResponse: ws.CandidateResponse,
			Now:           ws.Now,
		}
		if err := a.Ingestion.Enqueue(ctx, job); err != nil {
			a.Log.Warn(ctx, "audit_memory_ingestion: enqueue failed", "error", err)
		}
	}
	return nil
}

func (a *AuditRecorder) emitEvent(ctx context.Context, ws *TurnWorkingSet, kind domain.AuditEventKind, msg string, fields map[string]any) {
	ev := domain.AuditEvent{
		Timestamps:  domain.Timestamps{CreatedAt: ws.Now, UpdatedAt: ws.Now},
		TenantScope: domain.TenantScope{TenantID: ws.TenantID, AgentID: ws.AgentID},
		ID:          domain.NewID(),
		SessionID:   ws.Session.ID,
		TurnID:      ws.TurnID,
		Kind:        kind,
		Message:     msg,
		Fields:      fields,
	}
	if err := a.Audit.SaveAuditEvent(ctx, ev); err != nil {
		a.Log.Warn(ctx, "audit_memory_ingestion: save audit event failed", "error", err)
	}
}
