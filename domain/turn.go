package domain

import "time"

// PhaseTiming records one phase's execution window, attached to the
// AlignmentResult for observability (spec.md §4.1).
type PhaseTiming struct {
	Name       string
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMS int64
	Skipped    bool
	SkipReason string
}

// MatchedRule is a rule that survived retrieval and LLM-judge filtering
// (spec.md §4.1 "Filtering").
type MatchedRule struct {
	RuleID         ID
	RelevanceScore float64
	Rationale      string
	FinalScore     float64
	Priority       int
}

// ToolCallRecord summarizes one tool invocation for observability.
type ToolCallRecord struct {
	ToolID   string
	Phase    BindingPhase
	Success  bool
	Error    string
	Duration time.Duration
}

// ScenarioState summarizes where a session ended a turn, for AlignmentResult.
type ScenarioState struct {
	ScenarioID *ID
	StepID     *ID
}

// TurnRecord is an immutable audit record of one processed turn. Once
// written, it must never be mutated (spec.md §8 property 10).
type TurnRecord struct {
	Timestamps
	TenantScope

	ID            ID
	SessionID     ID
	TurnNumber    int
	UserMessage   string
	Response      string
	MatchedRules  []MatchedRule
	ToolsCalled   []ToolCallRecord
	ScenarioState ScenarioState
	TokensUsed    int
	LatencyMS     int64
	Timings       []PhaseTiming
	Passed        bool
	FallbackUsed  bool
}

// AuditEventKind enumerates the categories of best-effort audit events
// emitted during Phase 12.
type AuditEventKind string

const (
	AuditEventPhaseSkipped    AuditEventKind = "phase_skipped"
	AuditEventViolation       AuditEventKind = "constraint_violation"
	AuditEventMigration       AuditEventKind = "migration"
	AuditEventDedup           AuditEventKind = "entity_dedup"
	AuditEventSummarization   AuditEventKind = "summarization"
	AuditEventToolFailure     AuditEventKind = "tool_failure"
)

// AuditEvent is an immutable, append-only observability record.
type AuditEvent struct {
	Timestamps
	TenantScope

	ID        ID
	SessionID ID
	TurnID    ID
	Kind      AuditEventKind
	Message   string
	Fields    map[string]any
}

// AlignmentResult is the contract returned by ProcessTurn (spec.md §6).
type AlignmentResult struct {
	TurnID        ID
	SessionID     ID
	Response      string
	MatchedRules  []MatchedRule
	ScenarioState ScenarioState
	ToolsCalled   []ToolCallRecord
	TokensUsed    int
	LatencyMS     int64
	Timings       []PhaseTiming
	Passed        bool
	FallbackUsed  bool
}
