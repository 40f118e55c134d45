// Package migration implements JIT scenario-version reconciliation: when a
// session's cached scenario_checksum no longer matches the currently
// published scenario version, Executor.Reconcile decides whether
// to silently teleport the session, collect missing fields first, re-route
// around a newly inserted fork, or exit the scenario outright.
package migration

import "github.com/turnkit/align/domain"

// ReconciliationAction is the outcome kind of a Reconcile call.
type ReconciliationAction string

const (
	ActionContinue ReconciliationAction = "CONTINUE"
	ActionTeleport ReconciliationAction = "TELEPORT"
	ActionCollect  ReconciliationAction = "COLLECT"
	ActionExit     ReconciliationAction = "EXIT_SCENARIO"
)

// ReconciliationResult is what Reconcile returns to the turn pipeline's
// context-loading phase (Phase 1), which stores it in the turn context.
type ReconciliationResult struct {
	Action ReconciliationAction

	TargetStepID   *domain.ID
	TeleportReason string

	CollectFields []string
	UserMessage   string

	BlockedByCheckpoint bool
	CheckpointWarning   string
}

// ResolutionSource identifies where a gap-filled field value came from.
type ResolutionSource string

const (
	SourceProfile              ResolutionSource = "profile"
	SourceConversationExtraction ResolutionSource = "conversation_extraction"
)

// FillResult is MissingFieldResolver's verdict for one field.
type FillResult struct {
	FieldName  string
	Filled     bool
	Value      any
	Source     ResolutionSource
	Confidence float64
}
