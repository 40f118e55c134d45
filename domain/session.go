package domain

import (
	"errors"
	"time"
)

// Sentinel errors returned by SessionRepository implementations, mirroring
// the teacher's session.ErrSessionNotFound / ErrSessionEnded pattern.
var (
	ErrSessionNotFound = errors.New("domain: session not found")
	ErrSessionEnded    = errors.New("domain: session ended")
)

// StepVisit is one entry in a session's step history.
type StepVisit struct {
	StepID           ID
	EnteredAt        time.Time
	TurnNumber       int
	TransitionReason string
	Confidence       float64
	StepContentHash  string
}

// PendingMigration marks a session as awaiting jit reconciliation before its
// next turn is processed (spec.md §4.5).
type PendingMigration struct {
	MigrationPlanID   ID
	AnchorContentHash string
}

// MigrationState is the SYNCED|PENDING|MIGRATING|EXITED state machine from
// spec.md §4.5.
type MigrationState string

const (
	MigrationSynced    MigrationState = "SYNCED"
	MigrationPending   MigrationState = "PENDING"
	MigrationMigrating MigrationState = "MIGRATING"
	MigrationExited    MigrationState = "EXITED"
)

// Session is live conversational state keyed by (tenant, agent, channel,
// user_channel_id).
type Session struct {
	Timestamps
	TenantScope

	ID                    ID
	Channel               string
	ChannelUserID         string
	InterlocutorID        ID
	ActiveScenarioID      *ID
	ActiveStepID          *ID
	ActiveScenarioVersion *int
	Variables             map[string]any
	TurnCount             int
	StepHistory           []StepVisit
	ScenarioChecksum      string
	PendingMigration      *PendingMigration
	MigrationState        MigrationState
}

// NewSession returns a fresh active session with no scenario attached.
func NewSession(tenantID, agentID ID, channel, channelUserID string, interlocutorID ID, now time.Time) *Session {
	return &Session{
		Timestamps:     Timestamps{CreatedAt: now, UpdatedAt: now},
		TenantScope:    TenantScope{TenantID: tenantID, AgentID: agentID},
		ID:             NewID(),
		Channel:        channel,
		ChannelUserID:  channelUserID,
		InterlocutorID: interlocutorID,
		Variables:      make(map[string]any),
		MigrationState: MigrationSynced,
	}
}

// InScenario reports whether the session is currently attached to a scenario.
func (s *Session) InScenario() bool {
	return s.ActiveScenarioID != nil && s.ActiveStepID != nil
}

// LastCheckpointVisit returns the most recent StepVisit whose step was a
// checkpoint, scanning from the end of StepHistory, per spec.md §4.5's
// "backward teleport past a checkpoint" rule. The caller supplies a lookup
// of which step IDs are checkpoints in the *current* scenario version.
func (s *Session) LastCheckpointVisit(isCheckpoint func(ID) bool) (StepVisit, bool) {
	for i := len(s.StepHistory) - 1; i >= 0; i-- {
		if isCheckpoint(s.StepHistory[i].StepID) {
			return s.StepHistory[i], true
		}
	}
	return StepVisit{}, false
}

// RecordVisit appends a StepVisit and advances ActiveStepID/TurnCount-linked
// bookkeeping. TurnNumber on the visit should be the session's TurnCount at
// the time of the transition.
func (s *Session) RecordVisit(stepID ID, reason string, confidence float64, contentHash string, now time.Time) {
	s.StepHistory = append(s.StepHistory, StepVisit{
		StepID:           stepID,
		EnteredAt:        now,
		TurnNumber:       s.TurnCount,
		TransitionReason: reason,
		Confidence:       confidence,
		StepContentHash:  contentHash,
	})
	s.ActiveStepID = &stepID
}
