// Package pipeline implements the turn pipeline: a fixed sequence of
// twelve phases, each a function over a mutable TurnWorkingSet that begins
// as an immutable TurnContext (spec.md §4.1, §4.2).
package pipeline

import (
	"context"
	"time"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/migration"
	"github.com/turnkit/align/telemetry"
)

// InboundMessage is the normalized request a channel gateway hands to the
// pipeline (spec.md §6).
type InboundMessage struct {
	TenantID      domain.ID
	AgentID       domain.ID
	Channel       string
	ChannelUserID string
	Content       string
	Metadata      map[string]any
	SessionID     *domain.ID
	IdempotencyKey string
}

// TurnContext is Phase 1's immutable output: everything later phases read
// but never mutate directly (spec.md §4.2).
type TurnContext struct {
	TenantID      domain.ID
	AgentID       domain.ID
	Channel       string
	ChannelUserID string
	Message       string
	Metadata      map[string]any

	Session       *domain.Session
	Profile       domain.InterlocutorProfile
	Config        domain.PipelineConfig
	FieldSchema   []domain.InterlocutorDataField
	Glossary      []domain.GlossaryItem

	Reconciliation migration.ReconciliationResult
	TurnID         domain.ID
	TurnNumber     int
	Now            time.Time
	Deadline       time.Time
}

// SituationalSnapshot is Phase 2's structured summary of the current turn
// (spec.md glossary "Situational snapshot").
type SituationalSnapshot struct {
	Language          string
	IntentChanged     bool
	Tone              string
	FrustrationLevel  float64
	CandidateVars     map[string]any
}

// ScenarioAction enumerates the Filtering phase's scenario-navigation
// outcomes (spec.md §4.1 "Filtering, detail").
type ScenarioAction string

const (
	ScenarioNone       ScenarioAction = "NONE"
	ScenarioStart      ScenarioAction = "START"
	ScenarioContinue   ScenarioAction = "CONTINUE"
	ScenarioTransition ScenarioAction = "TRANSITION"
	ScenarioExit       ScenarioAction = "EXIT"
	ScenarioRelocalize ScenarioAction = "RELOCALIZE"

)

// TurnWorkingSet is the mutable state threaded through all twelve phases.
// It embeds TurnContext (Phase 1's frozen output) and accumulates each
// later phase's contribution.
type TurnWorkingSet struct {
	TurnContext

	Snapshot       SituationalSnapshot
	retrieved      []RetrievedRule
	MatchedRules   []domain.MatchedRule
	matchedRules   []domain.Rule
	ScenarioAction ScenarioAction
	ActiveScenario *domain.Scenario

	MissingFields  []string
	GapFillPrompt  string

	ToolResults    []domain.ToolCallRecord

	CandidateResponse string
	UsedTemplate      *domain.Template

	EnforcementPassed     bool
	EnforcementViolations []string
	FallbackUsed          bool
	RegenerationAttempted bool

	TokensUsed int
	Timings    []domain.PhaseTiming
}

// NewTurnWorkingSet seeds a TurnWorkingSet's routing fields from an inbound
// message. Phase 1 (ContextLoader) reads these to resolve the session and
// then overwrites TurnContext wholesale with the fully loaded context.
func NewTurnWorkingSet(msg InboundMessage) *TurnWorkingSet {
	ws := &TurnWorkingSet{
		TurnContext: TurnContext{
			TenantID:      msg.TenantID,
			AgentID:       msg.AgentID,
			Channel:       msg.Channel,
			ChannelUserID: msg.ChannelUserID,
			Message:       msg.Content,
			Metadata:      msg.Metadata,
		},
	}
	if msg.SessionID != nil {
		ws.Session = &domain.Session{ID: *msg.SessionID}
	}
	return ws
}

func (ws *TurnWorkingSet) record(name string, started, ended time.Time) {
	ws.Timings = append(ws.Timings, domain.PhaseTiming{
		Name: name, StartedAt: started, EndedAt: ended,
		DurationMS: ended.Sub(started).Milliseconds(),
	})
}

// FailureMode declares how a phase handles its own internal errors.
type FailureMode string

const (
	FailFatal   FailureMode = "fatal"
	FailDegrade FailureMode = "degrade"
	FailSkip    FailureMode = "skip"
)

// Phase is one step of the turn pipeline.
type Phase interface {
	Name() string
	FailureMode() FailureMode
	Run(ctx context.Context, ws *TurnWorkingSet) error
}

// Pipeline is the fixed-order sequence of phases (spec.md §4.1's table).
// Construction order IS the phase order; there is no dynamic reordering.
type Pipeline struct {
	Phases []Phase
	Log    telemetry.Logger
	Clock  func() time.Time
}

// NewPipeline builds a Pipeline over an explicit phase slice. Callers
// normally use NewDefaultPipeline(...) to get the canonical twelve-phase
// ordering; this constructor exists so tests can substitute a subset.
func NewPipeline(phases []Phase, log telemetry.Logger, clock func() time.Time) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Pipeline{Phases: phases, Log: log, Clock: clock}
}

// Run executes every phase in order against ws, honoring each phase's
// declared FailureMode: fatal errors stop the pipeline immediately;
// degrade/skip errors are recorded as a skipped timing and the pipeline
// continues (spec.md §7 propagation policy).
func (p *Pipeline) Run(ctx context.Context, ws *TurnWorkingSet) error {
	for _, phase := range p.Phases {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		started := p.Clock()
		err := phase.Run(ctx, ws)
		ended := p.Clock()
		if err == nil {
			ws.record(phase.Name(), started, ended)
			continue
		}

		p.Log.Warn(ctx, "pipeline: phase error", "phase", phase.Name(), "mode", phase.FailureMode(), "error", err)
		ws.Timings = append(ws.Timings, domain.PhaseTiming{
			Name: phase.Name(), StartedAt: started, EndedAt: ended,
			DurationMS: ended.Sub(started).Milliseconds(),
			Skipped:    phase.FailureMode() != FailFatal, SkipReason: err.Error(),
		})
		if phase.FailureMode() == FailFatal {
			return err
		}
	}
	return nil
}
