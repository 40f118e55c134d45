package pipeline

import (
	"context"
	"fmt"

	"github.com/turnkit/align/store"
	"github.com/turnkit/align/telemetry"
)

// Persister is Phase 11: it commits the session and interlocutor profile
// deltas accumulated across the turn. Failures are fatal (spec.md §4.1,
// §7): a turn whose state cannot be persisted cannot be considered
// complete even though a response was already generated.
type Persister struct {
	Sessions      store.SessionRepository
	Interlocutors store.InterlocutorRepository
	Log           telemetry.Logger
}

func NewPersister(sessions store.SessionRepository, interlocutors store.InterlocutorRepository, log telemetry.Logger) *Persister {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Persister{Sessions: sessions, Interlocutors: interlocutors, Log: log}
}

func (p *Persister) Name() string            { return "persistence" }
func (p *Persister) FailureMode() FailureMode { return FailFatal }

func (p *Persister) Run(ctx context.Context, ws *TurnWorkingSet) error {
	if ws.Session == nil {
		return fmt.Errorf("pipeline: persistence: no session to persist")
	}

	ws.Session.TurnCount = ws.TurnNumber
	ws.Session.Touch(ws.Now)
	switch ws.ScenarioAction {
	case ScenarioContinue, ScenarioTransition, ScenarioRelocalize:
		if ws.Session.ActiveStepID != nil {
			ws.Session.RecordVisit(*ws.Session.ActiveStepID, string(ws.ScenarioAction), 1.0, "", ws.Now)
		}
	case ScenarioExit:
		ws.Session.ActiveScenarioID = nil
		ws.Session.ActiveStepID = nil
	}

	if err := p.Sessions.Save(ctx, *ws.Session); err != nil {
		return fmt.Errorf("pipeline: persistence: save session: %w", err)
	}
	if err := p.Interlocutors.SaveProfile(ctx, ws.Profile); err != nil {
		return fmt.Errorf("pipeline: persistence: save interlocutor profile: %w", err)
	}
	return nil
}
