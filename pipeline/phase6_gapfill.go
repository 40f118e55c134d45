package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/turnkit/align/migration"
	"github.com/turnkit/align/telemetry"
)

// GapFillPlanner is Phase 6: it resolves any interlocutor fields the active
// step requires but does not yet have, using migration.MissingFieldResolver
// (profile lookup, then bounded-confidence conversation extraction). Fields
// that cannot be resolved above the USE threshold are surfaced as a
// user-facing prompt rather than failing the turn (spec.md §4.1, §4.5).
type GapFillPlanner struct {
	Resolver *migration.MissingFieldResolver
	Log      telemetry.Logger
}

func NewGapFillPlanner(resolver *migration.MissingFieldResolver, log telemetry.Logger) *GapFillPlanner {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &GapFillPlanner{Resolver: resolver, Log: log}
}

func (g *GapFillPlanner) Name() string            { return "gap_fill_planning" }
func (g *GapFillPlanner) FailureMode() FailureMode { return FailDegrade }

func (g *GapFillPlanner) Run(ctx context.Context, ws *TurnWorkingSet) error {
	if !ws.Config.Phases.GapFillPlanning || ws.ActiveScenario == nil || ws.Session.ActiveStepID == nil {
		return nil
	}
	step, ok := ws.ActiveScenario.StepByID(*ws.Session.ActiveStepID)
	if !ok || len(step.CollectsFields) == 0 {
		return nil
	}

	var missing []string
	for _, name := range step.CollectsFields {
		if _, ok := ws.Profile.ActiveField(name); ok {
			continue
		}
		if g.Resolver == nil {
			missing = append(missing, name)
			continue
		}
		result := g.Resolver.FillGap(ctx, ws.TenantID, *ws.Session, name)
		if !result.Filled {
			missing = append(missing, name)
			continue
		}
		ws.Profile.UpdateField(name, result.Value, "string", string(result.Source), result.Confidence, ws.Now)
	}

	ws.MissingFields = missing
	if len(missing) > 0 {
		ws.GapFillPrompt = fmt.Sprintf("Could you share your %s?", strings.Join(missing, ", "))
		g.Log.Debug(ctx, "gap_fill_planning: missing fields remain", "fields", missing)
	}
	return nil
}
