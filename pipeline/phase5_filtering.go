package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/llmgw"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/telemetry"
)

// Filterer is Phase 5: it asks an LLM judge whether each retrieved rule
// applies right now, then decides scenario navigation for the turn. A
// judge or scenario-load failure degrades to an empty matched-rule set and
// ScenarioNone rather than blocking the turn (spec.md §4.1, §7).
type Filterer struct {
	Config store.ConfigRepository
	Judge  llmgw.Judge
	Model  string
	Log    telemetry.Logger
}

func NewFilterer(cfg store.ConfigRepository, judge llmgw.Judge, model string, log telemetry.Logger) *Filterer {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Filterer{Config: cfg, Judge: judge, Model: model, Log: log}
}

func (f *Filterer) Name() string            { return "filtering" }
func (f *Filterer) FailureMode() FailureMode { return FailDegrade }

func (f *Filterer) Run(ctx context.Context, ws *TurnWorkingSet) error {
	if !ws.Config.Phases.Filtering {
		ws.ScenarioAction = ScenarioNone
		return nil
	}

	matched, full, err := f.matchRules(ctx, ws)
	if err != nil {
		f.Log.Warn(ctx, "filtering: rule relevance judging failed, degrading to matched-none", "error", err)
		ws.MatchedRules = nil
		ws.matchedRules = nil
	} else {
		ws.MatchedRules = matched
		ws.matchedRules = full
	}

	if err := f.navigateScenario(ctx, ws); err != nil {
		f.Log.Warn(ctx, "filtering: scenario navigation failed, degrading to NONE", "error", err)
		ws.ScenarioAction = ScenarioNone
		return fmt.Errorf("degrade: %w", err)
	}
	return nil
}

// matchRules asks the judge, per retrieved rule, "does this rule apply
// right now?" and orders survivors by the deterministic tie-break from
// spec.md §8 property 1: priority desc, final_score desc, id asc.
func (f *Filterer) matchRules(ctx context.Context, ws *TurnWorkingSet) ([]domain.MatchedRule, []domain.Rule, error) {
	if f.Judge == nil {
		return nil, nil, nil
	}
	type pair struct {
		matched domain.MatchedRule
		rule    domain.Rule
	}
	pairs := make([]pair, 0, len(ws.retrieved))
	for _, cand := range ws.retrieved {
		verdict, err := f.Judge.Evaluate(ctx, llmgw.JudgeRequest{
			Model:      f.Model,
			Constraint: "This rule applies right now: " + cand.Rule.ConditionText,
			Candidate:  ws.Message,
			Context:    []llmgw.Message{{Role: "system", Content: scenarioStepSummary(ws)}},
		})
		if err != nil || !verdict.Parsed || !verdict.Satisfied {
			continue
		}
		pairs = append(pairs, pair{
			matched: domain.MatchedRule{
				RuleID:         cand.Rule.ID,
				RelevanceScore: cand.VecScore,
				Rationale:      verdict.Rationale,
				FinalScore:     cand.FinalScore,
				Priority:       cand.Rule.Priority,
			},
			rule: cand.Rule,
		})
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i].matched, pairs[j].matched
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		return a.RuleID.String() < b.RuleID.String()
	})
	matched := make([]domain.MatchedRule, len(pairs))
	full := make([]domain.Rule, len(pairs))
	for i, p := range pairs {
		matched[i] = p.matched
		full[i] = p.rule
	}
	return matched, full, nil
}

func scenarioStepSummary(ws *TurnWorkingSet) string {
	if ws.Session == nil || !ws.Session.InScenario() {
		return "No active scenario."
	}
	return fmt.Sprintf("Active scenario %s, step %s.", ws.Session.ActiveScenarioID, ws.Session.ActiveStepID)
}

// navigateScenario decides the scenario-navigation action for this turn
// (spec.md §4.1 "Filtering, detail"): {NONE, START, CONTINUE, TRANSITION,
// EXIT, RELOCALIZE}. The Phase 1 reconciliation result is not read here;
// navigation works from the session as Phase 1 left it.
func (f *Filterer) navigateScenario(ctx context.Context, ws *TurnWorkingSet) error {
	if ws.Session == nil || !ws.Session.InScenario() {
		ws.ScenarioAction = ScenarioNone
		return nil
	}

	scenario, err := f.Config.GetLatestScenario(ctx, ws.TenantID, *ws.Session.ActiveScenarioID)
	if err != nil {
		return err
	}
	ws.ActiveScenario = &scenario

	if _, ok := scenario.StepByID(*ws.Session.ActiveStepID); !ok {
		ws.ScenarioAction = ScenarioRelocalize
		relocalized := scenario.EntryStepID
		ws.Session.ActiveStepID = &relocalized
		return nil
	}

	if ws.Snapshot.IntentChanged {
		ws.ScenarioAction = ScenarioTransition
		return nil
	}
	ws.ScenarioAction = ScenarioContinue
	return nil
}
