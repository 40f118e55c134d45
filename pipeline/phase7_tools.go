package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/telemetry"
	"github.com/turnkit/align/toolsgw"
)

// ToolExecutor runs every ToolBinding owned by the matched rules and the
// active step whose When matches one of Phases, in dependency order
// (domain.TopoSortBindings). Each binding fails independently: a failed or
// missing-dependency tool is recorded in ToolResults and execution
// continues with the remaining bindings (spec.md §4.1 "per-tool: retry,
// then mark failed"). The same type backs both Phase 7 (BEFORE_STEP,
// DURING_STEP) and Phase 10 (AFTER_STEP) via two different Phases sets.
type ToolExecutor struct {
	Gateway    toolsgw.Gateway
	Phases     []domain.BindingPhase
	PhaseName  string
	Log        telemetry.Logger
}

// NewBeforeDuringExecutor builds Phase 7.
func NewBeforeDuringExecutor(gw toolsgw.Gateway, log telemetry.Logger) *ToolExecutor {
	return newToolExecutor(gw, "tool_execution", []domain.BindingPhase{domain.BindingBeforeStep, domain.BindingDuringStep}, log)
}

// NewAfterExecutor builds Phase 10.
func NewAfterExecutor(gw toolsgw.Gateway, log telemetry.Logger) *ToolExecutor {
	return newToolExecutor(gw, "after_tool_bindings", []domain.BindingPhase{domain.BindingAfterStep}, log)
}

func newToolExecutor(gw toolsgw.Gateway, name string, phases []domain.BindingPhase, log telemetry.Logger) *ToolExecutor {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &ToolExecutor{Gateway: gw, Phases: phases, PhaseName: name, Log: log}
}

func (t *ToolExecutor) Name() string            { return t.PhaseName }
func (t *ToolExecutor) FailureMode() FailureMode { return FailSkip }

func (t *ToolExecutor) Run(ctx context.Context, ws *TurnWorkingSet) error {
	if !ws.Config.Phases.ToolExecution || t.Gateway == nil {
		return nil
	}

	bindings := t.collectBindings(ws)
	if len(bindings) == 0 {
		return nil
	}
	ordered, err := domain.TopoSortBindings(bindings)
	if err != nil {
		t.Log.Warn(ctx, "tool_execution: dependency cycle, skipping this binding set", "error", err)
		return nil
	}

	succeeded := make(map[string]bool, len(ordered))
	vars := resolvedVars(ws)
	for _, b := range ordered {
		if !t.dependenciesSatisfied(b, succeeded) {
			ws.ToolResults = append(ws.ToolResults, domain.ToolCallRecord{ToolID: b.ToolID, Phase: b.When, Success: false, Error: "dependency failed or missing"})
			continue
		}
		if !requiredVarsPresent(b.RequiredVars, vars) {
			ws.ToolResults = append(ws.ToolResults, domain.ToolCallRecord{ToolID: b.ToolID, Phase: b.When, Success: false, Error: "required variables not resolved"})
			continue
		}

		args, _ := json.Marshal(vars)
		started := time.Now()
		_, err := t.Gateway.CallTool(ctx, toolsgw.CallRequest{ToolID: b.ToolID, Args: args})
		rec := domain.ToolCallRecord{ToolID: b.ToolID, Phase: b.When, Duration: time.Since(started)}
		if err != nil {
			rec.Success = false
			rec.Error = err.Error()
			t.Log.Warn(ctx, "tool_execution: tool call failed", "tool_id", b.ToolID, "error", err)
		} else {
			rec.Success = true
			succeeded[b.ToolID] = true
		}
		ws.ToolResults = append(ws.ToolResults, rec)
	}
	return nil
}

func (t *ToolExecutor) collectBindings(ws *TurnWorkingSet) []domain.ToolBinding {
	var out []domain.ToolBinding
	want := func(p domain.BindingPhase) bool {
		for _, w := range t.Phases {
			if w == p {
				return true
			}
		}
		return false
	}
	for _, r := range ws.matchedRules {
		for _, b := range r.ToolBindings {
			if want(b.When) {
				out = append(out, b)
			}
		}
	}
	if ws.ActiveScenario != nil && ws.Session != nil && ws.Session.ActiveStepID != nil {
		if step, ok := ws.ActiveScenario.StepByID(*ws.Session.ActiveStepID); ok {
			for _, b := range step.ToolBindings {
				if want(b.When) {
					out = append(out, b)
				}
			}
		}
	}
	return out
}

func (t *ToolExecutor) dependenciesSatisfied(b domain.ToolBinding, succeeded map[string]bool) bool {
	for _, dep := range b.DependsOn {
		if !succeeded[dep] {
			return false
		}
	}
	return true
}

func requiredVarsPresent(required []string, vars map[string]any) bool {
	for _, name := range required {
		if _, ok := vars[name]; !ok {
			return false
		}
	}
	return true
}
