package pipeline

import (
	"context"
	"fmt"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/enforcement"
	"github.com/turnkit/align/llmgw"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/telemetry"
)

// EnforcementPhase is Phase 9: it wraps enforcement.Enforcer, supplying a
// Regenerate closure that re-prompts the same llmgw.Generator with a
// violation-summary appendage and a fallback template lookup. The phase
// runs in degrade mode: an enforcer error is logged and the prior candidate
// response is kept, so enforcement never fails the turn.
type EnforcementPhase struct {
	Config   store.ConfigRepository
	Enforcer *enforcement.Enforcer
	Gen      llmgw.Generator
	Model    string
	Log      telemetry.Logger
}

func NewEnforcementPhase(cfg store.ConfigRepository, enforcer *enforcement.Enforcer, gen llmgw.Generator, model string, log telemetry.Logger) *EnforcementPhase {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &EnforcementPhase{Config: cfg, Enforcer: enforcer, Gen: gen, Model: model, Log: log}
}

func (e *EnforcementPhase) Name() string            { return "enforcement" }
func (e *EnforcementPhase) FailureMode() FailureMode { return FailDegrade }

func (e *EnforcementPhase) Run(ctx context.Context, ws *TurnWorkingSet) error {
	if !ws.Config.Phases.Enforcement || e.Enforcer == nil {
		ws.EnforcementPassed = true
		return nil
	}

	fallbackText := e.fallbackTemplateText(ctx, ws)
	regenerate := func(ctx context.Context, violationSummary string) (string, error) {
		if e.Gen == nil {
			return "", fmt.Errorf("no generator configured for regeneration")
		}
		resp, err := e.Gen.Complete(ctx, llmgw.Request{
			Model:       e.Model,
			Temperature: 0.5,
			Messages: []llmgw.Message{
				{Role: "system", Content: buildGenerationSystemPrompt(ws, nil)},
				{Role: "user", Content: ws.Message},
				{Role: "user", Content: "Your previous response violated: " + violationSummary + ". Produce a corrected response."},
			},
		})
		if err != nil {
			return "", err
		}
		ws.TokensUsed += resp.Usage.TotalTokens
		return concatContent(resp.Content), nil
	}

	vars := resolvedVars(ws)
	judgeModel := e.Model
	if len(ws.Config.Enforcement.LLMJudgeModels) > 0 {
		judgeModel = ws.Config.Enforcement.LLMJudgeModels[0]
	}

	result, err := e.Enforcer.Enforce(ctx, ws.TenantID, judgeModel, ws.CandidateResponse, ws.matchedRules, vars, regenerate, fallbackText)
	if err != nil {
		e.Log.Warn(ctx, "enforcement: pass failed, keeping prior candidate", "error", err)
		ws.EnforcementPassed = false
		return fmt.Errorf("degrade: %w", err)
	}

	ws.CandidateResponse = result.FinalResponse
	ws.EnforcementPassed = result.Passed
	ws.FallbackUsed = ws.FallbackUsed || result.FallbackUsed
	ws.RegenerationAttempted = result.RegenerationAttempted
	for _, v := range result.Violations {
		ws.EnforcementViolations = append(ws.EnforcementViolations, string(v.Lane)+": "+v.Reason)
	}
	return nil
}

func (e *EnforcementPhase) fallbackTemplateText(ctx context.Context, ws *TurnWorkingSet) string {
	templates, err := e.Config.ListTemplates(ctx, ws.TenantID, ws.AgentID, domain.TemplateFallback)
	if err != nil || len(templates) == 0 {
		return ""
	}
	best := templates[0]
	for _, t := range templates[1:] {
		if t.Priority > best.Priority {
			best = t
		}
	}
	return interpolate(best.Text, resolvedVars(ws))
}
