package enforcement

import (
	"context"
	"strings"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/llmgw"
	"github.com/turnkit/align/telemetry"
)

// ConstraintViolation describes a hard-constraint rule the candidate
// response failed.
type ConstraintViolation struct {
	RuleID ID
	Lane   Lane
	Reason string
}

// Lane identifies which enforcement lane raised a violation.
type Lane string

const (
	LaneDeterministic Lane = "deterministic"
	LaneSubjective    Lane = "subjective"
)

// ID is a local alias so this package does not need to import domain for
// every call site; it is always a domain.ID under the hood.
type ID = domain.ID

// GlobalRuleSource fetches every enabled GLOBAL hard-constraint rule,
// independent of retrieval (spec.md §8 property 2: "for every turn, every
// enabled hard-constraint rule with scope=GLOBAL is evaluated exactly
// once, regardless of retrieval results").
type GlobalRuleSource interface {
	ListGlobalHardConstraints(ctx context.Context, tenantID domain.ID) ([]domain.Rule, error)
}

// Result is the outcome of one enforcement pass.
type Result struct {
	Passed               bool
	Violations           []ConstraintViolation
	RegenerationAttempted bool
	FallbackUsed         bool
	FinalResponse        string
}

// Enforcer implements spec.md §4.4's two-lane hard-constraint enforcement
// with a bounded regeneration loop.
type Enforcer struct {
	Rules  GlobalRuleSource
	Judge  llmgw.Judge
	Config domain.EnforcementConfig
	Log    telemetry.Logger
}

// NewEnforcer constructs an Enforcer. A nil Log defaults to a no-op logger.
func NewEnforcer(rules GlobalRuleSource, judge llmgw.Judge, cfg domain.EnforcementConfig, log telemetry.Logger) *Enforcer {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Enforcer{Rules: rules, Judge: judge, Config: cfg, Log: log}
}

// Regenerate produces a new candidate response given the prior response
// and a summary of why it was rejected. The pipeline's generation phase
// supplies a closure over its own prompt-building and llmgw.Generator.
type Regenerate func(ctx context.Context, violationSummary string) (string, error)

// Enforce validates candidate against matchedRules ∪ every GLOBAL hard
// constraint, regenerating up to Config.MaxRetries times and falling back
// to fallbackTemplate (already variable-resolved) if violations persist.
func (e *Enforcer) Enforce(
	ctx context.Context,
	tenantID domain.ID,
	judgeModel string,
	candidate string,
	matchedRules []domain.Rule,
	vars map[string]any,
	regenerate Regenerate,
	fallbackTemplate string,
) (Result, error) {
	rules, err := e.hardConstraints(ctx, tenantID, matchedRules)
	if err != nil {
		return Result{}, err
	}

	response := candidate
	var violations []ConstraintViolation
	regenerated := false

	for attempt := 0; ; attempt++ {
		violations = e.evaluateAll(ctx, rules, response, vars, judgeModel)
		if len(violations) == 0 {
			return Result{Passed: true, RegenerationAttempted: regenerated, FinalResponse: response}, nil
		}
		if attempt >= e.Config.MaxRetries || regenerate == nil {
			break
		}
		regenerated = true
		next, err := regenerate(ctx, summarizeViolations(violations))
		if err != nil {
			e.Log.Error(ctx, "enforcement: regeneration failed", "error", err)
			break
		}
		response = next
	}

	if fallbackTemplate != "" {
		return Result{
			Passed:                false,
			Violations:            violations,
			RegenerationAttempted: regenerated,
			FallbackUsed:          true,
			FinalResponse:         fallbackTemplate,
		}, nil
	}

	// No fallback available: per spec.md §4.4, return the original
	// response with passed=false for observability rather than blocking
	// the turn.
	return Result{
		Passed:                false,
		Violations:            violations,
		RegenerationAttempted: regenerated,
		FinalResponse:         candidate,
	}, nil
}

func (e *Enforcer) hardConstraints(ctx context.Context, tenantID domain.ID, matched []domain.Rule) ([]domain.Rule, error) {
	global, err := e.Rules.ListGlobalHardConstraints(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.ID]bool, len(global))
	out := make([]domain.Rule, 0, len(global)+len(matched))
	for _, r := range global {
		if !r.IsHardConstraint || !r.Enabled || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	for _, r := range matched {
		if !r.IsHardConstraint || !r.Enabled || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, nil
}

func (e *Enforcer) evaluateAll(ctx context.Context, rules []domain.Rule, response string, vars map[string]any, judgeModel string) []ConstraintViolation {
	respVars := ExtractResponseVariables(response)
	merged := MergeVariables(respVars, vars, nil)

	var violations []ConstraintViolation
	for _, r := range rules {
		if r.HasEnforcementExpression() {
			ok, err := EvalExpression(r.EnforcementExpression, merged)
			if err != nil {
				e.Log.Warn(ctx, "enforcement: expression evaluation failed, treating as violation", "rule_id", r.ID, "error", err)
				violations = append(violations, ConstraintViolation{RuleID: r.ID, Lane: LaneDeterministic, Reason: err.Error()})
				continue
			}
			if !ok {
				violations = append(violations, ConstraintViolation{RuleID: r.ID, Lane: LaneDeterministic, Reason: "expression " + r.EnforcementExpression + " failed"})
			}
			continue
		}
		if e.Judge == nil {
			continue
		}
		verdict, err := e.Judge.Evaluate(ctx, llmgw.JudgeRequest{
			Model:      judgeModel,
			Constraint: r.ActionText,
			Candidate:  response,
		})
		if err != nil || !verdict.Parsed {
			// Unparseable or errored verdicts fail open (spec.md §4.4).
			continue
		}
		if !verdict.Satisfied {
			violations = append(violations, ConstraintViolation{RuleID: r.ID, Lane: LaneSubjective, Reason: verdict.Rationale})
		}
	}
	return violations
}

func summarizeViolations(violations []ConstraintViolation) string {
	reasons := make([]string, 0, len(violations))
	for _, v := range violations {
		reasons = append(reasons, string(v.Lane)+": "+v.Reason)
	}
	return strings.Join(reasons, "; ")
}
