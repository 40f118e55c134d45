package domain

// RuleScope declares the reach of a rule: GLOBAL rules apply regardless of
// scenario/step, SCENARIO and STEP rules are bound to a specific entity via
// ScopeID.
type RuleScope string

const (
	RuleScopeGlobal   RuleScope = "GLOBAL"
	RuleScopeScenario RuleScope = "SCENARIO"
	RuleScopeStep     RuleScope = "STEP"
)

// BindingPhase declares when a tool binding fires relative to a scenario step.
type BindingPhase string

const (
	BindingBeforeStep BindingPhase = "BEFORE_STEP"
	BindingDuringStep BindingPhase = "DURING_STEP"
	BindingAfterStep  BindingPhase = "AFTER_STEP"
)

// ToolBinding associates a rule or step with a tool invocation. DependsOn
// names other ToolBinding.ToolID values within the same owning rule/step that
// must complete successfully first; Phases 7 and 10 topologically order
// bindings before executing them.
type ToolBinding struct {
	ToolID           string
	When             BindingPhase
	RequiredVars     []string
	DependsOn        []string
}

// Rule is a behavioral policy owned by (tenant, agent). See spec.md §3.
type Rule struct {
	Timestamps
	TenantScope

	ID                     ID
	ConditionText          string
	ActionText             string
	Embedding              []float32
	Scope                  RuleScope
	ScopeID                *ID
	Priority               int // [-100, 100]
	Enabled                bool
	MaxFiresPerSession     int // 0 = unlimited
	CooldownTurns          int
	IsHardConstraint       bool
	EnforcementExpression  string // optional; empty means subjective lane
	ToolBindings           []ToolBinding
}

// HasEnforcementExpression reports whether this hard constraint is handled
// by the deterministic lane rather than the subjective (LLM judge) lane.
func (r Rule) HasEnforcementExpression() bool {
	return r.EnforcementExpression != ""
}

// AppliesToScope reports whether the rule's declared scope matches the given
// scenario/step binding. GLOBAL rules always apply.
func (r Rule) AppliesToScope(scenarioID, stepID ID) bool {
	switch r.Scope {
	case RuleScopeGlobal:
		return true
	case RuleScopeScenario:
		return r.ScopeID != nil && *r.ScopeID == scenarioID
	case RuleScopeStep:
		return r.ScopeID != nil && *r.ScopeID == stepID
	default:
		return false
	}
}

// TopoSortBindings orders bindings so that every binding appears after all
// bindings it DependsOn, for bindings within the same owner. Returns an error
// if a cycle is detected; callers should treat a cycle as a per-tool failure,
// not a phase-fatal condition (spec.md §4.1 phases 7/10 fail per-tool).
func TopoSortBindings(bindings []ToolBinding) ([]ToolBinding, error) {
	byID := make(map[string]ToolBinding, len(bindings))
	for _, b := range bindings {
		byID[b.ToolID] = b
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(bindings))
	var out []ToolBinding
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return &CycleError{ToolID: id}
		}
		color[id] = gray
		b, ok := byID[id]
		if ok {
			for _, dep := range b.DependsOn {
				if _, known := byID[dep]; !known {
					continue
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		if ok {
			out = append(out, b)
		}
		return nil
	}
	for _, b := range bindings {
		if err := visit(b.ToolID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CycleError indicates a dependency cycle was detected among tool bindings.
type CycleError struct {
	ToolID string
}

func (e *CycleError) Error() string {
	return "domain: tool binding dependency cycle detected at " + e.ToolID
}
