package mongo

import (
	"time"

	"github.com/turnkit/align/domain"
)

// Document structs stay separate from the domain types, mirroring the
// retrieval pack's eventDocument/runDocument split: the domain package
// owns behavior, these own wire shape.

type phaseTimingDocument struct {
	Name       string    `bson:"name"`
	StartedAt  time.Time `bson:"started_at"`
	EndedAt    time.Time `bson:"ended_at"`
	DurationMS int64     `bson:"duration_ms"`
	Skipped    bool      `bson:"skipped"`
	SkipReason string    `bson:"skip_reason,omitempty"`
}

type matchedRuleDocument struct {
	RuleID         domain.ID `bson:"rule_id"`
	RelevanceScore float64   `bson:"relevance_score"`
	Rationale      string    `bson:"rationale,omitempty"`
	FinalScore     float64   `bson:"final_score"`
	Priority       int       `bson:"priority"`
}

type toolCallRecordDocument struct {
	ToolID   string        `bson:"tool_id"`
	Phase    string        `bson:"phase"`
	Success  bool          `bson:"success"`
	Error    string        `bson:"error,omitempty"`
	Duration time.Duration `bson:"duration_ns"`
}

type scenarioStateDocument struct {
	ScenarioID *domain.ID `bson:"scenario_id,omitempty"`
	StepID     *domain.ID `bson:"step_id,omitempty"`
}

type turnRecordDocument struct {
	ID            domain.ID                `bson:"id"`
	TenantID      domain.ID                `bson:"tenant_id"`
	AgentID       domain.ID                `bson:"agent_id"`
	SessionID     domain.ID                `bson:"session_id"`
	TurnNumber    int                      `bson:"turn_number"`
	UserMessage   string                   `bson:"user_message"`
	Response      string                   `bson:"response"`
	MatchedRules  []matchedRuleDocument    `bson:"matched_rules,omitempty"`
	ToolsCalled   []toolCallRecordDocument `bson:"tools_called,omitempty"`
	ScenarioState scenarioStateDocument    `bson:"scenario_state"`
	TokensUsed    int                      `bson:"tokens_used"`
	LatencyMS     int64                    `bson:"latency_ms"`
	Timings       []phaseTimingDocument    `bson:"timings,omitempty"`
	Passed        bool                     `bson:"passed"`
	FallbackUsed  bool                     `bson:"fallback_used"`
	CreatedAt     time.Time                `bson:"created_at"`
}

func toTurnRecordDocument(rec domain.TurnRecord) turnRecordDocument {
	rules := make([]matchedRuleDocument, len(rec.MatchedRules))
	for i, r := range rec.MatchedRules {
		rules[i] = matchedRuleDocument{
			RuleID: r.RuleID, RelevanceScore: r.RelevanceScore,
			Rationale: r.Rationale, FinalScore: r.FinalScore, Priority: r.Priority,
		}
	}
	tools := make([]toolCallRecordDocument, len(rec.ToolsCalled))
	for i, t := range rec.ToolsCalled {
		tools[i] = toolCallRecordDocument{
			ToolID: t.ToolID, Phase: string(t.Phase), Success: t.Success,
			Error: t.Error, Duration: t.Duration,
		}
	}
	timings := make([]phaseTimingDocument, len(rec.Timings))
	for i, t := range rec.Timings {
		timings[i] = phaseTimingDocument{
			Name: t.Name, StartedAt: t.StartedAt, EndedAt: t.EndedAt,
			DurationMS: t.DurationMS, Skipped: t.Skipped, SkipReason: t.SkipReason,
		}
	}
	return turnRecordDocument{
		ID: rec.ID, TenantID: rec.TenantID, AgentID: rec.AgentID, SessionID: rec.SessionID,
		TurnNumber: rec.TurnNumber, UserMessage: rec.UserMessage, Response: rec.Response,
		MatchedRules: rules, ToolsCalled: tools,
		ScenarioState: scenarioStateDocument{ScenarioID: rec.ScenarioState.ScenarioID, StepID: rec.ScenarioState.StepID},
		TokensUsed:    rec.TokensUsed, LatencyMS: rec.LatencyMS, Timings: timings,
		Passed: rec.Passed, FallbackUsed: rec.FallbackUsed, CreatedAt: rec.CreatedAt,
	}
}

func (d turnRecordDocument) toDomain() domain.TurnRecord {
	rules := make([]domain.MatchedRule, len(d.MatchedRules))
	for i, r := range d.MatchedRules {
		rules[i] = domain.MatchedRule{
			RuleID: r.RuleID, RelevanceScore: r.RelevanceScore,
			Rationale: r.Rationale, FinalScore: r.FinalScore, Priority: r.Priority,
		}
	}
	tools := make([]domain.ToolCallRecord, len(d.ToolsCalled))
	for i, t := range d.ToolsCalled {
		tools[i] = domain.ToolCallRecord{
			ToolID: t.ToolID, Phase: domain.BindingPhase(t.Phase), Success: t.Success,
			Error: t.Error, Duration: t.Duration,
		}
	}
	timings := make([]domain.PhaseTiming, len(d.Timings))
	for i, t := range d.Timings {
		timings[i] = domain.PhaseTiming{
			Name: t.Name, StartedAt: t.StartedAt, EndedAt: t.EndedAt,
			DurationMS: t.DurationMS, Skipped: t.Skipped, SkipReason: t.SkipReason,
		}
	}
	rec := domain.TurnRecord{
		ID: d.ID, TurnNumber: d.TurnNumber, SessionID: d.SessionID,
		UserMessage: d.UserMessage, Response: d.Response,
		MatchedRules: rules, ToolsCalled: tools,
		ScenarioState: domain.ScenarioState{ScenarioID: d.ScenarioState.ScenarioID, StepID: d.ScenarioState.StepID},
		TokensUsed:    d.TokensUsed, LatencyMS: d.LatencyMS, Timings: timings,
		Passed: d.Passed, FallbackUsed: d.FallbackUsed,
	}
	rec.TenantID, rec.AgentID = d.TenantID, d.AgentID
	rec.CreatedAt = d.CreatedAt
	return rec
}

type auditEventDocument struct {
	ID        domain.ID      `bson:"id"`
	TenantID  domain.ID      `bson:"tenant_id"`
	AgentID   domain.ID      `bson:"agent_id"`
	SessionID domain.ID      `bson:"session_id"`
	TurnID    domain.ID      `bson:"turn_id"`
	Kind      string         `bson:"kind"`
	Message   string         `bson:"message"`
	Fields    map[string]any `bson:"fields,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
}

func toAuditEventDocument(ev domain.AuditEvent) auditEventDocument {
	return auditEventDocument{
		ID: ev.ID, TenantID: ev.TenantID, AgentID: ev.AgentID, SessionID: ev.SessionID,
		TurnID: ev.TurnID, Kind: string(ev.Kind), Message: ev.Message, Fields: ev.Fields,
		CreatedAt: ev.CreatedAt,
	}
}

func (d auditEventDocument) toDomain() domain.AuditEvent {
	ev := domain.AuditEvent{
		ID: d.ID, SessionID: d.SessionID, TurnID: d.TurnID,
		Kind: domain.AuditEventKind(d.Kind), Message: d.Message, Fields: d.Fields,
	}
	ev.TenantID, ev.AgentID = d.TenantID, d.AgentID
	ev.CreatedAt = d.CreatedAt
	return ev
}

type anchorTransformationDocument struct {
	AnchorContentHash string                  `bson:"anchor_content_hash"`
	AnchorName        string                  `bson:"anchor_name"`
	AnchorNodeIDV2    domain.ID               `bson:"anchor_node_id_v2"`
	MigrationScenario string                  `bson:"migration_scenario"`
	UpstreamChanges   upstreamChangesDocument `bson:"upstream_changes"`
}

type upstreamChangesDocument struct {
	InsertedNodes []insertedNodeDocument `bson:"inserted_nodes,omitempty"`
	NewForks      []forkDocument         `bson:"new_forks,omitempty"`
}

type insertedNodeDocument struct {
	StepID         domain.ID `bson:"step_id"`
	CollectsFields []string  `bson:"collects_fields,omitempty"`
}

type forkDocument struct {
	Branches []forkBranchDocument `bson:"branches,omitempty"`
}

type forkBranchDocument struct {
	ConditionFields []string  `bson:"condition_fields,omitempty"`
	TargetStepID    domain.ID `bson:"target_step_id"`
}

type anchorMigrationPolicyDocument struct {
	UpdateDownstream bool   `bson:"update_downstream"`
	ForceScenario    string `bson:"force_scenario,omitempty"`
}

type migrationPlanDocument struct {
	ID                domain.ID                                `bson:"id"`
	TenantID          domain.ID                                `bson:"tenant_id"`
	AgentID           domain.ID                                `bson:"agent_id"`
	ScenarioID        domain.ID                                `bson:"scenario_id"`
	FromVersion       int                                      `bson:"from_version"`
	ToVersion         int                                      `bson:"to_version"`
	Status            string                                   `bson:"status"`
	Anchors           []anchorTransformationDocument           `bson:"anchors,omitempty"`
	AnchorPolicies    map[string]anchorMigrationPolicyDocument  `bson:"anchor_policies,omitempty"`
	CreatedAt         time.Time                                 `bson:"created_at"`
	UpdatedAt         time.Time                                 `bson:"updated_at"`
}

func toMigrationPlanDocument(p domain.MigrationPlan) migrationPlanDocument {
	anchors := make([]anchorTransformationDocument, len(p.TransformationMap.Anchors))
	for i, a := range p.TransformationMap.Anchors {
		nodes := make([]insertedNodeDocument, len(a.UpstreamChanges.InsertedNodes))
		for j, n := range a.UpstreamChanges.InsertedNodes {
			nodes[j] = insertedNodeDocument{StepID: n.StepID, CollectsFields: n.CollectsFields}
		}
		forks := make([]forkDocument, len(a.UpstreamChanges.NewForks))
		for j, f := range a.UpstreamChanges.NewForks {
			branches := make([]forkBranchDocument, len(f.Branches))
			for k, b := range f.Branches {
				branches[k] = forkBranchDocument{ConditionFields: b.ConditionFields, TargetStepID: b.TargetStepID}
			}
			forks[j] = forkDocument{Branches: branches}
		}
		anchors[i] = anchorTransformationDocument{
			AnchorContentHash: a.AnchorContentHash, AnchorName: a.AnchorName, AnchorNodeIDV2: a.AnchorNodeIDV2,
			MigrationScenario: string(a.MigrationScenario),
			UpstreamChanges:   upstreamChangesDocument{InsertedNodes: nodes, NewForks: forks},
		}
	}
	policies := make(map[string]anchorMigrationPolicyDocument, len(p.AnchorPolicies))
	for k, v := range p.AnchorPolicies {
		policies[k] = anchorMigrationPolicyDocument{UpdateDownstream: v.UpdateDownstream, ForceScenario: string(v.ForceScenario)}
	}
	return migrationPlanDocument{
		ID: p.ID, TenantID: p.TenantID, AgentID: p.AgentID, ScenarioID: p.ScenarioID,
		FromVersion: p.FromVersion, ToVersion: p.ToVersion, Status: string(p.Status),
		Anchors: anchors, AnchorPolicies: policies,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (d migrationPlanDocument) toDomain() domain.MigrationPlan {
	anchors := make([]domain.AnchorTransformation, len(d.Anchors))
	for i, a := range d.Anchors {
		nodes := make([]domain.InsertedNode, len(a.UpstreamChanges.InsertedNodes))
		for j, n := range a.UpstreamChanges.InsertedNodes {
			nodes[j] = domain.InsertedNode{StepID: n.StepID, CollectsFields: n.CollectsFields}
		}
		forks := make([]domain.Fork, len(a.UpstreamChanges.NewForks))
		for j, f := range a.UpstreamChanges.NewForks {
			branches := make([]domain.ForkBranch, len(f.Branches))
			for k, b := range f.Branches {
				branches[k] = domain.ForkBranch{ConditionFields: b.ConditionFields, TargetStepID: b.TargetStepID}
			}
			forks[j] = domain.Fork{Branches: branches}
		}
		anchors[i] = domain.AnchorTransformation{
			AnchorContentHash: a.AnchorContentHash, AnchorName: a.AnchorName, AnchorNodeIDV2: a.AnchorNodeIDV2,
			MigrationScenario: domain.MigrationScenario(a.MigrationScenario),
			UpstreamChanges:   domain.UpstreamChanges{InsertedNodes: nodes, NewForks: forks},
		}
	}
	policies := make(map[string]domain.AnchorMigrationPolicy, len(d.AnchorPolicies))
	for k, v := range d.AnchorPolicies {
		policies[k] = domain.AnchorMigrationPolicy{UpdateDownstream: v.UpdateDownstream, ForceScenario: domain.MigrationScenario(v.ForceScenario)}
	}
	p := domain.MigrationPlan{
		ID: d.ID, ScenarioID: d.ScenarioID, FromVersion: d.FromVersion, ToVersion: d.ToVersion,
		Status:            domain.MigrationPlanStatus(d.Status),
		TransformationMap: domain.TransformationMap{Anchors: anchors},
		AnchorPolicies:    policies,
	}
	p.TenantID, p.AgentID = d.TenantID, d.AgentID
	p.CreatedAt, p.UpdatedAt = d.CreatedAt, d.UpdatedAt
	return p
}
