package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/telemetry"
)

// ScenarioSource loads the current published scenario and individual
// migration plans (the slice of ConfigRepository Executor needs).
type ScenarioSource interface {
	PlanLookup
	GetMigrationPlanByID(ctx context.Context, tenantID, planID domain.ID) (domain.MigrationPlan, error)
	GetScenario(ctx context.Context, tenantID, id domain.ID, version int) (domain.Scenario, error)
}

// SessionSaver persists session mutations performed during reconciliation
// (the slice of SessionRepository Executor needs).
type SessionSaver interface {
	Save(ctx context.Context, s domain.Session) error
}

// Executor performs pre-turn reconciliation for sessions whose cached
// scenario state may be stale relative to the currently published scenario
// version, per spec.md §4.5. It never runs concurrently with a turn for
// the same session: callers must hold that session's lock.
type Executor struct {
	Config    ScenarioSource
	Sessions  SessionSaver
	Composite *CompositeMapper
	Resolver  *MissingFieldResolver
	Log       telemetry.Logger
}

// NewExecutor wires an Executor from its collaborators. log may be nil, in
// which case a no-op logger is used.
func NewExecutor(config ScenarioSource, sessions SessionSaver, composite *CompositeMapper, resolver *MissingFieldResolver, log telemetry.Logger) *Executor {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Executor{Config: config, Sessions: sessions, Composite: composite, Resolver: resolver, Log: log}
}

// Reconcile is the entry point called before phase 1 of every turn for a
// session currently attached to a scenario.
func (e *Executor) Reconcile(ctx context.Context, s *domain.Session, current domain.Scenario) (ReconciliationResult, error) {
	checksum := ScenarioChecksum(current)

	if s.PendingMigration == nil && s.ScenarioChecksum == checksum {
		return ReconciliationResult{Action: ActionContinue}, nil
	}

	if s.PendingMigration == nil {
		e.Log.Info(ctx, "version_mismatch_detected", "session_id", s.ID.String(), "current_version", current.Version)
		return e.fallbackReconciliation(ctx, s, current)
	}

	plan, err := e.Config.GetMigrationPlanByID(ctx, s.TenantID, s.PendingMigration.MigrationPlanID)
	if err != nil {
		e.Log.Warn(ctx, "migration_plan_not_found", "session_id", s.ID.String())
		return e.fallbackReconciliation(ctx, s, current)
	}

	anchorHash := s.PendingMigration.AnchorContentHash

	if plan.ToVersion < current.Version {
		e.Log.Info(ctx, "multi_version_gap_detected", "session_id", s.ID.String(), "plan_to_version", plan.ToVersion, "current_version", current.Version)
		return e.executeComposite(ctx, s, plan.FromVersion, current.Version, anchorHash, current)
	}

	anchor, ok := plan.FindAnchor(anchorHash)
	if !ok {
		e.Log.Warn(ctx, "anchor_transformation_not_found", "session_id", s.ID.String(), "anchor_hash", anchorHash)
		return e.fallbackReconciliation(ctx, s, current)
	}

	result, err := e.executeMigration(ctx, s, plan, anchor, current)
	if err != nil {
		return ReconciliationResult{}, err
	}

	if result.Action == ActionContinue || result.Action == ActionTeleport {
		e.finalizeMigration(s, current)
		if err := e.Sessions.Save(ctx, *s); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (e *Executor) executeMigration(ctx context.Context, s *domain.Session, plan domain.MigrationPlan, anchor domain.AnchorTransformation, current domain.Scenario) (ReconciliationResult, error) {
	policy, hasPolicy := plan.AnchorPolicies[anchor.AnchorContentHash]

	if hasPolicy && !policy.UpdateDownstream {
		e.Log.Info(ctx, "skip_downstream_update", "session_id", s.ID.String(), "anchor", anchor.AnchorName)
		s.ActiveScenarioVersion = &current.Version
		if err := e.Sessions.Save(ctx, *s); err != nil {
			return ReconciliationResult{}, err
		}
		return ReconciliationResult{Action: ActionContinue, TeleportReason: "update_downstream_false"}, nil
	}

	scenario := anchor.MigrationScenario
	if hasPolicy && policy.ForceScenario != "" {
		switch policy.ForceScenario {
		case domain.CleanGraft, domain.GapFill, domain.ReRoute:
			scenario = policy.ForceScenario
			e.Log.Info(ctx, "force_scenario_applied", "session_id", s.ID.String(), "forced", string(scenario))
		default:
			e.Log.Warn(ctx, "invalid_force_scenario", "session_id", s.ID.String(), "force_scenario", string(policy.ForceScenario))
		}
	}

	switch scenario {
	case domain.CleanGraft:
		return e.executeCleanGraft(ctx, s, anchor, current), nil
	case domain.GapFill:
		return e.executeGapFill(ctx, s, anchor, current)
	case domain.ReRoute:
		return e.executeReRoute(ctx, s, anchor, current)
	default:
		e.Log.Error(ctx, "unknown_migration_scenario", "session_id", s.ID.String())
		return e.fallbackReconciliation(ctx, s, current)
	}
}

func (e *Executor) executeCleanGraft(ctx context.Context, s *domain.Session, anchor domain.AnchorTransformation, current domain.Scenario) ReconciliationResult {
	target := anchor.AnchorNodeIDV2
	e.teleportSession(s, target, "clean_graft", current.Version)
	return ReconciliationResult{Action: ActionTeleport, TargetStepID: &target, TeleportReason: "clean_graft"}
}

func (e *Executor) executeGapFill(ctx context.Context, s *domain.Session, anchor domain.AnchorTransformation, current domain.Scenario) (ReconciliationResult, error) {
	var required []string
	seen := make(map[string]bool)
	for _, node := range anchor.UpstreamChanges.InsertedNodes {
		for _, f := range node.CollectsFields {
			if !seen[f] {
				seen[f] = true
				required = append(required, f)
			}
		}
	}

	var stillMissing []string
	for _, field := range required {
		if _, ok := s.Variables[field]; ok {
			continue
		}
		if e.Resolver == nil {
			stillMissing = append(stillMissing, field)
			continue
		}
		result := e.Resolver.FillGap(ctx, s.TenantID, *s, field)
		if result.Filled {
			s.Variables[field] = result.Value
			e.Log.Info(ctx, "gap_fill_auto_filled", "session_id", s.ID.String(), "field", field, "source", string(result.Source))
		} else {
			stillMissing = append(stillMissing, field)
		}
	}

	if len(stillMissing) > 0 {
		e.Log.Info(ctx, "gap_fill_collect_required", "session_id", s.ID.String())
		return ReconciliationResult{
			Action:        ActionCollect,
			CollectFields: stillMissing,
			UserMessage:   fmt.Sprintf("Before we continue, I need a bit more information: %v", stillMissing),
		}, nil
	}

	target := anchor.AnchorNodeIDV2
	e.teleportSession(s, target, "gap_fill", current.Version)
	return ReconciliationResult{Action: ActionTeleport, TargetStepID: &target, TeleportReason: "gap_fill"}, nil
}

func (e *Executor) executeReRoute(ctx context.Context, s *domain.Session, anchor domain.AnchorTransformation, current domain.Scenario) (ReconciliationResult, error) {
	if visit, ok := s.LastCheckpointVisit(func(id domain.ID) bool {
		step, found := current.StepByID(id)
		return found && step.IsCheckpoint
	}); ok {
		if current.IsUpstreamOf(anchor.AnchorNodeIDV2, visit.StepID, domain.NilID) {
			e.Log.Warn(ctx, "checkpoint_blocks_migration", "session_id", s.ID.String())
			return ReconciliationResult{
				Action:              ActionContinue,
				BlockedByCheckpoint: true,
				CheckpointWarning:   "cannot migrate past a completed checkpoint",
			}, nil
		}
	}

	target, ok := e.evaluateForkTarget(s, anchor)
	if !ok {
		e.Log.Warn(ctx, "re_route_no_valid_target", "session_id", s.ID.String())
		return ReconciliationResult{Action: ActionContinue, UserMessage: "We need some additional information to continue."}, nil
	}

	e.teleportSession(s, target, "re_route", current.Version)
	return ReconciliationResult{Action: ActionTeleport, TargetStepID: &target, TeleportReason: "re_route"}, nil
}

func (e *Executor) evaluateForkTarget(s *domain.Session, anchor domain.AnchorTransformation) (domain.ID, bool) {
	for _, fork := range anchor.UpstreamChanges.NewForks {
		for _, branch := range fork.Branches {
			if len(branch.ConditionFields) == 0 {
				continue
			}
			allPresent := true
			for _, f := range branch.ConditionFields {
				if _, ok := s.Variables[f]; !ok {
					allPresent = false
					break
				}
			}
			if allPresent {
				return branch.TargetStepID, true
			}
		}
	}
	return anchor.AnchorNodeIDV2, true
}

func (e *Executor) executeComposite(ctx context.Context, s *domain.Session, startVersion, endVersion int, anchorHash string, current domain.Scenario) (ReconciliationResult, error) {
	chain, err := e.Composite.GetPlanChain(ctx, s.TenantID, current.ID, startVersion, endVersion)
	if err != nil {
		e.Log.Warn(ctx, "composite_migration_no_plan_chain", "session_id", s.ID.String())
		return e.fallbackReconciliation(ctx, s, current)
	}

	result, err := e.Composite.ExecuteCompositeMigration(ctx, s.TenantID, current.ID, chain, anchorHash)
	if err != nil {
		e.Log.Warn(ctx, "composite_migration_failed", "session_id", s.ID.String(), "error", err.Error())
		return e.fallbackReconciliation(ctx, s, current)
	}

	if result.Action == ActionTeleport && result.TargetStepID != nil {
		e.teleportSession(s, *result.TargetStepID, result.TeleportReason, endVersion)
		e.finalizeMigration(s, current)
		if err := e.Sessions.Save(ctx, *s); err != nil {
			return result, err
		}
	}

	return result, nil
}

// fallbackReconciliation is used when no migration plan exists at all:
// spec.md §4.5's "fallback" path. It first looks for a step in the current
// version whose content hash matches the session's last-visited step; if
// none matches, it relocalizes to entry_step_id; otherwise the scenario is
// exited (spec.md §8 property 7).
func (e *Executor) fallbackReconciliation(ctx context.Context, s *domain.Session, current domain.Scenario) (ReconciliationResult, error) {
	e.Log.Info(ctx, "fallback_reconciliation", "session_id", s.ID.String(), "scenario_id", current.ID.String())

	if s.ActiveStepID != nil {
		var lastHash string
		for i := len(s.StepHistory) - 1; i >= 0; i-- {
			if s.StepHistory[i].StepID == *s.ActiveStepID {
				lastHash = s.StepHistory[i].StepContentHash
				break
			}
		}
		if lastHash != "" {
			for _, step := range current.Steps {
				if StepContentHash(step) == lastHash {
					e.teleportSession(s, step.ID, "fallback_hash_match", current.Version)
					e.finalizeMigration(s, current)
					if err := e.Sessions.Save(ctx, *s); err != nil {
						return ReconciliationResult{}, err
					}
					return ReconciliationResult{Action: ActionTeleport, TargetStepID: &step.ID, TeleportReason: "fallback_hash_match"}, nil
				}
			}
		}
	}

	if current.EntryStepID != domain.NilID {
		entry := current.EntryStepID
		e.teleportSession(s, entry, "fallback_entry", current.Version)
		e.finalizeMigration(s, current)
		if err := e.Sessions.Save(ctx, *s); err != nil {
			return ReconciliationResult{}, err
		}
		return ReconciliationResult{Action: ActionTeleport, TargetStepID: &entry, TeleportReason: "fallback_entry"}, nil
	}

	e.Log.Warn(ctx, "fallback_exit_scenario", "session_id", s.ID.String())
	s.ActiveScenarioID = nil
	s.ActiveStepID = nil
	s.ActiveScenarioVersion = nil
	s.PendingMigration = nil
	s.MigrationState = domain.MigrationExited
	if err := e.Sessions.Save(ctx, *s); err != nil {
		return ReconciliationResult{}, err
	}
	return ReconciliationResult{Action: ActionExit, UserMessage: "We've updated how this works. Let's get started fresh."}, nil
}

func (e *Executor) teleportSession(s *domain.Session, target domain.ID, reason string, scenarioVersion int) {
	now := time.Now()
	s.ActiveScenarioVersion = &scenarioVersion
	s.RecordVisit(target, "migration:"+reason, 1.0, "", now)
	s.MigrationState = domain.MigrationSynced
}

func (e *Executor) finalizeMigration(s *domain.Session, current domain.Scenario) {
	s.PendingMigration = nil
	s.ScenarioChecksum = ScenarioChecksum(current)
	s.MigrationState = domain.MigrationSynced
}

// ErrNoPendingMigration is returned by callers that require a pending
// migration to be present but find none; kept here as a sentinel other
// packages can compare against.
var ErrNoPendingMigration = errors.New("migration: no pending migration")
