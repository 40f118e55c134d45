package migration

import (
	"context"
	"fmt"

	"github.com/turnkit/align/domain"
)

// PlanLookup is the narrow slice of ConfigRepository CompositeMapper needs:
// fetch the adjacent-version plan chain bridging a multi-version gap.
type PlanLookup interface {
	GetMigrationPlanByVersions(ctx context.Context, tenantID, scenarioID domain.ID, fromVersion, toVersion int) (domain.MigrationPlan, error)
}

// CompositeMapper bridges a multi-version gap (a session last synced at
// version N, current published version is N+k) by chaining the adjacent
// MigrationPlans N→N+1, N+1→N+2, ..., and folding them into one logical
// migration. Per spec.md §4.5 "intermediate anchors are traversed in order
// and the most restrictive scenario kind wins", with RE_ROUTE the most
// restrictive, then GAP_FILL, then CLEAN_GRAFT.
type CompositeMapper struct {
	Plans PlanLookup
}

func NewCompositeMapper(plans PlanLookup) *CompositeMapper {
	return &CompositeMapper{Plans: plans}
}

// restrictiveness orders migration scenarios from least to most restrictive
// (CLEAN_GRAFT < GAP_FILL < RE_ROUTE); a composite chain folds to the most
// restrictive member.
func restrictiveness(s domain.MigrationScenario) int {
	switch s {
	case domain.ReRoute:
		return 2
	case domain.GapFill:
		return 1
	default:
		return 0
	}
}

// GetPlanChain loads every adjacent plan from startVersion to endVersion.
// Returns an error if any link in the chain is missing.
func (m *CompositeMapper) GetPlanChain(ctx context.Context, tenantID, scenarioID domain.ID, startVersion, endVersion int) ([]domain.MigrationPlan, error) {
	if endVersion <= startVersion {
		return nil, fmt.Errorf("migration: composite chain requires endVersion > startVersion, got %d -> %d", startVersion, endVersion)
	}
	chain := make([]domain.MigrationPlan, 0, endVersion-startVersion)
	for v := startVersion; v < endVersion; v++ {
		plan, err := m.Plans.GetMigrationPlanByVersions(ctx, tenantID, scenarioID, v, v+1)
		if err != nil {
			return nil, fmt.Errorf("migration: no plan bridging v%d->v%d: %w", v, v+1, err)
		}
		chain = append(chain, plan)
	}
	return chain, nil
}

// ExecuteCompositeMigration walks the chain, following each link's anchor
// mapping by content hash, and folds the net scenario kind to the most
// restrictive seen. Whatever the net kind, the result is a TELEPORT to the
// last link's AnchorNodeIDV2, with a TeleportReason naming the net kind
// (composite_clean_graft, composite_gap_fill or composite_re_route); no
// gap-fill fields are collected and no fork is evaluated on this path.
func (m *CompositeMapper) ExecuteCompositeMigration(ctx context.Context, tenantID, scenarioID domain.ID, chain []domain.MigrationPlan, anchorHash string) (ReconciliationResult, error) {
	if len(chain) == 0 {
		return ReconciliationResult{}, fmt.Errorf("migration: empty plan chain")
	}

	currentHash := anchorHash
	net := domain.CleanGraft
	var lastAnchor domain.AnchorTransformation
	found := false

	for _, plan := range chain {
		anchor, ok := plan.FindAnchor(currentHash)
		if !ok {
			// No mapping for this content hash at this link: the chain is
			// broken here and the caller should fall back.
			return ReconciliationResult{}, fmt.Errorf("migration: anchor %q has no mapping in plan v%d->v%d", currentHash, plan.FromVersion, plan.ToVersion)
		}
		found = true
		lastAnchor = anchor
		scenario := anchor.MigrationScenario
		if policy, ok := plan.AnchorPolicies[anchor.AnchorContentHash]; ok {
			// An unrecognized ForceScenario value is ignored.
			switch policy.ForceScenario {
			case domain.CleanGraft, domain.GapFill, domain.ReRoute:
				scenario = policy.ForceScenario
			}
		}
		if restrictiveness(scenario) > restrictiveness(net) {
			net = scenario
		}
		currentHash = anchor.AnchorContentHash // the next link is looked up by the same content hash
	}

	if !found {
		return ReconciliationResult{}, fmt.Errorf("migration: composite chain resolved nothing")
	}

	switch net {
	case domain.ReRoute:
		return ReconciliationResult{
			Action:         ActionTeleport,
			TargetStepID:   &lastAnchor.AnchorNodeIDV2,
			TeleportReason: "composite_re_route",
		}, nil
	case domain.GapFill:
		return ReconciliationResult{
			Action:         ActionTeleport,
			TargetStepID:   &lastAnchor.AnchorNodeIDV2,
			TeleportReason: "composite_gap_fill",
		}, nil
	default:
		return ReconciliationResult{
			Action:         ActionTeleport,
			TargetStepID:   &lastAnchor.AnchorNodeIDV2,
			TeleportReason: "composite_clean_graft",
		}, nil
	}
}
