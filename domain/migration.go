package domain

// MigrationScenario classifies how a single anchor transition between two
// scenario versions should be reconciled (spec.md §4.5).
type MigrationScenario string

const (
	CleanGraft MigrationScenario = "CLEAN_GRAFT"
	GapFill    MigrationScenario = "GAP_FILL"
	ReRoute    MigrationScenario = "RE_ROUTE"
)

// InsertedNode is a step added upstream of an anchor in the new scenario
// version; GAP_FILL must collect whatever fields it requires before
// teleporting past it.
type InsertedNode struct {
	StepID         ID
	CollectsFields []string
}

// ForkBranch is one candidate target of a newly inserted fork, gated on the
// session variables already having every field in ConditionFields.
type ForkBranch struct {
	ConditionFields []string
	TargetStepID    ID
}

// Fork is a branch point inserted upstream of a RE_ROUTE anchor.
type Fork struct {
	Branches []ForkBranch
}

// UpstreamChanges enumerates what a scenario-diff found inserted strictly
// before an anchor step in the new version.
type UpstreamChanges struct {
	InsertedNodes []InsertedNode
	NewForks      []Fork
}

// AnchorTransformation maps one V1 step (identified by its content hash, so
// the mapping survives unrelated edits elsewhere in the scenario) to its V2
// counterpart and the migration scenario to apply there.
type AnchorTransformation struct {
	AnchorContentHash string
	AnchorName        string
	AnchorNodeIDV2    ID
	MigrationScenario MigrationScenario
	UpstreamChanges   UpstreamChanges
}

// AnchorMigrationPolicy overrides the computed MigrationScenario for a
// specific anchor, or suppresses the teleport entirely.
type AnchorMigrationPolicy struct {
	// UpdateDownstream=false means: bump active_scenario_version but do not
	// teleport the session at all (spec.md §4.5 "skip downstream update").
	UpdateDownstream bool
	// ForceScenario, when non-empty, overrides AnchorTransformation's
	// computed scenario. Invalid values are logged and ignored (spec.md
	// Open Question, resolved in DESIGN.md: matches source behavior).
	ForceScenario MigrationScenario
}

// TransformationMap is the full set of anchor transformations a
// MigrationPlan carries between two adjacent scenario versions.
type TransformationMap struct {
	Anchors []AnchorTransformation
}

// MigrationPlanStatus is the lifecycle of a published migration plan.
type MigrationPlanStatus string

const (
	MigrationPlanDraft     MigrationPlanStatus = "draft"
	MigrationPlanPublished MigrationPlanStatus = "published"
)

// MigrationPlan describes how sessions parked at any step of scenario
// version FromVersion should be reconciled onto ToVersion (spec.md §4.5).
// Plans are adjacent-version only; multi-version gaps are bridged by
// chaining plans (see migration.CompositeMapper).
type MigrationPlan struct {
	Timestamps
	TenantScope

	ID                ID
	ScenarioID        ID
	FromVersion        int
	ToVersion          int
	Status             MigrationPlanStatus
	TransformationMap  TransformationMap
	// AnchorPolicies is keyed by AnchorContentHash.
	AnchorPolicies map[string]AnchorMigrationPolicy
}

// FindAnchor returns the transformation for the given content hash, if any.
func (p MigrationPlan) FindAnchor(anchorHash string) (AnchorTransformation, bool) {
	for _, a := range p.TransformationMap.Anchors {
		if a.AnchorContentHash == anchorHash {
			return a, true
		}
	}
	return AnchorTransformation{}, false
}
