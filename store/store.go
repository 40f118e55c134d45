// Package store defines the repository contracts the pipeline, migration,
// and memory-ingestion packages depend on. Store implementations must be
// durable: failures surface to callers so the turn pipeline can fail fast or
// degrade per its error-handling policy. This package is contract-only;
// concrete backends live in store/inmem and store/mongo.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/turnkit/align/domain"
)

var (
	// ErrNotFound indicates a queried entity does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates a unique constraint or version collision.
	ErrConflict = errors.New("store: conflict")
	// ErrValidation indicates the input violates a repository invariant.
	ErrValidation = errors.New("store: validation")
)

// RuleSearchQuery scopes a vector-similarity search over rules (spec.md
// §4.1 "Retrieval").
type RuleSearchQuery struct {
	TenantID  domain.ID
	AgentID   domain.ID
	ScenarioID *domain.ID
	StepID     *domain.ID
	QueryEmbedding []float32
	TopK           int
}

// ConfigRepository persists the agent's static configuration: agents,
// rules, scenarios, templates, variable definitions, tool activations,
// migration plans, glossary, and interlocutor field definitions.
type ConfigRepository interface {
	GetRule(ctx context.Context, tenantID, id domain.ID) (domain.Rule, error)
	SaveRule(ctx context.Context, rule domain.Rule) error
	DeleteRule(ctx context.Context, tenantID, id domain.ID) error
	SearchRules(ctx context.Context, q RuleSearchQuery) ([]domain.Rule, error)
	ListGlobalHardConstraints(ctx context.Context, tenantID, agentID domain.ID) ([]domain.Rule, error)

	GetScenario(ctx context.Context, tenantID, id domain.ID, version int) (domain.Scenario, error)
	GetLatestScenario(ctx context.Context, tenantID, id domain.ID) (domain.Scenario, error)
	SaveScenario(ctx context.Context, scenario domain.Scenario) error
	ArchiveScenarioVersion(ctx context.Context, tenantID, id domain.ID, version int) error
	ListScenarioVersions(ctx context.Context, tenantID, id domain.ID) ([]int, error)

	GetTemplate(ctx context.Context, tenantID, id domain.ID) (domain.Template, error)
	ListTemplates(ctx context.Context, tenantID, agentID domain.ID, mode domain.TemplateMode) ([]domain.Template, error)
	SaveTemplate(ctx context.Context, tmpl domain.Template) error

	GetMigrationPlanByID(ctx context.Context, tenantID, planID domain.ID) (domain.MigrationPlan, error)
	GetMigrationPlanByVersions(ctx context.Context, tenantID, scenarioID domain.ID, fromVersion, toVersion int) (domain.MigrationPlan, error)
	SaveMigrationPlan(ctx context.Context, plan domain.MigrationPlan) error
	ListMigrationPlansFrom(ctx context.Context, tenantID, scenarioID domain.ID, fromVersion int) ([]domain.MigrationPlan, error)

	ListGlossary(ctx context.Context, tenantID, agentID domain.ID) ([]domain.GlossaryItem, error)
	ListInterlocutorFields(ctx context.Context, tenantID, agentID domain.ID) ([]domain.InterlocutorDataField, error)

	LoadPipelineConfig(ctx context.Context, tenantID, agentID domain.ID) (domain.PipelineConfig, error)
}

// SessionRepository persists conversation session state.
type SessionRepository interface {
	Get(ctx context.Context, tenantID, id domain.ID) (domain.Session, error)
	GetByChannelUser(ctx context.Context, tenantID domain.ID, channel, channelUserID string) (domain.Session, error)
	Save(ctx context.Context, s domain.Session) error
	ListByStatus(ctx context.Context, tenantID domain.ID, migrating bool) ([]domain.Session, error)
}

// FieldHistoryEntry pairs a VariableEntry with the field name it belongs to,
// for lineage traversal queries.
type FieldHistoryEntry struct {
	FieldName string
	Entry     domain.VariableEntry
}

// InterlocutorRepository persists per-interlocutor profile state: fields
// with supersession history, assets, and channel identities.
type InterlocutorRepository interface {
	GetProfile(ctx context.Context, tenantID, id domain.ID) (domain.InterlocutorProfile, error)
	SaveProfile(ctx context.Context, p domain.InterlocutorProfile) error
	FieldHistory(ctx context.Context, tenantID, profileID domain.ID, fieldName string) ([]domain.HistoryEntry, error)
	SaveAsset(ctx context.Context, profileID domain.ID, asset domain.Asset) error
	Lineage(ctx context.Context, tenantID, profileID domain.ID, fieldName string, entryID domain.ID) ([]domain.VariableEntry, error)
	MissingFields(ctx context.Context, tenantID, profileID domain.ID, required []string) ([]string, error)
}

// MemorySearchQuery scopes a memory search by group (tenant+session) and
// optional semantic query.
type MemorySearchQuery struct {
	GroupID        string
	TextQuery      string
	QueryEmbedding []float32
	TopK           int
}

// MemoryRepository persists episodes, entities, and relationships (spec.md
// §4.6 memory ingestion).
type MemoryRepository interface {
	SaveEpisode(ctx context.Context, e domain.Episode) error
	SearchEpisodes(ctx context.Context, q MemorySearchQuery) ([]domain.Episode, error)

	GetEntity(ctx context.Context, tenantID, id domain.ID) (domain.Entity, error)
	FindEntityByNormalizedName(ctx context.Context, tenantID domain.ID, entityType, normalizedName string) (domain.Entity, error)
	SearchEntitiesByEmbedding(ctx context.Context, tenantID domain.ID, entityType string, embedding []float32, topK int) ([]domain.Entity, error)
	SaveEntity(ctx context.Context, e domain.Entity) error

	SaveRelationship(ctx context.Context, r domain.Relationship) error
	GetActiveRelationship(ctx context.Context, tenantID, fromEntityID domain.ID, relationType string) (domain.Relationship, error)
	// Traverse performs a bounded-depth BFS graph walk starting from seed,
	// following active relationships only.
	Traverse(ctx context.Context, tenantID, seed domain.ID, maxDepth int) ([]domain.Entity, []domain.Relationship, error)

	// DeleteGroup bulk-deletes all episodes (and, when cascadeEntities is
	// true, entities/relationships sourced solely from this group) for the
	// given group (spec.md §4.6 "group deletion").
	DeleteGroup(ctx context.Context, groupID string, cascadeEntities bool) error
}

// VectorFilter scopes a VectorRepository search.
type VectorFilter struct {
	TenantID   domain.ID
	AgentID    *domain.ID
	EntityType string
}

// VectorRepository is the generic embedding index used by rule retrieval
// and entity/episode semantic search. MemoryRepository and ConfigRepository
// implementations typically delegate their vector operations here.
type VectorRepository interface {
	Upsert(ctx context.Context, collection string, id domain.ID, embedding []float32, filter VectorFilter) error
	Search(ctx context.Context, collection string, embedding []float32, filter VectorFilter, topK int) ([]domain.ID, []float64, error)
	DeleteWhere(ctx context.Context, collection string, filter VectorFilter) error
	EnsureCollection(ctx context.Context, collection string, dims int) error
}

// AuditRepository is append-only: TurnRecords and AuditEvents are never
// updated or deleted once written (spec.md §8 property 10).
type AuditRepository interface {
	SaveTurnRecord(ctx context.Context, rec domain.TurnRecord) error
	SaveAuditEvent(ctx context.Context, ev domain.AuditEvent) error
	ListTurnRecords(ctx context.Context, tenantID, sessionID domain.ID, from, to time.Time) ([]domain.TurnRecord, error)
	ListAuditEvents(ctx context.Context, tenantID, sessionID domain.ID, from, to time.Time) ([]domain.AuditEvent, error)
}

// IdempotencyLayer identifies which of the three idempotency layers a key
// belongs to (spec.md §4.7).
type IdempotencyLayer string

const (
	LayerAPI  IdempotencyLayer = "api"
	LayerTurn IdempotencyLayer = "turn"
	LayerTool IdempotencyLayer = "tool"
)

// IdempotencyStatus is the lifecycle of one (layer, key) cache entry.
type IdempotencyStatus string

const (
	StatusNew        IdempotencyStatus = "new"
	StatusProcessing IdempotencyStatus = "processing"
	StatusComplete   IdempotencyStatus = "complete"
)

// IdempotencyCache implements the three-layer check/mark-processing/
// mark-complete protocol. CheckAndMark must be atomic: under contention on
// the same (layer, key), exactly one caller observes StatusNew and
// transitions it to processing (spec.md §8 property 8).
type IdempotencyCache interface {
	// CheckAndMark atomically inspects the current status of (layer, key)
	// and, if it does not exist or is expired, marks it StatusProcessing
	// and returns StatusNew. If it already exists, returns its current
	// status and any previously stored result (for StatusComplete).
	CheckAndMark(ctx context.Context, layer IdempotencyLayer, key string, ttl time.Duration) (IdempotencyStatus, []byte, error)
	MarkComplete(ctx context.Context, layer IdempotencyLayer, key string, result []byte, ttl time.Duration) error
	Release(ctx context.Context, layer IdempotencyLayer, key string) error
}
