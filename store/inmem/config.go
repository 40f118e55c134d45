// Package inmem provides in-memory reference implementations of every
// store interface, suitable for tests and local development. All
// operations defensively copy data in and out to prevent external mutation
// of stored state, following the teacher's runtime/agent/session/inmem and
// runtime/agents/memory/inmem pattern.
package inmem

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
)

type ruleKey struct {
	tenant domain.ID
	id     domain.ID
}

type scenarioKey struct {
	tenant  domain.ID
	id      domain.ID
	version int
}

type planKey struct {
	tenant      domain.ID
	scenarioID  domain.ID
	fromVersion int
	toVersion   int
}

// ConfigStore is an in-memory store.ConfigRepository.
type ConfigStore struct {
	mu sync.RWMutex

	rules     map[ruleKey]domain.Rule
	scenarios map[scenarioKey]domain.Scenario
	latest    map[[2]domain.ID]int // (tenant, scenarioID) -> highest known version
	templates map[ruleKey]domain.Template
	plans     map[planKey]domain.MigrationPlan
	plansByID map[ruleKey]domain.MigrationPlan
	glossary  map[[2]domain.ID][]domain.GlossaryItem
	fields    map[[2]domain.ID][]domain.InterlocutorDataField
	configs   map[[2]domain.ID]domain.PipelineConfig
}

// New returns an empty ConfigStore with a conservative default
// PipelineConfig for any (tenant, agent) not explicitly configured.
func New() *ConfigStore {
	return &ConfigStore{
		rules:     make(map[ruleKey]domain.Rule),
		scenarios: make(map[scenarioKey]domain.Scenario),
		latest:    make(map[[2]domain.ID]int),
		templates: make(map[ruleKey]domain.Template),
		plans:     make(map[planKey]domain.MigrationPlan),
		plansByID: make(map[ruleKey]domain.MigrationPlan),
		glossary:  make(map[[2]domain.ID][]domain.GlossaryItem),
		fields:    make(map[[2]domain.ID][]domain.InterlocutorDataField),
		configs:   make(map[[2]domain.ID]domain.PipelineConfig),
	}
}

func (c *ConfigStore) GetRule(_ context.Context, tenantID, id domain.ID) (domain.Rule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rules[ruleKey{tenantID, id}]
	if !ok {
		return domain.Rule{}, store.ErrNotFound
	}
	return r, nil
}

func (c *ConfigStore) SaveRule(_ context.Context, rule domain.Rule) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[ruleKey{rule.TenantID, rule.ID}] = rule
	return nil
}

func (c *ConfigStore) DeleteRule(_ context.Context, tenantID, id domain.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rules, ruleKey{tenantID, id})
	return nil
}

// SearchRules returns every non-deleted rule in scope, ranked by cosine
// similarity against q.QueryEmbedding (a brute-force scan; production
// deployments push this down to a VectorRepository/ANN index). Disabled
// rules and rules outside the query's scope are filtered out here; GLOBAL
// hard constraints are loaded separately by the enforcer through
// ListGlobalHardConstraints (spec.md §8 property 2).
func (c *ConfigStore) SearchRules(_ context.Context, q store.RuleSearchQuery) ([]domain.Rule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	type scored struct {
		rule  domain.Rule
		score float64
	}
	var candidates []scored
	for _, r := range c.rules {
		if r.TenantID != q.TenantID || r.AgentID != q.AgentID || r.IsDeleted() || !r.Enabled {
			continue
		}
		var scenarioID, stepID domain.ID
		if q.ScenarioID != nil {
			scenarioID = *q.ScenarioID
		}
		if q.StepID != nil {
			stepID = *q.StepID
		}
		if !r.AppliesToScope(scenarioID, stepID) {
			continue
		}
		candidates = append(candidates, scored{rule: r, score: cosineSimilarity(q.QueryEmbedding, r.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	topK := q.TopK
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]domain.Rule, 0, topK)
	for _, c := range candidates[:topK] {
		out = append(out, c.rule)
	}
	return out, nil
}

func (c *ConfigStore) ListGlobalHardConstraints(_ context.Context, tenantID, agentID domain.ID) ([]domain.Rule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Rule
	for _, r := range c.rules {
		if r.TenantID == tenantID && r.AgentID == agentID && r.Scope == domain.RuleScopeGlobal && r.IsHardConstraint && r.Enabled && !r.IsDeleted() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *ConfigStore) GetScenario(_ context.Context, tenantID, id domain.ID, version int) (domain.Scenario, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scenarios[scenarioKey{tenantID, id, version}]
	if !ok {
		return domain.Scenario{}, store.ErrNotFound
	}
	return s, nil
}

func (c *ConfigStore) GetLatestScenario(_ context.Context, tenantID, id domain.ID) (domain.Scenario, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.latest[[2]domain.ID{tenantID, id}]
	if !ok {
		return domain.Scenario{}, store.ErrNotFound
	}
	s, ok := c.scenarios[scenarioKey{tenantID, id, v}]
	if !ok {
		return domain.Scenario{}, store.ErrNotFound
	}
	return s, nil
}

func (c *ConfigStore) SaveScenario(_ context.Context, scenario domain.Scenario) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := scenarioKey{scenario.TenantID, scenario.ID, scenario.Version}
	c.scenarios[key] = scenario
	tk := [2]domain.ID{scenario.TenantID, scenario.ID}
	if scenario.Version > c.latest[tk] {
		c.latest[tk] = scenario.Version
	}
	return nil
}

// ArchiveScenarioVersion is a no-op beyond validating the version exists:
// the in-memory store keeps every version indefinitely already (spec.md §6
// "Scenario version archives keep every published version indefinitely").
func (c *ConfigStore) ArchiveScenarioVersion(_ context.Context, tenantID, id domain.ID, version int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.scenarios[scenarioKey{tenantID, id, version}]; !ok {
		return store.ErrNotFound
	}
	return nil
}

func (c *ConfigStore) ListScenarioVersions(_ context.Context, tenantID, id domain.ID) ([]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var versions []int
	for k := range c.scenarios {
		if k.tenant == tenantID && k.id == id {
			versions = append(versions, k.version)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

func (c *ConfigStore) GetTemplate(_ context.Context, tenantID, id domain.ID) (domain.Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[ruleKey{tenantID, id}]
	if !ok {
		return domain.Template{}, store.ErrNotFound
	}
	return t, nil
}

func (c *ConfigStore) ListTemplates(_ context.Context, tenantID, agentID domain.ID, mode domain.TemplateMode) ([]domain.Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Template
	for _, t := range c.templates {
		if t.TenantID == tenantID && t.AgentID == agentID && (mode == "" || t.Mode == mode) {
			out = append(out, t)
		}
	}
	// Fallback-template tie-break is priority desc (DESIGN.md Open Question 2).
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (c *ConfigStore) SaveTemplate(_ context.Context, tmpl domain.Template) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[ruleKey{tmpl.TenantID, tmpl.ID}] = tmpl
	return nil
}

func (c *ConfigStore) GetMigrationPlanByID(_ context.Context, tenantID, planID domain.ID) (domain.MigrationPlan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plansByID[ruleKey{tenantID, planID}]
	if !ok {
		return domain.MigrationPlan{}, store.ErrNotFound
	}
	return p, nil
}

func (c *ConfigStore) GetMigrationPlanByVersions(_ context.Context, tenantID, scenarioID domain.ID, fromVersion, toVersion int) (domain.MigrationPlan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[planKey{tenantID, scenarioID, fromVersion, toVersion}]
	if !ok {
		return domain.MigrationPlan{}, store.ErrNotFound
	}
	return p, nil
}

func (c *ConfigStore) SaveMigrationPlan(_ context.Context, plan domain.MigrationPlan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[planKey{plan.TenantID, plan.ScenarioID, plan.FromVersion, plan.ToVersion}] = plan
	c.plansByID[ruleKey{plan.TenantID, plan.ID}] = plan
	return nil
}

func (c *ConfigStore) ListMigrationPlansFrom(_ context.Context, tenantID, scenarioID domain.ID, fromVersion int) ([]domain.MigrationPlan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.MigrationPlan
	for k, p := range c.plans {
		if k.tenant == tenantID && k.scenarioID == scenarioID && k.fromVersion == fromVersion {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *ConfigStore) ListGlossary(_ context.Context, tenantID, agentID domain.ID) ([]domain.GlossaryItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.GlossaryItem(nil), c.glossary[[2]domain.ID{tenantID, agentID}]...), nil
}

func (c *ConfigStore) SetGlossary(tenantID, agentID domain.ID, items []domain.GlossaryItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.glossary[[2]domain.ID{tenantID, agentID}] = append([]domain.GlossaryItem(nil), items...)
}

func (c *ConfigStore) ListInterlocutorFields(_ context.Context, tenantID, agentID domain.ID) ([]domain.InterlocutorDataField, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.InterlocutorDataField(nil), c.fields[[2]domain.ID{tenantID, agentID}]...), nil
}

func (c *ConfigStore) SetInterlocutorFields(tenantID, agentID domain.ID, fields []domain.InterlocutorDataField) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields[[2]domain.ID{tenantID, agentID}] = append([]domain.InterlocutorDataField(nil), fields...)
}

func (c *ConfigStore) LoadPipelineConfig(_ context.Context, tenantID, agentID domain.ID) (domain.PipelineConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.configs[[2]domain.ID{tenantID, agentID}]
	if !ok {
		return domain.DefaultPipelineConfig(), nil
	}
	return cfg, nil
}

func (c *ConfigStore) SetPipelineConfig(tenantID, agentID domain.ID, cfg domain.PipelineConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[[2]domain.ID{tenantID, agentID}] = cfg
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
