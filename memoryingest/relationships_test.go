package memoryingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store/inmem"
)

func TestResolveOrCreateEntityCreatesNewWhenNoMatch(t *testing.T) {
	memory := inmem.NewMemoryStore()
	dedup := &Deduplicator{Memory: memory, Config: domain.DedupConfig{}}
	tenantID, agentID := domain.NewID(), domain.NewID()

	entity, err := resolveOrCreateEntity(context.Background(), memory, dedup, tenantID, agentID, ExtractedEntity{
		Name: "Grace Hopper", Type: "person", Attributes: map[string]any{"email": "grace@example.com"},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", entity.CanonicalName)
	assert.Equal(t, normalizeName("Grace Hopper"), entity.NormalizedName)

	stored, err := memory.GetEntity(context.Background(), tenantID, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ID, stored.ID)
}

func TestResolveOrCreateEntityMergesIntoExistingWithNewWinsPrecedence(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID, agentID := domain.NewID(), domain.NewID()
	original := domain.Entity{
		ID: domain.NewID(), EntityType: "person", CanonicalName: "Grace Hopper",
		NormalizedName: normalizeName("Grace Hopper"), TenantScope: domain.TenantScope{TenantID: tenantID, AgentID: agentID},
		Attributes: map[string]any{"role": "admiral"}, ValidFrom: time.Now().Add(-time.Hour),
	}
	require.NoError(t, memory.SaveEntity(context.Background(), original))

	dedup := &Deduplicator{Memory: memory, Config: domain.DedupConfig{}}
	merged, err := resolveOrCreateEntity(context.Background(), memory, dedup, tenantID, agentID, ExtractedEntity{
		Name: "Grace Hopper", Type: "person", Attributes: map[string]any{"role": "rear admiral"},
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, original.ID, merged.ID, "merge must preserve the existing entity's id")
	assert.Equal(t, original.ValidFrom, merged.ValidFrom, "merge must preserve the existing entity's valid_from")
	assert.Equal(t, "rear admiral", merged.Attributes["role"], "new attributes must win over the existing ones")
}

func TestRewriteRelationshipSkipsWhenEndpointUnresolved(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID, agentID := domain.NewID(), domain.NewID()
	known := domain.Entity{ID: domain.NewID(), CanonicalName: "Known"}
	byName := map[string]domain.Entity{normalizeName("Known"): known}

	err := rewriteRelationship(context.Background(), memory, tenantID, agentID, ExtractedRelationship{
		FromName: "Known", ToName: "Unresolved Stranger", RelationType: "knows",
	}, byName, time.Now())
	require.NoError(t, err, "an unresolved endpoint should be skipped, not fail the turn")

	_, err = memory.GetActiveRelationship(context.Background(), tenantID, known.ID, "knows")
	assert.Error(t, err, "nothing should have been saved")
}

func TestRewriteRelationshipSavesResolvedPair(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID, agentID := domain.NewID(), domain.NewID()
	from := domain.Entity{ID: domain.NewID(), CanonicalName: "Alice"}
	to := domain.Entity{ID: domain.NewID(), CanonicalName: "Bob"}
	byName := map[string]domain.Entity{normalizeName("Alice"): from, normalizeName("Bob"): to}

	err := rewriteRelationship(context.Background(), memory, tenantID, agentID, ExtractedRelationship{
		FromName: "Alice", ToName: "Bob", RelationType: "manages",
	}, byName, time.Now())
	require.NoError(t, err)

	rel, err := memory.GetActiveRelationship(context.Background(), tenantID, from.ID, "manages")
	require.NoError(t, err)
	assert.Equal(t, to.ID, rel.ToEntityID)
}
