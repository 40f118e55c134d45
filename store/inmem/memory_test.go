package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
)

// TestSaveRelationshipClosesPriorOpenEndedRow verifies spec.md §8 property
// 5: saving a new open-ended relationship for (from_entity_id,
// relation_type) leaves exactly one row with valid_to = nil for that pair.
func TestSaveRelationshipClosesPriorOpenEndedRow(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	tenantID, agentID := domain.NewID(), domain.NewID()
	fromID, toID1, toID2 := domain.NewID(), domain.NewID(), domain.NewID()

	first := domain.Relationship{
		TenantScope: domain.TenantScope{TenantID: tenantID, AgentID: agentID},
		ID:          domain.NewID(), FromEntityID: fromID, ToEntityID: toID1,
		RelationType: "manages", ValidFrom: time.Now().Add(-time.Hour),
	}
	require.NoError(t, m.SaveRelationship(ctx, first))

	active, err := m.GetActiveRelationship(ctx, tenantID, fromID, "manages")
	require.NoError(t, err)
	assert.Equal(t, toID1, active.ToEntityID)

	second := domain.Relationship{
		TenantScope: domain.TenantScope{TenantID: tenantID, AgentID: agentID},
		ID:          domain.NewID(), FromEntityID: fromID, ToEntityID: toID2,
		RelationType: "manages", ValidFrom: time.Now(),
	}
	require.NoError(t, m.SaveRelationship(ctx, second))

	active, err = m.GetActiveRelationship(ctx, tenantID, fromID, "manages")
	require.NoError(t, err)
	assert.Equal(t, toID2, active.ToEntityID, "the newly saved row must be the only active one")

	_, _, err = m.Traverse(ctx, tenantID, fromID, 1)
	require.NoError(t, err)
}

// TestSaveRelationshipDoesNotCloseDifferentRelationType verifies the closing
// behavior is scoped to (from_entity_id, relation_type), not from_entity_id
// alone.
func TestSaveRelationshipDoesNotCloseDifferentRelationType(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	tenantID, agentID := domain.NewID(), domain.NewID()
	fromID, toA, toB := domain.NewID(), domain.NewID(), domain.NewID()

	require.NoError(t, m.SaveRelationship(ctx, domain.Relationship{
		TenantScope: domain.TenantScope{TenantID: tenantID, AgentID: agentID},
		ID:          domain.NewID(), FromEntityID: fromID, ToEntityID: toA,
		RelationType: "manages", ValidFrom: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, m.SaveRelationship(ctx, domain.Relationship{
		TenantScope: domain.TenantScope{TenantID: tenantID, AgentID: agentID},
		ID:          domain.NewID(), FromEntityID: fromID, ToEntityID: toB,
		RelationType: "mentors", ValidFrom: time.Now(),
	}))

	manages, err := m.GetActiveRelationship(ctx, tenantID, fromID, "manages")
	require.NoError(t, err, "an unrelated relation_type must not have closed this row")
	assert.Equal(t, toA, manages.ToEntityID)

	mentors, err := m.GetActiveRelationship(ctx, tenantID, fromID, "mentors")
	require.NoError(t, err)
	assert.Equal(t, toB, mentors.ToEntityID)
}
