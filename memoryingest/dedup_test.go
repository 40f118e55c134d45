package memoryingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store/inmem"
)

func saveTestEntity(t *testing.T, memory *inmem.MemoryStore, tenantID domain.ID, e domain.Entity) domain.Entity {
	t.Helper()
	if e.ID == (domain.ID{}) {
		e.ID = domain.NewID()
	}
	e.TenantID = tenantID
	require.NoError(t, memory.SaveEntity(context.Background(), e))
	return e
}

func TestDeduplicatorStage1ExactNormalizedNameMatch(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID := domain.NewID()
	existing := saveTestEntity(t, memory, tenantID, domain.Entity{
		EntityType: "person", CanonicalName: "Ada Lovelace", NormalizedName: normalizeName("Ada Lovelace"),
	})

	d := &Deduplicator{Memory: memory, Config: domain.DedupConfig{}}
	match, ok, err := d.Resolve(context.Background(), tenantID, ExtractedEntity{Name: "ADA LOVELACE!", Type: "person"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, existing.ID, match.ID)
}

func TestDeduplicatorStage2FuzzyNameMatch(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID := domain.NewID()
	existing := saveTestEntity(t, memory, tenantID, domain.Entity{
		EntityType: "person", CanonicalName: "Jonathan Smith", NormalizedName: normalizeName("Jonathan Smith"),
	})

	d := &Deduplicator{Memory: memory, Config: domain.DedupConfig{FuzzyThreshold: 0.8}}
	match, ok, err := d.Resolve(context.Background(), tenantID, ExtractedEntity{Name: "Jonathon Smith", Type: "person"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, existing.ID, match.ID)
}

type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return f.vec, nil }

func TestDeduplicatorStage3EmbeddingSimilarityMatch(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID := domain.NewID()
	existing := saveTestEntity(t, memory, tenantID, domain.Entity{
		EntityType: "person", CanonicalName: "Completely Different Name", NormalizedName: "zzz-no-fuzzy-match",
		Embedding: []float32{1, 0, 0},
	})

	d := &Deduplicator{Memory: memory, Embedder: fixedEmbedder{vec: []float32{1, 0, 0}}, Config: domain.DedupConfig{EmbeddingThreshold: 0.9}}
	match, ok, err := d.Resolve(context.Background(), tenantID, ExtractedEntity{Name: "Some Other Label Entirely", Type: "person"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, existing.ID, match.ID)
}

func TestDeduplicatorStage4AttributeEqualityMatch(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID := domain.NewID()
	existing := saveTestEntity(t, memory, tenantID, domain.Entity{
		EntityType: "person", CanonicalName: "Robert", NormalizedName: "zzz-no-name-match",
		Attributes: map[string]any{"email": "bob@example.com"},
	})

	d := &Deduplicator{Memory: memory, Config: domain.DedupConfig{}}
	match, ok, err := d.Resolve(context.Background(), tenantID, ExtractedEntity{
		Name: "Bobby", Type: "person", Attributes: map[string]any{"email": "bob@example.com"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, existing.ID, match.ID)
}

func TestDeduplicatorNoMatchReturnsFalse(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID := domain.NewID()
	saveTestEntity(t, memory, tenantID, domain.Entity{
		EntityType: "person", CanonicalName: "Someone Else", NormalizedName: normalizeName("Someone Else"),
	})

	d := &Deduplicator{Memory: memory, Config: domain.DedupConfig{}}
	_, ok, err := d.Resolve(context.Background(), tenantID, ExtractedEntity{Name: "Totally New Person", Type: "person"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNormalizeNameLowercasesAndStripsPunctuation(t *testing.T) {
	assert.Equal(t, "ada lovelace", normalizeName("  Ada, Lovelace!  "))
}
