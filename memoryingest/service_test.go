package memoryingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/pipeline"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/store/inmem"
	"github.com/turnkit/align/telemetry"
)

func newTestJob(tenantID, agentID, sessionID domain.ID) pipeline.IngestionJob {
	return pipeline.IngestionJob{
		TenantID: tenantID, AgentID: agentID, SessionID: sessionID,
		TurnID: domain.NewID(), TurnNumber: 1,
		UserMessage: "I talked to Ada Lovelace about the engine.", AgentResponse: "Got it.",
		Now: time.Now(),
	}
}

func waitForEpisode(t *testing.T, memory *inmem.MemoryStore, groupID string) []domain.Episode {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		episodes, err := memory.SearchEpisodes(context.Background(), store.MemorySearchQuery{GroupID: groupID, TopK: 50})
		require.NoError(t, err)
		if len(episodes) > 0 {
			return episodes
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for background ingestion to save an episode")
	return nil
}

func TestServiceEnqueueSavesEpisodeWithoutBlockingCaller(t *testing.T) {
	memory := inmem.NewMemoryStore()
	svc := NewService(memory, nil, nil, nil, "test-model", domain.EntityExtractionConfig{}, domain.DedupConfig{}, domain.SummarizationConfig{}, nil, nil, 2, 8)
	t.Cleanup(svc.Close)

	tenantID, agentID, sessionID := domain.NewID(), domain.NewID(), domain.NewID()
	job := newTestJob(tenantID, agentID, sessionID)
	require.NoError(t, svc.Enqueue(context.Background(), job))

	groupID := domain.GroupID(tenantID, sessionID)
	episodes := waitForEpisode(t, memory, groupID)
	require.Len(t, episodes, 1)
	assert.Contains(t, episodes[0].Content, "Ada Lovelace")
	assert.Equal(t, domain.ContentMessage, episodes[0].ContentType)
}

func TestServiceEnqueueReturnsErrorWhenQueueFull(t *testing.T) {
	memory := inmem.NewMemoryStore()
	// Zero workers: nothing drains the channel, so the second Enqueue call
	// must see a full buffer of size 1 and report it rather than block.
	svc := &Service{Memory: memory, Model: "test-model", Log: telemetry.NewNoopLogger(), Clock: time.Now, jobs: make(chan jobContext, 1)}

	tenantID, agentID, sessionID := domain.NewID(), domain.NewID(), domain.NewID()
	require.NoError(t, svc.Enqueue(context.Background(), newTestJob(tenantID, agentID, sessionID)))
	err := svc.Enqueue(context.Background(), newTestJob(tenantID, agentID, sessionID))
	assert.Error(t, err)
}

func TestServiceIngestsEntitiesAndRelationshipsAboveConfidenceFloor(t *testing.T) {
	memory := inmem.NewMemoryStore()
	extractor := scriptedGenerator{reply: `{
		"entities": [
			{"name": "Ada Lovelace", "type": "person", "confidence": 0.95},
			{"name": "Uncertain Thing", "type": "concept", "confidence": 0.1}
		],
		"relationships": [
			{"from_name": "Ada Lovelace", "to_name": "Uncertain Thing", "relation_type": "mentioned", "confidence": 0.95}
		]
	}`}
	svc := NewService(memory, nil, extractor, nil, "test-model", domain.EntityExtractionConfig{MinConfidence: 0.5}, domain.DedupConfig{}, domain.SummarizationConfig{}, nil, nil, 1, 4)
	t.Cleanup(svc.Close)

	tenantID, agentID, sessionID := domain.NewID(), domain.NewID(), domain.NewID()
	job := newTestJob(tenantID, agentID, sessionID)
	require.NoError(t, svc.Enqueue(context.Background(), job))

	groupID := domain.GroupID(tenantID, sessionID)
	waitForEpisode(t, memory, groupID)

	found, err := memory.FindEntityByNormalizedName(context.Background(), tenantID, "person", normalizeName("Ada Lovelace"))
	require.NoError(t, err, "the high-confidence entity should have been saved")

	_, err = memory.FindEntityByNormalizedName(context.Background(), tenantID, "concept", normalizeName("Uncertain Thing"))
	assert.Error(t, err, "the low-confidence entity should have been filtered out before dedup")

	// The relationship referenced the filtered-out entity as its target, so
	// it must have been skipped rather than saved with a zero-value endpoint.
	_, err = memory.GetActiveRelationship(context.Background(), tenantID, found.ID, "mentioned")
	assert.Error(t, err)
}
