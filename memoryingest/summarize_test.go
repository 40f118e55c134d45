package memoryingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/store/inmem"
	"github.com/turnkit/align/telemetry"
)

func newSummarizeService(memory *inmem.MemoryStore, summarizer *scriptedGenerator, cfg domain.SummarizationConfig) *Service {
	s := &Service{Memory: memory, Model: "test-model", Summarization: cfg, Clock: time.Now}
	if summarizer != nil {
		s.Summarizer = *summarizer
	}
	s.Log = telemetry.NewNoopLogger()
	return s
}

func seedMessageEpisodes(t *testing.T, memory *inmem.MemoryStore, groupID string, tenantID, agentID domain.ID, n int) {
	t.Helper()
	now := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, memory.SaveEpisode(context.Background(), domain.Episode{
			TenantScope: domain.TenantScope{TenantID: tenantID, AgentID: agentID},
			ID:          domain.NewID(), GroupID: groupID, Content: "turn content", ContentType: domain.ContentMessage,
			OccurredAt: now, RecordedAt: now,
		}))
	}
}

func TestMaybeSummarizeSkipsBeforeEnabledTurnCount(t *testing.T) {
	memory := inmem.NewMemoryStore()
	svc := newSummarizeService(memory, nil, domain.SummarizationConfig{TurnsPerSummary: 2, EnabledAtTurnCount: 10})
	job := jobContext{IngestionJob: newTestJob(domain.NewID(), domain.NewID(), domain.NewID()), GroupID: "g1"}
	job.TurnNumber = 2

	require.NoError(t, svc.maybeSummarize(context.Background(), job))
	episodes, err := memory.SearchEpisodes(context.Background(), store.MemorySearchQuery{GroupID: "g1", TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestMaybeSummarizeSkipsOffWindowBoundary(t *testing.T) {
	memory := inmem.NewMemoryStore()
	svc := newSummarizeService(memory, &scriptedGenerator{reply: "summary"}, domain.SummarizationConfig{TurnsPerSummary: 5, EnabledAtTurnCount: 1})
	job := jobContext{IngestionJob: newTestJob(domain.NewID(), domain.NewID(), domain.NewID()), GroupID: "g1"}
	job.TurnNumber = 7 // not a multiple of 5

	require.NoError(t, svc.maybeSummarize(context.Background(), job))
	episodes, err := memory.SearchEpisodes(context.Background(), store.MemorySearchQuery{GroupID: "g1", TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestMaybeSummarizeProducesWindowSummaryOnBoundary(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID, agentID := domain.NewID(), domain.NewID()
	seedMessageEpisodes(t, memory, "g1", tenantID, agentID, 5)

	svc := newSummarizeService(memory, &scriptedGenerator{reply: "the window summary"}, domain.SummarizationConfig{TurnsPerSummary: 5, EnabledAtTurnCount: 1})
	job := jobContext{IngestionJob: newTestJob(tenantID, agentID, domain.NewID()), GroupID: "g1"}
	job.TurnNumber = 5

	require.NoError(t, svc.maybeSummarize(context.Background(), job))

	episodes, err := memory.SearchEpisodes(context.Background(), store.MemorySearchQuery{GroupID: "g1", TopK: 20})
	require.NoError(t, err)
	summaries := filterByType(episodes, domain.ContentSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, "the window summary", summaries[0].Content)
}

func TestMaybeSummarizeProducesMetaSummaryOnceEnoughWindowsExist(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID, agentID := domain.NewID(), domain.NewID()
	now := time.Now()
	for i := 0; i < 2; i++ {
		require.NoError(t, memory.SaveEpisode(context.Background(), domain.Episode{
			TenantScope: domain.TenantScope{TenantID: tenantID, AgentID: agentID},
			ID:          domain.NewID(), GroupID: "g1", Content: "window summary", ContentType: domain.ContentSummary,
			OccurredAt: now, RecordedAt: now,
		}))
	}
	seedMessageEpisodes(t, memory, "g1", tenantID, agentID, 3)

	svc := newSummarizeService(memory, &scriptedGenerator{reply: "the meta summary"}, domain.SummarizationConfig{
		TurnsPerSummary: 3, SummariesPerMeta: 2, EnabledAtTurnCount: 1,
	})
	job := jobContext{IngestionJob: newTestJob(tenantID, agentID, domain.NewID()), GroupID: "g1"}
	job.TurnNumber = 3

	require.NoError(t, svc.maybeSummarize(context.Background(), job))

	episodes, err := memory.SearchEpisodes(context.Background(), store.MemorySearchQuery{GroupID: "g1", TopK: 20})
	require.NoError(t, err)
	metas := filterByType(episodes, domain.ContentMetaSummary)
	require.Len(t, metas, 1)
	assert.Equal(t, "the meta summary", metas[0].Content)
}

func TestMaybeSummarizePropagatesGeneratorError(t *testing.T) {
	memory := inmem.NewMemoryStore()
	tenantID, agentID := domain.NewID(), domain.NewID()
	seedMessageEpisodes(t, memory, "g1", tenantID, agentID, 2)

	gen := &scriptedGenerator{err: assert.AnError}
	svc := newSummarizeService(memory, gen, domain.SummarizationConfig{TurnsPerSummary: 2, EnabledAtTurnCount: 1})
	job := jobContext{IngestionJob: newTestJob(tenantID, agentID, domain.NewID()), GroupID: "g1"}
	job.TurnNumber = 2

	err := svc.maybeSummarize(context.Background(), job)
	assert.ErrorIs(t, err, assert.AnError)
}
