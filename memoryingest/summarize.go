package memoryingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/llmgw"
	"github.com/turnkit/align/store"
)

// maybeSummarize implements spec.md §4.6's hierarchical summarization: a
// window summary every TurnsPerSummary turns, and, at each window boundary
// once the session has reached EnabledAtTurnCount turns, a meta-summary
// whenever at least SummariesPerMeta window summaries are among the most
// recent episodes. Both are best-effort; failures are logged by the caller
// and never propagate.
func (s *Service) maybeSummarize(ctx context.Context, job jobContext) error {
	cfg := s.Summarization
	if cfg.TurnsPerSummary <= 0 || job.TurnNumber < cfg.EnabledAtTurnCount {
		return nil
	}
	if job.TurnNumber%cfg.TurnsPerSummary != 0 {
		return nil
	}

	// Query wider than TurnsPerSummary: SearchEpisodes returns the most
	// recent episodes of any content type, and summary/meta episodes from
	// earlier windows may be interleaved with the messages we want.
	window, err := s.Memory.SearchEpisodes(ctx, store.MemorySearchQuery{
		GroupID: job.GroupID,
		TopK:    cfg.TurnsPerSummary * 4,
	})
	if err != nil || len(window) == 0 {
		return err
	}
	windowMessages := filterByType(window, domain.ContentMessage)
	if len(windowMessages) > cfg.TurnsPerSummary {
		windowMessages = windowMessages[:cfg.TurnsPerSummary]
	}
	if len(windowMessages) == 0 {
		return nil
	}

	summary, err := s.summarizeEpisodes(ctx, windowMessages, "Summarize the following conversation window in a few sentences, preserving names, decisions, and open commitments.")
	if err != nil {
		return err
	}
	episodeIDs := make([]domain.ID, 0, len(windowMessages))
	for _, e := range windowMessages {
		episodeIDs = append(episodeIDs, e.ID)
	}
	windowEpisode := s.newEpisode(job, summary, domain.ContentSummary)
	windowEpisode.SourceMetadata = domain.SourceMetadata{EpisodeIDs: episodeIDs}
	if err := s.embedAndSave(ctx, &windowEpisode); err != nil {
		return err
	}

	if cfg.SummariesPerMeta <= 0 {
		return nil
	}
	allWindows, err := s.Memory.SearchEpisodes(ctx, store.MemorySearchQuery{GroupID: job.GroupID, TopK: cfg.SummariesPerMeta * 4})
	if err != nil {
		return err
	}
	windows := filterByType(allWindows, domain.ContentSummary)
	if len(windows) < cfg.SummariesPerMeta {
		return nil
	}
	windows = windows[:cfg.SummariesPerMeta]

	meta, err := s.summarizeEpisodes(ctx, windows, "Synthesize the following window summaries into one higher-level meta-summary.")
	if err != nil {
		return err
	}
	metaIDs := make([]domain.ID, 0, len(windows))
	for _, e := range windows {
		metaIDs = append(metaIDs, e.ID)
	}
	metaEpisode := s.newEpisode(job, meta, domain.ContentMetaSummary)
	metaEpisode.SourceMetadata = domain.SourceMetadata{EpisodeIDs: metaIDs}
	return s.embedAndSave(ctx, &metaEpisode)
}

func filterByType(episodes []domain.Episode, t domain.ContentType) []domain.Episode {
	var out []domain.Episode
	for _, e := range episodes {
		if e.ContentType == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *Service) summarizeEpisodes(ctx context.Context, episodes []domain.Episode, instruction string) (string, error) {
	if s.Summarizer == nil {
		return "", fmt.Errorf("memoryingest: no summarization generator configured")
	}
	var b strings.Builder
	for _, e := range episodes {
		b.WriteString(e.Content)
		b.WriteByte('\n')
	}
	resp, err := s.Summarizer.Complete(ctx, llmgw.Request{
		Model:       s.Model,
		Temperature: 0.2,
		MaxTokens:   512,
		Messages: []llmgw.Message{
			{Role: "system", Content: instruction},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return concatContent(resp.Content), nil
}
