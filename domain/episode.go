package domain

import "time"

// ContentType classifies an Episode's payload.
type ContentType string

const (
	ContentMessage     ContentType = "message"
	ContentEvent       ContentType = "event"
	ContentDocument    ContentType = "document"
	ContentSummary     ContentType = "summary"
	ContentMetaSummary ContentType = "meta_summary"
)

// EpisodeSource identifies who produced an Episode.
type EpisodeSource string

const (
	SourceUser     EpisodeSource = "user"
	SourceAgent    EpisodeSource = "agent"
	SourceSystem   EpisodeSource = "system"
	SourceExternal EpisodeSource = "external"
)

// GroupID is the memory isolation key: tenant_id:session_id.
func GroupID(tenantID, sessionID ID) string {
	return tenantID.String() + ":" + sessionID.String()
}

// SourceMetadata carries provenance for derived episodes (summaries).
type SourceMetadata struct {
	EpisodeIDs []ID
}

// Episode is an atomic memory unit scoped by GroupID.
type Episode struct {
	Timestamps
	TenantScope

	ID             ID
	GroupID        string
	Content        string
	ContentType    ContentType
	Source         EpisodeSource
	OccurredAt     time.Time
	RecordedAt     time.Time
	Embedding      []float32
	EntityIDs      []ID
	SourceMetadata SourceMetadata
}
