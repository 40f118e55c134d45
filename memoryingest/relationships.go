package memoryingest

import (
	"context"
	"time"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
)

// resolveOrCreateEntity dedups ext against existing entities and either
// merges into the match (new-wins attribute precedence, preserving the
// original valid_from and id) or creates a fresh one (spec.md §4.6
// "Merging unions attribute maps with new-wins precedence and preserves
// the existing entity's valid_from and id").
func resolveOrCreateEntity(ctx context.Context, memory store.MemoryRepository, dedup *Deduplicator, tenantID, agentID domain.ID, ext ExtractedEntity, now time.Time) (domain.Entity, error) {
	existing, ok, err := dedup.Resolve(ctx, tenantID, ext)
	if err != nil {
		return domain.Entity{}, err
	}
	if ok {
		existing.MergeAttributes(ext.Attributes)
		existing.Touch(now)
		if err := memory.SaveEntity(ctx, existing); err != nil {
			return domain.Entity{}, err
		}
		return existing, nil
	}

	fresh := domain.Entity{
		Timestamps:     domain.Timestamps{CreatedAt: now, UpdatedAt: now},
		TenantScope:    domain.TenantScope{TenantID: tenantID, AgentID: agentID},
		ID:             domain.NewID(),
		EntityType:     ext.Type,
		CanonicalName:  ext.Name,
		NormalizedName: normalizeName(ext.Name),
		Attributes:     ext.Attributes,
		ValidFrom:      now,
	}
	if err := memory.SaveEntity(ctx, fresh); err != nil {
		return domain.Entity{}, err
	}
	return fresh, nil
}

// rewriteRelationship resolves an ExtractedRelationship's endpoint names to
// entity ids and saves a new bi-temporal row; MemoryRepository.SaveRelationship
// closes any prior open-ended row for the same (from_entity_id,
// relation_type) as part of the same call (spec.md §4.6, §8 property 5).
func rewriteRelationship(ctx context.Context, memory store.MemoryRepository, tenantID, agentID domain.ID, rel ExtractedRelationship, byName map[string]domain.Entity, now time.Time) error {
	from, ok := byName[normalizeName(rel.FromName)]
	if !ok {
		return nil
	}
	to, ok := byName[normalizeName(rel.ToName)]
	if !ok {
		return nil
	}
	row := domain.Relationship{
		Timestamps:   domain.Timestamps{CreatedAt: now, UpdatedAt: now},
		TenantScope:  domain.TenantScope{TenantID: tenantID, AgentID: agentID},
		ID:           domain.NewID(),
		FromEntityID: from.ID,
		ToEntityID:   to.ID,
		RelationType: rel.RelationType,
		Attributes:   rel.Attributes,
		ValidFrom:    now,
	}
	return memory.SaveRelationship(ctx, row)
}
