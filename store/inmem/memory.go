package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
)

// MemoryStore is an in-memory store.MemoryRepository: episodes, entities,
// and relationships scoped by GroupID (tenant:session), per spec.md §4.6.
type MemoryStore struct {
	mu            sync.RWMutex
	episodes      map[domain.ID]domain.Episode
	entities      map[domain.ID]domain.Entity
	relationships map[domain.ID]domain.Relationship
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		episodes:      make(map[domain.ID]domain.Episode),
		entities:      make(map[domain.ID]domain.Entity),
		relationships: make(map[domain.ID]domain.Relationship),
	}
}

func (m *MemoryStore) SaveEpisode(_ context.Context, e domain.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[e.ID] = e
	return nil
}

// SearchEpisodes scores by cosine similarity when QueryEmbedding is set,
// otherwise falls back to a case-insensitive substring match on
// q.TextQuery (a brute-force stand-in for the BM25/full-text search a
// durable backend would provide).
func (m *MemoryStore) SearchEpisodes(_ context.Context, q store.MemorySearchQuery) ([]domain.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		ep    domain.Episode
		score float64
	}
	var candidates []scored
	for _, e := range m.episodes {
		if e.GroupID != q.GroupID {
			continue
		}
		var score float64
		switch {
		case len(q.QueryEmbedding) > 0:
			score = cosineSimilarity(q.QueryEmbedding, e.Embedding)
		case q.TextQuery != "":
			if !strings.Contains(strings.ToLower(e.Content), strings.ToLower(q.TextQuery)) {
				continue
			}
			score = 1
		default:
			score = float64(e.OccurredAt.Unix())
		}
		candidates = append(candidates, scored{ep: e, score: score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	topK := q.TopK
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]domain.Episode, 0, topK)
	for _, c := range candidates[:topK] {
		out = append(out, c.ep)
	}
	return out, nil
}

func (m *MemoryStore) GetEntity(_ context.Context, tenantID, id domain.ID) (domain.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok || e.TenantID != tenantID {
		return domain.Entity{}, store.ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) FindEntityByNormalizedName(_ context.Context, tenantID domain.ID, entityType, normalizedName string) (domain.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entities {
		if e.TenantID == tenantID && e.EntityType == entityType && e.NormalizedName == normalizedName {
			return e, nil
		}
	}
	return domain.Entity{}, store.ErrNotFound
}

func (m *MemoryStore) SearchEntitiesByEmbedding(_ context.Context, tenantID domain.ID, entityType string, embedding []float32, topK int) ([]domain.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type scored struct {
		e     domain.Entity
		score float64
	}
	var candidates []scored
	for _, e := range m.entities {
		if e.TenantID != tenantID || (entityType != "" && e.EntityType != entityType) {
			continue
		}
		candidates = append(candidates, scored{e: e, score: cosineSimilarity(embedding, e.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]domain.Entity, 0, topK)
	for _, c := range candidates[:topK] {
		out = append(out, c.e)
	}
	return out, nil
}

func (m *MemoryStore) SaveEntity(_ context.Context, e domain.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e
	return nil
}

// SaveRelationship enforces spec.md §8 property 5 (bi-temporal
// correctness): saving a new open-ended relationship for
// (from_entity_id, relation_type) closes any prior open-ended row by
// setting its ValidTo to the new row's ValidFrom.
func (m *MemoryStore) SaveRelationship(_ context.Context, r domain.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ValidTo == nil {
		for id, existing := range m.relationships {
			if id == r.ID {
				continue
			}
			if existing.FromEntityID == r.FromEntityID && existing.RelationType == r.RelationType && existing.ValidTo == nil {
				closedAt := r.ValidFrom
				existing.ValidTo = &closedAt
				m.relationships[id] = existing
			}
		}
	}
	m.relationships[r.ID] = r
	return nil
}

func (m *MemoryStore) GetActiveRelationship(_ context.Context, tenantID, fromEntityID domain.ID, relationType string) (domain.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.relationships {
		if r.TenantID == tenantID && r.FromEntityID == fromEntityID && r.RelationType == relationType && r.ValidTo == nil {
			return r, nil
		}
	}
	return domain.Relationship{}, store.ErrNotFound
}

// Traverse performs a bounded-depth BFS from seed over active
// relationships (spec.md §6 "bounded-depth graph traversal by BFS").
func (m *MemoryStore) Traverse(_ context.Context, tenantID, seed domain.ID, maxDepth int) ([]domain.Entity, []domain.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visitedEntities := make(map[domain.ID]bool)
	visitedRels := make(map[domain.ID]bool)
	var entities []domain.Entity
	var rels []domain.Relationship

	type frontierEntry struct {
		id    domain.ID
		depth int
	}
	queue := []frontierEntry{{seed, 0}}
	visitedEntities[seed] = true
	if e, ok := m.entities[seed]; ok && e.TenantID == tenantID {
		entities = append(entities, e)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, r := range m.relationships {
			if r.TenantID != tenantID || r.ValidTo != nil {
				continue
			}
			var next domain.ID
			switch cur.id {
			case r.FromEntityID:
				next = r.ToEntityID
			case r.ToEntityID:
				next = r.FromEntityID
			default:
				continue
			}
			if !visitedRels[r.ID] {
				visitedRels[r.ID] = true
				rels = append(rels, r)
			}
			if !visitedEntities[next] {
				visitedEntities[next] = true
				if e, ok := m.entities[next]; ok {
					entities = append(entities, e)
				}
				queue = append(queue, frontierEntry{next, cur.depth + 1})
			}
		}
	}
	return entities, rels, nil
}

func (m *MemoryStore) DeleteGroup(_ context.Context, groupID string, cascadeEntities bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deletedEntityIDs []domain.ID
	for id, e := range m.episodes {
		if e.GroupID == groupID {
			deletedEntityIDs = append(deletedEntityIDs, e.EntityIDs...)
			delete(m.episodes, id)
		}
	}
	if !cascadeEntities {
		return nil
	}
	for _, id := range deletedEntityIDs {
		stillReferenced := false
		for _, e := range m.episodes {
			for _, eid := range e.EntityIDs {
				if eid == id {
					stillReferenced = true
				}
			}
		}
		if !stillReferenced {
			delete(m.entities, id)
			for rid, r := range m.relationships {
				if r.FromEntityID == id || r.ToEntityID == id {
					delete(m.relationships, rid)
				}
			}
		}
	}
	return nil
}
