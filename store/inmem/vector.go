package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
)

type vectorRow struct {
	id        domain.ID
	embedding []float32
	filter    store.VectorFilter
}

// VectorStore is an in-memory store.VectorRepository, the generic embedding
// index underlying rule retrieval and entity/episode semantic search.
type VectorStore struct {
	mu          sync.RWMutex
	collections map[string][]vectorRow
	dims        map[string]int
}

func NewVectorStore() *VectorStore {
	return &VectorStore{
		collections: make(map[string][]vectorRow),
		dims:        make(map[string]int),
	}
}

func (v *VectorStore) EnsureCollection(_ context.Context, collection string, dims int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.collections[collection]; !ok {
		v.collections[collection] = nil
		v.dims[collection] = dims
	}
	return nil
}

func (v *VectorStore) Upsert(_ context.Context, collection string, id domain.ID, embedding []float32, filter store.VectorFilter) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	rows := v.collections[collection]
	for i, r := range rows {
		if r.id == id {
			rows[i] = vectorRow{id: id, embedding: embedding, filter: filter}
			v.collections[collection] = rows
			return nil
		}
	}
	v.collections[collection] = append(rows, vectorRow{id: id, embedding: embedding, filter: filter})
	return nil
}

func (v *VectorStore) Search(_ context.Context, collection string, embedding []float32, filter store.VectorFilter, topK int) ([]domain.ID, []float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	type scored struct {
		id    domain.ID
		score float64
	}
	var candidates []scored
	for _, r := range v.collections[collection] {
		if r.filter.TenantID != filter.TenantID {
			continue
		}
		if filter.AgentID != nil && (r.filter.AgentID == nil || *r.filter.AgentID != *filter.AgentID) {
			continue
		}
		if filter.EntityType != "" && r.filter.EntityType != filter.EntityType {
			continue
		}
		candidates = append(candidates, scored{id: r.id, score: cosineSimilarity(embedding, r.embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	ids := make([]domain.ID, 0, topK)
	scores := make([]float64, 0, topK)
	for _, c := range candidates[:topK] {
		ids = append(ids, c.id)
		scores = append(scores, c.score)
	}
	return ids, scores, nil
}

func (v *VectorStore) DeleteWhere(_ context.Context, collection string, filter store.VectorFilter) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	rows := v.collections[collection]
	kept := rows[:0]
	for _, r := range rows {
		if r.filter.TenantID == filter.TenantID && (filter.EntityType == "" || r.filter.EntityType == filter.EntityType) {
			continue
		}
		kept = append(kept, r)
	}
	v.collections[collection] = kept
	return nil
}
