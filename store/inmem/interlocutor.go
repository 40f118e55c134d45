package inmem

import (
	"context"
	"sync"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
)

// InterlocutorStore is an in-memory store.InterlocutorRepository.
type InterlocutorStore struct {
	mu       sync.RWMutex
	profiles map[domain.ID]domain.InterlocutorProfile
}

func NewInterlocutorStore() *InterlocutorStore {
	return &InterlocutorStore{profiles: make(map[domain.ID]domain.InterlocutorProfile)}
}

func (s *InterlocutorStore) GetProfile(_ context.Context, tenantID, id domain.ID) (domain.InterlocutorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok || p.TenantID != tenantID {
		return domain.InterlocutorProfile{}, store.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *InterlocutorStore) SaveProfile(_ context.Context, p domain.InterlocutorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = cloneProfile(p)
	return nil
}

func (s *InterlocutorStore) FieldHistory(_ context.Context, tenantID, profileID domain.ID, fieldName string) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	var out []domain.HistoryEntry
	for _, e := range p.Fields[fieldName] {
		out = append(out, e.History...)
	}
	return out, nil
}

func (s *InterlocutorStore) SaveAsset(_ context.Context, profileID domain.ID, asset domain.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return store.ErrNotFound
	}
	if p.Assets == nil {
		p.Assets = make(map[string][]domain.Asset)
	}
	p.Assets[asset.Kind] = append(p.Assets[asset.Kind], asset)
	s.profiles[profileID] = p
	return nil
}

// Lineage walks a field's entry chain starting at entryID, following
// SupersededByID forward, returning every entry visited in order.
func (s *InterlocutorStore) Lineage(_ context.Context, tenantID, profileID domain.ID, fieldName string, entryID domain.ID) ([]domain.VariableEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	byID := make(map[domain.ID]domain.VariableEntry, len(p.Fields[fieldName]))
	for _, e := range p.Fields[fieldName] {
		byID[e.ID] = e
	}
	var chain []domain.VariableEntry
	cur, ok := byID[entryID]
	for ok {
		chain = append(chain, cur)
		if cur.SupersededByID == nil {
			break
		}
		cur, ok = byID[*cur.SupersededByID]
	}
	return chain, nil
}

func (s *InterlocutorStore) MissingFields(_ context.Context, tenantID, profileID domain.ID, required []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok || p.TenantID != tenantID {
		return required, nil
	}
	var missing []string
	for _, name := range required {
		if _, ok := p.ActiveField(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

func cloneProfile(p domain.InterlocutorProfile) domain.InterlocutorProfile {
	out := p
	out.Fields = make(map[string][]domain.VariableEntry, len(p.Fields))
	for k, entries := range p.Fields {
		cloned := make([]domain.VariableEntry, len(entries))
		copy(cloned, entries)
		out.Fields[k] = cloned
	}
	out.Assets = make(map[string][]domain.Asset, len(p.Assets))
	for k, assets := range p.Assets {
		cloned := make([]domain.Asset, len(assets))
		copy(cloned, assets)
		out.Assets[k] = cloned
	}
	out.ChannelIdentities = append([]domain.ChannelIdentity(nil), p.ChannelIdentities...)
	return out
}
