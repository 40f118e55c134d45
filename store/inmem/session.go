package inmem

import (
	"context"
	"sync"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
)

type channelKey struct {
	tenant        domain.ID
	channel       string
	channelUserID string
}

// SessionStore is an in-memory store.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.ID]domain.Session
	byUser   map[channelKey]domain.ID
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.ID]domain.Session),
		byUser:   make(map[channelKey]domain.ID),
	}
}

func (s *SessionStore) Get(_ context.Context, tenantID, id domain.ID) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.TenantID != tenantID {
		return domain.Session{}, store.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *SessionStore) GetByChannelUser(_ context.Context, tenantID domain.ID, channel, channelUserID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[channelKey{tenantID, channel, channelUserID}]
	if !ok {
		return domain.Session{}, store.ErrNotFound
	}
	return cloneSession(s.sessions[id]), nil
}

func (s *SessionStore) Save(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
	s.byUser[channelKey{sess.TenantID, sess.Channel, sess.ChannelUserID}] = sess.ID
	return nil
}

func (s *SessionStore) ListByStatus(_ context.Context, tenantID domain.ID, migrating bool) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Session
	for _, sess := range s.sessions {
		if sess.TenantID != tenantID {
			continue
		}
		isMigrating := sess.MigrationState == domain.MigrationPending || sess.MigrationState == domain.MigrationMigrating
		if isMigrating == migrating {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

func cloneSession(in domain.Session) domain.Session {
	out := in
	if in.ActiveScenarioID != nil {
		id := *in.ActiveScenarioID
		out.ActiveScenarioID = &id
	}
	if in.ActiveStepID != nil {
		id := *in.ActiveStepID
		out.ActiveStepID = &id
	}
	if in.ActiveScenarioVersion != nil {
		v := *in.ActiveScenarioVersion
		out.ActiveScenarioVersion = &v
	}
	if in.Variables != nil {
		out.Variables = make(map[string]any, len(in.Variables))
		for k, v := range in.Variables {
			out.Variables[k] = v
		}
	}
	out.StepHistory = append([]domain.StepVisit(nil), in.StepHistory...)
	if in.PendingMigration != nil {
		pm := *in.PendingMigration
		out.PendingMigration = &pm
	}
	return out
}
