package mongo

import (
	"context"
	"time"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
	clientsmongo "github.com/turnkit/align/store/mongo/clients/mongo"
)

// AuditStore implements store.AuditRepository by delegating to the Mongo
// client. Every write is an insert; spec.md §8 property 10 requires the
// turn/audit log never be mutated after write, which this package honors by
// exposing no update or delete path at all.
type AuditStore struct {
	client clientsmongo.Client
}

// NewAuditStore wraps an already-constructed client.
func NewAuditStore(client clientsmongo.Client) *AuditStore {
	return &AuditStore{client: client}
}

// NewAuditStoreFromOptions instantiates the underlying client and wraps it.
func NewAuditStoreFromOptions(opts clientsmongo.Options) (*AuditStore, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewAuditStore(client), nil
}

func (s *AuditStore) SaveTurnRecord(ctx context.Context, rec domain.TurnRecord) error {
	return s.client.AppendTurnRecord(ctx, rec)
}

func (s *AuditStore) SaveAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	return s.client.AppendAuditEvent(ctx, ev)
}

func (s *AuditStore) ListTurnRecords(ctx context.Context, tenantID, sessionID domain.ID, from, to time.Time) ([]domain.TurnRecord, error) {
	return s.client.ListTurnRecords(ctx, tenantID, sessionID, from, to)
}

func (s *AuditStore) ListAuditEvents(ctx context.Context, tenantID, sessionID domain.ID, from, to time.Time) ([]domain.AuditEvent, error) {
	return s.client.ListAuditEvents(ctx, tenantID, sessionID, from, to)
}

var _ store.AuditRepository = (*AuditStore)(nil)
