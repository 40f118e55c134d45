package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
	clientsmongo "github.com/turnkit/align/store/mongo/clients/mongo"
)

// fakeClient is a hand-written clientsmongo.Client for exercising AuditStore
// and MigrationArchive without a live server.
type fakeClient struct {
	turnRecords []domain.TurnRecord
	auditEvents []domain.AuditEvent
	plans       map[domain.ID]domain.MigrationPlan

	getByIDErr error
	savedPlan  *domain.MigrationPlan
}

func newFakeClient() *fakeClient {
	return &fakeClient{plans: map[domain.ID]domain.MigrationPlan{}}
}

func (c *fakeClient) Ping(context.Context) error { return nil }

func (c *fakeClient) AppendTurnRecord(_ context.Context, rec domain.TurnRecord) error {
	c.turnRecords = append(c.turnRecords, rec)
	return nil
}

func (c *fakeClient) AppendAuditEvent(_ context.Context, ev domain.AuditEvent) error {
	c.auditEvents = append(c.auditEvents, ev)
	return nil
}

func (c *fakeClient) ListTurnRecords(context.Context, domain.ID, domain.ID, time.Time, time.Time) ([]domain.TurnRecord, error) {
	return c.turnRecords, nil
}

func (c *fakeClient) ListAuditEvents(context.Context, domain.ID, domain.ID, time.Time, time.Time) ([]domain.AuditEvent, error) {
	return c.auditEvents, nil
}

func (c *fakeClient) SaveMigrationPlan(_ context.Context, plan domain.MigrationPlan) error {
	c.savedPlan = &plan
	c.plans[plan.ID] = plan
	return nil
}

func (c *fakeClient) GetMigrationPlanByID(_ context.Context, _ domain.ID, planID domain.ID) (domain.MigrationPlan, error) {
	if c.getByIDErr != nil {
		return domain.MigrationPlan{}, c.getByIDErr
	}
	plan, ok := c.plans[planID]
	if !ok {
		return domain.MigrationPlan{}, clientsmongo.ErrPlanNotFound()
	}
	return plan, nil
}

func (c *fakeClient) GetMigrationPlanByVersions(context.Context, domain.ID, domain.ID, int, int) (domain.MigrationPlan, error) {
	return domain.MigrationPlan{}, clientsmongo.ErrPlanNotFound()
}

func (c *fakeClient) ListMigrationPlansFrom(context.Context, domain.ID, domain.ID, int) ([]domain.MigrationPlan, error) {
	plans := make([]domain.MigrationPlan, 0, len(c.plans))
	for _, p := range c.plans {
		plans = append(plans, p)
	}
	return plans, nil
}

var _ clientsmongo.Client = (*fakeClient)(nil)

func TestAuditStoreSavesTurnRecordAndAuditEvent(t *testing.T) {
	fc := newFakeClient()
	s := NewAuditStore(fc)

	rec := domain.TurnRecord{ID: domain.NewID(), SessionID: domain.NewID(), Response: "hi"}
	require.NoError(t, s.SaveTurnRecord(context.Background(), rec))
	require.Len(t, fc.turnRecords, 1)
	assert.Equal(t, rec.ID, fc.turnRecords[0].ID)

	ev := domain.AuditEvent{ID: domain.NewID(), Kind: domain.AuditEventViolation, Message: "blocked"}
	require.NoError(t, s.SaveAuditEvent(context.Background(), ev))
	require.Len(t, fc.auditEvents, 1)
	assert.Equal(t, domain.AuditEventViolation, fc.auditEvents[0].Kind)
}

func TestMigrationArchiveTranslatesNotFound(t *testing.T) {
	fc := newFakeClient()
	a := NewMigrationArchive(fc)

	_, err := a.GetMigrationPlanByID(context.Background(), domain.NewID(), domain.NewID())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigrationArchiveSaveThenGet(t *testing.T) {
	fc := newFakeClient()
	a := NewMigrationArchive(fc)

	plan := domain.MigrationPlan{ID: domain.NewID(), Status: domain.MigrationPlanDraft, FromVersion: 1, ToVersion: 2}
	require.NoError(t, a.SaveMigrationPlan(context.Background(), plan))

	got, err := a.GetMigrationPlanByID(context.Background(), domain.ID{}, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
}

func TestMigrationArchivePropagatesOtherErrors(t *testing.T) {
	fc := newFakeClient()
	fc.getByIDErr = errors.New("connection reset")
	a := NewMigrationArchive(fc)

	_, err := a.GetMigrationPlanByID(context.Background(), domain.NewID(), domain.NewID())
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}
