package mongo

import (
	"context"
	"errors"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
	clientsmongo "github.com/turnkit/align/store/mongo/clients/mongo"
)

// MigrationArchive persists domain.MigrationPlan durably, the multi-instance
// counterpart to store/inmem's in-process map. It implements only the
// migration-plan slice of store.ConfigRepository: rules, scenarios,
// templates and the rest of that interface stay in-memory-only for now
// (DESIGN.md), so this type is exercised directly by callers that need
// durable plan storage rather than satisfied against the full
// ConfigRepository interface.
type MigrationArchive struct {
	client clientsmongo.Client
}

// NewMigrationArchive wraps an already-constructed client.
func NewMigrationArchive(client clientsmongo.Client) *MigrationArchive {
	return &MigrationArchive{client: client}
}

// NewMigrationArchiveFromOptions instantiates the underlying client and wraps it.
func NewMigrationArchiveFromOptions(opts clientsmongo.Options) (*MigrationArchive, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewMigrationArchive(client), nil
}

func (a *MigrationArchive) SaveMigrationPlan(ctx context.Context, plan domain.MigrationPlan) error {
	return a.client.SaveMigrationPlan(ctx, plan)
}

func (a *MigrationArchive) GetMigrationPlanByID(ctx context.Context, tenantID, planID domain.ID) (domain.MigrationPlan, error) {
	plan, err := a.client.GetMigrationPlanByID(ctx, tenantID, planID)
	if errors.Is(err, clientsmongo.ErrPlanNotFound()) {
		return domain.MigrationPlan{}, store.ErrNotFound
	}
	return plan, err
}

func (a *MigrationArchive) GetMigrationPlanByVersions(ctx context.Context, tenantID, scenarioID domain.ID, fromVersion, toVersion int) (domain.MigrationPlan, error) {
	plan, err := a.client.GetMigrationPlanByVersions(ctx, tenantID, scenarioID, fromVersion, toVersion)
	if errors.Is(err, clientsmongo.ErrPlanNotFound()) {
		return domain.MigrationPlan{}, store.ErrNotFound
	}
	return plan, err
}

func (a *MigrationArchive) ListMigrationPlansFrom(ctx context.Context, tenantID, scenarioID domain.ID, fromVersion int) ([]domain.MigrationPlan, error) {
	return a.client.ListMigrationPlansFrom(ctx, tenantID, scenarioID, fromVersion)
}
