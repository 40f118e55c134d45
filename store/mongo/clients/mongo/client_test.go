package mongo

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/turnkit/align/domain"
)

// fakeCollection satisfies the collection interface without a live server,
// the same pattern the retrieval pack uses for its features/*/mongo/clients
// tests.
type fakeCollection struct {
	insertedDocs []any
	insertErr    error

	findOneFilter any
	findOneDoc    any
	findOneErr    error

	findDocs []any
	findErr  error

	updateFilter, updateDoc any
	updateErr               error

	indexKeys []bson.D
}

func (c *fakeCollection) InsertOne(_ context.Context, doc any) (*mongodriver.InsertOneResult, error) {
	if c.insertErr != nil {
		return nil, c.insertErr
	}
	c.insertedDocs = append(c.insertedDocs, doc)
	return &mongodriver.InsertOneResult{}, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter any) singleResult {
	c.findOneFilter = filter
	return &fakeSingleResult{doc: c.findOneDoc, err: c.findOneErr}
}

func (c *fakeCollection) Find(_ context.Context, _ any, _ ...options.Lister[options.FindOptions]) (cursor, error) {
	if c.findErr != nil {
		return nil, c.findErr
	}
	return &fakeCursor{docs: c.findDocs}, nil
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter, update any, _ ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	c.updateFilter, c.updateDoc = filter, update
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	return &mongodriver.UpdateResult{UpsertedCount: 1}, nil
}

func (c *fakeCollection) Indexes() indexView { return &fakeIndexView{coll: c} }

type fakeIndexView struct{ coll *fakeCollection }

func (v *fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel) (string, error) {
	v.coll.indexKeys = append(v.coll.indexKeys, model.Keys.(bson.D))
	return "idx", nil
}

type fakeSingleResult struct {
	doc any
	err error
}

func (r *fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	return copyViaBSON(r.doc, val)
}

type fakeCursor struct {
	docs []any
}

// All fills results (a pointer to a slice of the document type) with the
// fixture docs via reflection, since the fixtures are already concrete Go
// values rather than wire bytes.
func (c *fakeCursor) All(_ context.Context, results any) error {
	out := reflect.ValueOf(results).Elem()
	for _, d := range c.docs {
		out = reflect.Append(out, reflect.ValueOf(d))
	}
	reflect.ValueOf(results).Elem().Set(out)
	return nil
}

func (c *fakeCursor) Close(_ context.Context) error { return nil }

func copyViaBSON(src, dst any) error {
	raw, err := bson.Marshal(src)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, dst)
}

func newTestClient(turns, events, plans *fakeCollection) *client {
	return &client{turns: turns, events: events, plans: plans, timeout: time.Second}
}

func sampleTurnRecord() domain.TurnRecord {
	rec := domain.TurnRecord{
		ID: domain.NewID(), SessionID: domain.NewID(), TurnNumber: 1,
		UserMessage: "hi", Response: "hello", TokensUsed: 12, Passed: true,
	}
	rec.TenantID, rec.AgentID = domain.NewID(), domain.NewID()
	rec.CreatedAt = time.Now().UTC()
	return rec
}

func TestClientAppendTurnRecord(t *testing.T) {
	turns := &fakeCollection{}
	c := newTestClient(turns, &fakeCollection{}, &fakeCollection{})

	rec := sampleTurnRecord()
	require.NoError(t, c.AppendTurnRecord(context.Background(), rec))
	require.Len(t, turns.insertedDocs, 1)
	doc, ok := turns.insertedDocs[0].(turnRecordDocument)
	require.True(t, ok)
	assert.Equal(t, rec.ID, doc.ID)
	assert.Equal(t, rec.Response, doc.Response)
}

func TestClientAppendTurnRecordPropagatesInsertError(t *testing.T) {
	wantErr := errors.New("insert failed")
	turns := &fakeCollection{insertErr: wantErr}
	c := newTestClient(turns, &fakeCollection{}, &fakeCollection{})

	err := c.AppendTurnRecord(context.Background(), sampleTurnRecord())
	assert.ErrorIs(t, err, wantErr)
}

func TestClientGetMigrationPlanByIDNotFound(t *testing.T) {
	plans := &fakeCollection{findOneErr: mongodriver.ErrNoDocuments}
	c := newTestClient(&fakeCollection{}, &fakeCollection{}, plans)

	_, err := c.GetMigrationPlanByID(context.Background(), domain.NewID(), domain.NewID())
	assert.ErrorIs(t, err, errPlanNotFound)
	assert.ErrorIs(t, err, ErrPlanNotFound())
}

func TestClientGetMigrationPlanByIDFound(t *testing.T) {
	tenantID, planID := domain.NewID(), domain.NewID()
	want := migrationPlanDocument{ID: planID, TenantID: tenantID, Status: "draft", FromVersion: 1, ToVersion: 2}
	plans := &fakeCollection{findOneDoc: want}
	c := newTestClient(&fakeCollection{}, &fakeCollection{}, plans)

	got, err := c.GetMigrationPlanByID(context.Background(), tenantID, planID)
	require.NoError(t, err)
	assert.Equal(t, planID, got.ID)
	assert.Equal(t, domain.MigrationPlanDraft, got.Status)
}

func TestClientSaveMigrationPlanUpserts(t *testing.T) {
	plans := &fakeCollection{}
	c := newTestClient(&fakeCollection{}, &fakeCollection{}, plans)

	plan := domain.MigrationPlan{ID: domain.NewID(), FromVersion: 1, ToVersion: 2, Status: domain.MigrationPlanDraft}
	plan.TenantID = domain.NewID()

	require.NoError(t, c.SaveMigrationPlan(context.Background(), plan))
	filter, ok := plans.updateFilter.(bson.M)
	require.True(t, ok)
	assert.Equal(t, plan.ID, filter["id"])
	assert.Equal(t, plan.TenantID, filter["tenant_id"])
}

func TestClientListTurnRecordsMapsDocuments(t *testing.T) {
	tenantID, sessionID := domain.NewID(), domain.NewID()
	doc := turnRecordDocument{ID: domain.NewID(), TenantID: tenantID, SessionID: sessionID, Response: "hi there"}
	turns := &fakeCollection{findDocs: []any{doc}}
	c := newTestClient(turns, &fakeCollection{}, &fakeCollection{})

	got, err := c.ListTurnRecords(context.Background(), tenantID, sessionID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hi there", got[0].Response)
}

func TestEnsureIndexesRecordsKeys(t *testing.T) {
	coll := &fakeCollection{}
	require.NoError(t, ensureIndexes(context.Background(), coll, "tenant_id", "session_id"))
	require.Len(t, coll.indexKeys, 1)
	assert.Equal(t, bson.D{{Key: "tenant_id", Value: 1}, {Key: "session_id", Value: 1}}, coll.indexKeys[0])
}
