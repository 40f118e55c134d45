// Package mongo implements the low-level MongoDB client backing the
// durable AuditRepository and migration-plan archive, following the thin
// collection-wrapper layering used throughout the retrieval pack's
// features/*/mongo/clients/mongo packages: a narrow, testable interface
// (collection/cursor/indexView) sits between the Client and the real
// mongo-driver types, and BSON document structs stay separate from the
// domain types the rest of the module works with.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/turnkit/align/domain"
)

const (
	defaultTurnRecordsCollection = "turn_records"
	defaultAuditEventsCollection = "audit_events"
	defaultPlansCollection       = "migration_plans"
	defaultTimeout               = 5 * time.Second
	clientName                   = "align-mongo"
)

// Client exposes the append-only turn/audit log and the migration-plan
// archive. Every write is an insert; nothing is ever updated or deleted,
// matching spec.md §8 property 10 (audit immutability).
type Client interface {
	Ping(ctx context.Context) error

	AppendTurnRecord(ctx context.Context, rec domain.TurnRecord) error
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error
	ListTurnRecords(ctx context.Context, tenantID, sessionID domain.ID, from, to time.Time) ([]domain.TurnRecord, error)
	ListAuditEvents(ctx context.Context, tenantID, sessionID domain.ID, from, to time.Time) ([]domain.AuditEvent, error)

	SaveMigrationPlan(ctx context.Context, plan domain.MigrationPlan) error
	GetMigrationPlanByID(ctx context.Context, tenantID, planID domain.ID) (domain.MigrationPlan, error)
	GetMigrationPlanByVersions(ctx context.Context, tenantID, scenarioID domain.ID, fromVersion, toVersion int) (domain.MigrationPlan, error)
	ListMigrationPlansFrom(ctx context.Context, tenantID, scenarioID domain.ID, fromVersion int) ([]domain.MigrationPlan, error)
}

// Options configures the Mongo client implementation.
type Options struct {
	Client                *mongodriver.Client
	Database              string
	TurnRecordsCollection string
	AuditEventsCollection string
	PlansCollection       string
	Timeout               time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	turns   collection
	events  collection
	plans   collection
	timeout time.Duration
}

// New returns a Client backed by the provided MongoDB client, creating the
// indexes each collection needs before it returns.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	turnsColl := opts.TurnRecordsCollection
	if turnsColl == "" {
		turnsColl = defaultTurnRecordsCollection
	}
	eventsColl := opts.AuditEventsCollection
	if eventsColl == "" {
		eventsColl = defaultAuditEventsCollection
	}
	plansColl := opts.PlansCollection
	if plansColl == "" {
		plansColl = defaultPlansCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	turns := mongoCollection{coll: db.Collection(turnsColl)}
	events := mongoCollection{coll: db.Collection(eventsColl)}
	plans := mongoCollection{coll: db.Collection(plansColl)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, turns, "tenant_id", "session_id", "created_at"); err != nil {
		return nil, err
	}
	if err := ensureIndexes(ctx, events, "tenant_id", "session_id", "created_at"); err != nil {
		return nil, err
	}
	if err := ensureIndexes(ctx, plans, "tenant_id", "scenario_id", "from_version"); err != nil {
		return nil, err
	}

	return &client{mongo: opts.Client, turns: turns, events: events, plans: plans, timeout: timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *client) AppendTurnRecord(ctx context.Context, rec domain.TurnRecord) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.turns.InsertOne(ctx, toTurnRecordDocument(rec))
	return err
}

func (c *client) AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.events.InsertOne(ctx, toAuditEventDocument(ev))
	return err
}

func (c *client) ListTurnRecords(ctx context.Context, tenantID, sessionID domain.ID, from, to time.Time) ([]domain.TurnRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := timeRangeFilter(tenantID, sessionID, from, to)
	cur, err := c.turns.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []turnRecordDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.TurnRecord, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func (c *client) ListAuditEvents(ctx context.Context, tenantID, sessionID domain.ID, from, to time.Time) ([]domain.AuditEvent, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := timeRangeFilter(tenantID, sessionID, from, to)
	cur, err := c.events.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []auditEventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func timeRangeFilter(tenantID, sessionID domain.ID, from, to time.Time) bson.M {
	filter := bson.M{"tenant_id": tenantID, "session_id": sessionID}
	created := bson.M{}
	if !from.IsZero() {
		created["$gte"] = from
	}
	if !to.IsZero() {
		created["$lte"] = to
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}
	return filter
}

// Migration plans are mutable up to publish (draft plans may be
// re-saved), so SaveMigrationPlan upserts on (tenant_id, id) rather than
// always inserting, unlike the append-only turn/audit collections.
func (c *client) SaveMigrationPlan(ctx context.Context, plan domain.MigrationPlan) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	doc := toMigrationPlanDocument(plan)
	filter := bson.M{"tenant_id": plan.TenantID, "id": plan.ID}
	_, err := c.plans.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) GetMigrationPlanByID(ctx context.Context, tenantID, planID domain.ID) (domain.MigrationPlan, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc migrationPlanDocument
	err := c.plans.FindOne(ctx, bson.M{"tenant_id": tenantID, "id": planID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return domain.MigrationPlan{}, errPlanNotFound
	}
	if err != nil {
		return domain.MigrationPlan{}, err
	}
	return doc.toDomain(), nil
}

func (c *client) GetMigrationPlanByVersions(ctx context.Context, tenantID, scenarioID domain.ID, fromVersion, toVersion int) (domain.MigrationPlan, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"tenant_id":    tenantID,
		"scenario_id":  scenarioID,
		"from_version": fromVersion,
		"to_version":   toVersion,
	}
	var doc migrationPlanDocument
	err := c.plans.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return domain.MigrationPlan{}, errPlanNotFound
	}
	if err != nil {
		return domain.MigrationPlan{}, err
	}
	return doc.toDomain(), nil
}

func (c *client) ListMigrationPlansFrom(ctx context.Context, tenantID, scenarioID domain.ID, fromVersion int) ([]domain.MigrationPlan, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenant_id": tenantID, "scenario_id": scenarioID, "from_version": fromVersion}
	cur, err := c.plans.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "to_version", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []migrationPlanDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.MigrationPlan, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

// errPlanNotFound is translated to store.ErrNotFound by the Store wrapper;
// this package does not import store to avoid a dependency cycle risk with
// future backends, mirroring the retrieval pack's low-level clients never
// importing the higher-level store contracts.
var errPlanNotFound = errors.New("mongo: migration plan not found")

// ErrPlanNotFound is the sentinel GetMigrationPlanByID/GetMigrationPlanByVersions
// return when no document matches; callers use errors.Is against it.
func ErrPlanNotFound() error { return errPlanNotFound }

func ensureIndexes(ctx context.Context, coll collection, keys ...string) error {
	d := bson.D{}
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: 1})
	}
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{Keys: d})
	return err
}

type collection interface {
	InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	All(ctx context.Context, results any) error
	Close(ctx context.Context) error
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc)
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error { return r.res.Decode(val) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}
