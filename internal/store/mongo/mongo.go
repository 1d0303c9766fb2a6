// Package mongo implements the store.Store interface backed by MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/store"
)

const (
	collectionName = "contextual_configs"
	// oneActiveIndex is the partial unique index enforcing one active record per context.
	oneActiveIndex = "contextual_configs_one_active"
	// maxUpdateAttempts bounds the optimistic read-modify-write loop.
	maxUpdateAttempts = 5
)

// ErrStandalone is returned by New when the server cannot run
// multi-document transactions, which updates rely on.
var ErrStandalone = errors.New("mongodb must be a replica set member or mongos")

// MongoStore implements store.Store on a single MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// Compile-time check that MongoStore implements store.Store.
var _ store.Store = (*MongoStore)(nil)

// New connects to MongoDB at uri, checks the connection and that the
// deployment supports transactions, and ensures the collection indexes exist.
func New(ctx context.Context, uri, database string) (*MongoStore, error) {
	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(50).
		SetConnectTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	var hello helloReply
	if err := client.Database("admin").RunCommand(pingCtx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb hello: %w", err)
	}
	if err := hello.supportsTransactions(); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collectionName),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

// helloReply holds the topology fields of the hello command.
type helloReply struct {
	SetName string `bson:"setName"`
	Msg     string `bson:"msg"`
}

func (h helloReply) supportsTransactions() error {
	if h.SetName != "" || h.Msg == "isdbgrid" {
		return nil
	}
	return ErrStandalone
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "context_kind", Value: 1}, {Key: "context_id", Value: 1}},
			Options: options.Index().
				SetName(oneActiveIndex).
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "is_active", Value: true}}),
		},
		{
			Keys:    bson.D{{Key: "created_by", Value: 1}},
			Options: options.Index().SetName("contextual_configs_created_by"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("contextual_configs_created_at"),
		},
	})
	return err
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping verifies the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) CreateRecord(ctx context.Context, rec *model.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.UpdatedBy = rec.CreatedBy

	doc, err := toDoc(rec)
	if err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *MongoStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	doc, err := s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, err
	}
	return doc.record()
}

func (s *MongoStore) GetActiveRecord(ctx context.Context, desc model.Descriptor) (*model.Record, error) {
	doc, err := s.findOne(ctx, bson.D{
		{Key: "context_kind", Value: string(desc.Kind)},
		{Key: "context_id", Value: desc.Identifier},
		{Key: "is_active", Value: true},
	})
	if err != nil {
		return nil, err
	}
	return doc.record()
}

// UpdateRecord applies the update with a version check and retries when a
// concurrent writer got there first.
func (s *MongoStore) UpdateRecord(ctx context.Context, id string, payload model.Payload, mode model.UpdateMode, actor string) (*model.Record, error) {
	for range maxUpdateAttempts {
		doc, err := s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
		if err != nil {
			return nil, err
		}
		current, err := decodePayload(doc.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", id, err)
		}
		raw, err := encodePayload(store.ApplyUpdate(current, payload, mode))
		if err != nil {
			return nil, err
		}

		updatedAt := s.nextTimestamp(doc.UpdatedAt)
		res, err := s.coll.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: id}, {Key: "version", Value: doc.Version}},
			bson.D{
				{Key: "$set", Value: bson.D{
					{Key: "payload", Value: raw},
					{Key: "updated_by", Value: actor},
					{Key: "updated_at", Value: updatedAt},
				}},
				{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
			})
		if err != nil {
			return nil, mapError(err)
		}
		if res.MatchedCount == 1 {
			return s.GetRecord(ctx, id)
		}
	}
	return nil, fmt.Errorf("update %s: too many concurrent modifications", id)
}

// SetActive flips is_active. The filter on the current flag makes the write
// a no-op when another caller already applied the same toggle.
func (s *MongoStore) SetActive(ctx context.Context, id string, active bool, actor string) (*model.Record, error) {
	doc, err := s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, err
	}
	if doc.IsActive == active {
		return doc.record()
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "is_active", Value: !active}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "is_active", Value: active},
				{Key: "updated_by", Value: actor},
				{Key: "updated_at", Value: s.nextTimestamp(doc.UpdatedAt)},
			}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		})
	if err != nil {
		return nil, mapError(err)
	}
	return s.GetRecord(ctx, id)
}

func (s *MongoStore) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListRecords(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "context_id", Value: 1}, {Key: "created_at", Value: 1}})
	return s.find(ctx, bson.D{{Key: "context_kind", Value: string(kind)}}, opts)
}

func (s *MongoStore) ListAllRecords(ctx context.Context) ([]*model.Record, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: 1},
		{Key: "context_id", Value: 1},
		{Key: "_id", Value: 1},
	})
	return s.find(ctx, bson.D{}, opts)
}

func (s *MongoStore) SearchRecords(ctx context.Context, filter model.RecordFilter) ([]*model.Record, int, error) {
	filter = filter.Normalize()
	query := searchFilter(filter)

	total, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(filter.Offset())).
		SetLimit(int64(filter.Size))
	records, err := s.find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("search records: %w", err)
	}
	return records, int(total), nil
}

func (s *MongoStore) CountByKind(ctx context.Context) ([]model.KindCount, error) {
	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$context_kind"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "active", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{"$is_active", 1, 0}},
			}}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		Kind   string `bson:"_id"`
		Total  int    `bson:"total"`
		Active int    `bson:"active"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	byKind := make(map[model.Kind]model.KindCount, len(rows))
	for _, r := range rows {
		byKind[model.Kind(r.Kind)] = model.KindCount{Kind: model.Kind(r.Kind), Total: r.Total, Active: r.Active}
	}
	out := make([]model.KindCount, len(model.ResolutionOrder))
	for i, k := range model.ResolutionOrder {
		out[i] = byKind[k]
		out[i].Kind = k
	}
	return out, nil
}

// RunInTransaction runs fn inside a multi-document transaction. The server
// must be a replica set member.
func (s *MongoStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(&txStore{s: s, sc: sc})
	})
	return err
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D) (*recordDoc, error) {
	var doc recordDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return &doc, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]*model.Record, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	records := []*model.Record{}
	for cur.Next(ctx) {
		var doc recordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		r, err := doc.record()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// nextTimestamp returns a write time strictly after prev at millisecond
// precision.
func (s *MongoStore) nextTimestamp(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), oneActiveIndex) {
		return store.ErrDuplicateActive
	}
	return err
}

// txStore routes every call through the transaction's session context.
type txStore struct {
	s  *MongoStore
	sc mongo.SessionContext
}

var _ store.Store = (*txStore)(nil)

func (t *txStore) CreateRecord(_ context.Context, rec *model.Record) error {
	return t.s.CreateRecord(t.sc, rec)
}

func (t *txStore) GetRecord(_ context.Context, id string) (*model.Record, error) {
	return t.s.GetRecord(t.sc, id)
}

func (t *txStore) GetActiveRecord(_ context.Context, desc model.Descriptor) (*model.Record, error) {
	return t.s.GetActiveRecord(t.sc, desc)
}

func (t *txStore) UpdateRecord(_ context.Context, id string, payload model.Payload, mode model.UpdateMode, actor string) (*model.Record, error) {
	return t.s.UpdateRecord(t.sc, id, payload, mode, actor)
}

func (t *txStore) SetActive(_ context.Context, id string, active bool, actor string) (*model.Record, error) {
	return t.s.SetActive(t.sc, id, active, actor)
}

func (t *txStore) DeleteRecord(_ context.Context, id string) error {
	return t.s.DeleteRecord(t.sc, id)
}

func (t *txStore) ListRecords(_ context.Context, kind model.Kind) ([]*model.Record, error) {
	return t.s.ListRecords(t.sc, kind)
}

func (t *txStore) ListAllRecords(_ context.Context) ([]*model.Record, error) {
	return t.s.ListAllRecords(t.sc)
}

func (t *txStore) SearchRecords(_ context.Context, filter model.RecordFilter) ([]*model.Record, int, error) {
	return t.s.SearchRecords(t.sc, filter)
}

func (t *txStore) CountByKind(_ context.Context) ([]model.KindCount, error) {
	return t.s.CountByKind(t.sc)
}

// RunInTransaction on a txStore runs fn in the existing transaction.
func (t *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) Ping(ctx context.Context) error { return t.s.Ping(ctx) }

// Close is a no-op; the owning MongoStore manages the client.
func (t *txStore) Close() error { return nil }
