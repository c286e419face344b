// Package mongo implements store.Store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/pkgledger"
	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	pkgstore "github.com/xraph/pkgledger/store"
)

// Collection name constants.
const (
	colEntries = "pkg_ledger_entries"
)

// compile-time interface check
var _ pkgstore.Store = (*Store)(nil)

// Store implements store.Store using the official MongoDB driver.
type Store struct {
	db *mongo.Database
}

// New wraps a database handle. Close disconnects its client.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Open connects to uri and uses database name.
func Open(ctx context.Context, uri, name string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("pkgledger/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx) //nolint:errcheck // already failing
		return nil, fmt.Errorf("pkgledger/mongo: ping: %w", err)
	}
	return New(client.Database(name)), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

func (s *Store) entries() *mongo.Collection { return s.db.Collection(colEntries) }

// Migrate creates indexes for the ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("pkgledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.db.Client().Disconnect(context.Background())
}

// ==================== Entry Store ====================

func (s *Store) CreateEntry(ctx context.Context, e *entry.Entry) error {
	if _, err := s.entries().InsertOne(ctx, toEntryModel(e)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pkgledger.ErrAlreadyExists
		}
		return fmt.Errorf("pkgledger/mongo: create entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, patientID string, entryID id.EntryID) (*entry.Entry, error) {
	m, err := s.find(ctx, patientID, entryID)
	if err != nil {
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) ListEntries(ctx context.Context, patientID string, opts entry.ListOpts) ([]*entry.Entry, error) {
	filter := bson.M{"patient_id": patientID}
	if opts.WithRemaining {
		filter["remaining_uses"] = bson.M{"$gt": 0}
	}
	if !opts.ActiveAt.IsZero() {
		filter["expires_at"] = bson.M{"$gte": opts.ActiveAt.UnixNano()}
	}
	if opts.Name != "" {
		filter["name"] = opts.Name
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.entries().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("pkgledger/mongo: list entries: %w", err)
	}
	var models []entryModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("pkgledger/mongo: list entries: %w", err)
	}

	result := make([]*entry.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ConsumeEntry decrements with a single FindOneAndUpdate guarded on uses
// and expiry. A miss is classified by reading the document.
func (s *Store) ConsumeEntry(ctx context.Context, patientID string, entryID id.EntryID, at time.Time) (*entry.Entry, error) {
	filter := bson.M{
		"_id":            entryID.String(),
		"patient_id":     patientID,
		"remaining_uses": bson.M{"$gt": 0},
		"expires_at":     bson.M{"$gte": at.UnixNano()},
	}
	update := bson.M{
		"$inc": bson.M{"remaining_uses": -1},
		"$set": bson.M{"updated_at": at.UnixNano()},
	}

	var m entryModel
	err := s.entries().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return fromEntryModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("pkgledger/mongo: consume entry: %w", err)
	}

	cur, err := s.find(ctx, patientID, entryID)
	if err != nil {
		return nil, err
	}
	if at.UnixNano() > cur.ExpiresAt {
		return nil, pkgledger.ErrEntryExpired
	}
	return nil, pkgledger.ErrEntryExhausted
}

// RefundEntry increments while remaining_uses < total_uses.
func (s *Store) RefundEntry(ctx context.Context, patientID string, entryID id.EntryID, at time.Time) (*entry.Entry, bool, error) {
	filter := bson.M{
		"_id":        entryID.String(),
		"patient_id": patientID,
		"$expr":      bson.M{"$lt": bson.A{"$remaining_uses", "$total_uses"}},
	}
	update := bson.M{
		"$inc": bson.M{"remaining_uses": 1},
		"$set": bson.M{"updated_at": at.UnixNano()},
	}

	var m entryModel
	err := s.entries().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		e, err := fromEntryModel(&m)
		return e, false, err
	}
	if !isNoDocuments(err) {
		return nil, false, fmt.Errorf("pkgledger/mongo: refund entry: %w", err)
	}

	cur, err := s.find(ctx, patientID, entryID)
	if err != nil {
		return nil, false, err
	}
	e, err := fromEntryModel(cur)
	return e, true, err
}

func (s *Store) find(ctx context.Context, patientID string, entryID id.EntryID) (*entryModel, error) {
	var m entryModel
	err := s.entries().FindOne(ctx, bson.M{"_id": entryID.String(), "patient_id": patientID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, pkgledger.ErrEntryNotFound
		}
		return nil, fmt.Errorf("pkgledger/mongo: get entry: %w", err)
	}
	return &m, nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all ledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEntries: {
			{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "expires_at", Value: 1}}},
			{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "name", Value: 1}}},
		},
	}
}
