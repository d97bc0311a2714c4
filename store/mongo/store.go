// Package mongo implements the job-service store on MongoDB using the
// official driver. Atomic acquisition uses a FindOneAndUpdate claim loop,
// so two engine nodes never claim the same record.
//
// Two query predicates have no efficient MongoDB translation and fail
// closed with jobservice.ErrUnsupportedOperation: Query.WithException and
// Query.TenantIDLike.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/job"
	"github.com/flowable/jobservice/store"
)

// colByteArrays is the byte-array collection; job collections are per kind,
// see collectionFor.
const colByteArrays = "flw_byte_arrays"

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store       = (*Store)(nil)
	_ bytearray.Store = (*Store)(nil)
	_ store.Store     = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store. The caller owns the
// client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on the given database. The caller owns
// the client lifecycle -- the Store will not disconnect it on Close().
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying *mongo.Database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the indexes for all job-service collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}

		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("jobservice/mongo: migrate %s indexes: %w", col, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	indexes := make(map[string][]mongod.IndexModel, len(job.Kinds)+1)

	for _, kind := range job.Kinds {
		models := []mongod.IndexModel{
			// Acquisition index: due date + lease state.
			{Keys: bson.D{
				{Key: "due_date", Value: 1},
				{Key: "lock_expiration_time", Value: 1},
				{Key: "create_time", Value: 1},
			}},
			// Expired-lease sweep.
			{Keys: bson.D{{Key: "lock_expiration_time", Value: 1}}},
			// Execution and scope lookups.
			{Keys: bson.D{{Key: "execution_id", Value: 1}}},
			{Keys: bson.D{
				{Key: "scope_id", Value: 1},
				{Key: "sub_scope_id", Value: 1},
			}},
		}

		if kind == job.KindExternalWorker {
			models = append(models,
				// Correlation ids are unique across external-worker jobs.
				mongod.IndexModel{
					Keys: bson.D{{Key: "correlation_id", Value: 1}},
					Options: options.Index().
						SetUnique(true).
						SetPartialFilterExpression(bson.M{
							"correlation_id": bson.M{"$gt": ""},
						}),
				},
				mongod.IndexModel{Keys: bson.D{{Key: "topic", Value: 1}}},
			)
		}

		indexes[collectionFor(kind)] = models
	}

	indexes[colByteArrays] = nil

	return indexes
}
