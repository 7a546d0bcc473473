package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/store"
)

// Collection name constants.
const (
	colJobs = "jobq_jobs"
)

// Ensure Store implements the store interface at compile time.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	client *mongod.Client // set when the store owns the connection
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

// New connects to uri and uses database. Close disconnects the client.
func New(uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("jobq/mongo: connect: %w", err)
	}
	s := NewFromDatabase(client.Database(database), opts...)
	s.client = client
	return s, nil
}

// NewFromDatabase creates a store on an existing database handle. The
// caller owns the client lifecycle.
func NewFromDatabase(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database handle for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

// Migrate creates the job collection indexes.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := s.jobs().Indexes().CreateMany(ctx, jobIndexes())
	if err != nil {
		return fmt.Errorf("%w: %w", jobq.ErrMigrationFailed, s.wrap("create indexes", err))
	}
	s.logger.Debug("mongo indexes ensured", slog.Any("indexes", names))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.wrap("ping", s.db.Client().Ping(ctx, nil))
}

// Close disconnects the client if the store created it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// ── helpers ──────────────────────────────────────────────────────

// wrap annotates err with op, marking network failures and server
// selection timeouts as unavailable.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongod.IsNetworkError(err) || errors.Is(err, mongod.ErrClientDisconnected) ||
		(mongod.IsTimeout(err) && !errors.Is(err, context.DeadlineExceeded)) {
		return jobq.Unavailable("mongo "+op, err)
	}
	return fmt.Errorf("jobq/mongo: %s: %w", op, err)
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// jobIndexes returns the index definitions of the job collection.
func jobIndexes() []mongod.IndexModel {
	return []mongod.IndexModel{
		// Claim index: the waiting set of one queue in claim order.
		{
			Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "ready_at", Value: 1},
				{Key: "_id", Value: 1},
			},
			Options: options.Index().
				SetName("jobq_claim").
				SetPartialFilterExpression(bson.M{"state": "waiting"}),
		},
		// Promotion of due delayed jobs.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "ready_at", Value: 1},
		}},
		// Stall detection.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "heartbeat_at", Value: 1},
		}},
		// Retention.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "finished_at", Value: -1},
		}},
		// Listing and counting.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "queue", Value: 1},
			{Key: "priority", Value: -1},
		}},
	}
}
