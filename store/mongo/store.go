package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/sdlq/store"
)

// DefaultCollection is the collection letters are stored in.
const DefaultCollection = "sdlq_letters"

var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
// The caller owns the client lifecycle; Store never closes it.
type Store struct {
	db         *mongod.Database
	collection string
	logger     *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithCollection overrides the collection name, for example to keep one
// processing group's letters apart from another's.
func WithCollection(name string) Option {
	return func(s *Store) {
		s.collection = name
	}
}

// New creates a new MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:         db,
		collection: DefaultCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates the letter indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.letters().Indexes().CreateMany(ctx, migrationIndexes())
	if err != nil {
		return fmt.Errorf("sdlq/mongo: migrate %s indexes: %w", s.collection, err)
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

func (s *Store) letters() *mongod.Collection {
	return s.db.Collection(s.collection)
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for the letter collection.
func migrationIndexes() []mongod.IndexModel {
	return []mongod.IndexModel{
		// One letter per (sequence, index).
		{
			Keys:    bson.D{{Key: "sequence_id", Value: 1}, {Key: "seq_index", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "enqueued_at", Value: 1}}},
	}
}
