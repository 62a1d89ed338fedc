package bunstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Tables bun's migrator keeps its history and advisory lock in.
const (
	MigrationsTable = "sdlq_bun_migrations"
	LocksTable      = "sdlq_bun_migration_locks"
)

var _ store.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
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

// New creates a new Bun store. The caller owns the db lifecycle; the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate applies the embedded *.tx.up.sql files through bun's migrator.
// Concurrent callers serialize on the migrator's lock table.
func (s *Store) Migrate(ctx context.Context) (err error) {
	m, err := s.migrator(ctx)
	if err != nil {
		return err
	}
	if err := m.Lock(ctx); err != nil {
		return fmt.Errorf("sdlq/bun: lock migrations: %w", err)
	}
	defer func() {
		if unlockErr := m.Unlock(ctx); unlockErr != nil && err == nil {
			err = fmt.Errorf("sdlq/bun: unlock migrations: %w", unlockErr)
		}
	}()

	group, err := m.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("sdlq/bun: migrate: %w", err)
	}
	if group.IsZero() {
		return nil
	}
	for _, mig := range group.Migrations {
		s.logger.Info("applied migration",
			slog.String("version", mig.Name),
			slog.String("name", mig.Comment),
			slog.Int64("group", group.ID),
		)
	}
	return nil
}

// SchemaVersion returns the highest applied migration number.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	m, err := s.migrator(ctx)
	if err != nil {
		return 0, err
	}
	ms, err := m.MigrationsWithStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("sdlq/bun: migration status: %w", err)
	}
	version := 0
	for _, mig := range ms.Applied() {
		n, convErr := strconv.Atoi(mig.Name)
		if convErr != nil {
			return 0, fmt.Errorf("sdlq/bun: migration %q: %w", mig.Name, convErr)
		}
		version = max(version, n)
	}
	return version, nil
}

func (s *Store) migrator(ctx context.Context) (*migrate.Migrator, error) {
	files, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("sdlq/bun: migrations dir: %w", err)
	}
	ms := migrate.NewMigrations()
	if err := ms.Discover(files); err != nil {
		return nil, fmt.Errorf("sdlq/bun: load migrations: %w", err)
	}
	m := migrate.NewMigrator(s.db, ms,
		migrate.WithTableName(MigrationsTable),
		migrate.WithLocksTableName(LocksTable),
	)
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("sdlq/bun: init migrations: %w", err)
	}
	return m, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}

// storeErr maps driver errors onto the sdlq sentinels.
func storeErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sdlq.ErrLetterNotFound
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" {
		return sdlq.ErrLetterAlreadyExists
	}
	return fmt.Errorf("sdlq/bun: %s: %w", op, err)
}
