// Package driver opens a letter store backend from an sdlq.StoreConfig.
//
// Network backends (postgres, bun, redis, mongo) are wrapped in
// store/resilient and own their connection: Close releases it.
package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/store"
	bunstore "github.com/xraph/sdlq/store/bun"
	"github.com/xraph/sdlq/store/memory"
	"github.com/xraph/sdlq/store/mongo"
	pebblestore "github.com/xraph/sdlq/store/pebble"
	"github.com/xraph/sdlq/store/postgres"
	redisstore "github.com/xraph/sdlq/store/redis"
	"github.com/xraph/sdlq/store/resilient"
	"github.com/xraph/sdlq/store/sqlite"
)

// Driver names accepted in StoreConfig.Driver.
const (
	Memory   = "memory"
	Pebble   = "pebble"
	SQLite   = "sqlite"
	Postgres = "postgres"
	Bun      = "bun"
	Redis    = "redis"
	Mongo    = "mongo"
)

// Open connects to the configured backend, runs its migrations, and
// returns it ready for dlq.Open.
func Open(ctx context.Context, cfg sdlq.StoreConfig, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s: %w", sdlq.ErrMigrationFailed, cfg.Driver, err)
	}

	logger.Info("letter store opened", slog.String("driver", cfg.Driver))
	return s, nil
}

func open(ctx context.Context, cfg sdlq.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case Memory:
		return memory.New(), nil

	case Pebble:
		s, err := pebblestore.Open(cfg.DataDir, pebblestore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil

	case SQLite:
		path := cfg.DSN
		if path == "" {
			path = filepath.Join(cfg.DataDir, "sdlq.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sdlq/sqlite: create data dir: %w", err)
		}
		s, err := sqlite.Open(path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil

	case Postgres:
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return guard(s, Postgres, logger), nil

	case Bun:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		s := owned{Store: bunstore.New(db, bunstore.WithLogger(logger)), release: db.Close}
		return guard(s, Bun, logger), nil

	case Redis:
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sdlq/redis: parse dsn: %w", err)
		}
		client := goredis.NewClient(opts)
		s := owned{Store: redisstore.New(client, redisstore.WithLogger(logger)), release: client.Close}
		return guard(s, Redis, logger), nil

	case Mongo:
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("sdlq/mongo: connect: %w", err)
		}
		database := cfg.Database
		if database == "" {
			database = "sdlq"
		}
		s := owned{
			Store:   mongo.New(client.Database(database), mongo.WithLogger(logger)),
			release: func() error { return client.Disconnect(context.Background()) },
		}
		return guard(s, Mongo, logger), nil
	}
	return nil, fmt.Errorf("%w: unknown store driver %q", sdlq.ErrInvalidConfig, cfg.Driver)
}

func guard(s store.Store, name string, logger *slog.Logger) store.Store {
	return resilient.Wrap(s,
		resilient.WithName("sdlq-"+name),
		resilient.WithLogger(logger),
	)
}

// owned closes a connection the store itself leaves to its caller.
type owned struct {
	store.Store
	release func() error
}

func (o owned) Close() error {
	return errors.Join(o.Store.Close(), o.release())
}
