// Package sqlmigrate applies forward-only schema migrations to the SQL
// letter stores and records the schema version they reached.
//
// Migrations are numbered. A file named 002_index_enqueued_at.sql is
// version 2. Each migration runs in its own transaction together with the
// row that records it, so a failed step leaves the previous version intact.
package sqlmigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
)

// DefaultTable records applied versions.
const DefaultTable = "sdlq_schema"

// Migration is one numbered schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Exec runs one statement.
type Exec func(ctx context.Context, query string, args ...any) error

// Conn is the database handle a Runner works through.
type Conn interface {
	// Bind returns the placeholder for the n-th argument (1-based).
	Bind(n int) string
	Exec(ctx context.Context, query string, args ...any) error
	QueryInt(ctx context.Context, query string) (int, error)
	// InTx runs fn inside a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(exec Exec) error) error
}

// FromFS loads every NNN_name.sql file in dir, ordered by version.
func FromFS(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		num, name, ok := strings.Cut(strings.TrimSuffix(entry.Name(), ".sql"), "_")
		version, convErr := strconv.Atoi(num)
		if !ok || convErr != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: name must look like 001_description.sql", entry.Name())
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(data)})
	}
	return out, sorted(out)
}

func sorted(ms []Migration) error {
	slices.SortFunc(ms, func(a, b Migration) int { return a.Version - b.Version })
	for i := 1; i < len(ms); i++ {
		if ms[i].Version == ms[i-1].Version {
			return fmt.Errorf("duplicate migration version %d (%s, %s)", ms[i].Version, ms[i-1].Name, ms[i].Name)
		}
	}
	return nil
}

// Option configures a Runner.
type Option func(*Runner)

// WithTable sets the version table name.
func WithTable(name string) Option {
	return func(r *Runner) { r.table = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithErrorPrefix sets the prefix of returned errors, e.g. "sdlq/postgres".
func WithErrorPrefix(prefix string) Option {
	return func(r *Runner) { r.prefix = prefix }
}

// Runner applies a fixed list of migrations.
type Runner struct {
	conn       Conn
	migrations []Migration
	table      string
	prefix     string
	logger     *slog.Logger
}

// New creates a Runner. migrations need not be sorted.
func New(conn Conn, migrations []Migration, opts ...Option) *Runner {
	r := &Runner{
		conn:       conn,
		migrations: slices.Clone(migrations),
		table:      DefaultTable,
		prefix:     "sdlq/sqlmigrate",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) errorf(format string, args ...any) error {
	return fmt.Errorf(r.prefix+": "+format, args...)
}

func (r *Runner) ensureTable(ctx context.Context) error {
	err := r.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, r.table))
	if err != nil {
		return r.errorf("create %s: %w", r.table, err)
	}
	return nil
}

// Version returns the highest applied version, 0 for an empty database.
func (r *Runner) Version(ctx context.Context) (int, error) {
	if err := r.ensureTable(ctx); err != nil {
		return 0, err
	}
	v, err := r.conn.QueryInt(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(version), 0) FROM %s`, r.table))
	if err != nil {
		return 0, r.errorf("read schema version: %w", err)
	}
	return v, nil
}

// Up applies every migration above the current version and returns how
// many ran.
func (r *Runner) Up(ctx context.Context) (int, error) {
	if err := sorted(r.migrations); err != nil {
		return 0, r.errorf("%w", err)
	}
	current, err := r.Version(ctx)
	if err != nil {
		return 0, err
	}
	if n := len(r.migrations); n > 0 && current > r.migrations[n-1].Version {
		return 0, r.errorf("database schema version %d is newer than this build (%d)",
			current, r.migrations[n-1].Version)
	}

	record := fmt.Sprintf(`INSERT INTO %s (version, name) VALUES (%s, %s)`,
		r.table, r.conn.Bind(1), r.conn.Bind(2))
	applied := 0
	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		err := r.conn.InTx(ctx, func(exec Exec) error {
			if err := exec(ctx, m.SQL); err != nil {
				return err
			}
			return exec(ctx, record, m.Version, m.Name)
		})
		if err != nil {
			return applied, r.errorf("migration %03d_%s: %w", m.Version, m.Name, err)
		}
		applied++
		r.logger.Info("applied migration",
			slog.Int("version", m.Version),
			slog.String("name", m.Name),
		)
	}
	return applied, nil
}

// Question binds every argument as "?".
func Question(int) string { return "?" }

// Dollar binds the n-th argument as "$n".
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// DB adapts a *sql.DB using bind for placeholders.
func DB(db *sql.DB, bind func(n int) string) Conn {
	return sqlConn{db: db, bind: bind}
}

type sqlConn struct {
	db   *sql.DB
	bind func(int) string
}

func (c sqlConn) Bind(n int) string { return c.bind(n) }

func (c sqlConn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

func (c sqlConn) QueryInt(ctx context.Context, query string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

func (c sqlConn) InTx(ctx context.Context, fn func(exec Exec) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	err = fn(func(ctx context.Context, query string, args ...any) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}
