package sqlmigrate_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	"github.com/xraph/sdlq/store/sqlmigrate"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFromFS_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_third.sql":  {Data: []byte("SELECT 3")},
		"m/002_second.sql": {Data: []byte("SELECT 2")},
		"m/001_first.sql":  {Data: []byte("SELECT 1")},
		"m/README.md":      {Data: []byte("ignored")},
	}
	ms, err := sqlmigrate.FromFS(fsys, "m")
	if err != nil {
		t.Fatalf("FromFS: %v", err)
	}
	if len(ms) != 3 {
		t.Fatalf("got %d migrations, want 3", len(ms))
	}
	want := []struct {
		version int
		name    string
	}{{1, "first"}, {2, "second"}, {10, "third"}}
	for i, w := range want {
		if ms[i].Version != w.version || ms[i].Name != w.name {
			t.Errorf("ms[%d] = %d/%s, want %d/%s", i, ms[i].Version, ms[i].Name, w.version, w.name)
		}
	}
	if ms[0].SQL != "SELECT 1" {
		t.Errorf("ms[0].SQL = %q", ms[0].SQL)
	}
}

func TestFromFS_RejectsBadNames(t *testing.T) {
	for _, name := range []string{"m/create.sql", "m/x1_create.sql", "m/000_zero.sql"} {
		fsys := fstest.MapFS{name: {Data: []byte("SELECT 1")}}
		if _, err := sqlmigrate.FromFS(fsys, "m"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestFromFS_RejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": {Data: []byte("SELECT 1")},
		"m/01_b.sql":  {Data: []byte("SELECT 1")},
	}
	if _, err := sqlmigrate.FromFS(fsys, "m"); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

var steps = []sqlmigrate.Migration{
	{Version: 1, Name: "create_items", SQL: `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`},
	{Version: 2, Name: "index_name", SQL: `CREATE INDEX idx_items_name ON items (name)`},
}

func TestUp_AppliesOnce(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	r := sqlmigrate.New(sqlmigrate.DB(db, sqlmigrate.Question), steps)

	v, err := r.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 0 {
		t.Fatalf("fresh version = %d, want 0", v)
	}

	n, err := r.Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 2 {
		t.Errorf("applied = %d, want 2", n)
	}

	n, err = r.Up(ctx)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if n != 0 {
		t.Errorf("second Up applied = %d, want 0", n)
	}

	if v, _ = r.Version(ctx); v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + sqlmigrate.DefaultTable).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 2 {
		t.Errorf("recorded %d versions, want 2", rows)
	}
}

func TestUp_AppliesOnlyNewSteps(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	conn := sqlmigrate.DB(db, sqlmigrate.Question)

	if _, err := sqlmigrate.New(conn, steps[:1]).Up(ctx); err != nil {
		t.Fatalf("Up v1: %v", err)
	}
	n, err := sqlmigrate.New(conn, steps).Up(ctx)
	if err != nil {
		t.Fatalf("Up v2: %v", err)
	}
	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
}

func TestUp_FailedStepIsNotRecorded(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	broken := append([]sqlmigrate.Migration{}, steps[0],
		sqlmigrate.Migration{Version: 2, Name: "broken", SQL: `CREATE INDEX idx_missing ON nowhere (x)`})
	r := sqlmigrate.New(sqlmigrate.DB(db, sqlmigrate.Question), broken,
		sqlmigrate.WithErrorPrefix("test"))

	n, err := r.Up(ctx)
	if err == nil {
		t.Fatal("expected error from broken migration")
	}
	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	if v, _ := r.Version(ctx); v != 1 {
		t.Errorf("version = %d, want 1", v)
	}

	fixed := sqlmigrate.New(sqlmigrate.DB(db, sqlmigrate.Question), steps)
	if _, err := fixed.Up(ctx); err != nil {
		t.Fatalf("Up after fix: %v", err)
	}
	if v, _ := fixed.Version(ctx); v != 2 {
		t.Errorf("version after fix = %d, want 2", v)
	}
}

func TestUp_RejectsNewerDatabase(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	conn := sqlmigrate.DB(db, sqlmigrate.Question)

	if _, err := sqlmigrate.New(conn, steps).Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if _, err := sqlmigrate.New(conn, steps[:1]).Up(ctx); err == nil {
		t.Fatal("expected error for schema newer than build")
	}
}

func TestWithTable(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	r := sqlmigrate.New(sqlmigrate.DB(db, sqlmigrate.Question), steps,
		sqlmigrate.WithTable("custom_versions"))
	if _, err := r.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM custom_versions`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 2 {
		t.Errorf("recorded %d versions, want 2", rows)
	}
}

func TestBinders(t *testing.T) {
	if got := sqlmigrate.Question(3); got != "?" {
		t.Errorf("Question(3) = %q", got)
	}
	if got := sqlmigrate.Dollar(3); got != "$3" {
		t.Errorf("Dollar(3) = %q", got)
	}
}
