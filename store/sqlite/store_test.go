package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/sdlq/letter"
	"github.com/xraph/sdlq/store/sqlite"
	"github.com/xraph/sdlq/store/storetest"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "sdlq.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) letter.Store {
		return openStore(t)
	})
}

func TestMigrateIdempotent(t *testing.T) {
	s := openStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("schema version = %d, want 2", v)
	}
}

func TestEmptyColumnsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	l := storetest.NewLetter("order-1", 0)
	l.Message.Metadata = nil
	l.Cause.Chain = nil
	l.Diagnostics = nil
	if err := s.InsertLetter(ctx, l); err != nil {
		t.Fatalf("InsertLetter: %v", err)
	}
	got, err := s.GetLetter(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetLetter: %v", err)
	}
	if len(got.Message.Metadata) != 0 || len(got.Cause.Chain) != 0 || len(got.Diagnostics) != 0 {
		t.Errorf("got %+v", got)
	}
	if !got.EnqueuedAt.Equal(l.EnqueuedAt) {
		t.Errorf("EnqueuedAt = %v, want %v", got.EnqueuedAt, l.EnqueuedAt)
	}
}
