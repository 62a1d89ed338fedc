// Package storetest provides the conformance suite every letter.Store
// backend must pass.
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) letter.Store {
//			return memory.New()
//		})
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

// Factory returns a fresh, empty store. It should register cleanup on t.
type Factory func(t *testing.T) letter.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, letter.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"InsertDuplicate", testInsertDuplicate},
		{"ListOrderedByIndex", testListOrderedByIndex},
		{"ListPagination", testListPagination},
		{"UpdateCauseAndDiagnostics", testUpdate},
		{"UpdateMissing", testUpdateMissing},
		{"DeleteLetter", testDeleteLetter},
		{"DeleteSequence", testDeleteSequence},
		{"ListSequences", testListSequences},
		{"CountLetters", testCountLetters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// base is truncated to milliseconds, the coarsest precision of any backend.
var base = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// NewLetter builds a letter for seqID at index with deterministic content.
func NewLetter(seqID string, index uint64) *letter.Letter {
	return &letter.Letter{
		ID:         id.NewLetterID(),
		SequenceID: seqID,
		Index:      index,
		EnqueuedAt: base.Add(time.Duration(index) * time.Second),
		Message: letter.Message{
			Type:     "OrderPlaced",
			Payload:  []byte(fmt.Sprintf(`{"id":"%s-%d"}`, seqID, index)),
			Metadata: map[string]string{"source": "storetest"},
		},
		Cause: letter.Cause{
			Kind:        letter.CauseHandlerError,
			Description: "handler failed",
			Chain:       []string{"connection refused"},
		},
		Diagnostics: letter.Diagnostics{
			letter.DiagAttempts:        0,
			letter.DiagProcessingGroup: "P1",
		},
	}
}

func mustInsert(t *testing.T, s letter.Store, l *letter.Letter) {
	t.Helper()
	if err := s.InsertLetter(context.Background(), l); err != nil {
		t.Fatalf("InsertLetter(%s/%d): %v", l.SequenceID, l.Index, err)
	}
}

func testInsertAndGet(t *testing.T, s letter.Store) {
	ctx := context.Background()
	in := NewLetter("order-1", 0)
	mustInsert(t, s, in)

	got, err := s.GetLetter(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetLetter: %v", err)
	}
	if got.ID.String() != in.ID.String() || got.SequenceID != in.SequenceID || got.Index != in.Index {
		t.Errorf("key = %s %s/%d", got.ID, got.SequenceID, got.Index)
	}
	if !got.EnqueuedAt.Equal(in.EnqueuedAt) {
		t.Errorf("EnqueuedAt = %v, want %v", got.EnqueuedAt, in.EnqueuedAt)
	}
	if got.Message.Type != in.Message.Type || string(got.Message.Payload) != string(in.Message.Payload) {
		t.Errorf("Message = %+v", got.Message)
	}
	if got.Message.Metadata["source"] != "storetest" {
		t.Errorf("Metadata = %v", got.Message.Metadata)
	}
	if got.Cause.Kind != in.Cause.Kind || got.Cause.Description != in.Cause.Description {
		t.Errorf("Cause = %+v", got.Cause)
	}
	if len(got.Cause.Chain) != 1 || got.Cause.Chain[0] != "connection refused" {
		t.Errorf("Cause.Chain = %v", got.Cause.Chain)
	}
	if got.Diagnostics.ProcessingGroup() != "P1" || got.Diagnostics.Attempts() != 0 {
		t.Errorf("Diagnostics = %v", got.Diagnostics)
	}

	_, err = s.GetLetter(ctx, id.NewLetterID())
	if !errors.Is(err, sdlq.ErrLetterNotFound) {
		t.Errorf("GetLetter(unknown) = %v, want ErrLetterNotFound", err)
	}
}

func testInsertDuplicate(t *testing.T, s letter.Store) {
	ctx := context.Background()
	l := NewLetter("order-1", 0)
	mustInsert(t, s, l)

	if err := s.InsertLetter(ctx, l); !errors.Is(err, sdlq.ErrLetterAlreadyExists) {
		t.Errorf("duplicate id: err = %v, want ErrLetterAlreadyExists", err)
	}
	clash := NewLetter("order-1", 0)
	if err := s.InsertLetter(ctx, clash); !errors.Is(err, sdlq.ErrLetterAlreadyExists) {
		t.Errorf("duplicate index: err = %v, want ErrLetterAlreadyExists", err)
	}
}

func testListOrderedByIndex(t *testing.T, s letter.Store) {
	for _, idx := range []uint64{2, 0, 10, 1} {
		mustInsert(t, s, NewLetter("order-1", idx))
	}
	mustInsert(t, s, NewLetter("order-2", 5))

	ls, err := s.ListLetters(context.Background(), "order-1", letter.ListOpts{})
	if err != nil {
		t.Fatalf("ListLetters: %v", err)
	}
	want := []uint64{0, 1, 2, 10}
	if len(ls) != len(want) {
		t.Fatalf("got %d letters, want %d", len(ls), len(want))
	}
	for i, l := range ls {
		if l.Index != want[i] || l.SequenceID != "order-1" {
			t.Errorf("ls[%d] = %s/%d, want order-1/%d", i, l.SequenceID, l.Index, want[i])
		}
	}

	empty, err := s.ListLetters(context.Background(), "missing", letter.ListOpts{})
	if err != nil || len(empty) != 0 {
		t.Errorf("ListLetters(missing) = %v, %v", empty, err)
	}
}

func testListPagination(t *testing.T, s letter.Store) {
	for i := range uint64(5) {
		mustInsert(t, s, NewLetter("order-1", i))
	}
	ls, err := s.ListLetters(context.Background(), "order-1", letter.ListOpts{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListLetters: %v", err)
	}
	if len(ls) != 2 || ls[0].Index != 1 || ls[1].Index != 2 {
		t.Fatalf("page = %v", indexes(ls))
	}

	ls, err = s.ListLetters(context.Background(), "order-1", letter.ListOpts{Offset: 10})
	if err != nil || len(ls) != 0 {
		t.Fatalf("offset past end = %v, %v", indexes(ls), err)
	}
}

func testUpdate(t *testing.T, s letter.Store) {
	ctx := context.Background()
	l := NewLetter("order-1", 0)
	mustInsert(t, s, l)

	upd := l.Clone()
	upd.Cause = letter.Cause{Kind: letter.CauseTimeout, Description: "deadline"}
	upd.Diagnostics = letter.Diagnostics{
		letter.DiagAttempts:    3,
		letter.DiagLastTriedAt: base.Add(time.Minute).Format(time.RFC3339Nano),
	}
	upd.Message.Payload = []byte(`{"tampered":true}`)
	upd.Index = 99

	if err := s.UpdateLetter(ctx, upd); err != nil {
		t.Fatalf("UpdateLetter: %v", err)
	}
	got, err := s.GetLetter(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetLetter: %v", err)
	}
	if got.Cause.Kind != letter.CauseTimeout || got.Cause.Description != "deadline" {
		t.Errorf("Cause = %+v", got.Cause)
	}
	if got.Diagnostics.Attempts() != 3 {
		t.Errorf("Attempts = %d, want 3", got.Diagnostics.Attempts())
	}
	if !got.Diagnostics.LastTriedAt().Equal(base.Add(time.Minute)) {
		t.Errorf("LastTriedAt = %v", got.Diagnostics.LastTriedAt())
	}
	if string(got.Message.Payload) != string(l.Message.Payload) || got.Index != 0 {
		t.Error("UpdateLetter changed immutable fields")
	}

	ls, _ := s.ListLetters(ctx, "order-1", letter.ListOpts{})
	if len(ls) != 1 || ls[0].Diagnostics.Attempts() != 3 {
		t.Errorf("listed letter not updated: %v", ls)
	}
}

func testUpdateMissing(t *testing.T, s letter.Store) {
	err := s.UpdateLetter(context.Background(), NewLetter("order-1", 0))
	if !errors.Is(err, sdlq.ErrLetterNotFound) {
		t.Errorf("err = %v, want ErrLetterNotFound", err)
	}
}

func testDeleteLetter(t *testing.T, s letter.Store) {
	ctx := context.Background()
	a, b := NewLetter("order-1", 0), NewLetter("order-1", 1)
	mustInsert(t, s, a)
	mustInsert(t, s, b)

	if err := s.DeleteLetter(ctx, "order-2", a.ID); !errors.Is(err, sdlq.ErrLetterNotFound) {
		t.Errorf("delete from wrong sequence: err = %v, want ErrLetterNotFound", err)
	}
	if err := s.DeleteLetter(ctx, "order-1", a.ID); err != nil {
		t.Fatalf("DeleteLetter: %v", err)
	}
	if err := s.DeleteLetter(ctx, "order-1", a.ID); !errors.Is(err, sdlq.ErrLetterNotFound) {
		t.Errorf("second delete: err = %v, want ErrLetterNotFound", err)
	}

	ls, err := s.ListLetters(ctx, "order-1", letter.ListOpts{})
	if err != nil {
		t.Fatalf("ListLetters: %v", err)
	}
	if len(ls) != 1 || ls[0].ID.String() != b.ID.String() {
		t.Errorf("remaining = %v, want [1]", indexes(ls))
	}
	if _, err := s.GetLetter(ctx, a.ID); !errors.Is(err, sdlq.ErrLetterNotFound) {
		t.Errorf("GetLetter(deleted) = %v", err)
	}
}

func testDeleteSequence(t *testing.T, s letter.Store) {
	ctx := context.Background()
	for i := range uint64(3) {
		mustInsert(t, s, NewLetter("order-1", i))
	}
	other := NewLetter("order-2", 0)
	mustInsert(t, s, other)

	n, err := s.DeleteSequence(ctx, "order-1")
	if err != nil {
		t.Fatalf("DeleteSequence: %v", err)
	}
	if n != 3 {
		t.Errorf("removed = %d, want 3", n)
	}
	if n, _ := s.DeleteSequence(ctx, "order-1"); n != 0 {
		t.Errorf("second DeleteSequence removed %d", n)
	}
	if _, err := s.GetLetter(ctx, other.ID); err != nil {
		t.Errorf("other sequence affected: %v", err)
	}
}

func testListSequences(t *testing.T, s letter.Store) {
	ctx := context.Background()
	mustInsert(t, s, NewLetter("order-1", 3))
	mustInsert(t, s, NewLetter("order-1", 7))
	mustInsert(t, s, NewLetter("order-2", 0))

	stats, err := s.ListSequences(ctx)
	if err != nil {
		t.Fatalf("ListSequences: %v", err)
	}
	got := map[string]letter.SequenceStat{}
	for _, st := range stats {
		got[st.SequenceID] = st
	}
	if len(got) != 2 {
		t.Fatalf("got %d sequences, want 2: %v", len(got), stats)
	}
	one := got["order-1"]
	if one.Letters != 2 || one.MaxIndex != 7 || !one.FrontEnqueuedAt.Equal(base.Add(3*time.Second)) {
		t.Errorf("order-1 stat = %+v", one)
	}
	if got["order-2"].Letters != 1 || got["order-2"].MaxIndex != 0 {
		t.Errorf("order-2 stat = %+v", got["order-2"])
	}
}

func testCountLetters(t *testing.T, s letter.Store) {
	ctx := context.Background()
	if n, err := s.CountLetters(ctx); err != nil || n != 0 {
		t.Fatalf("empty count = %d, %v", n, err)
	}
	mustInsert(t, s, NewLetter("order-1", 0))
	mustInsert(t, s, NewLetter("order-2", 0))
	if n, err := s.CountLetters(ctx); err != nil || n != 2 {
		t.Fatalf("count = %d, %v; want 2", n, err)
	}
}

func indexes(ls []*letter.Letter) []uint64 {
	out := make([]uint64, len(ls))
	for i, l := range ls {
		out[i] = l.Index
	}
	return out
}
