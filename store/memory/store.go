// Package memory provides an in-memory letter store for development and
// testing. Letters are lost on restart.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

var _ letter.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Stored letters are copied on the way in and
// out.
type Store struct {
	mu sync.RWMutex

	letters map[string]*letter.Letter   // by letter ID
	seqs    map[string][]*letter.Letter // ordered by Index
	closed  bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		letters: make(map[string]*letter.Letter),
		seqs:    make(map[string][]*letter.Letter),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails only after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return sdlq.ErrStoreClosed
	}
	return nil
}

// Close makes every later call fail with sdlq.ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Letter Store
// ──────────────────────────────────────────────────

// InsertLetter persists a new letter.
func (m *Store) InsertLetter(_ context.Context, l *letter.Letter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sdlq.ErrStoreClosed
	}

	key := l.ID.String()
	if _, ok := m.letters[key]; ok {
		return sdlq.ErrLetterAlreadyExists
	}
	seq := m.seqs[l.SequenceID]
	pos, found := slices.BinarySearchFunc(seq, l.Index, byIndex)
	if found {
		return sdlq.ErrLetterAlreadyExists
	}

	cp := l.Clone()
	m.letters[key] = cp
	m.seqs[l.SequenceID] = slices.Insert(seq, pos, cp)
	return nil
}

// UpdateLetter replaces the cause and diagnostics of a letter.
func (m *Store) UpdateLetter(_ context.Context, l *letter.Letter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sdlq.ErrStoreClosed
	}

	cur, ok := m.letters[l.ID.String()]
	if !ok {
		return sdlq.ErrLetterNotFound
	}
	// Swap in a fresh copy so earlier readers keep their snapshot.
	next := cur.Clone()
	next.Cause = l.Cause.Clone()
	next.Diagnostics = l.Diagnostics.Clone()
	m.letters[l.ID.String()] = next

	seq := m.seqs[cur.SequenceID]
	if pos, found := slices.BinarySearchFunc(seq, cur.Index, byIndex); found {
		seq[pos] = next
	}
	return nil
}

// DeleteLetter removes one letter of a sequence.
func (m *Store) DeleteLetter(_ context.Context, sequenceID string, letterID id.LetterID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sdlq.ErrStoreClosed
	}

	key := letterID.String()
	cur, ok := m.letters[key]
	if !ok || cur.SequenceID != sequenceID {
		return sdlq.ErrLetterNotFound
	}
	delete(m.letters, key)

	seq := m.seqs[sequenceID]
	if pos, found := slices.BinarySearchFunc(seq, cur.Index, byIndex); found {
		seq = slices.Delete(seq, pos, pos+1)
	}
	if len(seq) == 0 {
		delete(m.seqs, sequenceID)
	} else {
		m.seqs[sequenceID] = seq
	}
	return nil
}

// DeleteSequence removes every letter of a sequence.
func (m *Store) DeleteSequence(_ context.Context, sequenceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, sdlq.ErrStoreClosed
	}

	seq := m.seqs[sequenceID]
	for _, l := range seq {
		delete(m.letters, l.ID.String())
	}
	delete(m.seqs, sequenceID)
	return int64(len(seq)), nil
}

// GetLetter retrieves a letter by ID.
func (m *Store) GetLetter(_ context.Context, letterID id.LetterID) (*letter.Letter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, sdlq.ErrStoreClosed
	}

	l, ok := m.letters[letterID.String()]
	if !ok {
		return nil, sdlq.ErrLetterNotFound
	}
	return l.Clone(), nil
}

// ListLetters returns a sequence's letters in index order.
func (m *Store) ListLetters(_ context.Context, sequenceID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, sdlq.ErrStoreClosed
	}

	seq := m.seqs[sequenceID]
	if opts.Offset > 0 {
		if opts.Offset >= len(seq) {
			return []*letter.Letter{}, nil
		}
		seq = seq[opts.Offset:]
	}
	if opts.Limit > 0 && len(seq) > opts.Limit {
		seq = seq[:opts.Limit]
	}

	out := make([]*letter.Letter, 0, len(seq))
	for _, l := range seq {
		out = append(out, l.Clone())
	}
	return out, nil
}

// ListSequences returns a stat per non-empty sequence.
func (m *Store) ListSequences(_ context.Context) ([]letter.SequenceStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, sdlq.ErrStoreClosed
	}

	out := make([]letter.SequenceStat, 0, len(m.seqs))
	for seqID, seq := range m.seqs {
		out = append(out, letter.SequenceStat{
			SequenceID:      seqID,
			Letters:         int64(len(seq)),
			FrontEnqueuedAt: seq[0].EnqueuedAt,
			MaxIndex:        seq[len(seq)-1].Index,
		})
	}
	return out, nil
}

// CountLetters returns the total number of letters.
func (m *Store) CountLetters(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, sdlq.ErrStoreClosed
	}
	return int64(len(m.letters)), nil
}

func byIndex(l *letter.Letter, index uint64) int {
	return cmp.Compare(l.Index, index)
}
