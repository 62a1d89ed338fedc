// Package pebblestore implements the letter store on an embedded Pebble
// database. It is the default durable backend: every write is a single
// batch committed through the write-ahead log.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/codec"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
	"github.com/xraph/sdlq/store"
)

var _ store.Store = (*Store)(nil)

// FsyncMode defines durability behavior for committed batches.
type FsyncMode int

const (
	// FsyncAlways syncs the WAL on every committed batch.
	FsyncAlways FsyncMode = iota
	// FsyncInterval lets Pebble coalesce WAL syncs within an interval.
	// An acknowledged write may be lost on power failure.
	FsyncInterval
)

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the record codec. Defaults to msgpack.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithFsync sets the fsync mode. interval is used by FsyncInterval.
func WithFsync(mode FsyncMode, interval time.Duration) Option {
	return func(s *Store) {
		s.fsync = mode
		s.fsyncInterval = interval
	}
}

// WithPebbleOptions allows advanced tuning of Pebble.
func WithPebbleOptions(po *pebble.Options) Option {
	return func(s *Store) { s.pebbleOpts = po }
}

// Store is a Pebble implementation of store.Store.
type Store struct {
	dir           string
	codec         codec.Codec
	logger        *slog.Logger
	fsync         FsyncMode
	fsyncInterval time.Duration
	pebbleOpts    *pebble.Options

	// mu serializes writes so existence checks and batches are atomic.
	// Readers hold it shared so Close cannot race an open iterator.
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

// Open creates or opens a Pebble database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("sdlq/pebble: data directory is required")
	}
	s := &Store{
		dir:    dir,
		codec:  codec.Msgpack{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	po := s.pebbleOpts
	if po == nil {
		po = &pebble.Options{}
	}
	if s.fsync == FsyncInterval {
		interval := s.fsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}

	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("sdlq/pebble: open %s: %w", dir, err)
	}
	s.db = db
	s.logger.Debug("pebble store opened", slog.String("dir", dir), slog.String("codec", s.codec.Name()))
	return s, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op; the key layout needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the database is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sdlq.ErrStoreClosed
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// ──────────────────────────────────────────────────
// Letter Store
// ──────────────────────────────────────────────────

// InsertLetter persists a new letter and its ID index in one batch.
func (s *Store) InsertLetter(_ context.Context, l *letter.Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sdlq.ErrStoreClosed
	}

	pk := letterKey(l.SequenceID, l.Index)
	ik := idKey(l.ID.String())
	for _, k := range [][]byte{ik, pk} {
		exists, err := s.has(k)
		if err != nil {
			return fmt.Errorf("sdlq/pebble: insert: %w", err)
		}
		if exists {
			return sdlq.ErrLetterAlreadyExists
		}
	}

	val, err := s.codec.Encode(l)
	if err != nil {
		return fmt.Errorf("sdlq/pebble: encode: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(pk, val, nil); err != nil {
		return fmt.Errorf("sdlq/pebble: insert: %w", err)
	}
	if err := b.Set(ik, pk, nil); err != nil {
		return fmt.Errorf("sdlq/pebble: insert: %w", err)
	}
	return s.commit(b, "insert")
}

// UpdateLetter rewrites the record with the new cause and diagnostics.
func (s *Store) UpdateLetter(_ context.Context, l *letter.Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sdlq.ErrStoreClosed
	}

	pk, cur, err := s.lookup(l.ID.String())
	if err != nil {
		return err
	}
	cur.Cause = l.Cause.Clone()
	cur.Diagnostics = l.Diagnostics.Clone()

	val, err := s.codec.Encode(cur)
	if err != nil {
		return fmt.Errorf("sdlq/pebble: encode: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(pk, val, nil); err != nil {
		return fmt.Errorf("sdlq/pebble: update: %w", err)
	}
	return s.commit(b, "update")
}

// DeleteLetter removes one letter of a sequence.
func (s *Store) DeleteLetter(_ context.Context, sequenceID string, letterID id.LetterID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sdlq.ErrStoreClosed
	}

	pk, cur, err := s.lookup(letterID.String())
	if err != nil {
		return err
	}
	if cur.SequenceID != sequenceID {
		return sdlq.ErrLetterNotFound
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(pk, nil); err != nil {
		return fmt.Errorf("sdlq/pebble: delete: %w", err)
	}
	if err := b.Delete(idKey(letterID.String()), nil); err != nil {
		return fmt.Errorf("sdlq/pebble: delete: %w", err)
	}
	return s.commit(b, "delete")
}

// DeleteSequence removes every letter of a sequence in one batch.
func (s *Store) DeleteSequence(_ context.Context, sequenceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, sdlq.ErrStoreClosed
	}

	ls, err := s.scan(sequenceID, letter.ListOpts{})
	if err != nil {
		return 0, err
	}
	if len(ls) == 0 {
		return 0, nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	for _, l := range ls {
		if err := b.Delete(letterKey(l.SequenceID, l.Index), nil); err != nil {
			return 0, fmt.Errorf("sdlq/pebble: delete sequence: %w", err)
		}
		if err := b.Delete(idKey(l.ID.String()), nil); err != nil {
			return 0, fmt.Errorf("sdlq/pebble: delete sequence: %w", err)
		}
	}
	if err := s.commit(b, "delete sequence"); err != nil {
		return 0, err
	}
	return int64(len(ls)), nil
}

// GetLetter retrieves a letter by ID.
func (s *Store) GetLetter(_ context.Context, letterID id.LetterID) (*letter.Letter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, sdlq.ErrStoreClosed
	}
	_, l, err := s.lookup(letterID.String())
	return l, err
}

// ListLetters range-scans a sequence in index order.
func (s *Store) ListLetters(_ context.Context, sequenceID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, sdlq.ErrStoreClosed
	}
	return s.scan(sequenceID, opts)
}

// ListSequences scans every letter key and aggregates per sequence.
func (s *Store) ListSequences(_ context.Context) ([]letter.SequenceStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, sdlq.ErrStoreClosed
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: letterPrefix,
		UpperBound: prefixEnd(letterPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("sdlq/pebble: list sequences: %w", err)
	}
	defer iter.Close()

	var (
		out []letter.SequenceStat
		cur *letter.SequenceStat
	)
	for iter.First(); iter.Valid(); iter.Next() {
		seqID, index, err := parseLetterKey(iter.Key())
		if err != nil {
			return nil, fmt.Errorf("sdlq/pebble: list sequences: %w", err)
		}
		if cur != nil && cur.SequenceID == seqID {
			cur.Letters++
			cur.MaxIndex = index
			continue
		}
		// First key of a sequence is its front letter.
		l, err := s.codec.Decode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("sdlq/pebble: decode: %w", err)
		}
		out = append(out, letter.SequenceStat{
			SequenceID:      seqID,
			Letters:         1,
			FrontEnqueuedAt: l.EnqueuedAt,
			MaxIndex:        index,
		})
		cur = &out[len(out)-1]
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("sdlq/pebble: list sequences: %w", err)
	}
	return out, nil
}

// CountLetters counts ID index entries.
func (s *Store) CountLetters(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, sdlq.ErrStoreClosed
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: idPrefix,
		UpperBound: prefixEnd(idPrefix),
	})
	if err != nil {
		return 0, fmt.Errorf("sdlq/pebble: count: %w", err)
	}
	defer iter.Close()

	var n int64
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

// ──────────────────────────────────────────────────
// Helpers (callers hold s.mu)
// ──────────────────────────────────────────────────

func (s *Store) commit(b *pebble.Batch, op string) error {
	mode := pebble.Sync
	if s.fsync == FsyncInterval {
		mode = pebble.NoSync
	}
	if err := b.Commit(mode); err != nil {
		return fmt.Errorf("sdlq/pebble: %s: %w", op, err)
	}
	return nil
}

func (s *Store) has(k []byte) (bool, error) {
	_, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

// get copies the value for k.
func (s *Store) get(k []byte) ([]byte, error) {
	val, closer, err := s.db.Get(k)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// lookup resolves a letter ID to its primary key and decoded letter.
func (s *Store) lookup(letterID string) ([]byte, *letter.Letter, error) {
	pk, err := s.get(idKey(letterID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil, sdlq.ErrLetterNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sdlq/pebble: get: %w", err)
	}
	val, err := s.get(pk)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil, sdlq.ErrLetterNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sdlq/pebble: get: %w", err)
	}
	l, err := s.codec.Decode(val)
	if err != nil {
		return nil, nil, fmt.Errorf("sdlq/pebble: decode: %w", err)
	}
	return pk, l, nil
}

func (s *Store) scan(sequenceID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	prefix := sequencePrefix(sequenceID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("sdlq/pebble: list: %w", err)
	}
	defer iter.Close()

	out := make([]*letter.Letter, 0, max(1, opts.Limit))
	skipped := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if skipped < opts.Offset {
			skipped++
			continue
		}
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		l, err := s.codec.Decode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("sdlq/pebble: decode: %w", err)
		}
		out = append(out, l)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("sdlq/pebble: list: %w", err)
	}
	return out, nil
}
