package dlq

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/ext"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
	"github.com/xraph/sdlq/middleware"
	"github.com/xraph/sdlq/transform"
)

// Queue is a sequenced dead letter queue over a letter.Store.
type Queue struct {
	store letter.Store

	mu      sync.Mutex // guards seqs and pending; never held across I/O
	seqs    map[string]*sequence
	pending int        // entries in seqs with no stored letter yet
	settled *sync.Cond // signalled on q.mu when a pending entry settles

	total atomic.Int64

	maxSequences   int
	maxLetters     int
	budget         int
	handlerTimeout time.Duration
	group          string

	transform  transform.Func
	middleware []middleware.Middleware
	chain      middleware.Middleware
	enricher   letter.Enricher
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time
}

// Open builds a Queue over store and rebuilds its index from the letters
// already persisted, so blocked sequences survive a restart.
func Open(ctx context.Context, store letter.Store, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, sdlq.ErrNoStore
	}
	q := &Queue{
		store:     store,
		seqs:      make(map[string]*sequence),
		budget:    DefaultEvaluateBudget,
		transform: transform.Identity,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	q.settled = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	if q.enricher == nil {
		q.enricher = letter.NewEnricher(q.group)
	}
	if q.extensions == nil {
		q.extensions = ext.NewRegistry(q.logger)
	}

	mws := []middleware.Middleware{middleware.Recover(q.logger), middleware.Attach()}
	mws = append(mws, q.middleware...)
	mws = append(mws, middleware.Timeout(q.logger))
	q.chain = middleware.Chain(mws...)

	stats, err := store.ListSequences(ctx)
	if err != nil {
		return nil, sdlq.StoreError("list sequences", err)
	}
	for _, st := range stats {
		if st.Letters <= 0 {
			continue
		}
		s := &sequence{id: st.SequenceID, nextIndex: st.MaxIndex + 1}
		s.count.Store(st.Letters)
		s.front.Store(st.FrontEnqueuedAt.UnixNano())
		q.seqs[st.SequenceID] = s
		q.total.Add(st.Letters)
	}
	if len(stats) > 0 {
		q.logger.Info("dead letter queue restored",
			slog.Int("sequences", len(q.seqs)),
			slog.Int64("letters", q.total.Load()),
		)
	}
	return q, nil
}

// Store returns the underlying letter store.
func (q *Queue) Store() letter.Store { return q.store }

// Enqueue parks msg at the tail of sequence seqID with the given cause and
// returns the new letter's ID. The sequence is created if needed. Capacity
// bounds are checked before anything is written; a *sdlq.CapacityError
// leaves the queue unchanged.
func (q *Queue) Enqueue(ctx context.Context, seqID string, msg letter.Message, cause letter.Cause) (id.LetterID, error) {
	l, err := q.enqueue(ctx, seqID, msg, cause)
	if err != nil {
		q.rejected(ctx, err)
		return id.Nil, err
	}
	q.extensions.EmitLetterEnqueued(ctx, l)
	if cause.Kind == letter.CauseSequenceBlocked {
		q.extensions.EmitLetterDiverted(ctx, l)
	}
	return l.ID, nil
}

func (q *Queue) enqueue(ctx context.Context, seqID string, msg letter.Message, cause letter.Cause) (*letter.Letter, error) {
	if seqID == "" {
		return nil, sdlq.ErrInvalidSequenceID
	}
	s, err := q.lockSequence(seqID, true)
	if err != nil {
		return nil, err
	}
	defer q.unlockSequence(s)

	if q.maxLetters > 0 && s.count.Load() >= int64(q.maxLetters) {
		return nil, &sdlq.CapacityError{
			Reason:     sdlq.ReasonMaxLettersPerSequence,
			SequenceID: seqID,
			Limit:      q.maxLetters,
		}
	}

	now := q.now()
	l := &letter.Letter{
		ID:          id.NewLetterID(),
		SequenceID:  seqID,
		Index:       s.nextIndex,
		EnqueuedAt:  now,
		Message:     msg.Clone(),
		Cause:       cause.Clone(),
		Diagnostics: q.enricher.Initial(cause, now),
	}
	if err := q.store.InsertLetter(ctx, l); err != nil {
		return nil, sdlq.StoreError("insert letter", err)
	}

	s.nextIndex++
	if s.count.Add(1) == 1 {
		s.front.Store(now.UnixNano())
		q.stored(s)
	}
	q.total.Add(1)

	q.logger.Debug("letter enqueued",
		slog.String("sequence_id", seqID),
		slog.String("letter_id", l.ID.String()),
		slog.String("cause_kind", cause.Kind),
		slog.Int64("sequence_size", s.count.Load()),
	)
	return l, nil
}

func (q *Queue) rejected(ctx context.Context, err error) {
	var ce *sdlq.CapacityError
	if !errors.As(err, &ce) {
		return
	}
	q.logger.Warn("enqueue rejected",
		slog.String("sequence_id", ce.SequenceID),
		slog.String("reason", string(ce.Reason)),
		slog.Int("limit", ce.Limit),
	)
	q.extensions.EmitCapacityRejected(ctx, ce.SequenceID, ce.Reason)
}

// Contains reports whether the sequence holds at least one letter.
func (q *Queue) Contains(seqID string) bool {
	return q.SequenceSize(seqID) > 0
}

// Size returns the total number of letters across all sequences.
func (q *Queue) Size() int {
	return int(q.total.Load())
}

// SequenceSize returns the number of letters in one sequence.
func (q *Queue) SequenceSize(seqID string) int {
	q.mu.Lock()
	s, ok := q.seqs[seqID]
	q.mu.Unlock()
	if !ok {
		return 0
	}
	return int(s.count.Load())
}

// SequenceCount returns the number of blocked sequences.
func (q *Queue) SequenceCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.seqs {
		if s.count.Load() > 0 {
			n++
		}
	}
	return n
}

// FrontEnqueuedAt returns when the front letter of a sequence was parked.
func (q *Queue) FrontEnqueuedAt(seqID string) (time.Time, bool) {
	q.mu.Lock()
	s, ok := q.seqs[seqID]
	q.mu.Unlock()
	if !ok || s.count.Load() == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, s.front.Load()).UTC(), true
}

// Sequences returns every blocked sequence, oldest front letter first.
func (q *Queue) Sequences() []SequenceInfo {
	q.mu.Lock()
	out := make([]SequenceInfo, 0, len(q.seqs))
	for _, s := range q.seqs {
		n := s.count.Load()
		if n == 0 {
			continue
		}
		out = append(out, SequenceInfo{
			SequenceID:      s.id,
			Size:            int(n),
			FrontEnqueuedAt: time.Unix(0, s.front.Load()).UTC(),
		})
	}
	q.mu.Unlock()

	slices.SortFunc(out, func(a, b SequenceInfo) int {
		if c := a.FrontEnqueuedAt.Compare(b.FrontEnqueuedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SequenceID, b.SequenceID)
	})
	return out
}

// Letters returns the stored letters of a sequence, front first. Transforms
// are not applied.
func (q *Queue) Letters(ctx context.Context, seqID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	ls, err := q.store.ListLetters(ctx, seqID, opts)
	if err != nil {
		return nil, sdlq.StoreError(fmt.Sprintf("list letters of %s", seqID), err)
	}
	return ls, nil
}
