package dlq

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

// ClearSequence removes every letter of a sequence and returns how many
// were removed. Clearing an unknown sequence is a no-op.
func (q *Queue) ClearSequence(ctx context.Context, seqID string) (int, error) {
	s, _ := q.lockSequence(seqID, false)
	if s == nil {
		return 0, nil
	}
	n, err := q.store.DeleteSequence(ctx, seqID)
	if err != nil {
		q.unlockSequence(s)
		return 0, sdlq.StoreError("delete sequence", err)
	}
	q.evicted(s, s.count.Load())
	q.unlockSequence(s)

	if n > 0 {
		q.logger.Info("sequence cleared",
			slog.String("sequence_id", seqID),
			slog.Int64("removed", n),
		)
		q.extensions.EmitSequenceCleared(ctx, seqID, int(n))
	}
	return int(n), nil
}

// ClearLetter removes a single letter. Clearing an unknown letter is a
// no-op. Removing the front letter unblocks the next one in its sequence.
func (q *Queue) ClearLetter(ctx context.Context, letterID id.LetterID) error {
	l, err := q.store.GetLetter(ctx, letterID)
	if errors.Is(err, sdlq.ErrLetterNotFound) {
		return nil
	}
	if err != nil {
		return sdlq.StoreError("get letter", err)
	}

	s, _ := q.lockSequence(l.SequenceID, false)
	if s == nil {
		return nil
	}
	err = q.store.DeleteLetter(ctx, l.SequenceID, letterID)
	if errors.Is(err, sdlq.ErrLetterNotFound) {
		q.unlockSequence(s)
		return nil
	}
	if err != nil {
		q.unlockSequence(s)
		return sdlq.StoreError("delete letter", err)
	}
	if left := q.evicted(s, 1); left > 0 {
		q.refreshFront(ctx, s)
	}
	q.unlockSequence(s)

	q.logger.Info("letter cleared",
		slog.String("sequence_id", l.SequenceID),
		slog.String("letter_id", letterID.String()),
	)
	q.extensions.EmitLetterCleared(ctx, l)
	return nil
}

// refreshFront reloads the front time of s from the store. Caller holds s.mu.
func (q *Queue) refreshFront(ctx context.Context, s *sequence) {
	ls, err := q.store.ListLetters(ctx, s.id, letter.ListOpts{Limit: 1})
	if err != nil {
		q.logger.Warn("refresh sequence front failed",
			slog.String("sequence_id", s.id),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(ls) > 0 {
		s.front.Store(ls[0].EnqueuedAt.UnixNano())
	}
}
