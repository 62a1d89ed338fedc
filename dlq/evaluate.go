package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/letter"
	"github.com/xraph/sdlq/middleware"
)

// Evaluate redelivers the front letter of a sequence through h.
//
// On success the letter is evicted and the next front is tried in the same
// call until the sequence is empty or the evaluate budget is spent; the
// outcome is OutcomeCleared. On handler failure, timeout or transform
// failure the letter's cause and diagnostics are rewritten in a single
// store write and the outcome is OutcomeStillBlocked. A sequence with no
// letters yields OutcomeSequenceMissing.
//
// If ctx is cancelled the attempt is abandoned without touching the
// letter and the error wraps sdlq.ErrEvaluationAborted. Store failures
// wrap sdlq.ErrStoreUnavailable. Letters evicted before either error stay
// evicted and are counted in the returned Outcome.
func (q *Queue) Evaluate(ctx context.Context, seqID string, h Handler) (Outcome, error) {
	s, _ := q.lockSequence(seqID, false)
	if s == nil {
		return Outcome{Kind: OutcomeSequenceMissing}, nil
	}
	var after []func()
	defer func() {
		q.unlockSequence(s)
		for _, fn := range after {
			fn()
		}
	}()

	if s.count.Load() == 0 {
		return Outcome{Kind: OutcomeSequenceMissing}, nil
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return q.aborted(s, processed, err)
		}

		// The second letter, if any, becomes the front after an eviction.
		ls, err := q.store.ListLetters(ctx, seqID, letter.ListOpts{Limit: 2})
		if err != nil {
			if ctx.Err() != nil {
				return q.aborted(s, processed, ctx.Err())
			}
			return q.partial(s, processed), sdlq.StoreError("load front letter", err)
		}
		if len(ls) == 0 {
			// Index and store disagree; trust the store.
			q.logger.Warn("sequence index out of sync with store",
				slog.String("sequence_id", seqID),
				slog.Int64("indexed", s.count.Load()),
			)
			q.evicted(s, s.count.Load())
			if processed == 0 {
				return Outcome{Kind: OutcomeSequenceMissing}, nil
			}
			return Outcome{Kind: OutcomeCleared, Processed: processed}, nil
		}
		front := ls[0]

		cause, err := q.redeliver(ctx, front, h)
		if errors.Is(err, sdlq.ErrEvaluationAborted) {
			return q.partial(s, processed), err
		}

		if !cause.IsZero() {
			updated, err := q.recordFailure(ctx, front, cause)
			if err != nil {
				return q.partial(s, processed), err
			}
			after = append(after, func() { q.extensions.EmitRetryFailed(ctx, updated) })
			return Outcome{
				Kind:      OutcomeStillBlocked,
				Processed: processed,
				Remaining: int(s.count.Load()),
				Cause:     cause,
				Attempts:  updated.Diagnostics.Attempts(),
			}, nil
		}

		// Processed: the letter must go even if the caller is now cancelling.
		if err := q.store.DeleteLetter(context.WithoutCancel(ctx), seqID, front.ID); err != nil && !errors.Is(err, sdlq.ErrLetterNotFound) {
			return q.partial(s, processed), sdlq.StoreError("evict letter", err)
		}
		processed++
		left := q.evicted(s, 1)
		elapsed := q.now().Sub(front.EnqueuedAt)
		after = append(after, func() { q.extensions.EmitLetterEvicted(ctx, front, elapsed) })

		q.logger.Debug("letter evicted",
			slog.String("sequence_id", seqID),
			slog.String("letter_id", front.ID.String()),
			slog.Int64("remaining", left),
		)

		if left <= 0 {
			return Outcome{Kind: OutcomeCleared, Processed: processed}, nil
		}
		if len(ls) > 1 {
			s.front.Store(ls[1].EnqueuedAt.UnixNano())
		}
		if processed >= q.budget {
			return Outcome{Kind: OutcomeCleared, Processed: processed, Remaining: int(left)}, nil
		}
	}
}

// redeliver transforms and hands one letter to h. It returns the zero
// Cause on success, the failure cause otherwise, or an error wrapping
// ErrEvaluationAborted if ctx was cancelled.
func (q *Queue) redeliver(ctx context.Context, l *letter.Letter, h Handler) (letter.Cause, error) {
	msg, err := q.transform(ctx, l.Message.Clone())
	if err != nil {
		if ctx.Err() != nil {
			return letter.Cause{}, fmt.Errorf("%w: %w", sdlq.ErrEvaluationAborted, ctx.Err())
		}
		c := letter.CauseFromError(fmt.Errorf("%w: %w", sdlq.ErrTransformFailed, err))
		c.Kind = letter.CauseTransformFailed
		return c, nil
	}

	d := &middleware.Delivery{
		LetterID:        l.ID,
		SequenceID:      l.SequenceID,
		ProcessingGroup: q.group,
		Message:         msg,
		Attempt:         l.Diagnostics.Attempts() + 1,
		Timeout:         q.handlerTimeout,
	}
	err = q.chain(ctx, d, func(ctx context.Context) error {
		return h(ctx, msg)
	})
	if err == nil {
		return letter.Cause{}, nil
	}
	if ctx.Err() != nil {
		return letter.Cause{}, fmt.Errorf("%w: %w", sdlq.ErrEvaluationAborted, ctx.Err())
	}
	c := letter.CauseFromError(err)
	if c.Kind == "" {
		c.Kind = letter.CauseHandlerError
	}
	return c, nil
}

// recordFailure writes the new cause and diagnostics in one update.
func (q *Queue) recordFailure(ctx context.Context, l *letter.Letter, cause letter.Cause) (*letter.Letter, error) {
	updated := l.Clone()
	updated.Cause = cause
	updated.Diagnostics = q.enricher.Attempted(l.Diagnostics, cause, q.now())
	if err := q.store.UpdateLetter(ctx, updated); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", sdlq.ErrEvaluationAborted, ctx.Err())
		}
		return nil, sdlq.StoreError("update diagnostics", err)
	}
	q.logger.Info("redelivery failed, sequence still blocked",
		slog.String("sequence_id", l.SequenceID),
		slog.String("letter_id", l.ID.String()),
		slog.String("cause_kind", cause.Kind),
		slog.Int("attempts", updated.Diagnostics.Attempts()),
	)
	return updated, nil
}

func (q *Queue) aborted(s *sequence, processed int, cause error) (Outcome, error) {
	return q.partial(s, processed), fmt.Errorf("%w: %w", sdlq.ErrEvaluationAborted, cause)
}

// partial describes a call that stopped early after processed evictions.
func (q *Queue) partial(s *sequence, processed int) Outcome {
	left := int(s.count.Load())
	if processed > 0 {
		return Outcome{Kind: OutcomeCleared, Processed: processed, Remaining: left}
	}
	return Outcome{Kind: OutcomeStillBlocked, Remaining: left}
}
