// Package resilient wraps a store.Store with transient-error retries and a
// circuit breaker. While the breaker is open every call fails fast with
// sdlq.ErrStoreUnavailable instead of waiting on a dead backend.
package resilient

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
	"github.com/xraph/sdlq/store"
)

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithName names the circuit breaker in logs.
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

// WithRetry sets how many times a transient failure is attempted and the
// base delay between attempts. Attempts of 1 disables retries.
func WithRetry(attempts uint, delay, maxDelay time.Duration) Option {
	return func(s *Store) {
		s.attempts = attempts
		s.delay = delay
		s.maxDelay = maxDelay
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open before probing again.
func WithBreaker(failures uint32, openTimeout time.Duration) Option {
	return func(s *Store) {
		s.failures = failures
		s.openTimeout = openTimeout
	}
}

// Store decorates another store.Store.
type Store struct {
	inner  store.Store
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
	name   string

	attempts    uint
	delay       time.Duration
	maxDelay    time.Duration
	failures    uint32
	openTimeout time.Duration
}

// Wrap returns inner guarded by retries and a circuit breaker.
func Wrap(inner store.Store, opts ...Option) *Store {
	s := &Store{
		inner:       inner,
		logger:      slog.Default(),
		name:        "sdlq-store",
		attempts:    3,
		delay:       100 * time.Millisecond,
		maxDelay:    2 * time.Second,
		failures:    5,
		openTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.name,
		MaxRequests: 1,
		Interval:    s.openTimeout,
		Timeout:     s.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !transient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("store circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return s
}

// State reports the circuit breaker state.
func (s *Store) State() gobreaker.State { return s.cb.State() }

// Unwrap returns the decorated store.
func (s *Store) Unwrap() store.Store { return s.inner }

// transient reports whether err may go away on retry. Domain outcomes and
// cancellation are final.
func transient(err error) bool {
	switch {
	case errors.Is(err, sdlq.ErrLetterNotFound),
		errors.Is(err, sdlq.ErrLetterAlreadyExists),
		errors.Is(err, sdlq.ErrStoreClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}
	return true
}

// do runs fn through the breaker, retrying transient failures.
func do[T any](ctx context.Context, s *Store, op string, fn func(attempt uint) (T, error)) (T, error) {
	var attempt uint
	v, err := retry.DoWithData(
		func() (T, error) {
			n := attempt
			attempt++
			res, err := s.cb.Execute(func() (any, error) {
				return fn(n)
			})
			if err != nil {
				var zero T
				return zero, err
			}
			return res.(T), nil
		},
		retry.Attempts(max(1, s.attempts)),
		retry.Delay(s.delay),
		retry.MaxDelay(s.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(transient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug("retrying store operation",
				slog.String("op", op),
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()),
			)
		}),
		retry.Context(ctx),
	)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, sdlq.StoreError(op, err)
	}
	return v, err
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate runs the inner migration without retries.
func (s *Store) Migrate(ctx context.Context) error { return s.inner.Migrate(ctx) }

// Ping checks the inner store through the breaker.
func (s *Store) Ping(ctx context.Context) error {
	_, err := do(ctx, s, "ping", func(uint) (struct{}, error) {
		return struct{}{}, s.inner.Ping(ctx)
	})
	return err
}

// Close closes the inner store.
func (s *Store) Close() error { return s.inner.Close() }

// ──────────────────────────────────────────────────
// Letter Store
// ──────────────────────────────────────────────────

// InsertLetter inserts through the breaker. A retry that finds the letter
// already stored by an earlier, ambiguous attempt counts as success.
func (s *Store) InsertLetter(ctx context.Context, l *letter.Letter) error {
	_, err := do(ctx, s, "insert letter", func(attempt uint) (struct{}, error) {
		err := s.inner.InsertLetter(ctx, l)
		if attempt > 0 && errors.Is(err, sdlq.ErrLetterAlreadyExists) && s.stored(ctx, l) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

func (s *Store) stored(ctx context.Context, l *letter.Letter) bool {
	got, err := s.inner.GetLetter(ctx, l.ID)
	return err == nil && got.SequenceID == l.SequenceID && got.Index == l.Index
}

// UpdateLetter updates through the breaker.
func (s *Store) UpdateLetter(ctx context.Context, l *letter.Letter) error {
	_, err := do(ctx, s, "update letter", func(uint) (struct{}, error) {
		return struct{}{}, s.inner.UpdateLetter(ctx, l)
	})
	return err
}

// DeleteLetter deletes through the breaker. A retry that finds the letter
// already gone counts as success.
func (s *Store) DeleteLetter(ctx context.Context, sequenceID string, letterID id.LetterID) error {
	_, err := do(ctx, s, "delete letter", func(attempt uint) (struct{}, error) {
		err := s.inner.DeleteLetter(ctx, sequenceID, letterID)
		if attempt > 0 && errors.Is(err, sdlq.ErrLetterNotFound) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

// DeleteSequence deletes through the breaker.
func (s *Store) DeleteSequence(ctx context.Context, sequenceID string) (int64, error) {
	return do(ctx, s, "delete sequence", func(uint) (int64, error) {
		return s.inner.DeleteSequence(ctx, sequenceID)
	})
}

// GetLetter reads through the breaker.
func (s *Store) GetLetter(ctx context.Context, letterID id.LetterID) (*letter.Letter, error) {
	return do(ctx, s, "get letter", func(uint) (*letter.Letter, error) {
		return s.inner.GetLetter(ctx, letterID)
	})
}

// ListLetters reads through the breaker.
func (s *Store) ListLetters(ctx context.Context, sequenceID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	return do(ctx, s, "list letters", func(uint) ([]*letter.Letter, error) {
		return s.inner.ListLetters(ctx, sequenceID, opts)
	})
}

// ListSequences reads through the breaker.
func (s *Store) ListSequences(ctx context.Context) ([]letter.SequenceStat, error) {
	return do(ctx, s, "list sequences", func(uint) ([]letter.SequenceStat, error) {
		return s.inner.ListSequences(ctx)
	})
}

// CountLetters reads through the breaker.
func (s *Store) CountLetters(ctx context.Context) (int64, error) {
	return do(ctx, s, "count letters", func(uint) (int64, error) {
		return s.inner.CountLetters(ctx)
	})
}
