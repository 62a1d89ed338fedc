// Package ext defines the extension system for sdlq.
// Extensions are notified of queue lifecycle events (letter parked,
// redelivered, cleared, rejected) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/letter"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Letter lifecycle hooks
// ──────────────────────────────────────────────────

// LetterEnqueued is called after a letter is durably parked.
type LetterEnqueued interface {
	OnLetterEnqueued(ctx context.Context, l *letter.Letter) error
}

// LetterDiverted is called when a message is parked without reaching its
// handler because its sequence was already blocked.
type LetterDiverted interface {
	OnLetterDiverted(ctx context.Context, l *letter.Letter) error
}

// LetterEvicted is called after a letter was redelivered successfully and
// removed. elapsed is the time it spent parked.
type LetterEvicted interface {
	OnLetterEvicted(ctx context.Context, l *letter.Letter, elapsed time.Duration) error
}

// RetryFailed is called after a failed redelivery attempt was recorded.
// l carries the updated cause and diagnostics.
type RetryFailed interface {
	OnRetryFailed(ctx context.Context, l *letter.Letter) error
}

// ──────────────────────────────────────────────────
// Administrative hooks
// ──────────────────────────────────────────────────

// LetterCleared is called after an operator removed a single letter.
type LetterCleared interface {
	OnLetterCleared(ctx context.Context, l *letter.Letter) error
}

// SequenceCleared is called after an operator removed a whole sequence.
type SequenceCleared interface {
	OnSequenceCleared(ctx context.Context, sequenceID string, removed int) error
}

// CapacityRejected is called when an enqueue was refused by a capacity bound.
type CapacityRejected interface {
	OnCapacityRejected(ctx context.Context, sequenceID string, reason sdlq.CapacityReason) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
