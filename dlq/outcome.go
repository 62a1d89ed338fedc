package dlq

import (
	"context"
	"time"

	"github.com/xraph/sdlq/letter"
)

// Handler redelivers a parked message. A nil error means it was processed.
type Handler func(ctx context.Context, msg letter.Message) error

// OutcomeKind classifies the result of an evaluation.
type OutcomeKind int

const (
	// OutcomeSequenceMissing means the sequence held no letters.
	OutcomeSequenceMissing OutcomeKind = iota
	// OutcomeCleared means the sequence drained, or the per-call budget ran
	// out after only successes. Remaining tells which.
	OutcomeCleared
	// OutcomeStillBlocked means the front letter failed again.
	OutcomeStillBlocked
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCleared:
		return "cleared"
	case OutcomeStillBlocked:
		return "still_blocked"
	default:
		return "sequence_missing"
	}
}

// Outcome reports what an evaluation did.
type Outcome struct {
	Kind OutcomeKind
	// Processed is the number of letters evicted by this call.
	Processed int
	// Remaining is the number of letters left in the sequence.
	Remaining int
	// Cause is the new cause of the front letter when StillBlocked.
	Cause letter.Cause
	// Attempts is the front letter's failed attempt count when StillBlocked.
	Attempts int
}

// SequenceInfo describes one blocked sequence.
type SequenceInfo struct {
	SequenceID      string
	Size            int
	FrontEnqueuedAt time.Time
}
