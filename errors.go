package sdlq

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore          = errors.New("sdlq: no store configured")
	ErrStoreClosed      = errors.New("sdlq: store closed")
	ErrStoreUnavailable = errors.New("sdlq: store unavailable")
	ErrMigrationFailed  = errors.New("sdlq: migration failed")

	// Not found errors.
	ErrLetterNotFound   = errors.New("sdlq: letter not found")
	ErrSequenceNotFound = errors.New("sdlq: sequence not found")

	// Input errors.
	ErrInvalidSequenceID = errors.New("sdlq: invalid sequence id")

	// Conflict errors.
	ErrLetterAlreadyExists = errors.New("sdlq: letter already exists")

	// Queue errors.
	ErrCapacityExceeded  = errors.New("sdlq: capacity exceeded")
	ErrTransformFailed   = errors.New("sdlq: transform failed")
	ErrEvaluationAborted = errors.New("sdlq: evaluation aborted")

	// Configuration errors.
	ErrInvalidConfig = errors.New("sdlq: invalid config")
)

// CapacityReason names the bound that rejected an enqueue.
type CapacityReason string

const (
	// ReasonMaxSequences means a new sequence would exceed Config.MaxSequences.
	ReasonMaxSequences CapacityReason = "max_sequences"
	// ReasonMaxLettersPerSequence means the sequence is already at
	// Config.MaxLettersPerSequence letters.
	ReasonMaxLettersPerSequence CapacityReason = "max_letters_per_sequence"
)

// CapacityError is returned by enqueue when a configured bound would be
// violated. The queue is left unchanged. It matches ErrCapacityExceeded
// under errors.Is.
type CapacityError struct {
	Reason     CapacityReason
	SequenceID string
	Limit      int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("sdlq: capacity exceeded: %s (limit %d) for sequence %q", e.Reason, e.Limit, e.SequenceID)
}

// Is reports whether target is ErrCapacityExceeded.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// StoreError wraps a persistence failure as ErrStoreUnavailable while
// keeping the backend error reachable through errors.As / errors.Unwrap.
// Nothing was committed when a StoreError is returned.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
