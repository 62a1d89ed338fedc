package letter

import (
	"context"

	"github.com/xraph/sdlq/id"
)

// Store defines the persistence contract for dead letters.
//
// Letters are keyed by (SequenceID, Index, ID). Index is assigned by the
// queue and is unique and increasing within a sequence. A nil error from
// any write means the change is durable.
type Store interface {
	// InsertLetter persists a new letter. It returns
	// sdlq.ErrLetterAlreadyExists if the ID or (SequenceID, Index) is taken.
	InsertLetter(ctx context.Context, l *Letter) error

	// UpdateLetter replaces the Cause and Diagnostics of an existing letter
	// in a single write. Other fields are ignored. It returns
	// sdlq.ErrLetterNotFound if the letter does not exist.
	UpdateLetter(ctx context.Context, l *Letter) error

	// DeleteLetter removes one letter. It returns sdlq.ErrLetterNotFound if
	// the letter is not part of the sequence.
	DeleteLetter(ctx context.Context, sequenceID string, letterID id.LetterID) error

	// DeleteSequence removes every letter of a sequence and returns how many
	// were removed.
	DeleteSequence(ctx context.Context, sequenceID string) (int64, error)

	// GetLetter retrieves a letter by ID.
	GetLetter(ctx context.Context, letterID id.LetterID) (*Letter, error)

	// ListLetters returns a sequence's letters ordered by Index ascending.
	ListLetters(ctx context.Context, sequenceID string, opts ListOpts) ([]*Letter, error)

	// ListSequences returns a stat for every non-empty sequence.
	ListSequences(ctx context.Context) ([]SequenceStat, error)

	// CountLetters returns the total number of letters.
	CountLetters(ctx context.Context) (int64, error)
}
