// Package letter defines the dead letter record, its failure cause and
// diagnostics, and the persistence contract every backend implements.
//
// A [Letter] is owned by the [Store] once inserted. After insert only its
// Cause and Diagnostics change, and only through a redelivery attempt.
package letter

import (
	"maps"
	"slices"
	"time"

	"github.com/xraph/sdlq/id"
)

// Message is the opaque payload a handler failed on, plus its type tag and
// transport metadata.
type Message struct {
	Type     string            `json:"payload_type"`
	Payload  []byte            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	return Message{
		Type:     m.Type,
		Payload:  slices.Clone(m.Payload),
		Metadata: maps.Clone(m.Metadata),
	}
}

// Letter is a failed message parked behind its sequence.
type Letter struct {
	ID          id.LetterID `json:"id"`
	SequenceID  string      `json:"sequence_id"`
	Index       uint64      `json:"seq_index"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	Message     Message     `json:"message"`
	Cause       Cause       `json:"cause"`
	Diagnostics Diagnostics `json:"diagnostics,omitempty"`
}

// Clone returns a deep copy of l. Stores hand out clones so callers can
// never mutate persisted state in place.
func (l *Letter) Clone() *Letter {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Message = l.Message.Clone()
	cp.Cause = l.Cause.Clone()
	cp.Diagnostics = l.Diagnostics.Clone()
	return &cp
}

// ListOpts controls pagination for letter list queries.
type ListOpts struct {
	// Limit is the maximum number of letters to return. Zero means no limit.
	Limit int
	// Offset is the number of letters to skip from the sequence front.
	Offset int
}

// SequenceStat summarises one non-empty sequence as persisted.
type SequenceStat struct {
	SequenceID string
	// Letters is the number of letters in the sequence.
	Letters int64
	// FrontEnqueuedAt is the enqueue time of the lowest-index letter.
	FrontEnqueuedAt time.Time
	// MaxIndex is the highest index ever persisted for the sequence and
	// seeds the next index after a restart.
	MaxIndex uint64
}
