// Package codec serializes letters into the flat persisted record layout
// used by byte-oriented stores (pebble, redis).
package codec

import (
	"fmt"
	"time"

	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

// Codec defines the serialization contract for persisted letters.
type Codec interface {
	// Encode serializes a letter to bytes.
	Encode(l *letter.Letter) ([]byte, error)

	// Decode deserializes bytes into a letter.
	Decode(data []byte) (*letter.Letter, error)

	// Name returns the codec identifier ("json", "msgpack").
	Name() string
}

// Codec names.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. Defaults to msgpack.
func Get(name string) Codec {
	switch name {
	case NameJSON:
		return JSON{}
	default:
		return Msgpack{}
	}
}

// Record is the persisted layout of one letter.
type Record struct {
	SequenceID  string            `json:"sequence_id"            msgpack:"sequence_id"            bson:"sequence_id"`
	Index       uint64            `json:"seq_index"              msgpack:"seq_index"              bson:"seq_index"`
	EnqueuedAt  time.Time         `json:"enqueued_at"            msgpack:"enqueued_at"            bson:"enqueued_at"`
	ID          string            `json:"id"                     msgpack:"id"                     bson:"_id"`
	Payload     []byte            `json:"payload"                msgpack:"payload"                bson:"payload"`
	PayloadType string            `json:"payload_type"           msgpack:"payload_type"           bson:"payload_type"`
	Metadata    map[string]string `json:"metadata,omitempty"     msgpack:"metadata,omitempty"     bson:"metadata,omitempty"`
	CauseKind   string            `json:"cause_kind"             msgpack:"cause_kind"             bson:"cause_kind"`
	CauseDetail string            `json:"cause_detail"           msgpack:"cause_detail"           bson:"cause_detail"`
	CauseChain  []string          `json:"cause_chain,omitempty"  msgpack:"cause_chain,omitempty"  bson:"cause_chain,omitempty"`
	Diagnostics map[string]any    `json:"diagnostics,omitempty"  msgpack:"diagnostics,omitempty"  bson:"diagnostics,omitempty"`
}

// FromLetter flattens a letter into a Record.
func FromLetter(l *letter.Letter) Record {
	return Record{
		SequenceID:  l.SequenceID,
		Index:       l.Index,
		EnqueuedAt:  l.EnqueuedAt.UTC(),
		ID:          l.ID.String(),
		Payload:     l.Message.Payload,
		PayloadType: l.Message.Type,
		Metadata:    l.Message.Metadata,
		CauseKind:   l.Cause.Kind,
		CauseDetail: l.Cause.Description,
		CauseChain:  l.Cause.Chain,
		Diagnostics: l.Diagnostics,
	}
}

// Letter rebuilds the letter a Record was flattened from.
func (r *Record) Letter() (*letter.Letter, error) {
	letterID, err := id.ParseLetterID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("codec: letter id %q: %w", r.ID, err)
	}
	return &letter.Letter{
		ID:         letterID,
		SequenceID: r.SequenceID,
		Index:      r.Index,
		EnqueuedAt: r.EnqueuedAt.UTC(),
		Message: letter.Message{
			Type:     r.PayloadType,
			Payload:  r.Payload,
			Metadata: r.Metadata,
		},
		Cause: letter.Cause{
			Kind:        r.CauseKind,
			Description: r.CauseDetail,
			Chain:       r.CauseChain,
		},
		Diagnostics: letter.Diagnostics(r.Diagnostics),
	}, nil
}
