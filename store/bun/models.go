package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

// ── Letter model ──────────────────────────────────────────────────

type letterModel struct {
	bun.BaseModel `bun:"table:sdlq_letters"`

	ID          string            `bun:"id,pk"`
	SequenceID  string            `bun:"sequence_id,notnull"`
	Index       int64             `bun:"seq_index,notnull"`
	EnqueuedAt  time.Time         `bun:"enqueued_at,notnull"`
	Payload     []byte            `bun:"payload,type:bytea"`
	PayloadType string            `bun:"payload_type,notnull"`
	Metadata    map[string]string `bun:"metadata,type:jsonb"`
	CauseKind   string            `bun:"cause_kind,notnull"`
	CauseDetail string            `bun:"cause_detail,notnull"`
	CauseChain  []string          `bun:"cause_chain,array"`
	Diagnostics map[string]any    `bun:"diagnostics,type:jsonb"`
}

func toLetterModel(l *letter.Letter) *letterModel {
	return &letterModel{
		ID:          l.ID.String(),
		SequenceID:  l.SequenceID,
		Index:       int64(l.Index),
		EnqueuedAt:  l.EnqueuedAt.UTC(),
		Payload:     l.Message.Payload,
		PayloadType: l.Message.Type,
		Metadata:    l.Message.Metadata,
		CauseKind:   l.Cause.Kind,
		CauseDetail: l.Cause.Description,
		CauseChain:  l.Cause.Chain,
		Diagnostics: l.Diagnostics,
	}
}

func fromLetterModel(m *letterModel) (*letter.Letter, error) {
	letterID, err := id.ParseLetterID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse letter id %q: %w", m.ID, err)
	}
	return &letter.Letter{
		ID:         letterID,
		SequenceID: m.SequenceID,
		Index:      uint64(m.Index),
		EnqueuedAt: m.EnqueuedAt.UTC(),
		Message: letter.Message{
			Type:     m.PayloadType,
			Payload:  m.Payload,
			Metadata: m.Metadata,
		},
		Cause: letter.Cause{
			Kind:        m.CauseKind,
			Description: m.CauseDetail,
			Chain:       m.CauseChain,
		},
		Diagnostics: letter.Diagnostics(m.Diagnostics),
	}, nil
}

// ── Sequence stat row ─────────────────────────────────────────────

type sequenceStatRow struct {
	SequenceID      string    `bun:"sequence_id"`
	FrontEnqueuedAt time.Time `bun:"front_enqueued_at"`
	Letters         int64     `bun:"letters"`
	MaxIndex        int64     `bun:"max_index"`
}
