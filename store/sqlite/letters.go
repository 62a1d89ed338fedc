package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

const letterColumns = `
	id, sequence_id, seq_index, enqueued_at, payload, payload_type,
	metadata, cause_kind, cause_detail, cause_chain, diagnostics`

// InsertLetter persists a new letter.
func (s *Store) InsertLetter(ctx context.Context, l *letter.Letter) error {
	metadata, chain, diagnostics, err := encodeJSONColumns(l)
	if err != nil {
		return fmt.Errorf("sdlq/sqlite: insert letter: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sdlq_letters (`+letterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.SequenceID, int64(l.Index), formatTime(l.EnqueuedAt),
		l.Message.Payload, l.Message.Type, metadata,
		l.Cause.Kind, l.Cause.Description, chain, diagnostics,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return sdlq.ErrLetterAlreadyExists
		}
		return fmt.Errorf("sdlq/sqlite: insert letter: %w", err)
	}
	return nil
}

// UpdateLetter replaces the cause and diagnostics of a letter in one
// statement.
func (s *Store) UpdateLetter(ctx context.Context, l *letter.Letter) error {
	_, chain, diagnostics, err := encodeJSONColumns(l)
	if err != nil {
		return fmt.Errorf("sdlq/sqlite: update letter: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sdlq_letters SET
			cause_kind = ?, cause_detail = ?, cause_chain = ?, diagnostics = ?
		WHERE id = ?`,
		l.Cause.Kind, l.Cause.Description, chain, diagnostics, l.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sdlq/sqlite: update letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteLetter removes one letter of a sequence.
func (s *Store) DeleteLetter(ctx context.Context, sequenceID string, letterID id.LetterID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sdlq_letters WHERE id = ? AND sequence_id = ?`,
		letterID.String(), sequenceID,
	)
	if err != nil {
		return fmt.Errorf("sdlq/sqlite: delete letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteSequence removes every letter of a sequence.
func (s *Store) DeleteSequence(ctx context.Context, sequenceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sdlq_letters WHERE sequence_id = ?`, sequenceID)
	if err != nil {
		return 0, fmt.Errorf("sdlq/sqlite: delete sequence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sdlq/sqlite: delete sequence: %w", err)
	}
	return n, nil
}

// GetLetter retrieves a letter by ID.
func (s *Store) GetLetter(ctx context.Context, letterID id.LetterID) (*letter.Letter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+letterColumns+` FROM sdlq_letters WHERE id = ?`, letterID.String())
	l, err := scanLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, sdlq.ErrLetterNotFound
		}
		return nil, fmt.Errorf("sdlq/sqlite: get letter: %w", err)
	}
	return l, nil
}

// ListLetters returns a sequence's letters in index order.
func (s *Store) ListLetters(ctx context.Context, sequenceID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+letterColumns+` FROM sdlq_letters
		WHERE sequence_id = ? ORDER BY seq_index ASC
		LIMIT ? OFFSET ?`,
		sequenceID, limit, max(0, opts.Offset),
	)
	if err != nil {
		return nil, fmt.Errorf("sdlq/sqlite: list letters: %w", err)
	}
	defer rows.Close()

	out := []*letter.Letter{}
	for rows.Next() {
		l, scanErr := scanLetter(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sdlq/sqlite: scan letter row: %w", scanErr)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sdlq/sqlite: iterate letter rows: %w", err)
	}
	return out, nil
}

// ListSequences returns one stat per non-empty sequence, taking the front
// time from the lowest-index letter.
func (s *Store) ListSequences(ctx context.Context) ([]letter.SequenceStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_id, enqueued_at, letters, max_index FROM (
			SELECT sequence_id, enqueued_at,
				COUNT(*) OVER w AS letters,
				MAX(seq_index) OVER w AS max_index,
				ROW_NUMBER() OVER (PARTITION BY sequence_id ORDER BY seq_index) AS rn
			FROM sdlq_letters
			WINDOW w AS (PARTITION BY sequence_id)
		) WHERE rn = 1`)
	if err != nil {
		return nil, fmt.Errorf("sdlq/sqlite: list sequences: %w", err)
	}
	defer rows.Close()

	var out []letter.SequenceStat
	for rows.Next() {
		var (
			st       letter.SequenceStat
			front    string
			maxIndex int64
		)
		if err := rows.Scan(&st.SequenceID, &front, &st.Letters, &maxIndex); err != nil {
			return nil, fmt.Errorf("sdlq/sqlite: scan sequence row: %w", err)
		}
		if st.FrontEnqueuedAt, err = parseTime(front); err != nil {
			return nil, fmt.Errorf("sdlq/sqlite: scan sequence row: %w", err)
		}
		st.MaxIndex = uint64(maxIndex)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sdlq/sqlite: iterate sequence rows: %w", err)
	}
	return out, nil
}

// CountLetters returns the total number of letters.
func (s *Store) CountLetters(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sdlq_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sdlq/sqlite: count letters: %w", err)
	}
	return n, nil
}

// ── row mapping ──────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLetter(row rowScanner) (*letter.Letter, error) {
	var (
		rawID       string
		index       int64
		enqueuedAt  string
		metadata    sql.NullString
		chain       sql.NullString
		diagnostics sql.NullString
		l           letter.Letter
	)
	err := row.Scan(
		&rawID, &l.SequenceID, &index, &enqueuedAt, &l.Message.Payload, &l.Message.Type,
		&metadata, &l.Cause.Kind, &l.Cause.Description, &chain, &diagnostics,
	)
	if err != nil {
		return nil, err
	}

	if l.ID, err = id.ParseLetterID(rawID); err != nil {
		return nil, fmt.Errorf("parse letter id %q: %w", rawID, err)
	}
	if l.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
		return nil, err
	}
	l.Index = uint64(index)
	if err := decodeJSON(metadata, &l.Message.Metadata); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if err := decodeJSON(chain, &l.Cause.Chain); err != nil {
		return nil, fmt.Errorf("cause chain: %w", err)
	}
	if err := decodeJSON(diagnostics, &l.Diagnostics); err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	return &l, nil
}

func encodeJSONColumns(l *letter.Letter) (metadata, chain, diagnostics sql.NullString, err error) {
	if metadata, err = encodeJSON(l.Message.Metadata, len(l.Message.Metadata) == 0); err != nil {
		return
	}
	if chain, err = encodeJSON(l.Cause.Chain, len(l.Cause.Chain) == 0); err != nil {
		return
	}
	diagnostics, err = encodeJSON(l.Diagnostics, len(l.Diagnostics) == 0)
	return
}

func encodeJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
