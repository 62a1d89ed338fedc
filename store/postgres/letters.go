package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

const letterColumns = `
	id, sequence_id, seq_index, enqueued_at, payload, payload_type,
	metadata, cause_kind, cause_detail, cause_chain, diagnostics`

// InsertLetter persists a new letter.
func (s *Store) InsertLetter(ctx context.Context, l *letter.Letter) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sdlq_letters (`+letterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID.String(), l.SequenceID, int64(l.Index), l.EnqueuedAt.UTC(),
		l.Message.Payload, l.Message.Type, l.Message.Metadata,
		l.Cause.Kind, l.Cause.Description, l.Cause.Chain, map[string]any(l.Diagnostics),
	)
	if err != nil {
		return storeErr("insert letter", err)
	}
	return nil
}

// UpdateLetter replaces the cause and diagnostics of a letter in one
// statement.
func (s *Store) UpdateLetter(ctx context.Context, l *letter.Letter) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sdlq_letters SET
			cause_kind = $2, cause_detail = $3, cause_chain = $4, diagnostics = $5
		WHERE id = $1`,
		l.ID.String(), l.Cause.Kind, l.Cause.Description, l.Cause.Chain,
		map[string]any(l.Diagnostics),
	)
	if err != nil {
		return fmt.Errorf("sdlq/postgres: update letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteLetter removes one letter of a sequence.
func (s *Store) DeleteLetter(ctx context.Context, sequenceID string, letterID id.LetterID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sdlq_letters WHERE id = $1 AND sequence_id = $2`,
		letterID.String(), sequenceID,
	)
	if err != nil {
		return fmt.Errorf("sdlq/postgres: delete letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteSequence removes every letter of a sequence.
func (s *Store) DeleteSequence(ctx context.Context, sequenceID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sdlq_letters WHERE sequence_id = $1`, sequenceID)
	if err != nil {
		return 0, fmt.Errorf("sdlq/postgres: delete sequence: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetLetter retrieves a letter by ID.
func (s *Store) GetLetter(ctx context.Context, letterID id.LetterID) (*letter.Letter, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+letterColumns+` FROM sdlq_letters WHERE id = $1`,
		letterID.String(),
	)
	l, err := scanLetter(row)
	if err != nil {
		return nil, storeErr("get letter", err)
	}
	return l, nil
}

// ListLetters returns a sequence's letters in index order.
func (s *Store) ListLetters(ctx context.Context, sequenceID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	query := `SELECT ` + letterColumns + ` FROM sdlq_letters
		WHERE sequence_id = $1 ORDER BY seq_index ASC`
	args := []any{sequenceID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sdlq/postgres: list letters: %w", err)
	}
	defer rows.Close()

	out := []*letter.Letter{}
	for rows.Next() {
		l, scanErr := scanLetter(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sdlq/postgres: scan letter row: %w", scanErr)
		}
		out = append(out, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sdlq/postgres: iterate letter rows: %w", err)
	}
	return out, nil
}

// ListSequences returns one stat per non-empty sequence. The front time is
// taken from the lowest-index letter.
func (s *Store) ListSequences(ctx context.Context) ([]letter.SequenceStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (sequence_id)
			sequence_id, enqueued_at,
			COUNT(*) OVER w, MAX(seq_index) OVER w
		FROM sdlq_letters
		WINDOW w AS (PARTITION BY sequence_id)
		ORDER BY sequence_id, seq_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("sdlq/postgres: list sequences: %w", err)
	}
	defer rows.Close()

	var out []letter.SequenceStat
	for rows.Next() {
		var (
			st       letter.SequenceStat
			front    time.Time
			maxIndex int64
		)
		if err := rows.Scan(&st.SequenceID, &front, &st.Letters, &maxIndex); err != nil {
			return nil, fmt.Errorf("sdlq/postgres: scan sequence row: %w", err)
		}
		st.FrontEnqueuedAt = front.UTC()
		st.MaxIndex = uint64(maxIndex)
		out = append(out, st)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sdlq/postgres: iterate sequence rows: %w", err)
	}
	return out, nil
}

// CountLetters returns the total number of letters.
func (s *Store) CountLetters(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sdlq_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sdlq/postgres: count letters: %w", err)
	}
	return n, nil
}

func scanLetter(row pgx.Row) (*letter.Letter, error) {
	var (
		rawID       string
		index       int64
		metadata    map[string]string
		diagnostics map[string]any
		l           letter.Letter
	)
	err := row.Scan(
		&rawID, &l.SequenceID, &index, &l.EnqueuedAt, &l.Message.Payload, &l.Message.Type,
		&metadata, &l.Cause.Kind, &l.Cause.Description, &l.Cause.Chain, &diagnostics,
	)
	if err != nil {
		return nil, err
	}
	letterID, err := id.ParseLetterID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse letter id %q: %w", rawID, err)
	}
	l.ID = letterID
	l.Index = uint64(index)
	l.EnqueuedAt = l.EnqueuedAt.UTC()
	l.Message.Metadata = metadata
	l.Diagnostics = letter.Diagnostics(diagnostics)
	return &l, nil
}
