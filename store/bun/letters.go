package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

// InsertLetter persists a new letter.
func (s *Store) InsertLetter(ctx context.Context, l *letter.Letter) error {
	_, err := s.db.NewInsert().Model(toLetterModel(l)).Exec(ctx)
	if err != nil {
		return storeErr("insert letter", err)
	}
	return nil
}

// UpdateLetter replaces the cause and diagnostics of a letter.
func (s *Store) UpdateLetter(ctx context.Context, l *letter.Letter) error {
	res, err := s.db.NewUpdate().Model(toLetterModel(l)).
		Column("cause_kind", "cause_detail", "cause_chain", "diagnostics").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sdlq/bun: update letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteLetter removes one letter of a sequence.
func (s *Store) DeleteLetter(ctx context.Context, sequenceID string, letterID id.LetterID) error {
	res, err := s.db.NewDelete().Model((*letterModel)(nil)).
		Where("id = ?", letterID.String()).
		Where("sequence_id = ?", sequenceID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sdlq/bun: delete letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteSequence removes every letter of a sequence.
func (s *Store) DeleteSequence(ctx context.Context, sequenceID string) (int64, error) {
	res, err := s.db.NewDelete().Model((*letterModel)(nil)).
		Where("sequence_id = ?", sequenceID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sdlq/bun: delete sequence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sdlq/bun: delete sequence: %w", err)
	}
	return n, nil
}

// GetLetter retrieves a letter by ID.
func (s *Store) GetLetter(ctx context.Context, letterID id.LetterID) (*letter.Letter, error) {
	m := new(letterModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", letterID.String()).
		Scan(ctx)
	if err != nil {
		return nil, storeErr("get letter", err)
	}
	return fromLetterModel(m)
}

// ListLetters returns a sequence's letters in index order.
func (s *Store) ListLetters(ctx context.Context, sequenceID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	var models []letterModel
	q := s.db.NewSelect().Model(&models).
		Where("sequence_id = ?", sequenceID).
		Order("seq_index ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("sdlq/bun: list letters: %w", err)
	}

	out := make([]*letter.Letter, 0, len(models))
	for i := range models {
		l, err := fromLetterModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("sdlq/bun: list letters convert: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}

// ListSequences returns one stat per non-empty sequence.
func (s *Store) ListSequences(ctx context.Context) ([]letter.SequenceStat, error) {
	var rows []sequenceStatRow
	err := s.db.NewRaw(`
		SELECT DISTINCT ON (sequence_id)
			sequence_id,
			enqueued_at AS front_enqueued_at,
			COUNT(*) OVER w AS letters,
			MAX(seq_index) OVER w AS max_index
		FROM sdlq_letters
		WINDOW w AS (PARTITION BY sequence_id)
		ORDER BY sequence_id, seq_index ASC`).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("sdlq/bun: list sequences: %w", err)
	}

	out := make([]letter.SequenceStat, 0, len(rows))
	for _, r := range rows {
		out = append(out, letter.SequenceStat{
			SequenceID:      r.SequenceID,
			Letters:         r.Letters,
			FrontEnqueuedAt: r.FrontEnqueuedAt.UTC(),
			MaxIndex:        uint64(r.MaxIndex),
		})
	}
	return out, nil
}

// CountLetters returns the total number of letters.
func (s *Store) CountLetters(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().Model((*letterModel)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("sdlq/bun: count letters: %w", err)
	}
	return int64(n), nil
}
