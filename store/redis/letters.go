package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

// KEYS: letter, sequence, sequences. ARGV: record, index, letter id, sequence id.
var insertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if redis.call('ZCOUNT', KEYS[2], ARGV[2], ARGV[2]) > 0 then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
return 1
`)

// KEYS: letter, sequence, sequences. ARGV: letter id, sequence id.
var deleteScript = goredis.NewScript(`
if redis.call('ZSCORE', KEYS[2], ARGV[1]) == false then return 0 end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if redis.call('ZCARD', KEYS[2]) == 0 then redis.call('SREM', KEYS[3], ARGV[2]) end
return 1
`)

// InsertLetter persists a new letter.
func (s *Store) InsertLetter(ctx context.Context, l *letter.Letter) error {
	data, err := s.codec.Encode(l)
	if err != nil {
		return fmt.Errorf("sdlq/redis: encode: %w", err)
	}
	lID := l.ID.String()
	ok, err := insertScript.Run(ctx, s.client,
		[]string{s.letterKey(lID), s.sequenceKey(l.SequenceID), s.sequencesKey()},
		data, strconv.FormatUint(l.Index, 10), lID, l.SequenceID,
	).Int()
	if err != nil {
		return fmt.Errorf("sdlq/redis: insert letter: %w", err)
	}
	if ok == 0 {
		return sdlq.ErrLetterAlreadyExists
	}
	return nil
}

// UpdateLetter replaces the cause and diagnostics of a letter. The record
// is rewritten only if it still exists.
func (s *Store) UpdateLetter(ctx context.Context, l *letter.Letter) error {
	key := s.letterKey(l.ID.String())
	cur, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	cur.Cause = l.Cause.Clone()
	cur.Diagnostics = l.Diagnostics.Clone()

	data, err := s.codec.Encode(cur)
	if err != nil {
		return fmt.Errorf("sdlq/redis: encode: %w", err)
	}
	ok, err := s.client.SetXX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("sdlq/redis: update letter: %w", err)
	}
	if !ok {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteLetter removes one letter of a sequence.
func (s *Store) DeleteLetter(ctx context.Context, sequenceID string, letterID id.LetterID) error {
	lID := letterID.String()
	ok, err := deleteScript.Run(ctx, s.client,
		[]string{s.letterKey(lID), s.sequenceKey(sequenceID), s.sequencesKey()},
		lID, sequenceID,
	).Int()
	if err != nil {
		return fmt.Errorf("sdlq/redis: delete letter: %w", err)
	}
	if ok == 0 {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteSequence removes every letter of a sequence.
func (s *Store) DeleteSequence(ctx context.Context, sequenceID string) (int64, error) {
	seqKey := s.sequenceKey(sequenceID)
	ids, err := s.client.ZRange(ctx, seqKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("sdlq/redis: delete sequence: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, lID := range ids {
		keys = append(keys, s.letterKey(lID))
	}
	keys = append(keys, seqKey)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, s.sequencesKey(), sequenceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("sdlq/redis: delete sequence: %w", err)
	}
	return int64(len(ids)), nil
}

// GetLetter retrieves a letter by ID.
func (s *Store) GetLetter(ctx context.Context, letterID id.LetterID) (*letter.Letter, error) {
	return s.load(ctx, s.letterKey(letterID.String()))
}

// ListLetters returns a sequence's letters in index order.
func (s *Store) ListLetters(ctx context.Context, sequenceID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}
	ids, err := s.client.ZRange(ctx, s.sequenceKey(sequenceID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("sdlq/redis: list letters: %w", err)
	}
	if len(ids) == 0 {
		return []*letter.Letter{}, nil
	}

	keys := make([]string, len(ids))
	for i, lID := range ids {
		keys[i] = s.letterKey(lID)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("sdlq/redis: list letters: %w", err)
	}

	out := make([]*letter.Letter, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Deleted between ZRANGE and MGET.
			continue
		}
		l, decErr := s.codec.Decode([]byte(raw))
		if decErr != nil {
			return nil, fmt.Errorf("sdlq/redis: decode: %w", decErr)
		}
		out = append(out, l)
	}
	return out, nil
}

// ListSequences returns one stat per non-empty sequence.
func (s *Store) ListSequences(ctx context.Context) ([]letter.SequenceStat, error) {
	seqIDs, err := s.client.SMembers(ctx, s.sequencesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("sdlq/redis: list sequences: %w", err)
	}

	type seqCmds struct {
		count *goredis.IntCmd
		front *goredis.ZSliceCmd
		back  *goredis.ZSliceCmd
	}
	cmds := make([]seqCmds, len(seqIDs))
	pipe := s.client.Pipeline()
	for i, seqID := range seqIDs {
		key := s.sequenceKey(seqID)
		cmds[i] = seqCmds{
			count: pipe.ZCard(ctx, key),
			front: pipe.ZRangeWithScores(ctx, key, 0, 0),
			back:  pipe.ZRangeWithScores(ctx, key, -1, -1),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("sdlq/redis: list sequences: %w", err)
	}

	out := make([]letter.SequenceStat, 0, len(seqIDs))
	for i, seqID := range seqIDs {
		front, back := cmds[i].front.Val(), cmds[i].back.Val()
		if len(front) == 0 || len(back) == 0 {
			continue
		}
		frontID, _ := front[0].Member.(string)
		l, loadErr := s.load(ctx, s.letterKey(frontID))
		if errors.Is(loadErr, sdlq.ErrLetterNotFound) {
			continue
		}
		if loadErr != nil {
			return nil, loadErr
		}
		out = append(out, letter.SequenceStat{
			SequenceID:      seqID,
			Letters:         cmds[i].count.Val(),
			FrontEnqueuedAt: l.EnqueuedAt,
			MaxIndex:        uint64(back[0].Score),
		})
	}
	return out, nil
}

// CountLetters sums the cardinality of every sequence.
func (s *Store) CountLetters(ctx context.Context) (int64, error) {
	seqIDs, err := s.client.SMembers(ctx, s.sequencesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("sdlq/redis: count letters: %w", err)
	}
	pipe := s.client.Pipeline()
	cards := make([]*goredis.IntCmd, len(seqIDs))
	for i, seqID := range seqIDs {
		cards[i] = pipe.ZCard(ctx, s.sequenceKey(seqID))
	}
	if len(cards) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("sdlq/redis: count letters: %w", err)
		}
	}
	var n int64
	for _, c := range cards {
		n += c.Val()
	}
	return n, nil
}

func (s *Store) load(ctx context.Context, key string) (*letter.Letter, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, sdlq.ErrLetterNotFound
		}
		return nil, fmt.Errorf("sdlq/redis: get letter: %w", err)
	}
	l, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("sdlq/redis: decode: %w", err)
	}
	return l, nil
}
