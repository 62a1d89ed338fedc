package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/codec"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

// InsertLetter persists a new letter.
func (s *Store) InsertLetter(ctx context.Context, l *letter.Letter) error {
	_, err := s.letters().InsertOne(ctx, codec.FromLetter(l))
	if err != nil {
		if isDuplicateKey(err) {
			return sdlq.ErrLetterAlreadyExists
		}
		return fmt.Errorf("sdlq/mongo: insert letter: %w", err)
	}
	return nil
}

// UpdateLetter replaces the cause and diagnostics of a letter in one
// document update.
func (s *Store) UpdateLetter(ctx context.Context, l *letter.Letter) error {
	res, err := s.letters().UpdateOne(ctx,
		bson.M{"_id": l.ID.String()},
		bson.M{"$set": bson.M{
			"cause_kind":   l.Cause.Kind,
			"cause_detail": l.Cause.Description,
			"cause_chain":  l.Cause.Chain,
			"diagnostics":  map[string]any(l.Diagnostics),
		}},
	)
	if err != nil {
		return fmt.Errorf("sdlq/mongo: update letter: %w", err)
	}
	if res.MatchedCount == 0 {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteLetter removes one letter of a sequence.
func (s *Store) DeleteLetter(ctx context.Context, sequenceID string, letterID id.LetterID) error {
	res, err := s.letters().DeleteOne(ctx, bson.M{"_id": letterID.String(), "sequence_id": sequenceID})
	if err != nil {
		return fmt.Errorf("sdlq/mongo: delete letter: %w", err)
	}
	if res.DeletedCount == 0 {
		return sdlq.ErrLetterNotFound
	}
	return nil
}

// DeleteSequence removes every letter of a sequence.
func (s *Store) DeleteSequence(ctx context.Context, sequenceID string) (int64, error) {
	res, err := s.letters().DeleteMany(ctx, bson.M{"sequence_id": sequenceID})
	if err != nil {
		return 0, fmt.Errorf("sdlq/mongo: delete sequence: %w", err)
	}
	return res.DeletedCount, nil
}

// GetLetter retrieves a letter by ID.
func (s *Store) GetLetter(ctx context.Context, letterID id.LetterID) (*letter.Letter, error) {
	var rec codec.Record
	err := s.letters().FindOne(ctx, bson.M{"_id": letterID.String()}).Decode(&rec)
	if err != nil {
		if isNoDocuments(err) {
			return nil, sdlq.ErrLetterNotFound
		}
		return nil, fmt.Errorf("sdlq/mongo: get letter: %w", err)
	}
	return rec.Letter()
}

// ListLetters returns a sequence's letters in index order.
func (s *Store) ListLetters(ctx context.Context, sequenceID string, opts letter.ListOpts) ([]*letter.Letter, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "seq_index", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.letters().Find(ctx, bson.M{"sequence_id": sequenceID}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("sdlq/mongo: list letters: %w", err)
	}
	defer cursor.Close(ctx)

	var recs []codec.Record
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("sdlq/mongo: list letters decode: %w", err)
	}

	out := make([]*letter.Letter, 0, len(recs))
	for i := range recs {
		l, convErr := recs[i].Letter()
		if convErr != nil {
			return nil, fmt.Errorf("sdlq/mongo: list letters convert: %w", convErr)
		}
		out = append(out, l)
	}
	return out, nil
}

type sequenceStatDoc struct {
	SequenceID string    `bson:"_id"`
	Letters    int64     `bson:"letters"`
	Front      time.Time `bson:"front"`
	MaxIndex   int64     `bson:"max_index"`
}

// ListSequences groups letters by sequence. The front time is taken from
// the lowest-index letter.
func (s *Store) ListSequences(ctx context.Context) ([]letter.SequenceStat, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "sequence_id", Value: 1}, {Key: "seq_index", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$sequence_id"},
			{Key: "letters", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "front", Value: bson.D{{Key: "$first", Value: "$enqueued_at"}}},
			{Key: "max_index", Value: bson.D{{Key: "$max", Value: "$seq_index"}}},
		}}},
	}
	cursor, err := s.letters().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("sdlq/mongo: list sequences: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []sequenceStatDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("sdlq/mongo: list sequences decode: %w", err)
	}

	out := make([]letter.SequenceStat, 0, len(docs))
	for _, d := range docs {
		out = append(out, letter.SequenceStat{
			SequenceID:      d.SequenceID,
			Letters:         d.Letters,
			FrontEnqueuedAt: d.Front.UTC(),
			MaxIndex:        uint64(d.MaxIndex),
		})
	}
	return out, nil
}

// CountLetters returns the total number of letters.
func (s *Store) CountLetters(ctx context.Context) (int64, error) {
	n, err := s.letters().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("sdlq/mongo: count letters: %w", err)
	}
	return n, nil
}
