package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs each redelivery attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, d *Delivery, next Handler) error {
		logger.Debug("redelivering letter",
			slog.String("sequence_id", d.SequenceID),
			slog.String("letter_id", d.LetterID.String()),
			slog.String("payload_type", d.Message.Type),
			slog.Int("attempt", d.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("redelivery failed",
				slog.String("sequence_id", d.SequenceID),
				slog.String("letter_id", d.LetterID.String()),
				slog.Int("attempt", d.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("redelivery succeeded",
				slog.String("sequence_id", d.SequenceID),
				slog.String("letter_id", d.LetterID.String()),
				slog.Int("attempt", d.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}
