package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Timeout returns middleware that enforces Delivery.Timeout on the handler.
// A handler that overruns its deadline fails with an error wrapping
// context.DeadlineExceeded, even if it returned nil or ignored the context.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, d *Delivery, next Handler) error {
		if d.Timeout <= 0 {
			return next(ctx)
		}
		tctx, cancel := context.WithTimeout(ctx, d.Timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			// The handler runs on its own goroutine, out of reach of Recover.
			defer func() {
				if r := recover(); r != nil {
					done <- &PanicError{Value: r}
				}
			}()
			done <- next(tctx)
		}()

		select {
		case err := <-done:
			if err == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
				err = context.DeadlineExceeded
			}
			return err
		case <-tctx.Done():
			// Parent cancellation is not a timeout.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("letter handler timed out",
				slog.String("sequence_id", d.SequenceID),
				slog.String("letter_id", d.LetterID.String()),
				slog.Duration("timeout", d.Timeout),
			)
			return fmt.Errorf("handler exceeded %s: %w", d.Timeout, context.DeadlineExceeded)
		}
	}
}
