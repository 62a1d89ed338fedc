package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/sdlq/letter"
)

// PanicError is returned by [Recover] when the handler panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// CauseKind records a panic as its own cause kind on the letter.
func (e *PanicError) CauseKind() string { return letter.CausePanic }

// Recover returns middleware that converts handler panics into a
// *PanicError and logs the stack.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, d *Delivery, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("letter handler panicked",
					slog.String("sequence_id", d.SequenceID),
					slog.String("letter_id", d.LetterID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = &PanicError{Value: r}
			}
		}()
		return next(ctx)
	}
}
