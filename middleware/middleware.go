// Package middleware provides composable middleware around redelivery of a
// dead letter to its handler.
package middleware

import (
	"context"
	"time"

	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

// Handler is the terminal function that redelivers a letter.
type Handler func(ctx context.Context) error

// Delivery describes one redelivery attempt of a sequence's front letter.
type Delivery struct {
	LetterID        id.LetterID
	SequenceID      string
	ProcessingGroup string
	Message         letter.Message
	// Attempt is 1 for the first redelivery.
	Attempt int
	// Timeout bounds the handler call. Zero means no bound.
	Timeout time.Duration
}

// Middleware wraps a Handler with cross-cutting logic. It MUST call next
// to continue the chain unless short-circuiting with an error.
type Middleware func(ctx context.Context, d *Delivery, next Handler) error

// Chain composes middleware so that the first one is the outermost wrapper.
//
//	Chain(logging, recover, timeout) runs as logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, d *Delivery, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			if mw == nil {
				continue
			}
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, d, prev)
			}
		}
		return h(ctx)
	}
}
