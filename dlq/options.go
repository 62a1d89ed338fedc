package dlq

import (
	"log/slog"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/ext"
	"github.com/xraph/sdlq/letter"
	"github.com/xraph/sdlq/middleware"
	"github.com/xraph/sdlq/transform"
)

// DefaultEvaluateBudget is the number of letters one Evaluate call may
// evict before leaving the rest for the next scheduled attempt.
const DefaultEvaluateBudget = 64

// Option configures a Queue.
type Option func(*Queue)

// WithConfig applies the queue-related fields of cfg.
func WithConfig(cfg sdlq.Config) Option {
	return func(q *Queue) {
		q.maxSequences = cfg.MaxSequences
		q.maxLetters = cfg.MaxLettersPerSequence
		if cfg.EvaluateBudget > 0 {
			q.budget = cfg.EvaluateBudget
		}
		q.handlerTimeout = cfg.HandlerTimeout
		q.group = cfg.ProcessingGroup
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithMaxSequences bounds the number of blocked sequences. n <= 0 is unbounded.
func WithMaxSequences(n int) Option {
	return func(q *Queue) { q.maxSequences = n }
}

// WithMaxLettersPerSequence bounds the letters per sequence. n <= 0 is unbounded.
func WithMaxLettersPerSequence(n int) Option {
	return func(q *Queue) { q.maxLetters = n }
}

// WithEvaluateBudget sets how many letters one Evaluate call may evict.
func WithEvaluateBudget(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.budget = n
		}
	}
}

// WithHandlerTimeout bounds each redelivery attempt. Zero disables it.
func WithHandlerTimeout(d time.Duration) Option {
	return func(q *Queue) { q.handlerTimeout = d }
}

// WithProcessingGroup names the processing group recorded on letters.
func WithProcessingGroup(name string) Option {
	return func(q *Queue) { q.group = name }
}

// WithTransform sets the transform applied to a letter before redelivery.
func WithTransform(fn transform.Func) Option {
	return func(q *Queue) { q.transform = fn }
}

// WithMiddleware appends redelivery middleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(q *Queue) { q.middleware = append(q.middleware, mws...) }
}

// WithEnricher replaces the default diagnostics enricher.
func WithEnricher(e letter.Enricher) Option {
	return func(q *Queue) { q.enricher = e }
}

// WithExtensions sets the registry notified of lifecycle events.
func WithExtensions(r *ext.Registry) Option {
	return func(q *Queue) { q.extensions = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}
