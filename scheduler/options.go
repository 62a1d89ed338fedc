package scheduler

import (
	"log/slog"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/backoff"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig applies the retry, concurrency and resync settings of cfg.
func WithConfig(cfg sdlq.Config) Option {
	return func(s *Scheduler) {
		strategy, err := backoff.Parse(cfg.Retry.Policy, cfg.Retry.InitialDelay, cfg.Retry.MaxDelay)
		if err != nil {
			s.optErr = err
			return
		}
		s.strategy = strategy
		s.initialDelay = cfg.Retry.InitialDelay
		if cfg.Concurrency > 0 {
			s.concurrency = cfg.Concurrency
		}
		s.rate = cfg.EvaluationRate
		s.resync = cfg.ResyncSchedule
		if cfg.ShutdownTimeout > 0 {
			s.shutdownTimeout = cfg.ShutdownTimeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithStrategy sets the backoff between attempts on a blocked sequence.
func WithStrategy(strategy backoff.Strategy) Option {
	return func(s *Scheduler) { s.strategy = strategy }
}

// WithInitialDelay sets how long a newly blocked sequence waits before its
// first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.initialDelay = d }
}

// WithConcurrency sets how many sequences are evaluated in parallel.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRate limits evaluations per second across all sequences. Zero
// disables the limit.
func WithRate(perSecond float64) Option {
	return func(s *Scheduler) { s.rate = perSecond }
}

// WithResyncSchedule sets the cron expression on which every blocked
// sequence is re-notified. An empty expression disables resync.
func WithResyncSchedule(expr string) Option {
	return func(s *Scheduler) { s.resync = expr }
}

// WithShutdownTimeout bounds how long Run waits for in-flight evaluations.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.shutdownTimeout = d }
}
