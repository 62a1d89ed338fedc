// Package scheduler drives retries of blocked sequences.
//
// Every sequence known to the scheduler moves through a small state
// machine:
//
//	Idle ──Notify──▶ Scheduled ──due──▶ Evaluating ──▶ Idle | Scheduled
//
// A scheduled sequence waits on a timer, then joins a ready heap ordered by
// the enqueue time of its front letter. A worker.Pool takes sequences off
// the heap, so at most one evaluation per sequence is in flight while
// independent sequences are evaluated in parallel.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/backoff"
	"github.com/xraph/sdlq/dlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/worker"
)

// Queue is the part of *dlq.Queue the scheduler drives.
type Queue interface {
	Evaluate(ctx context.Context, seqID string, h dlq.Handler) (dlq.Outcome, error)
	Sequences() []dlq.SequenceInfo
	Contains(seqID string) bool
	FrontEnqueuedAt(seqID string) (time.Time, bool)
}

// State is the scheduling state of one sequence.
type State int

const (
	// Idle means no retry is pending.
	Idle State = iota
	// Scheduled means a retry is pending, on a timer or in the ready heap.
	Scheduled
	// Evaluating means a worker is evaluating the sequence.
	Evaluating
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Evaluating:
		return "evaluating"
	default:
		return "idle"
	}
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Scheduler retries blocked sequences with backoff.
type Scheduler struct {
	id      id.SchedulerID
	queue   Queue
	handler dlq.Handler
	logger  *slog.Logger

	strategy        backoff.Strategy
	initialDelay    time.Duration
	concurrency     int
	rate            float64
	resync          string
	shutdownTimeout time.Duration
	optErr          error

	limiter *rate.Limiter
	pool    *worker.Pool
	cron    *cronlib.Cron

	mu       sync.Mutex
	entries  map[string]*entry
	ready    readyHeap
	readyCh  chan struct{}
	running  bool
	stopping bool
}

// New creates a Scheduler that redelivers through h.
func New(queue Queue, h dlq.Handler, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		id:              id.NewSchedulerID(),
		queue:           queue,
		handler:         h,
		logger:          slog.Default(),
		strategy:        backoff.DefaultStrategy(),
		initialDelay:    time.Second,
		concurrency:     8,
		resync:          "@every 30s",
		shutdownTimeout: 30 * time.Second,
		entries:         make(map[string]*entry),
		readyCh:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("scheduler_id", s.id.String()))
	if s.optErr != nil {
		return nil, fmt.Errorf("%w: %w", sdlq.ErrInvalidConfig, s.optErr)
	}
	if queue == nil || h == nil {
		return nil, fmt.Errorf("%w: scheduler needs a queue and a handler", sdlq.ErrInvalidConfig)
	}

	if s.rate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.rate), s.concurrency)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	s.cron = cronlib.New(cronlib.WithParser(cronParser))
	if s.resync != "" {
		if _, err := s.cron.AddFunc(s.resync, s.Resync); err != nil {
			return nil, fmt.Errorf("%w: resync schedule %q: %w", sdlq.ErrInvalidConfig, s.resync, err)
		}
	}

	s.pool = worker.NewPool(s, s.evaluate,
		worker.WithPoolConcurrency(s.concurrency),
		worker.WithPoolLogger(s.logger),
	)
	return s, nil
}

// ID returns the scheduler instance ID.
func (s *Scheduler) ID() id.SchedulerID { return s.id }

// Start launches the evaluation workers and the resync schedule, and
// notifies every sequence currently in the queue.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopping = false
	s.mu.Unlock()

	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.Resync()
	s.cron.Start()

	s.logger.Info("retry scheduler started",
		slog.Int("concurrency", s.concurrency),
		slog.Duration("initial_delay", s.initialDelay),
		slog.String("resync", s.resync),
	)
	return nil
}

// Stop cancels pending retries and waits for in-flight evaluations. If ctx
// expires first, in-flight evaluations are cancelled and abandoned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopping = true
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.ready = s.ready[:0]
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	err := s.pool.Stop(ctx)

	s.mu.Lock()
	clear(s.entries)
	s.mu.Unlock()

	s.logger.Info("retry scheduler stopped")
	return err
}

// Run starts the scheduler, blocks until ctx is done, then stops within
// the configured shutdown timeout.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Notify tells the scheduler that seqID may be blocked. An idle sequence
// is scheduled after the initial delay. A sequence that is already
// scheduled keeps its current timer. A sequence being evaluated is
// re-checked once the evaluation finishes.
func (s *Scheduler) Notify(seqID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return
	}

	e, ok := s.entries[seqID]
	if !ok {
		e = &entry{seq: seqID, index: -1}
		s.entries[seqID] = e
	}
	switch e.state {
	case Idle:
		s.schedule(e, s.initialDelay)
	case Evaluating:
		e.dirty = true
	}
}

// Resync notifies every sequence the queue currently holds.
func (s *Scheduler) Resync() {
	seqs := s.queue.Sequences()
	for _, info := range seqs {
		s.Notify(info.SequenceID)
	}
	if len(seqs) > 0 {
		s.logger.Debug("scheduler resync", slog.Int("sequences", len(seqs)))
	}
}

// State reports the scheduling state of seqID.
func (s *Scheduler) State(seqID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[seqID]; ok {
		return e.state
	}
	return Idle
}

// Next implements worker.Source. It hands out the oldest due sequence.
func (s *Scheduler) Next(stop <-chan struct{}) (string, bool) {
	for {
		select {
		case <-stop:
			return "", false
		default:
		}

		s.mu.Lock()
		if s.ready.Len() > 0 {
			e := heap.Pop(&s.ready).(*entry)
			e.state = Evaluating
			e.dirty = false
			more := s.ready.Len() > 0
			s.mu.Unlock()
			if more {
				s.signal()
			}
			return e.seq, true
		}
		s.mu.Unlock()

		select {
		case <-stop:
			return "", false
		case <-s.readyCh:
		}
	}
}

// evaluate is the worker.Task run for each due sequence.
func (s *Scheduler) evaluate(ctx context.Context, seqID string) {
	if err := s.limiter.Wait(ctx); err != nil {
		s.complete(seqID, dlq.Outcome{}, err)
		return
	}
	out, err := s.queue.Evaluate(ctx, seqID, s.handler)
	s.complete(seqID, out, err)
}

// complete moves an evaluated sequence to its next state.
func (s *Scheduler) complete(seqID string, out dlq.Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[seqID]
	if !ok {
		return
	}
	if s.stopping {
		delete(s.entries, seqID)
		return
	}

	if err != nil {
		e.failures++
		delay := s.strategy.Delay(e.failures)
		level := slog.LevelWarn
		if errors.Is(err, sdlq.ErrEvaluationAborted) || errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		s.logger.Log(context.Background(), level, "sequence evaluation failed",
			slog.String("sequence_id", seqID),
			slog.Int("failures", e.failures),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
		s.schedule(e, delay)
		return
	}
	e.failures = 0

	switch {
	case out.Kind == dlq.OutcomeStillBlocked:
		delay := s.strategy.Delay(out.Attempts)
		s.logger.Debug("sequence still blocked",
			slog.String("sequence_id", seqID),
			slog.Int("attempts", out.Attempts),
			slog.Int("processed", out.Processed),
			slog.Duration("retry_in", delay),
		)
		s.schedule(e, delay)
	case out.Kind == dlq.OutcomeCleared && out.Remaining > 0:
		s.schedule(e, 0)
	case e.dirty && s.queue.Contains(seqID):
		s.schedule(e, s.initialDelay)
	default:
		delete(s.entries, seqID)
	}
}

// schedule arms e to become ready after d. Caller holds s.mu.
func (s *Scheduler) schedule(e *entry, d time.Duration) {
	e.state = Scheduled
	e.dirty = false
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if d <= 0 {
		s.push(e)
		return
	}
	gen, seqID := e.gen, e.seq
	e.timer = time.AfterFunc(d, func() { s.fire(seqID, gen) })
}

func (s *Scheduler) fire(seqID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[seqID]
	if !ok || e.gen != gen || e.state != Scheduled || s.stopping {
		return
	}
	e.timer = nil
	s.push(e)
}

// push adds e to the ready heap. Caller holds s.mu.
func (s *Scheduler) push(e *entry) {
	front, ok := s.queue.FrontEnqueuedAt(e.seq)
	if !ok {
		front = time.Now()
	}
	e.front = front
	heap.Push(&s.ready, e)
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}
