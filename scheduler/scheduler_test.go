package scheduler_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/backoff"
	"github.com/xraph/sdlq/dlq"
	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
	"github.com/xraph/sdlq/scheduler"
	"github.com/xraph/sdlq/store/memory"
)

func setup(t *testing.T) *dlq.Queue {
	t.Helper()
	q, err := dlq.Open(context.Background(), memory.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return q
}

func enqueue(t *testing.T, q *dlq.Queue, seq, body string) {
	t.Helper()
	m := letter.Message{Type: "OrderPlaced", Payload: []byte(seq + ":" + body)}
	if _, err := q.Enqueue(context.Background(), seq, m, letter.Cause{Kind: letter.CauseHandlerError}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func newScheduler(t *testing.T, q *dlq.Queue, h dlq.Handler, opts ...scheduler.Option) *scheduler.Scheduler {
	t.Helper()
	base := []scheduler.Option{
		scheduler.WithInitialDelay(5 * time.Millisecond),
		scheduler.WithStrategy(backoff.NewFixed(5 * time.Millisecond)),
		scheduler.WithResyncSchedule(""),
	}
	s, err := scheduler.New(q, h, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScheduler_DrainsAfterRecovery(t *testing.T) {
	q := setup(t)
	enqueue(t, q, "A", "1")
	enqueue(t, q, "A", "2")

	var calls atomic.Int32
	h := func(context.Context, letter.Message) error {
		if calls.Add(1) <= 3 {
			return errors.New("downstream unavailable")
		}
		return nil
	}

	s := newScheduler(t, q, h)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "queue to drain", func() bool { return q.Size() == 0 })
	waitFor(t, "sequence to go idle", func() bool { return s.State("A") == scheduler.Idle })

	if got := calls.Load(); got != 5 {
		t.Errorf("handler calls: got %d, want 5", got)
	}
}

func TestScheduler_ResyncOnStart(t *testing.T) {
	q := setup(t)
	enqueue(t, q, "A", "1")
	enqueue(t, q, "B", "1")

	s := newScheduler(t, q, func(context.Context, letter.Message) error { return nil })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "queue to drain", func() bool { return q.Size() == 0 })
}

func TestScheduler_OneEvaluationPerSequence(t *testing.T) {
	q := setup(t)
	seqs := []string{"A", "B", "C", "D"}
	for _, seq := range seqs {
		for _, body := range []string{"1", "2", "3"} {
			enqueue(t, q, seq, body)
		}
	}

	var (
		mu       sync.Mutex
		inflight = map[string]int{}
		overlap  bool
		attempts = map[string]int{}
	)
	h := func(_ context.Context, m letter.Message) error {
		seq, _, _ := strings.Cut(string(m.Payload), ":")

		mu.Lock()
		inflight[seq]++
		if inflight[seq] > 1 {
			overlap = true
		}
		attempts[string(m.Payload)]++
		first := attempts[string(m.Payload)] == 1
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inflight[seq]--
		mu.Unlock()

		if first {
			return errors.New("first attempt fails")
		}
		return nil
	}

	s := newScheduler(t, q, h, scheduler.WithConcurrency(4))
	for _, seq := range seqs {
		s.Notify(seq)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "queue to drain", func() bool { return q.Size() == 0 })

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("a sequence was evaluated concurrently with itself")
	}
}

func TestScheduler_OldestFirst(t *testing.T) {
	q := setup(t)
	enqueue(t, q, "older", "1")
	time.Sleep(2 * time.Millisecond)
	enqueue(t, q, "newer", "1")

	var (
		mu    sync.Mutex
		order []string
	)
	h := func(_ context.Context, m letter.Message) error {
		seq, _, _ := strings.Cut(string(m.Payload), ":")
		mu.Lock()
		order = append(order, seq)
		mu.Unlock()
		return nil
	}

	s := newScheduler(t, q, h,
		scheduler.WithConcurrency(1),
		scheduler.WithInitialDelay(0),
	)
	// Both are ready before any worker runs.
	s.Notify("newer")
	s.Notify("older")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "queue to drain", func() bool { return q.Size() == 0 })

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "older" || order[1] != "newer" {
		t.Errorf("order: got %v, want [older newer]", order)
	}
}

func TestScheduler_NotifyMissingSequence(t *testing.T) {
	q := setup(t)
	var calls atomic.Int32
	s := newScheduler(t, q, func(context.Context, letter.Message) error {
		calls.Add(1)
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Notify("ghost")
	if got := s.State("ghost"); got != scheduler.Scheduled {
		t.Fatalf("state after Notify: got %s, want scheduled", got)
	}
	waitFor(t, "ghost to go idle", func() bool { return s.State("ghost") == scheduler.Idle })

	if calls.Load() != 0 {
		t.Error("handler should not run for an empty sequence")
	}
}

func TestScheduler_StillBlockedStaysScheduled(t *testing.T) {
	q := setup(t)
	enqueue(t, q, "A", "1")

	s := newScheduler(t, q, func(context.Context, letter.Message) error {
		return errors.New("never")
	}, scheduler.WithStrategy(backoff.NewFixed(time.Hour)))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "first attempt", func() bool {
		ls, err := q.Letters(context.Background(), "A", letter.ListOpts{})
		return err == nil && len(ls) == 1 && ls[0].Diagnostics.Attempts() == 1
	})
	waitFor(t, "reschedule", func() bool { return s.State("A") == scheduler.Scheduled })

	if q.Size() != 1 {
		t.Errorf("size: got %d, want 1", q.Size())
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	q := setup(t)
	s := newScheduler(t, q, func(context.Context, letter.Message) error { return nil },
		scheduler.WithShutdownTimeout(time.Second),
		scheduler.WithRate(100),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Stopping twice is a no-op.
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

// recordingStrategy records every attempt it is asked to delay.
type recordingStrategy struct {
	mu       sync.Mutex
	attempts []int
}

func (r *recordingStrategy) Delay(attempt int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return time.Millisecond
}

func (r *recordingStrategy) seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.attempts...)
}

func TestScheduler_BackoffFollowsAttempts(t *testing.T) {
	q := setup(t)
	enqueue(t, q, "A", "1")

	strategy := &recordingStrategy{}
	s := newScheduler(t, q, func(context.Context, letter.Message) error {
		return errors.New("never")
	}, scheduler.WithStrategy(strategy))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "three reschedules", func() bool { return len(strategy.seen()) >= 3 })
	got := strategy.seen()[:3]
	for i, want := range []int{1, 2, 3} {
		if got[i] != want {
			t.Fatalf("Delay attempts = %v, want prefix [1 2 3]", got)
		}
	}
}

// scriptedQueue replays fixed evaluation results for one sequence.
type scriptedQueue struct {
	mu     sync.Mutex
	script []scripted
}

type scripted struct {
	out dlq.Outcome
	err error
}

func (q *scriptedQueue) Evaluate(context.Context, string, dlq.Handler) (dlq.Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.script) == 0 {
		return dlq.Outcome{Kind: dlq.OutcomeSequenceMissing}, nil
	}
	next := q.script[0]
	q.script = q.script[1:]
	return next.out, next.err
}

func (q *scriptedQueue) Sequences() []dlq.SequenceInfo { return nil }

func (q *scriptedQueue) Contains(string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.script) > 0
}

func (q *scriptedQueue) FrontEnqueuedAt(string) (time.Time, bool) { return time.Now(), true }

func TestScheduler_FailuresResetAfterOutcome(t *testing.T) {
	storeDown := errors.New("store down")
	q := &scriptedQueue{script: []scripted{
		{err: storeDown},
		{err: storeDown},
		{out: dlq.Outcome{Kind: dlq.OutcomeStillBlocked, Attempts: 7}},
		{err: storeDown},
	}}
	strategy := &recordingStrategy{}
	s, err := scheduler.New(q, func(context.Context, letter.Message) error { return nil },
		scheduler.WithInitialDelay(time.Millisecond),
		scheduler.WithStrategy(strategy),
		scheduler.WithResyncSchedule(""),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Notify("A")

	waitFor(t, "script to finish", func() bool { return s.State("A") == scheduler.Idle && len(strategy.seen()) == 4 })
	got := strategy.seen()
	want := []int{1, 2, 7, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Delay attempts = %v, want %v", got, want)
		}
	}
}

func TestScheduler_StuckSequenceDoesNotStarveOthers(t *testing.T) {
	q := setup(t)
	enqueue(t, q, "A", "1")
	enqueue(t, q, "B", "1")
	enqueue(t, q, "B", "2")

	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	h := func(ctx context.Context, m letter.Message) error {
		seq, _, _ := strings.Cut(string(m.Payload), ":")
		if seq != "A" {
			return nil
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s := newScheduler(t, q, h, scheduler.WithConcurrency(2))
	t.Cleanup(unblock)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "B to drain while A is stuck", func() bool { return !q.Contains("B") })
	if !q.Contains("A") {
		t.Fatal("A drained before it was released")
	}

	unblock()
	waitFor(t, "A to drain", func() bool { return q.Size() == 0 })
}

func TestNew_InvalidConfig(t *testing.T) {
	q := setup(t)
	h := func(context.Context, letter.Message) error { return nil }

	_, err := scheduler.New(q, h, scheduler.WithResyncSchedule("every now and then"))
	if !errors.Is(err, sdlq.ErrInvalidConfig) {
		t.Errorf("bad resync schedule: got %v, want ErrInvalidConfig", err)
	}

	cfg := sdlq.DefaultConfig()
	cfg.Retry.Policy = "sometimes"
	_, err = scheduler.New(q, h, scheduler.WithConfig(cfg))
	if !errors.Is(err, sdlq.ErrInvalidConfig) {
		t.Errorf("bad policy: got %v, want ErrInvalidConfig", err)
	}

	_, err = scheduler.New(q, nil)
	if !errors.Is(err, sdlq.ErrInvalidConfig) {
		t.Errorf("nil handler: got %v, want ErrInvalidConfig", err)
	}
}

func TestNew_AssignsInstanceID(t *testing.T) {
	q := setup(t)
	h := func(context.Context, letter.Message) error { return nil }

	a, err := scheduler.New(q, h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := scheduler.New(q, h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.ID().Prefix() != id.PrefixScheduler {
		t.Errorf("ID prefix = %q, want %q", a.ID().Prefix(), id.PrefixScheduler)
	}
	if a.ID().String() == b.ID().String() {
		t.Errorf("two schedulers share ID %s", a.ID())
	}
}

func TestState_String(t *testing.T) {
	cases := map[scheduler.State]string{
		scheduler.Idle:       "idle",
		scheduler.Scheduled:  "scheduled",
		scheduler.Evaluating: "evaluating",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
