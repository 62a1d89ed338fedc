package dlq_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/dlq"
	"github.com/xraph/sdlq/ext"
	"github.com/xraph/sdlq/letter"
	"github.com/xraph/sdlq/middleware"
	"github.com/xraph/sdlq/store/memory"
	"github.com/xraph/sdlq/transform"
)

func openQueue(t *testing.T, s letter.Store, opts ...dlq.Option) *dlq.Queue {
	t.Helper()
	q, err := dlq.Open(context.Background(), s, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return q
}

func msg(body string) letter.Message {
	return letter.Message{Type: "OrderPlaced", Payload: []byte(body)}
}

func mustEnqueue(t *testing.T, q *dlq.Queue, seq, body string) {
	t.Helper()
	if _, err := q.Enqueue(context.Background(), seq, msg(body), letter.Cause{Kind: letter.CauseHandlerError}); err != nil {
		t.Fatalf("Enqueue(%s, %s): %v", seq, body, err)
	}
}

func succeed(context.Context, letter.Message) error { return nil }

func fail(context.Context, letter.Message) error { return errors.New("still broken") }

// recorder is a handler that logs payloads and fails for those in failOn.
type recorder struct {
	mu     sync.Mutex
	seen   []string
	failOn map[string]bool
}

func (r *recorder) handle(_ context.Context, m letter.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, string(m.Payload))
	if r.failOn[string(m.Payload)] {
		return errors.New("rejected " + string(m.Payload))
	}
	return nil
}

func TestScenario_TwoLettersDrainInOrder(t *testing.T) {
	q := openQueue(t, memory.New())
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "A", msg("M1"), letter.Cause{Kind: letter.CauseTimeout}); err != nil {
		t.Fatalf("Enqueue M1: %v", err)
	}
	if got := q.SequenceSize("A"); got != 1 {
		t.Fatalf("size(A) = %d, want 1", got)
	}
	mustEnqueue(t, q, "A", "M2")
	if got := q.SequenceSize("A"); got != 2 {
		t.Fatalf("size(A) = %d, want 2", got)
	}

	rec := &recorder{}
	out, err := q.Evaluate(ctx, "A", rec.handle)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Kind != dlq.OutcomeCleared || out.Processed != 2 || out.Remaining != 0 {
		t.Fatalf("outcome = %+v, want cleared/2/0", out)
	}
	if len(rec.seen) != 2 || rec.seen[0] != "M1" || rec.seen[1] != "M2" {
		t.Fatalf("delivery order = %v, want [M1 M2]", rec.seen)
	}
	if q.SequenceSize("A") != 0 || q.Contains("A") {
		t.Fatal("sequence A should be gone")
	}

	out, err = q.Evaluate(ctx, "A", rec.handle)
	if err != nil || out.Kind != dlq.OutcomeSequenceMissing {
		t.Fatalf("second Evaluate = %+v, %v; want SequenceMissing", out, err)
	}
}

func TestScenario_FailingHandlerCountsAttempts(t *testing.T) {
	s := memory.New()
	q := openQueue(t, s, dlq.WithProcessingGroup("P1"))
	ctx := context.Background()
	mustEnqueue(t, q, "A", "M1")

	ls, _ := q.Letters(ctx, "A", letter.ListOpts{})
	if got := ls[0].Diagnostics.Attempts(); got != 0 {
		t.Fatalf("initial attempts = %d, want 0", got)
	}

	for want := 1; want <= 2; want++ {
		out, err := q.Evaluate(ctx, "A", fail)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if out.Kind != dlq.OutcomeStillBlocked {
			t.Fatalf("outcome = %v, want StillBlocked", out.Kind)
		}
		if out.Attempts != want {
			t.Errorf("outcome attempts = %d, want %d", out.Attempts, want)
		}
		ls, _ := q.Letters(ctx, "A", letter.ListOpts{})
		d := ls[0].Diagnostics
		if d.Attempts() != want {
			t.Errorf("stored attempts = %d, want %d", d.Attempts(), want)
		}
		if d.LastTriedAt().IsZero() {
			t.Error("last_tried_at not recorded")
		}
		if d.ProcessingGroup() != "P1" {
			t.Errorf("processing_group = %q", d.ProcessingGroup())
		}
		if ls[0].Cause.Description != "still broken" {
			t.Errorf("cause = %+v", ls[0].Cause)
		}
	}
	if q.SequenceSize("A") != 1 {
		t.Fatalf("letter evicted on failure")
	}
}

func TestOrdering_NeverSkipsBlockedFront(t *testing.T) {
	q := openQueue(t, memory.New())
	ctx := context.Background()
	for i := range 5 {
		mustEnqueue(t, q, "A", fmt.Sprintf("m%d", i))
	}

	rec := &recorder{failOn: map[string]bool{"m2": true}}
	out, err := q.Evaluate(ctx, "A", rec.handle)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Kind != dlq.OutcomeStillBlocked || out.Processed != 2 || out.Remaining != 3 {
		t.Fatalf("outcome = %+v, want still_blocked/2/3", out)
	}

	// m2 keeps failing; m3 must never be attempted.
	for range 3 {
		if _, err := q.Evaluate(ctx, "A", rec.handle); err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
	}
	for _, p := range rec.seen {
		if p == "m3" || p == "m4" {
			t.Fatalf("letter after blocked front was attempted: %v", rec.seen)
		}
	}

	delete(rec.failOn, "m2")
	if out, _ := q.Evaluate(ctx, "A", rec.handle); out.Kind != dlq.OutcomeCleared {
		t.Fatalf("outcome = %+v, want cleared", out)
	}
	want := []string{"m0", "m1", "m2", "m2", "m2", "m2", "m2", "m3", "m4"}
	if fmt.Sprint(rec.seen) != fmt.Sprint(want) {
		t.Fatalf("seen = %v, want %v", rec.seen, want)
	}
}

func TestSequencesAreIndependent(t *testing.T) {
	q := openQueue(t, memory.New())
	ctx := context.Background()
	mustEnqueue(t, q, "A", "a1")
	mustEnqueue(t, q, "B", "b1")

	if out, _ := q.Evaluate(ctx, "A", fail); out.Kind != dlq.OutcomeStillBlocked {
		t.Fatalf("A outcome = %v", out.Kind)
	}
	if out, _ := q.Evaluate(ctx, "B", succeed); out.Kind != dlq.OutcomeCleared {
		t.Fatalf("B outcome = %v", out.Kind)
	}
	if !q.Contains("A") || q.Contains("B") {
		t.Fatalf("Contains A=%v B=%v, want true/false", q.Contains("A"), q.Contains("B"))
	}
}

func TestStuckSequenceDoesNotBlockOthers(t *testing.T) {
	q := openQueue(t, memory.New())
	ctx := context.Background()
	mustEnqueue(t, q, "A", "a1")

	entered := make(chan struct{})
	release := make(chan struct{})
	stuck := func(ctx context.Context, _ letter.Message) error {
		close(entered)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	doneA := make(chan dlq.Outcome, 1)
	go func() {
		out, _ := q.Evaluate(ctx, "A", stuck)
		doneA <- out
	}()
	<-entered

	doneB := make(chan error, 1)
	go func() {
		if _, err := q.Enqueue(ctx, "B", msg("b1"), letter.Cause{Kind: letter.CauseHandlerError}); err != nil {
			doneB <- err
			return
		}
		out, err := q.Evaluate(ctx, "B", succeed)
		if err == nil && out.Kind != dlq.OutcomeCleared {
			err = fmt.Errorf("B outcome = %v", out.Kind)
		}
		doneB <- err
	}()

	select {
	case err := <-doneB:
		if err != nil {
			close(release)
			t.Fatalf("sequence B: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("B did not complete while A was being evaluated")
	}
	if q.Contains("B") {
		t.Error("B still blocked after a successful evaluation")
	}

	close(release)
	if out := <-doneA; out.Kind != dlq.OutcomeCleared {
		t.Errorf("A outcome = %v, want cleared", out.Kind)
	}
}

func TestEvaluateBudget_LeavesRestForNextCall(t *testing.T) {
	q := openQueue(t, memory.New(), dlq.WithEvaluateBudget(2))
	ctx := context.Background()
	for i := range 5 {
		mustEnqueue(t, q, "A", fmt.Sprintf("m%d", i))
	}

	out, err := q.Evaluate(ctx, "A", succeed)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Kind != dlq.OutcomeCleared || out.Processed != 2 || out.Remaining != 3 {
		t.Fatalf("outcome = %+v, want cleared/2/3", out)
	}
	front, ok := q.FrontEnqueuedAt("A")
	ls, _ := q.Letters(ctx, "A", letter.ListOpts{Limit: 1})
	if !ok || !front.Equal(ls[0].EnqueuedAt) {
		t.Errorf("front = %v, want %v", front, ls[0].EnqueuedAt)
	}
}

func TestSizeEqualsSumOfSequences(t *testing.T) {
	q := openQueue(t, memory.New())
	ctx := context.Background()
	for i := range 12 {
		mustEnqueue(t, q, fmt.Sprintf("seq-%d", i%4), fmt.Sprintf("m%d", i))
	}
	_, _ = q.Evaluate(ctx, "seq-1", succeed)
	_, _ = q.ClearSequence(ctx, "seq-2")

	sum := 0
	for _, info := range q.Sequences() {
		if info.Size != q.SequenceSize(info.SequenceID) {
			t.Errorf("%s: info size %d != SequenceSize %d", info.SequenceID, info.Size, q.SequenceSize(info.SequenceID))
		}
		sum += info.Size
	}
	if q.Size() != sum || sum != 6 {
		t.Fatalf("Size() = %d, sum = %d, want 6", q.Size(), sum)
	}
	if q.SequenceCount() != 2 {
		t.Fatalf("SequenceCount() = %d, want 2", q.SequenceCount())
	}
}

func TestRoundTrip_MessageAndCause(t *testing.T) {
	q := openQueue(t, memory.New())
	ctx := context.Background()
	in := letter.Message{
		Type:     "OrderPlaced",
		Payload:  []byte(`{"id":"42"}`),
		Metadata: map[string]string{"trace": "abc"},
	}
	cause := letter.CauseFromError(fmt.Errorf("charge: %w", errors.New("card declined")))

	letterID, err := q.Enqueue(ctx, "A", in, cause)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ls, err := q.Letters(ctx, "A", letter.ListOpts{})
	if err != nil || len(ls) != 1 {
		t.Fatalf("Letters = %v, %v", ls, err)
	}
	got := ls[0]
	if got.ID.String() != letterID.String() {
		t.Errorf("ID = %s, want %s", got.ID, letterID)
	}
	if string(got.Message.Payload) != string(in.Payload) || got.Message.Type != in.Type || got.Message.Metadata["trace"] != "abc" {
		t.Errorf("Message = %+v", got.Message)
	}
	if got.Cause.Kind != cause.Kind || got.Cause.Description != cause.Description || len(got.Cause.Chain) != 1 {
		t.Errorf("Cause = %+v, want %+v", got.Cause, cause)
	}
}

func TestCapacity_MaxLettersPerSequence(t *testing.T) {
	q := openQueue(t, memory.New(), dlq.WithMaxLettersPerSequence(2))
	ctx := context.Background()
	mustEnqueue(t, q, "A", "m0")
	mustEnqueue(t, q, "A", "m1")

	_, err := q.Enqueue(ctx, "A", msg("m2"), letter.Cause{})
	if !errors.Is(err, sdlq.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	var ce *sdlq.CapacityError
	if !errors.As(err, &ce) || ce.Reason != sdlq.ReasonMaxLettersPerSequence || ce.Limit != 2 {
		t.Fatalf("CapacityError = %+v", ce)
	}
	if q.SequenceSize("A") != 2 || q.Size() != 2 {
		t.Fatalf("state changed: size(A)=%d size=%d", q.SequenceSize("A"), q.Size())
	}
	// Other sequences are unaffected.
	mustEnqueue(t, q, "B", "b0")
}

func TestCapacity_MaxSequences(t *testing.T) {
	q := openQueue(t, memory.New(), dlq.WithMaxSequences(2))
	ctx := context.Background()
	mustEnqueue(t, q, "A", "a")
	mustEnqueue(t, q, "B", "b")

	_, err := q.Enqueue(ctx, "C", msg("c"), letter.Cause{})
	var ce *sdlq.CapacityError
	if !errors.As(err, &ce) || ce.Reason != sdlq.ReasonMaxSequences {
		t.Fatalf("err = %v, want max_sequences rejection", err)
	}
	if q.Contains("C") || q.SequenceCount() != 2 {
		t.Fatal("rejected sequence was registered")
	}
	// Existing sequences still accept letters.
	mustEnqueue(t, q, "A", "a2")

	// Draining one frees a slot.
	if _, err := q.Evaluate(ctx, "B", succeed); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	mustEnqueue(t, q, "C", "c")
}

// gatedStore holds the first insert until released, then fails it.
type gatedStore struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) InsertLetter(ctx context.Context, l *letter.Letter) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
		return errDisk
	}
	return g.Store.InsertLetter(ctx, l)
}

func TestCapacity_FailedNewSequenceFreesSlot(t *testing.T) {
	s := &gatedStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	q := openQueue(t, s, dlq.WithMaxSequences(1))
	ctx := context.Background()

	errA := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, "A", msg("a"), letter.Cause{})
		errA <- err
	}()
	<-s.entered

	errB := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, "B", msg("b"), letter.Cause{})
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(s.release)

	if err := <-errA; !errors.Is(err, sdlq.ErrStoreUnavailable) {
		t.Fatalf("A: err = %v, want ErrStoreUnavailable", err)
	}
	select {
	case err := <-errB:
		if err != nil {
			t.Fatalf("B: err = %v, want accepted once A failed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("B never settled")
	}
	if q.Contains("A") || !q.Contains("B") || q.SequenceCount() != 1 {
		t.Fatalf("Contains A=%v B=%v, count=%d", q.Contains("A"), q.Contains("B"), q.SequenceCount())
	}

	_, err := q.Enqueue(ctx, "C", msg("c"), letter.Cause{})
	var ce *sdlq.CapacityError
	if !errors.As(err, &ce) || ce.Reason != sdlq.ReasonMaxSequences {
		t.Fatalf("C: err = %v, want max_sequences rejection", err)
	}
}

func TestCapacity_ZeroMeansUnbounded(t *testing.T) {
	cfg := sdlq.DefaultConfig()
	cfg.MaxSequences = 0
	cfg.MaxLettersPerSequence = -1
	q := openQueue(t, memory.New(), dlq.WithConfig(cfg))
	for i := range 50 {
		mustEnqueue(t, q, fmt.Sprintf("s%d", i%10), "m")
	}
	if q.Size() != 50 {
		t.Fatalf("Size() = %d, want 50", q.Size())
	}
}

func TestEnqueue_RejectsEmptySequence(t *testing.T) {
	q := openQueue(t, memory.New())
	if _, err := q.Enqueue(context.Background(), "", msg("m"), letter.Cause{}); !errors.Is(err, sdlq.ErrInvalidSequenceID) {
		t.Fatalf("err = %v, want ErrInvalidSequenceID", err)
	}
}

func TestTransform_AppliedLazily(t *testing.T) {
	up := transform.JSON("OrderPlaced", func(obj map[string]any) error {
		obj["id"] = "MyNewPrefix-" + obj["id"].(string)
		return nil
	})
	q := openQueue(t, memory.New(), dlq.WithTransform(up))
	ctx := context.Background()
	mustEnqueue(t, q, "A", `{"id":"7"}`)

	var got string
	_, err := q.Evaluate(ctx, "A", func(_ context.Context, m letter.Message) error {
		got = string(m.Payload)
		return errors.New("fail once")
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != `{"id":"MyNewPrefix-7"}` {
		t.Errorf("handler saw %s", got)
	}
	ls, _ := q.Letters(ctx, "A", letter.ListOpts{})
	if string(ls[0].Message.Payload) != `{"id":"7"}` {
		t.Errorf("stored payload rewritten: %s", ls[0].Message.Payload)
	}
}

func TestTransform_FailureKeepsLetter(t *testing.T) {
	broken := func(context.Context, letter.Message) (letter.Message, error) {
		return letter.Message{}, errors.New("bad upcaster")
	}
	q := openQueue(t, memory.New(), dlq.WithTransform(broken))
	ctx := context.Background()
	mustEnqueue(t, q, "A", "m0")

	called := false
	out, err := q.Evaluate(ctx, "A", func(context.Context, letter.Message) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if called {
		t.Fatal("handler invoked despite transform failure")
	}
	if out.Kind != dlq.OutcomeStillBlocked || out.Cause.Kind != letter.CauseTransformFailed {
		t.Fatalf("outcome = %+v", out)
	}
	ls, _ := q.Letters(ctx, "A", letter.ListOpts{})
	if len(ls) != 1 || ls[0].Cause.Kind != letter.CauseTransformFailed || ls[0].Diagnostics.Attempts() != 1 {
		t.Fatalf("letter = %+v", ls)
	}
}

func TestHandlerTimeout_IsFailure(t *testing.T) {
	q := openQueue(t, memory.New(), dlq.WithHandlerTimeout(20*time.Millisecond))
	ctx := context.Background()
	mustEnqueue(t, q, "A", "slow")

	out, err := q.Evaluate(ctx, "A", func(hctx context.Context, _ letter.Message) error {
		<-hctx.Done()
		return hctx.Err()
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Kind != dlq.OutcomeStillBlocked || out.Cause.Kind != letter.CauseTimeout {
		t.Fatalf("outcome = %+v, want still_blocked/timeout", out)
	}
}

func TestHandlerPanic_IsFailure(t *testing.T) {
	q := openQueue(t, memory.New())
	mustEnqueue(t, q, "A", "m")

	out, err := q.Evaluate(context.Background(), "A", func(context.Context, letter.Message) error {
		panic("kaboom")
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Kind != dlq.OutcomeStillBlocked || out.Cause.Kind != letter.CausePanic {
		t.Fatalf("outcome = %+v, want still_blocked/panic", out)
	}
}

func TestEvaluate_CancelledLeavesDiagnosticsUntouched(t *testing.T) {
	q := openQueue(t, memory.New())
	mustEnqueue(t, q, "A", "m")

	ctx, cancel := context.WithCancel(context.Background())
	_, err := q.Evaluate(ctx, "A", func(hctx context.Context, _ letter.Message) error {
		cancel()
		<-hctx.Done()
		return hctx.Err()
	})
	if !errors.Is(err, sdlq.ErrEvaluationAborted) {
		t.Fatalf("err = %v, want ErrEvaluationAborted", err)
	}
	ls, _ := q.Letters(context.Background(), "A", letter.ListOpts{})
	if len(ls) != 1 || ls[0].Diagnostics.Attempts() != 0 || ls[0].Cause.Kind != letter.CauseHandlerError {
		t.Fatalf("letter changed by aborted evaluation: %+v", ls[0])
	}
}

func TestMiddleware_SeesDelivery(t *testing.T) {
	var attempts []int
	mw := func(ctx context.Context, d *middleware.Delivery, next middleware.Handler) error {
		attempts = append(attempts, d.Attempt)
		return next(ctx)
	}
	q := openQueue(t, memory.New(), dlq.WithMiddleware(mw))
	mustEnqueue(t, q, "A", "m")

	_, _ = q.Evaluate(context.Background(), "A", fail)
	_, _ = q.Evaluate(context.Background(), "A", func(ctx context.Context, _ letter.Message) error {
		if d, ok := middleware.DeliveryFrom(ctx); !ok || d.SequenceID != "A" {
			t.Error("delivery not attached to handler context")
		}
		return nil
	})
	if fmt.Sprint(attempts) != "[1 2]" {
		t.Fatalf("attempts = %v, want [1 2]", attempts)
	}
}

func TestClearLetterAndSequence(t *testing.T) {
	q := openQueue(t, memory.New())
	ctx := context.Background()
	first, _ := q.Enqueue(ctx, "A", msg("a0"), letter.Cause{})
	mustEnqueue(t, q, "A", "a1")
	mustEnqueue(t, q, "B", "b0")
	mustEnqueue(t, q, "B", "b1")

	if err := q.ClearLetter(ctx, first); err != nil {
		t.Fatalf("ClearLetter: %v", err)
	}
	if err := q.ClearLetter(ctx, first); err != nil {
		t.Fatalf("ClearLetter (again): %v", err)
	}
	if q.SequenceSize("A") != 1 {
		t.Fatalf("size(A) = %d, want 1", q.SequenceSize("A"))
	}
	rec := &recorder{}
	_, _ = q.Evaluate(ctx, "A", rec.handle)
	if fmt.Sprint(rec.seen) != "[a1]" {
		t.Fatalf("seen = %v, want [a1]", rec.seen)
	}

	n, err := q.ClearSequence(ctx, "B")
	if err != nil || n != 2 {
		t.Fatalf("ClearSequence = %d, %v; want 2", n, err)
	}
	if n, err := q.ClearSequence(ctx, "B"); err != nil || n != 0 {
		t.Fatalf("ClearSequence (again) = %d, %v", n, err)
	}
	if q.Size() != 0 || q.Contains("B") {
		t.Fatal("queue not empty")
	}
}

func TestSequences_OldestFirst(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	q := openQueue(t, memory.New(), dlq.WithClock(clock))
	mustEnqueue(t, q, "C", "c")
	mustEnqueue(t, q, "A", "a")
	mustEnqueue(t, q, "B", "b")
	mustEnqueue(t, q, "C", "c2")

	got := q.Sequences()
	if len(got) != 3 || got[0].SequenceID != "C" || got[1].SequenceID != "A" || got[2].SequenceID != "B" {
		t.Fatalf("order = %+v, want C A B", got)
	}
	if got[0].Size != 2 {
		t.Errorf("C size = %d, want 2", got[0].Size)
	}

	// Draining C's front moves C behind the others.
	_, _ = q.Evaluate(context.Background(), "C", func(_ context.Context, m letter.Message) error {
		if string(m.Payload) == "c2" {
			return errors.New("blocked")
		}
		return nil
	})
	got = q.Sequences()
	if got[2].SequenceID != "C" {
		t.Fatalf("order after eviction = %+v, want C last", got)
	}
}

func TestOpen_RestoresIndexFromStore(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	q := openQueue(t, s)
	mustEnqueue(t, q, "A", "a0")
	mustEnqueue(t, q, "A", "a1")
	mustEnqueue(t, q, "B", "b0")

	restarted := openQueue(t, s)
	if restarted.Size() != 3 || restarted.SequenceSize("A") != 2 || !restarted.Contains("B") {
		t.Fatalf("restored sizes: total=%d A=%d", restarted.Size(), restarted.SequenceSize("A"))
	}
	mustEnqueue(t, restarted, "A", "a2")

	rec := &recorder{}
	if _, err := restarted.Evaluate(ctx, "A", rec.handle); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if fmt.Sprint(rec.seen) != "[a0 a1 a2]" {
		t.Fatalf("seen = %v, want [a0 a1 a2]", rec.seen)
	}
}

func TestOpen_NilStore(t *testing.T) {
	if _, err := dlq.Open(context.Background(), nil); !errors.Is(err, sdlq.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

// flakyStore fails selected operations.
type flakyStore struct {
	*memory.Store
	failInsert atomic.Bool
	failUpdate atomic.Bool
}

var errDisk = errors.New("disk unavailable")

func (f *flakyStore) InsertLetter(ctx context.Context, l *letter.Letter) error {
	if f.failInsert.Load() {
		return errDisk
	}
	return f.Store.InsertLetter(ctx, l)
}

func (f *flakyStore) UpdateLetter(ctx context.Context, l *letter.Letter) error {
	if f.failUpdate.Load() {
		return errDisk
	}
	return f.Store.UpdateLetter(ctx, l)
}

func TestStoreUnavailable_NothingCommitted(t *testing.T) {
	s := &flakyStore{Store: memory.New()}
	q := openQueue(t, s)
	ctx := context.Background()

	s.failInsert.Store(true)
	_, err := q.Enqueue(ctx, "A", msg("m"), letter.Cause{})
	if !errors.Is(err, sdlq.ErrStoreUnavailable) || !errors.Is(err, errDisk) {
		t.Fatalf("err = %v, want ErrStoreUnavailable wrapping errDisk", err)
	}
	if q.Contains("A") || q.Size() != 0 || q.SequenceCount() != 0 {
		t.Fatal("failed enqueue left state behind")
	}

	s.failInsert.Store(false)
	mustEnqueue(t, q, "A", "m")
	s.failUpdate.Store(true)
	_, err = q.Evaluate(ctx, "A", fail)
	if !errors.Is(err, sdlq.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	ls, _ := s.Store.ListLetters(ctx, "A", letter.ListOpts{})
	if len(ls) != 1 || ls[0].Diagnostics.Attempts() != 0 {
		t.Fatalf("letter = %+v", ls)
	}
}

type hookRecorder struct {
	mu     sync.Mutex
	events []string
}

func (h *hookRecorder) Name() string { return "recorder" }

func (h *hookRecorder) add(e string) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *hookRecorder) OnLetterEnqueued(context.Context, *letter.Letter) error {
	h.add("enqueued")
	return nil
}

func (h *hookRecorder) OnRetryFailed(context.Context, *letter.Letter) error {
	h.add("retry_failed")
	return nil
}

func (h *hookRecorder) OnLetterEvicted(context.Context, *letter.Letter, time.Duration) error {
	h.add("evicted")
	return nil
}

func (h *hookRecorder) OnCapacityRejected(context.Context, string, sdlq.CapacityReason) error {
	h.add("rejected")
	return nil
}

func TestExtensions_Notified(t *testing.T) {
	reg := ext.NewRegistry(nil)
	hr := &hookRecorder{}
	reg.Register(hr)
	q := openQueue(t, memory.New(), dlq.WithExtensions(reg), dlq.WithMaxLettersPerSequence(1))
	ctx := context.Background()

	mustEnqueue(t, q, "A", "m")
	_, _ = q.Enqueue(ctx, "A", msg("m2"), letter.Cause{})
	_, _ = q.Evaluate(ctx, "A", fail)
	_, _ = q.Evaluate(ctx, "A", succeed)

	want := "[enqueued rejected retry_failed evicted]"
	if fmt.Sprint(hr.events) != want {
		t.Fatalf("events = %v, want %s", hr.events, want)
	}
}

func TestConcurrentEnqueueAndEvaluate(t *testing.T) {
	q := openQueue(t, memory.New())
	ctx := context.Background()

	const seqs, perSeq = 8, 25
	var wg sync.WaitGroup
	for s := range seqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq := fmt.Sprintf("seq-%d", s)
			for i := range perSeq {
				if _, err := q.Enqueue(ctx, seq, msg(fmt.Sprintf("%d", i)), letter.Cause{}); err != nil {
					t.Errorf("Enqueue: %v", err)
				}
			}
		}()
	}

	// Evaluators race with enqueuers; each sequence must still be seen in order.
	var mu sync.Mutex
	last := map[string]int{}
	check := func(seq string) dlq.Handler {
		return func(_ context.Context, m letter.Message) error {
			var n int
			fmt.Sscanf(string(m.Payload), "%d", &n)
			mu.Lock()
			defer mu.Unlock()
			if prev, ok := last[seq]; ok && n != prev+1 {
				t.Errorf("%s: got %d after %d", seq, n, prev)
			}
			last[seq] = n
			return nil
		}
	}
	for s := range seqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq := fmt.Sprintf("seq-%d", s)
			for range 50 {
				if _, err := q.Evaluate(ctx, seq, check(seq)); err != nil {
					t.Errorf("Evaluate: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	for s := range seqs {
		seq := fmt.Sprintf("seq-%d", s)
		for q.Contains(seq) {
			if _, err := q.Evaluate(ctx, seq, check(seq)); err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
		}
		if last[seq] != perSeq-1 {
			t.Errorf("%s: last delivered %d, want %d", seq, last[seq], perSeq-1)
		}
	}
	if q.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", q.Size())
	}
}
