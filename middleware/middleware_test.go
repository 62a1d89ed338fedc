package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
	"github.com/xraph/sdlq/middleware"
)

func newDelivery() *middleware.Delivery {
	return &middleware.Delivery{
		LetterID:        id.NewLetterID(),
		SequenceID:      "order-1",
		ProcessingGroup: "P1",
		Message:         letter.Message{Type: "OrderPlaced", Payload: []byte(`{}`)},
		Attempt:         2,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	trace := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *middleware.Delivery, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(trace("mw1"), nil, trace("mw2"))
	err := chain(context.Background(), newDelivery(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_PropagatesError(t *testing.T) {
	want := errors.New("handler error")
	err := middleware.Chain()(context.Background(), newDelivery(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	err := mw(context.Background(), newDelivery(), func(context.Context) error {
		panic("test panic")
	})
	var pe *middleware.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %v", err)
	}
	if pe.Value != "test panic" {
		t.Errorf("Value = %v, want test panic", pe.Value)
	}
	if c := letter.CauseFromError(err); c.Kind != letter.CausePanic {
		t.Errorf("cause kind = %q, want %q", c.Kind, letter.CausePanic)
	}
}

func TestTimeout_ExpiresAsDeadline(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	d := newDelivery()
	d.Timeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	err := mw(context.Background(), d, func(context.Context) error {
		<-release // ignores its context
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if c := letter.CauseFromError(err); c.Kind != letter.CauseTimeout {
		t.Errorf("cause kind = %q, want %q", c.Kind, letter.CauseTimeout)
	}
}

func TestTimeout_ParentCancelIsNotTimeout(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	d := newDelivery()
	d.Timeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	err := mw(ctx, d, func(hctx context.Context) error {
		cancel()
		<-hctx.Done()
		return hctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Canceled, got %v", err)
	}
}

func TestTimeout_RecoversPanicInHandlerGoroutine(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	d := newDelivery()
	d.Timeout = time.Second

	err := mw(context.Background(), d, func(context.Context) error {
		panic("inside")
	})
	var pe *middleware.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %v", err)
	}
}

func TestTimeout_ZeroIsPassThrough(t *testing.T) {
	mw := middleware.Timeout(slog.Default())
	err := mw(context.Background(), newDelivery(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	want := errors.New("fail")

	if err := mw(context.Background(), newDelivery(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mw(context.Background(), newDelivery(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestAttach_ExposesDelivery(t *testing.T) {
	d := newDelivery()
	err := middleware.Attach()(context.Background(), d, func(ctx context.Context) error {
		got, ok := middleware.DeliveryFrom(ctx)
		if !ok {
			t.Fatal("expected delivery in context")
		}
		if got.LetterID.String() != d.LetterID.String() || got.Attempt != 2 {
			t.Errorf("delivery = %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := middleware.DeliveryFrom(context.Background()); ok {
		t.Error("expected no delivery in bare context")
	}
}
