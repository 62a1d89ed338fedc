package letter_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/sdlq/id"
	"github.com/xraph/sdlq/letter"
)

type kindedErr struct{}

func (kindedErr) Error() string     { return "boom" }
func (kindedErr) CauseKind() string { return "custom" }

func TestCauseFromError(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := fmt.Errorf("charge card: %w", base)

	tests := []struct {
		name      string
		err       error
		wantKind  string
		wantChain int
	}{
		{"plain", base, letter.CauseHandlerError, 0},
		{"wrapped", wrapped, letter.CauseHandlerError, 1},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), letter.CauseTimeout, 1},
		{"kinded", fmt.Errorf("outer: %w", kindedErr{}), "custom", 1},
		{"joined", errors.Join(base, kindedErr{}), "custom", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := letter.CauseFromError(tt.err)
			if c.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", c.Kind, tt.wantKind)
			}
			if c.Description != tt.err.Error() {
				t.Errorf("Description = %q, want %q", c.Description, tt.err.Error())
			}
			if len(c.Chain) != tt.wantChain {
				t.Errorf("Chain = %v, want %d entries", c.Chain, tt.wantChain)
			}
		})
	}

	if !letter.CauseFromError(nil).IsZero() {
		t.Error("nil error should give zero cause")
	}
}

func TestDiagnostics_AttemptsAcrossNumericTypes(t *testing.T) {
	values := []any{3, int64(3), int32(3), uint8(3), uint64(3), float64(3), float32(3), "3"}
	for _, v := range values {
		d := letter.Diagnostics{letter.DiagAttempts: v}
		if got := d.Attempts(); got != 3 {
			t.Errorf("Attempts(%T) = %d, want 3", v, got)
		}
	}
	if got := (letter.Diagnostics{}).Attempts(); got != 0 {
		t.Errorf("Attempts(empty) = %d, want 0", got)
	}
}

func TestDiagnostics_SurvivesJSON(t *testing.T) {
	e := letter.NewEnricher("P1")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := e.Attempted(e.Initial(letter.Cause{Kind: "handler_error"}, now), letter.Cause{Kind: "timeout"}, now)

	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back letter.Diagnostics
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Attempts() != 1 {
		t.Errorf("Attempts = %d, want 1", back.Attempts())
	}
	if !back.LastTriedAt().Equal(now) {
		t.Errorf("LastTriedAt = %v, want %v", back.LastTriedAt(), now)
	}
	if back.ProcessingGroup() != "P1" {
		t.Errorf("ProcessingGroup = %q, want P1", back.ProcessingGroup())
	}
}

func TestEnricher_AttemptedDoesNotMutatePrior(t *testing.T) {
	e := letter.NewEnricher("")
	prior := e.Initial(letter.Cause{Kind: "handler_error"}, time.Now())

	next := e.Attempted(prior, letter.Cause{Kind: "timeout"}, time.Now())
	next = e.Attempted(next, letter.Cause{Kind: "timeout"}, time.Now())

	if prior.Attempts() != 0 {
		t.Errorf("prior attempts = %d, want 0", prior.Attempts())
	}
	if next.Attempts() != 2 {
		t.Errorf("next attempts = %d, want 2", next.Attempts())
	}
	if next[letter.DiagCauseKind] != "timeout" {
		t.Errorf("cause_kind = %v, want timeout", next[letter.DiagCauseKind])
	}
	if _, ok := next[letter.DiagProcessingGroup]; ok {
		t.Error("processing_group should be absent when unset")
	}
}

func TestLetter_CloneIsDeep(t *testing.T) {
	l := &letter.Letter{
		ID:         id.NewLetterID(),
		SequenceID: "order-1",
		Message: letter.Message{
			Type:     "OrderPlaced",
			Payload:  []byte(`{"id":"1"}`),
			Metadata: map[string]string{"k": "v"},
		},
		Cause:       letter.Cause{Kind: "handler_error", Chain: []string{"a"}},
		Diagnostics: letter.Diagnostics{letter.DiagAttempts: 1},
	}

	cp := l.Clone()
	cp.Message.Payload[0] = 'X'
	cp.Message.Metadata["k"] = "changed"
	cp.Cause.Chain[0] = "b"
	cp.Diagnostics[letter.DiagAttempts] = 9

	if l.Message.Payload[0] != '{' || l.Message.Metadata["k"] != "v" {
		t.Error("message shared with clone")
	}
	if l.Cause.Chain[0] != "a" {
		t.Error("cause chain shared with clone")
	}
	if l.Diagnostics.Attempts() != 1 {
		t.Error("diagnostics shared with clone")
	}
}
