package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/ext"
	"github.com/xraph/sdlq/letter"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.LetterEnqueued   = (*Extension)(nil)
	_ ext.LetterDiverted   = (*Extension)(nil)
	_ ext.LetterEvicted    = (*Extension)(nil)
	_ ext.RetryFailed      = (*Extension)(nil)
	_ ext.LetterCleared    = (*Extension)(nil)
	_ ext.SequenceCleared  = (*Extension)(nil)
	_ ext.CapacityRejected = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges queue lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Letter lifecycle hooks ──────────────────────────

// OnLetterEnqueued implements ext.LetterEnqueued.
func (e *Extension) OnLetterEnqueued(ctx context.Context, l *letter.Letter) error {
	return e.record(ctx, ActionLetterParked, SeverityWarning, OutcomeFailure,
		ResourceLetter, l.ID.String(), CategoryLetter, l.Cause.Description,
		"sequence_id", l.SequenceID,
		"index", l.Index,
		"message_type", l.Message.Type,
		"cause_kind", l.Cause.Kind,
	)
}

// OnLetterDiverted implements ext.LetterDiverted.
func (e *Extension) OnLetterDiverted(ctx context.Context, l *letter.Letter) error {
	return e.record(ctx, ActionLetterDiverted, SeverityInfo, OutcomeSuccess,
		ResourceLetter, l.ID.String(), CategoryLetter, "",
		"sequence_id", l.SequenceID,
		"index", l.Index,
		"message_type", l.Message.Type,
	)
}

// OnLetterEvicted implements ext.LetterEvicted.
func (e *Extension) OnLetterEvicted(ctx context.Context, l *letter.Letter, elapsed time.Duration) error {
	return e.record(ctx, ActionLetterRedelivered, SeverityInfo, OutcomeSuccess,
		ResourceLetter, l.ID.String(), CategoryLetter, "",
		"sequence_id", l.SequenceID,
		"index", l.Index,
		"attempts", l.Diagnostics.Attempts(),
		"parked_ms", elapsed.Milliseconds(),
	)
}

// OnRetryFailed implements ext.RetryFailed.
func (e *Extension) OnRetryFailed(ctx context.Context, l *letter.Letter) error {
	return e.record(ctx, ActionRetryFailed, SeverityWarning, OutcomeFailure,
		ResourceLetter, l.ID.String(), CategoryLetter, l.Cause.Description,
		"sequence_id", l.SequenceID,
		"index", l.Index,
		"cause_kind", l.Cause.Kind,
		"attempts", l.Diagnostics.Attempts(),
	)
}

// ── Administrative hooks ────────────────────────────

// OnLetterCleared implements ext.LetterCleared.
func (e *Extension) OnLetterCleared(ctx context.Context, l *letter.Letter) error {
	return e.record(ctx, ActionLetterCleared, SeverityCritical, OutcomeSuccess,
		ResourceLetter, l.ID.String(), CategoryAdmin, "",
		"sequence_id", l.SequenceID,
		"index", l.Index,
		"message_type", l.Message.Type,
		"cause_kind", l.Cause.Kind,
	)
}

// OnSequenceCleared implements ext.SequenceCleared.
func (e *Extension) OnSequenceCleared(ctx context.Context, sequenceID string, removed int) error {
	return e.record(ctx, ActionSequenceCleared, SeverityCritical, OutcomeSuccess,
		ResourceSequence, sequenceID, CategoryAdmin, "",
		"removed", removed,
	)
}

// OnCapacityRejected implements ext.CapacityRejected.
func (e *Extension) OnCapacityRejected(ctx context.Context, sequenceID string, reason sdlq.CapacityReason) error {
	return e.record(ctx, ActionCapacityRejected, SeverityCritical, OutcomeFailure,
		ResourceSequence, sequenceID, CategoryQueue, string(reason),
		"reason", string(reason),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
// Recorder failures are logged and never reach the queue.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
