package letter

import "time"

// Enricher derives the diagnostics stored with a letter.
type Enricher interface {
	// Initial returns the diagnostics of a freshly parked letter.
	Initial(cause Cause, at time.Time) Diagnostics
	// Attempted returns the diagnostics after a failed redelivery attempt.
	// prior must not be modified.
	Attempted(prior Diagnostics, cause Cause, at time.Time) Diagnostics
}

// DefaultEnricher records the attempt count, attempt timestamps, cause kind,
// and the owning processing group.
type DefaultEnricher struct {
	ProcessingGroup string
}

// NewEnricher returns the default enricher for a processing group.
func NewEnricher(processingGroup string) *DefaultEnricher {
	return &DefaultEnricher{ProcessingGroup: processingGroup}
}

// Initial implements [Enricher].
func (e *DefaultEnricher) Initial(cause Cause, at time.Time) Diagnostics {
	d := Diagnostics{
		DiagAttempts:      0,
		DiagCauseKind:     cause.Kind,
		DiagFirstFailedAt: at.UTC().Format(time.RFC3339Nano),
	}
	if e.ProcessingGroup != "" {
		d[DiagProcessingGroup] = e.ProcessingGroup
	}
	return d
}

// Attempted implements [Enricher].
func (e *DefaultEnricher) Attempted(prior Diagnostics, cause Cause, at time.Time) Diagnostics {
	d := prior.Clone()
	if d == nil {
		d = Diagnostics{}
	}
	d[DiagAttempts] = prior.Attempts() + 1
	d[DiagLastTriedAt] = at.UTC().Format(time.RFC3339Nano)
	d[DiagCauseKind] = cause.Kind
	if e.ProcessingGroup != "" {
		d[DiagProcessingGroup] = e.ProcessingGroup
	}
	return d
}
