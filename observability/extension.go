package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/ext"
	"github.com/xraph/sdlq/letter"
)

// meterName is the instrumentation scope name for sdlq lifecycle metrics.
const meterName = "github.com/xraph/sdlq/observability"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.LetterEnqueued   = (*MetricsExtension)(nil)
	_ ext.LetterDiverted   = (*MetricsExtension)(nil)
	_ ext.LetterEvicted    = (*MetricsExtension)(nil)
	_ ext.RetryFailed      = (*MetricsExtension)(nil)
	_ ext.LetterCleared    = (*MetricsExtension)(nil)
	_ ext.SequenceCleared  = (*MetricsExtension)(nil)
	_ ext.CapacityRejected = (*MetricsExtension)(nil)
)

// Sizer reports the current queue shape. *dlq.Queue implements it.
type Sizer interface {
	Size() int
	SequenceCount() int
}

// MetricsExtension records queue lifecycle metrics through OpenTelemetry.
// Register it on the engine to track park, divert, eviction, retry and
// rejection rates, plus how long letters stay parked.
type MetricsExtension struct {
	LettersEnqueued  metric.Int64Counter
	LettersDiverted  metric.Int64Counter
	LettersEvicted   metric.Int64Counter
	RetriesFailed    metric.Int64Counter
	LettersCleared   metric.Int64Counter
	CapacityRejected metric.Int64Counter
	ParkedDuration   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
// If sizer is non-nil, queue size and sequence count are exported as gauges.
func NewMetricsExtension(sizer Sizer) *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName), sizer)
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter, sizer Sizer) *MetricsExtension {
	// Instrument errors fall back to noop instruments.
	m := &MetricsExtension{}
	m.LettersEnqueued, _ = meter.Int64Counter("sdlq.letter.enqueued",
		metric.WithDescription("Letters parked in the queue"))
	m.LettersDiverted, _ = meter.Int64Counter("sdlq.letter.diverted",
		metric.WithDescription("Messages parked behind a blocked sequence"))
	m.LettersEvicted, _ = meter.Int64Counter("sdlq.letter.evicted",
		metric.WithDescription("Letters redelivered successfully"))
	m.RetriesFailed, _ = meter.Int64Counter("sdlq.retry.failed",
		metric.WithDescription("Failed redelivery attempts"))
	m.LettersCleared, _ = meter.Int64Counter("sdlq.letter.cleared",
		metric.WithDescription("Letters removed by an operator"))
	m.CapacityRejected, _ = meter.Int64Counter("sdlq.capacity.rejected",
		metric.WithDescription("Enqueues refused by a capacity bound"))
	m.ParkedDuration, _ = meter.Float64Histogram("sdlq.letter.parked_duration",
		metric.WithDescription("Time a letter spent parked before redelivery succeeded"),
		metric.WithUnit("s"))

	if sizer != nil {
		_, _ = meter.Int64ObservableGauge("sdlq.queue.size",
			metric.WithDescription("Letters currently parked"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(sizer.Size()))
				return nil
			}))
		_, _ = meter.Int64ObservableGauge("sdlq.queue.sequences",
			metric.WithDescription("Sequences currently blocked"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(sizer.SequenceCount()))
				return nil
			}))
	}
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Letter lifecycle hooks ──────────────────────────

// OnLetterEnqueued implements ext.LetterEnqueued.
func (m *MetricsExtension) OnLetterEnqueued(ctx context.Context, l *letter.Letter) error {
	m.LettersEnqueued.Add(ctx, 1, causeAttr(l))
	return nil
}

// OnLetterDiverted implements ext.LetterDiverted.
func (m *MetricsExtension) OnLetterDiverted(ctx context.Context, _ *letter.Letter) error {
	m.LettersDiverted.Add(ctx, 1)
	return nil
}

// OnLetterEvicted implements ext.LetterEvicted.
func (m *MetricsExtension) OnLetterEvicted(ctx context.Context, _ *letter.Letter, elapsed time.Duration) error {
	m.LettersEvicted.Add(ctx, 1)
	m.ParkedDuration.Record(ctx, elapsed.Seconds())
	return nil
}

// OnRetryFailed implements ext.RetryFailed.
func (m *MetricsExtension) OnRetryFailed(ctx context.Context, l *letter.Letter) error {
	m.RetriesFailed.Add(ctx, 1, causeAttr(l))
	return nil
}

// ── Administrative hooks ────────────────────────────

// OnLetterCleared implements ext.LetterCleared.
func (m *MetricsExtension) OnLetterCleared(ctx context.Context, _ *letter.Letter) error {
	m.LettersCleared.Add(ctx, 1)
	return nil
}

// OnSequenceCleared implements ext.SequenceCleared.
func (m *MetricsExtension) OnSequenceCleared(ctx context.Context, _ string, removed int) error {
	m.LettersCleared.Add(ctx, int64(removed))
	return nil
}

// OnCapacityRejected implements ext.CapacityRejected.
func (m *MetricsExtension) OnCapacityRejected(ctx context.Context, _ string, reason sdlq.CapacityReason) error {
	m.CapacityRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	return nil
}

func causeAttr(l *letter.Letter) metric.AddOption {
	return metric.WithAttributes(attribute.String("cause_kind", l.Cause.Kind))
}
