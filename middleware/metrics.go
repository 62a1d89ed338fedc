package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for sdlq metrics.
const meterName = "github.com/xraph/sdlq"

// Metrics returns middleware that records redelivery metrics on the global
// MeterProvider. Without a configured provider it is a pass-through.
//
// Instruments:
//   - sdlq.redelivery.duration (Float64Histogram, seconds)
//   - sdlq.redelivery.attempts (Int64Counter)
//
// Both carry payload_type, processing_group and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"sdlq.redelivery.duration",
		metric.WithDescription("Duration of letter redelivery in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"sdlq.redelivery.attempts",
		metric.WithDescription("Total number of letter redelivery attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, d *Delivery, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("payload_type", d.Message.Type),
			attribute.String("processing_group", d.ProcessingGroup),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)
		return err
	}
}
