package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for sdlq tracing.
const tracerName = "github.com/xraph/sdlq"

// Tracing returns middleware that wraps each redelivery in a span from the
// global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, d *Delivery, next Handler) error {
		ctx, span := tracer.Start(ctx, "sdlq.letter.redeliver",
			trace.WithAttributes(
				attribute.String("sdlq.letter.id", d.LetterID.String()),
				attribute.String("sdlq.sequence.id", d.SequenceID),
				attribute.String("sdlq.payload_type", d.Message.Type),
				attribute.String("sdlq.processing_group", d.ProcessingGroup),
				attribute.Int("sdlq.attempt", d.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
