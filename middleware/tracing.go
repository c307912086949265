package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/backlog/job"
)

// tracerName is the instrumentation scope name for backlog tracing.
const tracerName = "github.com/xraph/backlog"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span using the global TracerProvider.
//
// Span attributes: backlog.job.id, backlog.job.type, backlog.queue,
// backlog.attempt, backlog.max_attempts.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		ctx, span := tracer.Start(ctx, "backlog.job.execute",
			trace.WithAttributes(
				attribute.String("backlog.job.id", j.ID.String()),
				attribute.String("backlog.job.type", string(j.Type)),
				attribute.String("backlog.queue", j.Queue),
				attribute.Int("backlog.attempt", j.Attempts),
				attribute.Int("backlog.max_attempts", j.Options.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return res, err
	}
}
