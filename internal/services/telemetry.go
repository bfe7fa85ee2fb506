package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "csclub/backend/services"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	callCounter, _ = meter.Int64Counter("remote.calls",
		metric.WithDescription("Calls made to the hosted workflow/chat service"),
		metric.WithUnit("{call}"))
	tokenCounter, _ = meter.Int64Counter("remote.tokens",
		metric.WithDescription("Tokens reported by the hosted workflow/chat service"),
		metric.WithUnit("{token}"))
)

// recordCall counts a finished remote call. outcome is "ok" or "error".
func recordCall(ctx context.Context, provider, operation, outcome string, tokens int64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	if callCounter != nil {
		callCounter.Add(ctx, 1, attrs)
	}
	if tokenCounter != nil && tokens > 0 {
		tokenCounter.Add(ctx, tokens, attrs)
	}
}

// endSpan closes a span opened with tracer.Start, marking it failed on err.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
