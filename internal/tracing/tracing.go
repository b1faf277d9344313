// Package tracing provides OpenTelemetry span helpers for the engine and
// the listener. Spans go to the global tracer provider, which is a no-op
// until the host process installs one.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "waitnotify"

// Attribute keys shared by all spans.
const (
	AttrWaitInstanceID = attribute.Key("waitnotify.wait_instance_id")
	AttrCorrelationID  = attribute.Key("waitnotify.correlation_id")
	AttrCallback       = attribute.Key("waitnotify.callback")
	AttrOutcome        = attribute.Key("waitnotify.outcome")
	AttrCount          = attribute.Key("waitnotify.count")
)

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Start starts an internal span named "waitnotify.<operation>".
func Start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, instrumentationName+"."+operation,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartConsumer starts a consumer span for handling one queued message.
func StartConsumer(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, instrumentationName+"."+operation,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// End completes a span, recording err when non-nil.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddEvent adds an event to the span in ctx if it is recording.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
