package statemachine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/amp-labs/workflow-core/logger"
)

const tracerName = "github.com/amp-labs/workflow-core/statemachine"

// startTransitionSpan creates a span around transition selection.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startTransitionSpan(ctx context.Context, machineID, state, event string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "statemachine.transition")
	span.SetAttributes(
		attribute.String("machine", machineID),
		attribute.String("state", state),
		attribute.String("event", event),
	)
	logSpanDebug(ctx, "started", "statemachine.transition", span)

	return ctx, span
}

// startActionSpan creates a child span for action execution.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startActionSpan(ctx context.Context, machineID string, ref ActionRef) (context.Context, trace.Span) {
	spanName := "action." + ref.Name
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName)
	span.SetAttributes(
		attribute.String("machine", machineID),
		attribute.String("action", ref.Name),
		attribute.String("state", ref.State),
		attribute.String("kind", string(ref.Kind)),
	)
	logSpanDebug(ctx, "started", spanName, span)

	return ctx, span
}

// finishSpan records err on the span (if any) and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func logSpanDebug(ctx context.Context, phase string, spanName string, span trace.Span) {
	spanCtx := span.SpanContext()
	if !spanCtx.IsValid() {
		return
	}

	logger.Get(ctx).DebugContext(ctx, "otel span "+phase,
		"span_name", spanName,
		"trace_id", spanCtx.TraceID().String(),
		"span_id", spanCtx.SpanID().String(),
	)
}
