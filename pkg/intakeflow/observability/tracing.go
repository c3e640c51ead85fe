package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("intakeflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartStepSpan starts a span for one inbound event on a session.
	StartStepSpan(ctx context.Context, flowVersion, sessionID, nodeID string) (context.Context, trace.Span)

	// StartCallSpan starts a child span for a collaborator call.
	StartCallSpan(ctx context.Context, kind string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
// Configure the provider with otel.SetTracerProvider before calling.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartStepSpan(ctx context.Context, flowVersion, sessionID, nodeID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "intakeflow.step",
		trace.WithAttributes(
			attribute.String("flow.version", flowVersion),
			attribute.String("session.id", sessionID),
			attribute.String("node.id", nodeID),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

func (m *otelSpanManager) StartCallSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "intakeflow.call."+kind,
		trace.WithAttributes(attribute.String("call.kind", kind)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
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

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
