package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

// RecordStep does nothing.
func (NoopMetrics) RecordStep(_ context.Context, _, _ string, _ time.Duration) {}

// RecordEscalation does nothing.
func (NoopMetrics) RecordEscalation(_ context.Context, _, _, _ string) {}

// RecordReservation does nothing.
func (NoopMetrics) RecordReservation(_ context.Context, _ string) {}

// RecordCollaboratorCall does nothing.
func (NoopMetrics) RecordCollaboratorCall(_ context.Context, _ string, _ bool, _ time.Duration) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartStepSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartStepSpan(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartCallSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartCallSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
