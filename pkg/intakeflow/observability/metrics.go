package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStep records one interpreter step and the kind of outcome it produced.
	RecordStep(ctx context.Context, flowVersion, outcome string, duration time.Duration)

	// RecordEscalation records a handoff ticket with its priority and primary reason.
	RecordEscalation(ctx context.Context, flowVersion, priority, reason string)

	// RecordReservation records a reservation attempt ("held", "conflict",
	// "confirmed", "released").
	RecordReservation(ctx context.Context, result string)

	// RecordCollaboratorCall records a completion-service call and whether
	// it fell back.
	RecordCollaboratorCall(ctx context.Context, kind string, fallback bool, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	steps        metric.Int64Counter
	stepLatency  metric.Float64Histogram
	escalations  metric.Int64Counter
	reservations metric.Int64Counter
	calls        metric.Int64Counter
	callLatency  metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("intakeflow")

	steps, err := meter.Int64Counter("intakeflow.session.steps",
		metric.WithDescription("Number of interpreter steps"),
	)
	if err != nil {
		return nil, err
	}

	stepLatency, err := meter.Float64Histogram("intakeflow.session.step_latency_ms",
		metric.WithDescription("Step latency in milliseconds, including persistence"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	escalations, err := meter.Int64Counter("intakeflow.handoff.escalations",
		metric.WithDescription("Number of handoff tickets issued"),
	)
	if err != nil {
		return nil, err
	}

	reservations, err := meter.Int64Counter("intakeflow.scheduling.reservations",
		metric.WithDescription("Slot reservation attempts by result"),
	)
	if err != nil {
		return nil, err
	}

	calls, err := meter.Int64Counter("intakeflow.collaborator.calls",
		metric.WithDescription("Completion service calls"),
	)
	if err != nil {
		return nil, err
	}

	callLatency, err := meter.Float64Histogram("intakeflow.collaborator.latency_ms",
		metric.WithDescription("Completion service latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		steps:        steps,
		stepLatency:  stepLatency,
		escalations:  escalations,
		reservations: reservations,
		calls:        calls,
		callLatency:  callLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider; set it with
// otel.SetMeterProvider before calling.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordStep(ctx context.Context, flowVersion, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("flow_version", flowVersion),
		attribute.String("outcome", outcome),
	)
	m.steps.Add(ctx, 1, attrs)
	m.stepLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

func (m *otelMetrics) RecordEscalation(ctx context.Context, flowVersion, priority, reason string) {
	m.escalations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow_version", flowVersion),
		attribute.String("priority", priority),
		attribute.String("reason", reason),
	))
}

func (m *otelMetrics) RecordReservation(ctx context.Context, result string) {
	m.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *otelMetrics) RecordCollaboratorCall(ctx context.Context, kind string, fallback bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("fallback", fallback),
	)
	m.calls.Add(ctx, 1, attrs)
	m.callLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}
