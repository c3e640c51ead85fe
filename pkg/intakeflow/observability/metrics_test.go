package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a function to collect metrics.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor totals the data points of an Int64 sum whose attributes include kv.
func sumFor(t *testing.T, m *metricdata.Metrics, kv attribute.KeyValue) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", m.Data)

	var total int64
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(kv.Key); found && v == kv.Value {
			total += dp.Value
		}
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordStep(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordStep(ctx, "cleaning@2", "prompt", 5*time.Millisecond)
	m.RecordStep(ctx, "cleaning@2", "prompt", 7*time.Millisecond)
	m.RecordStep(ctx, "cleaning@2", "completed", time.Millisecond)

	rm := collectMetrics(t, reader)
	steps := findMetric(rm, "intakeflow.session.steps")
	assert.Equal(t, int64(2), sumFor(t, steps, attribute.String("outcome", "prompt")))
	assert.Equal(t, int64(1), sumFor(t, steps, attribute.String("outcome", "completed")))

	latency := findMetric(rm, "intakeflow.session.step_latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)

	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestRecordEscalationAndReservation(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordEscalation(ctx, "cleaning@2", "high", "human_requested")
	m.RecordReservation(ctx, "held")
	m.RecordReservation(ctx, "conflict")
	m.RecordReservation(ctx, "conflict")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "intakeflow.handoff.escalations"), attribute.String("priority", "high")))

	reservations := findMetric(rm, "intakeflow.scheduling.reservations")
	assert.Equal(t, int64(1), sumFor(t, reservations, attribute.String("result", "held")))
	assert.Equal(t, int64(2), sumFor(t, reservations, attribute.String("result", "conflict")))
}

func TestRecordCollaboratorCall(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCollaboratorCall(ctx, "extract_fields", false, 20*time.Millisecond)
	m.RecordCollaboratorCall(ctx, "classify_sentiment", true, 4*time.Second)

	rm := collectMetrics(t, reader)
	calls := findMetric(rm, "intakeflow.collaborator.calls")
	assert.Equal(t, int64(1), sumFor(t, calls, attribute.Bool("fallback", true)))
	assert.Equal(t, int64(1), sumFor(t, calls, attribute.String("kind", "extract_fields")))
	assert.NotNil(t, findMetric(rm, "intakeflow.collaborator.latency_ms"))
}
