package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sells-group/forgescore/internal/model"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "forgescore", "test", false)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Meter(MeterName))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	r, err := NewRecorder(mp.Meter(MeterName))
	require.NoError(t, err)

	ctx := context.Background()
	r.EvidenceIngested(ctx, model.EvidenceDeliveryVerified, false)
	r.EvidenceIngested(ctx, model.EvidenceDeliveryVerified, true)
	r.ScoreComputed(ctx, 884, 0, 20*time.Millisecond)
	r.ScoreComputed(ctx, 134, 2, 10*time.Millisecond)
	r.JobFinished(ctx, model.JobStatusCompleted)
	r.JobFinished(ctx, model.JobStatusFailed)
	r.JobFinished(ctx, model.JobStatusCompleted)

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, metrics["forgescore.evidence.ingested"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["forgescore.score.flagged"]))
	assert.Equal(t, int64(3), sumOf(t, metrics["forgescore.jobs.finished"]))

	hist, ok := metrics["forgescore.score.value"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, int64(884+134), hist.DataPoints[0].Sum)
}
