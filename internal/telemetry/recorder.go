package telemetry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sells-group/forgescore/internal/model"
)

// MeterName is the instrumentation scope for pipeline metrics.
const MeterName = "github.com/sells-group/forgescore/internal/pipeline"

// Recorder turns pipeline events into OpenTelemetry instruments.
type Recorder struct {
	evidence metric.Int64Counter
	scores   metric.Int64Histogram
	flagged  metric.Int64Counter
	latency  metric.Float64Histogram
	jobs     metric.Int64Counter
}

// NewRecorder creates instruments on m, normally Meter(MeterName).
func NewRecorder(m metric.Meter) (*Recorder, error) {
	var (
		r   Recorder
		err error
	)
	if r.evidence, err = m.Int64Counter("forgescore.evidence.ingested",
		metric.WithDescription("Evidence rows offered to the ledger"),
	); err != nil {
		return nil, eris.Wrap(err, "telemetry: evidence counter")
	}
	if r.scores, err = m.Int64Histogram("forgescore.score.value",
		metric.WithDescription("Computed three-digit scores"),
		metric.WithExplicitBucketBoundaries(100, 300, 500, 600, 700, 800, 900, 999),
	); err != nil {
		return nil, eris.Wrap(err, "telemetry: score histogram")
	}
	if r.flagged, err = m.Int64Counter("forgescore.score.flagged",
		metric.WithDescription("Computations that raised at least one anomaly flag"),
	); err != nil {
		return nil, eris.Wrap(err, "telemetry: flagged counter")
	}
	if r.latency, err = m.Float64Histogram("forgescore.score.duration",
		metric.WithDescription("Time to gather evidence, score and persist"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, eris.Wrap(err, "telemetry: latency histogram")
	}
	if r.jobs, err = m.Int64Counter("forgescore.jobs.finished",
		metric.WithDescription("Recompute jobs by terminal status"),
	); err != nil {
		return nil, eris.Wrap(err, "telemetry: jobs counter")
	}
	return &r, nil
}

// EvidenceIngested counts one ingest attempt.
func (r *Recorder) EvidenceIngested(ctx context.Context, t model.EvidenceType, duplicate bool) {
	r.evidence.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(t)),
		attribute.Bool("duplicate", duplicate),
	))
}

// ScoreComputed records one score computation.
func (r *Recorder) ScoreComputed(ctx context.Context, score int, flags int, elapsed time.Duration) {
	r.scores.Record(ctx, int64(score))
	r.latency.Record(ctx, elapsed.Seconds())
	if flags > 0 {
		r.flagged.Add(ctx, 1)
	}
}

// JobFinished counts a job reaching a terminal status.
func (r *Recorder) JobFinished(ctx context.Context, status model.JobStatus) {
	r.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
