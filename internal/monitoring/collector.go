package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/store"
)

// stuckAfter is how long after enqueue a job may sit in processing before it
// is reported as stuck. Claims carry no timestamp of their own.
const stuckAfter = time.Hour

// jobScanLimit caps how many finished jobs one collection reads per status.
const jobScanLimit = 10000

// MetricsSnapshot holds a point-in-time view of queue and score health.
type MetricsSnapshot struct {
	// Queue depth (all time).
	JobsPending    int `json:"jobs_pending"`
	JobsProcessing int `json:"jobs_processing"`
	JobsCompleted  int `json:"jobs_completed"`
	JobsFailed     int `json:"jobs_failed"`

	// Jobs finished within the lookback window.
	RecentCompleted int     `json:"recent_completed"`
	RecentFailed    int     `json:"recent_failed"`
	RecentFailRate  float64 `json:"recent_fail_rate"`
	StuckJobs       int     `json:"stuck_jobs"`

	// Score projection.
	BuildersScored int     `json:"builders_scored"`
	AvgScore       float64 `json:"avg_score"`
	MaxScore       int     `json:"max_score"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the subset of the store the collector reads.
type Source interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.RecomputeJob, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	GetProjectionStats(ctx context.Context) (*store.ProjectionStats, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	source Source
	now    func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{source: src, now: time.Now}
}

// Collect gathers a snapshot of queue metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	counts, err := c.source.CountJobsByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count jobs")
	}
	snap.JobsPending = counts[model.JobStatusPending]
	snap.JobsProcessing = counts[model.JobStatusProcessing]
	snap.JobsCompleted = counts[model.JobStatusCompleted]
	snap.JobsFailed = counts[model.JobStatusFailed]

	snap.RecentCompleted, err = c.countFinishedSince(ctx, model.JobStatusCompleted, cutoff)
	if err != nil {
		return nil, err
	}
	snap.RecentFailed, err = c.countFinishedSince(ctx, model.JobStatusFailed, cutoff)
	if err != nil {
		return nil, err
	}
	if finished := snap.RecentCompleted + snap.RecentFailed; finished > 0 {
		snap.RecentFailRate = float64(snap.RecentFailed) / float64(finished)
	}

	if snap.JobsProcessing > 0 {
		processing, err := c.source.ListJobs(ctx, store.JobFilter{Status: model.JobStatusProcessing, Limit: jobScanLimit})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list processing jobs")
		}
		for _, j := range processing {
			if now.Sub(j.CreatedAt) > stuckAfter {
				snap.StuckJobs++
			}
		}
	}

	stats, err := c.source.GetProjectionStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: projection stats")
	}
	snap.BuildersScored = stats.Scored
	snap.AvgScore = stats.AvgScore
	snap.MaxScore = stats.MaxScore

	return snap, nil
}

func (c *Collector) countFinishedSince(ctx context.Context, status model.JobStatus, cutoff time.Time) (int, error) {
	jobs, err := c.source.ListJobs(ctx, store.JobFilter{Status: status, Limit: jobScanLimit})
	if err != nil {
		return 0, eris.Wrapf(err, "monitoring: list %s jobs", status)
	}
	n := 0
	for _, j := range jobs {
		at := j.CreatedAt
		if j.ProcessedAt != nil {
			at = *j.ProcessedAt
		}
		if !at.Before(cutoff) {
			n++
		}
	}
	return n, nil
}
