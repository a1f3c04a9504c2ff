package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forgescore/internal/model"
)

// ErrNotFound is returned (wrapped) when a lookup by ID matches no row.
var ErrNotFound = eris.New("store: not found")

// EvidenceFilter specifies criteria for listing evidence.
type EvidenceFilter struct {
	Types             []model.EvidenceType `json:"types,omitempty"`
	Since             time.Time            `json:"since,omitempty"`
	Limit             int                  `json:"limit,omitempty"`
	IncludeSuperseded bool                 `json:"include_superseded,omitempty"`
	NewestFirst       bool                 `json:"newest_first,omitempty"`
}

// JobFilter specifies criteria for listing recompute jobs.
type JobFilter struct {
	Status    model.JobStatus `json:"status,omitempty"`
	BuilderID string          `json:"builder_id,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// ProjectionStats summarizes the builder score projection.
type ProjectionStats struct {
	Scored   int     `json:"scored"`
	AvgScore float64 `json:"avg_score"`
	MaxScore int     `json:"max_score"`
}

// LegacyScore is one builder's pre-V3 self-reported score.
type LegacyScore struct {
	BuilderID string  `json:"builder_id"`
	Score     float64 `json:"score"`
}

// Store defines the persistence interface for the scoring core.
type Store interface {
	// Evidence ledger
	InsertEvidence(ctx context.Context, ev *model.Evidence) (bool, error)
	SupersedeEvidence(ctx context.Context, oldID string, replacement *model.Evidence) (bool, error)
	GetEvidence(ctx context.Context, id string) (*model.Evidence, error)
	ListEvidence(ctx context.Context, builderID string, filter EvidenceFilter) ([]model.Evidence, error)
	CountEvidenceByType(ctx context.Context, builderID string) (map[model.EvidenceType]int, error)
	ListAttestationsInvolving(ctx context.Context, builderID string) ([]model.Evidence, error)

	// Scoring model versions
	ActiveModelVersion(ctx context.Context) (*model.ScoringModelVersion, error)
	PublishModelVersion(ctx context.Context, mv model.ScoringModelVersion) error
	ListModelVersions(ctx context.Context) ([]model.ScoringModelVersion, error)

	// Score history
	InsertScoreHistory(ctx context.Context, h *model.ScoreHistory) error
	LatestScoreHistory(ctx context.Context, builderID string) (*model.ScoreHistory, error)
	ListScoreHistory(ctx context.Context, builderID string, limit int) ([]model.ScoreHistory, error)

	// Builder projection
	GetBuilderProjection(ctx context.Context, builderID string) (*model.BuilderProjection, error)
	UpsertBuilderProjection(ctx context.Context, p *model.BuilderProjection) error
	SetLegacyScoreV2(ctx context.Context, builderID string, score float64) error
	ImportLegacyScores(ctx context.Context, scores []LegacyScore) (int64, error)
	GetProjectionStats(ctx context.Context) (*ProjectionStats, error)

	// Recompute rate-limit stamps
	TouchRecomputeStamp(ctx context.Context, builderID string, at time.Time) error
	LastRecomputeAt(ctx context.Context, builderID string) (*time.Time, error)

	// Recompute queue
	EnqueueJob(ctx context.Context, job *model.RecomputeJob) error
	ClaimJob(ctx context.Context, jobID string) (bool, error)
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, message string) error
	GetJob(ctx context.Context, jobID string) (*model.RecomputeJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.RecomputeJob, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
