package model

import "time"

// JobStatus represents the lifecycle state of a recompute job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Trigger types for recompute jobs.
const (
	TriggerManual   = "manual"
	TriggerEvidence = "evidence"
	TriggerProbe    = "probe"
	TriggerSchedule = "schedule"
)

// Job priorities. Higher runs first.
const (
	PriorityNormal    = 0
	PriorityMilestone = 10
	PriorityManual    = 20
)

// RecomputeJob is a queued request to recompute one builder's score.
type RecomputeJob struct {
	ID                string     `json:"id"`
	BuilderID         string     `json:"builder_id"`
	TriggerType       string     `json:"trigger_type"`
	TriggerEvidenceID string     `json:"trigger_evidence_id,omitempty"`
	Priority          int        `json:"priority"`
	Status            JobStatus  `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}
