package model

import "time"

// Anomaly flags raised by the behavioral coherence detector.
const (
	FlagHighBurstiness          = "HIGH_BURSTINESS"
	FlagAbnormalEvidenceDensity = "ABNORMAL_EVIDENCE_DENSITY"
	FlagSuspiciousSkillJump     = "SUSPICIOUS_SKILL_JUMP"
	FlagTemplateClone           = "TEMPLATE_CLONE_DETECTED"
	FlagAttestationRing         = "ATTESTATION_RING_DETECTED"
)

// SkillVector holds the four 0-100 dimension scores.
type SkillVector struct {
	EC  int `json:"ec"`
	AOI int `json:"aoi"`
	RC  int `json:"rc"`
	LPI int `json:"lpi"`
}

// Values returns the dimensions in EC, AOI, RC, LPI order.
func (v SkillVector) Values() [4]int {
	return [4]int{v.EC, v.AOI, v.RC, v.LPI}
}

// BCMResult is the output of the behavioral coherence detector.
type BCMResult struct {
	Multiplier          float64  `json:"multiplier"`
	Flags               []string `json:"flags"`
	Burstiness          float64  `json:"burstiness"`
	EvidenceDensity     float64  `json:"evidence_density"`
	MaxSkillJump        int      `json:"max_skill_jump"`
	TemplateCloneProb   float64  `json:"template_clone_probability"`
	AttestationRingRate float64  `json:"attestation_ring_score"`
}

// ScoreBreakdown captures every intermediate value of a computation so a
// history row can be audited without rerunning it.
type ScoreBreakdown struct {
	Dimensions        SkillVector `json:"dimensions"`
	BCM               BCMResult   `json:"bcm"`
	Composite         float64     `json:"composite"`
	SelfReportBoost   float64     `json:"self_report_boost,omitempty"`
	AdjustedComposite float64     `json:"adjusted_composite"`
	MappedScore       int         `json:"mapped_score"`
	AfterDecay        int         `json:"after_decay"`
	AfterTenureGate   int         `json:"after_tenure_gate"`
	AfterMovementCap  int         `json:"after_movement_cap"`
	RecencyDays       float64     `json:"recency_days"`
	TenureDays        float64     `json:"tenure_days"`
	EvidenceCount     int         `json:"evidence_count"`
	Tier              string      `json:"tier,omitempty"`
}

// ScoreHistory is one append-only recompute record. It is the system of
// record for scores; every other score field is a cache derived from it.
type ScoreHistory struct {
	ID                  string         `json:"id"`
	BuilderID           string         `json:"builder_id"`
	Score               int            `json:"score"`
	PreviousScore       *int           `json:"previous_score,omitempty"`
	Delta               int            `json:"delta"`
	Breakdown           ScoreBreakdown `json:"breakdown"`
	AnomalyFlags        []string       `json:"anomaly_flags"`
	EvidenceSnapshotIDs []string       `json:"evidence_snapshot_ids"`
	ModelVersion        string         `json:"model_version"`
	Reason              string         `json:"reason"`
	Confidence          float64        `json:"confidence"`
	ComputedAt          time.Time      `json:"computed_at"`
}

// BuilderProjection is the denormalized score cache on the builder record.
type BuilderProjection struct {
	BuilderID         string     `json:"builder_id"`
	ScoreV3           *int       `json:"score_v3,omitempty"`
	ScoreV3Model      string     `json:"score_v3_model,omitempty"`
	ScoreV3ComputedAt *time.Time `json:"score_v3_computed_at,omitempty"`
	ScoreV3Confidence float64    `json:"score_v3_confidence"`
	TenureStart       *time.Time `json:"tenure_start,omitempty"`
	LegacyScoreV2     *float64   `json:"legacy_score_v2,omitempty"`
}
