package scorer

import (
	"math"
	"time"

	"github.com/sells-group/forgescore/internal/model"
)

// Input is a complete, self-contained scoring request. The computation reads
// nothing else, so identical inputs always produce identical results.
type Input struct {
	BuilderID      string
	Evidence       []model.Evidence
	Attestations   []model.Evidence
	TenureStart    *time.Time
	PreviousScore  *int
	PreviousSkills *model.SkillVector
	LegacyScoreV2  *float64
	HasMilestone   bool
	Model          model.ScoringModelVersion
	Now            time.Time
}

// Result is the outcome of one ForgeScore V3 computation.
type Result struct {
	Score         int                  `json:"score"`
	PreviousScore *int                 `json:"previous_score,omitempty"`
	Delta         int                  `json:"delta"`
	Skills        model.SkillVector    `json:"skills"`
	BCM           model.BCMResult      `json:"bcm"`
	Breakdown     model.ScoreBreakdown `json:"breakdown"`
	Confidence    float64              `json:"confidence"`
	Tier          string               `json:"tier"`
	ModelVersion  string               `json:"model_version"`
	EvidenceIDs   []string             `json:"evidence_ids"`
}

// ComputeForgeScoreV3 runs dimensions, BCM, composite, mapping and the
// guardrails in order: decay, tenure gate, movement cap, final clamp.
func ComputeForgeScoreV3(in Input) Result {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	m := in.Model
	caps := m.Caps

	agg := Aggregate(in.Evidence, now)
	skills := Dimensions(agg)

	tenureStart := in.TenureStart
	if tenureStart == nil {
		tenureStart = earliest(in.Evidence)
	}
	tenureDays := TenureDays(tenureStart, now)

	bcm := ComputeBCM(BCMInput{
		BuilderID:    in.BuilderID,
		Evidence:     in.Evidence,
		TenureDays:   tenureDays,
		Previous:     in.PreviousSkills,
		Current:      skills,
		Attestations: in.Attestations,
	}, caps)

	composite := m.Weights.EC*float64(skills.EC) +
		m.Weights.AOI*float64(skills.AOI) +
		m.Weights.RC*float64(skills.RC) +
		m.Weights.LPI*float64(skills.LPI)

	var boost float64
	if in.LegacyScoreV2 != nil && agg.EvidenceTotal < m.Weights.SelfReportThreshold {
		boost = m.Weights.SelfReportMax * *in.LegacyScoreV2
		composite = math.Min(100, composite+boost)
	}
	adjusted := composite * bcm.Multiplier

	mapped := MapTo3Digit(adjusted)
	recency := 0.0
	if agg.HasRecency {
		recency = agg.RecencyDays
	}
	afterDecay := ApplyInactivityDecay(mapped, recency, caps)
	afterGate := ApplyTenureGates(afterDecay, TenureMonths(tenureDays), caps)
	afterCap := ApplyMovementCaps(afterGate, in.PreviousScore, in.HasMilestone, caps)
	score := clampScore(afterCap)

	delta := 0
	if in.PreviousScore != nil {
		delta = score - *in.PreviousScore
	}

	tier := m.TierFor(score)
	ids := make([]string, 0, len(in.Evidence))
	for i := range in.Evidence {
		ids = append(ids, in.Evidence[i].ID)
	}

	return Result{
		Score:         score,
		PreviousScore: in.PreviousScore,
		Delta:         delta,
		Skills:        skills,
		BCM:           bcm,
		Breakdown: model.ScoreBreakdown{
			Dimensions:        skills,
			BCM:               bcm,
			Composite:         round2(composite),
			SelfReportBoost:   round2(boost),
			AdjustedComposite: round2(adjusted),
			MappedScore:       mapped,
			AfterDecay:        afterDecay,
			AfterTenureGate:   afterGate,
			AfterMovementCap:  afterCap,
			RecencyDays:       round2(recency),
			TenureDays:        round2(tenureDays),
			EvidenceCount:     agg.EvidenceTotal,
			Tier:              tier,
		},
		Confidence:   Confidence(agg, tenureDays, len(bcm.Flags) > 0),
		Tier:         tier,
		ModelVersion: m.Version,
		EvidenceIDs:  ids,
	}
}

func earliest(evidence []model.Evidence) *time.Time {
	if len(evidence) == 0 {
		return nil
	}
	first := evidence[0].CreatedAt
	for _, ev := range evidence[1:] {
		if ev.CreatedAt.Before(first) {
			first = ev.CreatedAt
		}
	}
	return &first
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
