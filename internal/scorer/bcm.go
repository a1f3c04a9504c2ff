package scorer

import (
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/sells-group/forgescore/internal/model"
)

// Detector thresholds and penalties.
const (
	burstinessHigh      = 0.7
	burstinessModerate  = 0.5
	burstinessSteady    = 0.3
	densityMaxPerDay    = 3.0
	skillJumpMax        = 40
	cloneMinGroup       = 3
	cloneProbThreshold  = 0.3
	ringRatioThreshold  = 0.5
	penaltyHighBurst    = 0.15
	penaltyModerate     = 0.05
	penaltyDensity      = 0.10
	penaltySkillJump    = 0.10
	penaltyClone        = 0.10
	penaltyRing         = 0.10
	bonusSteadyVeteran  = 0.05
	veteranTenureDays   = 120
	minBurstinessBins   = 4
	minBurstinessEvents = 2
)

// BCMInput is everything the behavioral coherence detector reads. TenureDays
// is the time since the builder's first evidence. Attestations are
// TEAM_ATTESTATION rows where the builder is either the subject or the
// attester.
type BCMInput struct {
	BuilderID    string
	Evidence     []model.Evidence
	TenureDays   float64
	Previous     *model.SkillVector
	Current      model.SkillVector
	Attestations []model.Evidence
}

// ComputeBCM returns the trust multiplier and the flags that fired. The
// multiplier starts at 1.0, takes additive penalties and is clamped to the
// model's [BCMMin, BCMMax] range, itself bounded by [0.6, 1.05].
func ComputeBCM(in BCMInput, caps model.ModelCaps) model.BCMResult {
	res := model.BCMResult{Multiplier: 1.0, Flags: []string{}}

	res.Burstiness = Burstiness(in.Evidence)
	switch {
	case res.Burstiness > burstinessHigh:
		res.Multiplier -= penaltyHighBurst
		res.Flags = append(res.Flags, model.FlagHighBurstiness)
	case res.Burstiness > burstinessModerate:
		res.Multiplier -= penaltyModerate
	}

	res.EvidenceDensity = float64(len(in.Evidence)) / math.Max(1, in.TenureDays)
	if res.EvidenceDensity > densityMaxPerDay {
		res.Multiplier -= penaltyDensity
		res.Flags = append(res.Flags, model.FlagAbnormalEvidenceDensity)
	}

	if in.Previous != nil {
		res.MaxSkillJump = maxJump(*in.Previous, in.Current)
		if res.MaxSkillJump > skillJumpMax {
			res.Multiplier -= penaltySkillJump
			res.Flags = append(res.Flags, model.FlagSuspiciousSkillJump)
		}
	}

	res.TemplateCloneProb = TemplateCloneProbability(in.Evidence)
	if res.TemplateCloneProb > cloneProbThreshold {
		res.Multiplier -= penaltyClone
		res.Flags = append(res.Flags, model.FlagTemplateClone)
	}

	res.AttestationRingRate = AttestationRingScore(in.BuilderID, in.Attestations)
	if res.AttestationRingRate > ringRatioThreshold {
		res.Multiplier -= penaltyRing
		res.Flags = append(res.Flags, model.FlagAttestationRing)
	}

	if in.TenureDays > veteranTenureDays && res.Burstiness < burstinessSteady && len(res.Flags) == 0 {
		res.Multiplier += bonusSteadyVeteran
	}

	lo := math.Max(0.6, caps.BCMMin)
	hi := math.Min(1.05, caps.BCMMax)
	if hi < lo {
		lo, hi = 0.6, 1.05
	}
	res.Multiplier = math.Max(lo, math.Min(hi, res.Multiplier))
	return res
}

// Burstiness is the Gini coefficient of weekly evidence counts. Timestamps
// are bucketed into at least four weekly bins spanning the first to the last
// row. Fewer than two rows have no meaningful distribution and score 0.
func Burstiness(evidence []model.Evidence) float64 {
	if len(evidence) < minBurstinessEvents {
		return 0
	}
	first, last := evidence[0].CreatedAt, evidence[0].CreatedAt
	for _, ev := range evidence[1:] {
		if ev.CreatedAt.Before(first) {
			first = ev.CreatedAt
		}
		if ev.CreatedAt.After(last) {
			last = ev.CreatedAt
		}
	}

	bins := max(minBurstinessBins, int(last.Sub(first)/week)+1)
	counts := make([]float64, bins)
	for _, ev := range evidence {
		idx := min(int(ev.CreatedAt.Sub(first)/week), bins-1)
		counts[idx]++
	}
	return Gini(counts)
}

// Gini returns the Gini coefficient of non-negative values: 0 for a perfectly
// even distribution, approaching 1 as mass concentrates in one value.
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum, weighted float64
	for i, v := range sorted {
		sum += v
		weighted += float64(i+1) * v
	}
	if sum == 0 {
		return 0
	}
	return 2*weighted/(float64(n)*sum) - float64(n+1)/float64(n)
}

func maxJump(prev, cur model.SkillVector) int {
	p, c := prev.Values(), cur.Values()
	best := 0
	for i := range p {
		d := c[i] - p[i]
		if d < 0 {
			d = -d
		}
		best = max(best, d)
	}
	return best
}

// TemplateCloneProbability groups REPO_STACK_INFERRED rows by their
// case-folded, sorted language set. The largest group of at least three
// identical stacks yields (size-2)/5, capped at 1.
func TemplateCloneProbability(evidence []model.Evidence) float64 {
	folder := cases.Fold()
	groups := make(map[string]int)
	for i := range evidence {
		if evidence[i].Type != model.EvidenceRepoStackInferred {
			continue
		}
		p, ok := evidence[i].Payload.(*model.RepoStackPayload)
		if !ok || len(p.Languages) == 0 {
			continue
		}
		set := make(map[string]bool, len(p.Languages))
		for _, l := range p.Languages {
			set[folder.String(strings.TrimSpace(l))] = true
		}
		langs := make([]string, 0, len(set))
		for l := range set {
			langs = append(langs, l)
		}
		sort.Strings(langs)
		groups[strings.Join(langs, ",")]++
	}

	largest := 0
	for _, n := range groups {
		largest = max(largest, n)
	}
	if largest < cloneMinGroup {
		return 0
	}
	return math.Min(1, float64(largest-2)/5)
}

// AttestationRingScore is the share of the builder's distinct attesters for
// whom the builder attested back. Only direct reciprocal pairs are detected.
func AttestationRingScore(builderID string, attestations []model.Evidence) float64 {
	attesters := make(map[string]bool)
	attestedFor := make(map[string]bool)
	for i := range attestations {
		ev := &attestations[i]
		if ev.Type != model.EvidenceTeamAttestation || ev.Superseded() {
			continue
		}
		attester := ev.AttesterID()
		if attester == "" || attester == ev.BuilderID {
			continue
		}
		switch {
		case ev.BuilderID == builderID:
			attesters[attester] = true
		case attester == builderID:
			attestedFor[ev.BuilderID] = true
		}
	}
	if len(attesters) == 0 {
		return 0
	}
	reciprocal := 0
	for a := range attesters {
		if attestedFor[a] {
			reciprocal++
		}
	}
	return float64(reciprocal) / float64(len(attesters))
}

// TenureDays is the span from start to now in days, never negative.
func TenureDays(start *time.Time, now time.Time) float64 {
	if start == nil || start.IsZero() {
		return 0
	}
	return math.Max(0, now.Sub(*start).Hours()/24)
}
