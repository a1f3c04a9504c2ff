package scorer

import (
	"math"

	"github.com/sells-group/forgescore/internal/model"
)

const (
	minScore = 100
	maxScore = 999

	sigmoidSteepness = 8.0
	daysPerMonth     = 30.0
)

// MapTo3Digit maps an adjusted composite in [0,100] onto 100-999 through a
// logistic curve centred at 50.
func MapTo3Digit(adjusted float64) int {
	t := clamp01(adjusted / 100)
	mapped := 1 / (1 + math.Exp(-sigmoidSteepness*(t-0.5)))
	return clampScore(int(math.Round(minScore + mapped*(maxScore-minScore))))
}

// ApplyInactivityDecay subtracts round((recency-start)*rate) once recency
// passes the decay start. The result never drops below 100.
func ApplyInactivityDecay(score int, recencyDays float64, caps model.ModelCaps) int {
	start := float64(caps.InactivityDecayStartDays)
	if recencyDays <= start {
		return score
	}
	decayed := score - int(math.Round((recencyDays-start)*caps.InactivityDecayRatePerDay))
	return max(minScore, decayed)
}

// ApplyTenureGates holds a score below 900 (800) until the builder has the
// minimum tenure for that band. Thresholds are inclusive.
func ApplyTenureGates(score int, tenureMonths float64, caps model.ModelCaps) int {
	if score >= 900 && tenureMonths < caps.Tier900MinMonths {
		score = 899
	}
	if score >= 800 && tenureMonths < caps.Tier800MinMonths {
		score = 799
	}
	return score
}

// ApplyMovementCaps clamps the change from previous to the normal or
// milestone limit. A first score is applied unclamped.
func ApplyMovementCaps(score int, previous *int, hasMilestone bool, caps model.ModelCaps) int {
	if previous == nil {
		return score
	}
	limit := caps.NormalDeltaMax
	if hasMilestone {
		limit = caps.MilestoneDeltaMax
	}
	delta := score - *previous
	switch {
	case delta > limit:
		return *previous + limit
	case delta < -limit:
		return *previous - limit
	}
	return score
}

// TenureMonths converts tenure days to the 30-day months the gates use.
func TenureMonths(days float64) float64 {
	return days / daysPerMonth
}

func clampScore(score int) int {
	return max(minScore, min(maxScore, score))
}
