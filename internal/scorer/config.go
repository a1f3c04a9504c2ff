// Package scorer computes ForgeScore V3: four evidence-derived dimensions,
// the behavioral coherence multiplier, sigmoid mapping to 100-999 and the
// guardrails applied on top.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forgescore/internal/model"
)

// WeightSum returns the sum of the four dimension weights.
func WeightSum(w model.ModelWeights) float64 {
	return w.EC + w.AOI + w.RC + w.LPI
}

// ValidateModel checks that a scoring model is internally consistent.
func ValidateModel(m model.ScoringModelVersion) error {
	var errs []string

	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, "version is required")
	}

	weights := map[string]float64{
		"ec":              m.Weights.EC,
		"aoi":             m.Weights.AOI,
		"rc":              m.Weights.RC,
		"lpi":             m.Weights.LPI,
		"self_report_max": m.Weights.SelfReportMax,
	}
	for name, w := range weights {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Sprintf("weights.%s must be in [0,1]", name))
		}
	}

	// Dimension weights should sum to 1 (allow tolerance for floating-point).
	if sum := WeightSum(m.Weights); math.Abs(sum-1) > 0.01 {
		errs = append(errs, fmt.Sprintf("dimension weights should sum to 1, got %.3f", sum))
	}
	if m.Weights.SelfReportThreshold < 0 {
		errs = append(errs, "weights.self_report_threshold must be >= 0")
	}

	c := m.Caps
	if c.NormalDeltaMax <= 0 {
		errs = append(errs, "caps.normal_delta_max must be > 0")
	}
	if c.MilestoneDeltaMax < c.NormalDeltaMax {
		errs = append(errs, "caps.milestone_delta_max must be >= normal_delta_max")
	}
	if c.Tier800MinMonths < 0 || c.Tier900MinMonths < c.Tier800MinMonths {
		errs = append(errs, "caps.tier_900_min_months must be >= tier_800_min_months >= 0")
	}
	if c.InactivityDecayStartDays < 0 || c.InactivityDecayRatePerDay < 0 {
		errs = append(errs, "caps inactivity decay values must be >= 0")
	}
	if c.BCMMin < 0.6 || c.BCMMax > 1.05 || c.BCMMin > c.BCMMax {
		errs = append(errs, "caps bcm range must lie within [0.6, 1.05]")
	}

	seen := make(map[string]bool, len(m.Tiers))
	for _, t := range m.Tiers {
		if t.Name == "" {
			errs = append(errs, "tier name is required")
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Sprintf("duplicate tier %q", t.Name))
		}
		seen[t.Name] = true
		if t.Floor < minScore || t.Floor > maxScore {
			errs = append(errs, fmt.Sprintf("tier %q floor must be in [100,999]", t.Name))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: model validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
