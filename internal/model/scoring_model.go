package model

import "time"

// DefaultModelVersion identifies the built-in scoring model used when no
// version is configured.
const DefaultModelVersion = "v3.0.0-default"

// ModelWeights are the composite weights for the four dimensions plus the
// legacy self-report fallback.
type ModelWeights struct {
	EC                  float64 `json:"ec" yaml:"ec"`
	AOI                 float64 `json:"aoi" yaml:"aoi"`
	RC                  float64 `json:"rc" yaml:"rc"`
	LPI                 float64 `json:"lpi" yaml:"lpi"`
	SelfReportMax       float64 `json:"self_report_max" yaml:"self_report_max"`
	SelfReportThreshold int     `json:"self_report_threshold" yaml:"self_report_threshold"`
}

// ModelCaps are the guardrail parameters of a scoring model.
type ModelCaps struct {
	NormalDeltaMax            int     `json:"normal_delta_max" yaml:"normal_delta_max"`
	MilestoneDeltaMax         int     `json:"milestone_delta_max" yaml:"milestone_delta_max"`
	Tier800MinMonths          float64 `json:"tier_800_min_months" yaml:"tier_800_min_months"`
	Tier900MinMonths          float64 `json:"tier_900_min_months" yaml:"tier_900_min_months"`
	InactivityDecayStartDays  int     `json:"inactivity_decay_start_days" yaml:"inactivity_decay_start_days"`
	InactivityDecayRatePerDay float64 `json:"inactivity_decay_rate_per_day" yaml:"inactivity_decay_rate_per_day"`
	BCMMin                    float64 `json:"bcm_min" yaml:"bcm_min"`
	BCMMax                    float64 `json:"bcm_max" yaml:"bcm_max"`
}

// Tier is a named score band starting at Floor.
type Tier struct {
	Name  string `json:"name" yaml:"name"`
	Floor int    `json:"floor" yaml:"floor"`
}

// ScoringModelVersion is an immutable scoring configuration. Every computed
// score records the version that produced it.
type ScoringModelVersion struct {
	Version       string       `json:"version" yaml:"version"`
	Weights       ModelWeights `json:"weights" yaml:"weights"`
	Caps          ModelCaps    `json:"caps" yaml:"caps"`
	Tiers         []Tier       `json:"tier_config" yaml:"tier_config"`
	EffectiveFrom time.Time    `json:"effective_from" yaml:"effective_from"`
	DeprecatedAt  *time.Time   `json:"deprecated_at,omitempty" yaml:"deprecated_at,omitempty"`
}

// Active reports whether the version has not been deprecated.
func (m *ScoringModelVersion) Active() bool {
	return m.DeprecatedAt == nil
}

// TierFor returns the name of the highest tier whose floor is at or below score.
func (m *ScoringModelVersion) TierFor(score int) string {
	name := ""
	best := -1
	for _, t := range m.Tiers {
		if t.Floor <= score && t.Floor > best {
			best = t.Floor
			name = t.Name
		}
	}
	return name
}

// DefaultScoringModel returns the built-in model. It is a fresh value on every
// call so callers can never mutate the shared default.
func DefaultScoringModel() ScoringModelVersion {
	return ScoringModelVersion{
		Version: DefaultModelVersion,
		Weights: ModelWeights{
			EC:                  0.30,
			AOI:                 0.20,
			RC:                  0.30,
			LPI:                 0.20,
			SelfReportMax:       0.10,
			SelfReportThreshold: 5,
		},
		Caps: ModelCaps{
			NormalDeltaMax:            35,
			MilestoneDeltaMax:         70,
			Tier800MinMonths:          4,
			Tier900MinMonths:          6,
			InactivityDecayStartDays:  30,
			InactivityDecayRatePerDay: 0.5,
			BCMMin:                    0.6,
			BCMMax:                    1.05,
		},
		Tiers: []Tier{
			{Name: "Emerging", Floor: 100},
			{Name: "Proven", Floor: 500},
			{Name: "Trusted", Floor: 700},
			{Name: "Elite", Floor: 800},
			{Name: "Legendary", Floor: 900},
		},
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
