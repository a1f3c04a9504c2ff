package scorer

import "math"

const (
	confWeightVolume       = 0.35
	confWeightDiversity    = 0.25
	confWeightTenure       = 0.20
	confWeightVerification = 0.20
	anomalyConfidenceScale = 0.7
)

// Confidence rates how much evidence backs a score, independent of the score
// itself. Verification strength averages only the signals that exist; with
// none, its weight is spread over the other components.
func Confidence(a Aggregates, tenureDays float64, flagged bool) float64 {
	volume := saturate(float64(a.EvidenceTotal), 15)
	diversity := clamp01(float64(a.DistinctTypes) / 8)
	tenure := clamp01(tenureDays / 180)

	var signals []float64
	if a.ProbeOK+a.ProbeFail > 0 {
		signals = append(signals, probePassRate(a))
	}
	if a.GitHubVerified+a.GitHubFail > 0 {
		signals = append(signals, githubRate(a))
	}
	if owned := a.StrongOwnership + a.WeakOwnership; owned > 0 {
		signals = append(signals, float64(a.StrongOwnership)/float64(owned))
	}

	var conf float64
	if len(signals) == 0 {
		rest := confWeightVolume + confWeightDiversity + confWeightTenure
		conf = (confWeightVolume*volume + confWeightDiversity*diversity + confWeightTenure*tenure) / rest
	} else {
		var sum float64
		for _, s := range signals {
			sum += s
		}
		conf = confWeightVolume*volume + confWeightDiversity*diversity +
			confWeightTenure*tenure + confWeightVerification*(sum/float64(len(signals)))
	}

	if flagged {
		conf *= anomalyConfidenceScale
	}
	return math.Round(clamp01(conf)*100) / 100
}
