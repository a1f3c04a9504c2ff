package scorer

import (
	"math"
	"time"

	"github.com/sells-group/forgescore/internal/model"
)

const (
	day  = 24 * time.Hour
	week = 7 * day

	deliveryWindowDays = 180
	activityWeeks      = 12
	stackCategories    = 7
)

// Aggregates are the evidence-derived counts the dimension calculators read.
// Zero values mean "no evidence of that kind".
type Aggregates struct {
	Verified        int
	Sustained       int
	TeamCompleted   int
	Deliveries6M    int
	ActivityRatio   float64
	RecencyDays     float64
	HasRecency      bool
	EvidenceTotal   int
	StackCategories int
	StrongOwnership int
	WeakOwnership   int
	Complexity      int
	ADRs            int
	PRReviews       int
	Joined          int
	Completed       int
	Abandoned       int
	NoShows         int
	Ghosted         int
	Late            int
	CleanDepartures int
	Attestations    int
	ProbeOK         int
	ProbeFail       int
	ProbeOKConf     float64
	GitHubVerified  int
	GitHubFail      int
	LiveChallenges  int
	DistinctTypes   int
}

// Aggregate reduces an evidence snapshot to counts as of now.
func Aggregate(evidence []model.Evidence, now time.Time) Aggregates {
	var a Aggregates
	types := make(map[model.EvidenceType]bool)
	var weeks [activityWeeks]bool
	var latest time.Time

	for i := range evidence {
		ev := &evidence[i]
		a.EvidenceTotal++
		types[ev.Type] = true
		if ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}
		if age := now.Sub(ev.CreatedAt); age >= 0 {
			if w := int(age / week); w < activityWeeks {
				weeks[w] = true
			}
		}

		switch ev.Type {
		case model.EvidenceDeliveryVerified:
			a.Verified++
			a.countDelivery(ev, now)
		case model.EvidenceDeliverySubmitted:
			a.countDelivery(ev, now)
		case model.EvidenceDeliverySustained:
			a.Sustained++
		case model.EvidenceTeamCompleted:
			a.TeamCompleted++
		case model.EvidenceStackDepthInferred:
			if p, ok := ev.Payload.(*model.StackDepthPayload); ok && p.Categories > a.StackCategories {
				a.StackCategories = p.Categories
			}
		case model.EvidenceOwnershipStrong:
			a.StrongOwnership++
		case model.EvidenceOwnershipWeak:
			a.WeakOwnership++
		case model.EvidenceRepoComplexity:
			a.Complexity++
		case model.EvidenceArchitectureDecision:
			a.ADRs++
		case model.EvidencePRReview:
			a.PRReviews++
		case model.EvidenceProjectJoined:
			a.Joined++
		case model.EvidenceProjectCompleted:
			a.Completed++
		case model.EvidenceProjectAbandoned:
			a.Abandoned++
		case model.EvidenceNoShow:
			a.NoShows++
		case model.EvidenceGhostDeparture:
			a.Ghosted++
		case model.EvidenceLateDelivery:
			a.Late++
		case model.EvidenceCleanDeparture:
			a.CleanDepartures++
		case model.EvidenceTeamAttestation:
			a.Attestations++
		case model.EvidenceHTTPProbeOK:
			a.ProbeOK++
			a.ProbeOKConf += ev.Confidence
		case model.EvidenceHTTPProbeFail:
			a.ProbeFail++
		case model.EvidenceGitHubContributorOK:
			a.GitHubVerified++
		case model.EvidenceGitHubContributorFail:
			a.GitHubFail++
		case model.EvidenceLiveChallengePassed:
			a.LiveChallenges++
		}
	}

	active := 0
	for _, w := range weeks {
		if w {
			active++
		}
	}
	a.ActivityRatio = float64(active) / activityWeeks
	a.DistinctTypes = len(types)
	if !latest.IsZero() {
		a.HasRecency = true
		a.RecencyDays = math.Max(0, now.Sub(latest).Hours()/24)
	}
	return a
}

func (a *Aggregates) countDelivery(ev *model.Evidence, now time.Time) {
	if now.Sub(ev.CreatedAt) <= deliveryWindowDays*day {
		a.Deliveries6M++
	}
}

// saturate maps a non-negative count onto [0,1) with the given scale.
func saturate(x, scale float64) float64 {
	return 1 - math.Exp(-x/scale)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// toDimension rounds a [0,1] value to an integer 0-100.
func toDimension(x float64) int {
	return int(math.Round(clamp01(x) * 100))
}

// ExecutionConsistency scores shipped and sustained work, cadence, recent
// activity and evidence volume.
func ExecutionConsistency(a Aggregates) int {
	base := saturate(float64(a.Verified)+1.5*float64(a.Sustained)+0.5*float64(a.TeamCompleted), 8)
	cadence := saturate(float64(a.Deliveries6M), 3)
	recency := 0.0
	if a.HasRecency {
		recency = math.Exp(-a.RecencyDays / 90)
	}
	volume := saturate(float64(a.EvidenceTotal), 20)

	return toDimension(0.40*base + 0.20*cadence + 0.15*a.ActivityRatio + 0.15*recency + 0.10*volume)
}

// OwnershipDepth scores stack breadth, verified ownership, repo complexity,
// architecture decisions and review work.
func OwnershipDepth(a Aggregates) int {
	components := map[string]float64{
		"stack":      clamp01(float64(a.StackCategories) / stackCategories),
		"ownership":  clamp01(float64(a.StrongOwnership) / 3),
		"complexity": clamp01(float64(a.Complexity) / 5),
		"adr":        clamp01(float64(a.ADRs) / 3),
		"reviews":    clamp01(float64(a.PRReviews) / 10),
	}
	weights := map[string]float64{
		"stack":      0.30,
		"ownership":  0.25,
		"complexity": 0.20,
		"adr":        0.15,
		"reviews":    0.10,
	}

	var total float64
	for k, c := range components {
		total += c * weights[k]
	}
	return toDimension(total)
}

// ReliabilityCommitment scores project follow-through. No-shows and ghosted
// departures carry the heaviest penalties.
func ReliabilityCommitment(a Aggregates) int {
	if a.Joined == 0 && a.Completed == 0 {
		return 0
	}
	joined := float64(max(a.Joined, a.Completed))
	completed := float64(a.Completed)

	rate := (completed + 2) / (joined + 3)
	penalty := math.Exp(-(2.5*float64(a.NoShows) + 1.8*float64(a.Ghosted) +
		1.2*float64(a.Abandoned) + 0.6*float64(a.Late)) / joined)
	bonus := math.Min(0.15, 0.03*float64(a.Attestations)) +
		math.Min(0.10, 0.05*float64(a.CleanDepartures))

	return toDimension(rate*penalty + bonus)
}

// LivePerformance scores deployment probes and GitHub verification. The
// live-challenge component is reserved and contributes nothing yet.
func LivePerformance(a Aggregates) int {
	return toDimension(0.40*probePassRate(a) + 0.35*githubRate(a) + 0.25*liveChallengeScore(a))
}

func probePassRate(a Aggregates) float64 {
	n := a.ProbeOK + a.ProbeFail
	if n == 0 {
		return 0
	}
	return a.ProbeOKConf / float64(n)
}

func githubRate(a Aggregates) float64 {
	n := a.GitHubVerified + a.GitHubFail
	if n == 0 {
		return 0
	}
	return float64(a.GitHubVerified) / float64(n)
}

func liveChallengeScore(Aggregates) float64 {
	return 0
}

// Dimensions computes all four dimension scores.
func Dimensions(a Aggregates) model.SkillVector {
	return model.SkillVector{
		EC:  ExecutionConsistency(a),
		AOI: OwnershipDepth(a),
		RC:  ReliabilityCommitment(a),
		LPI: LivePerformance(a),
	}
}
