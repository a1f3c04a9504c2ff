package scorer

import (
	"fmt"
	"time"

	"github.com/sells-group/forgescore/internal/model"
)

var fixtureNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

// evidenceBuilder accumulates evidence rows aged relative to fixtureNow.
type evidenceBuilder struct {
	builderID string
	rows      []model.Evidence
}

func newEvidence(builderID string) *evidenceBuilder {
	return &evidenceBuilder{builderID: builderID}
}

func (b *evidenceBuilder) add(ageDays float64, t model.EvidenceType, conf float64, payload model.Payload) *evidenceBuilder {
	if payload == nil {
		payload = model.NewPayload(t)
	}
	b.rows = append(b.rows, model.Evidence{
		ID:         fmt.Sprintf("%s-ev-%d", b.builderID, len(b.rows)+1),
		BuilderID:  b.builderID,
		Type:       t,
		Source:     model.SourcePlatformEvent,
		Payload:    payload,
		Confidence: conf,
		CreatedAt:  fixtureNow.Add(-time.Duration(ageDays * float64(24*time.Hour))),
	})
	return b
}

const hour = 1.0 / 24

// honestRows is a six-month builder: five verified deliveries with passing
// probes, sustained deliveries, verified contributions, strong ownership and
// three clean completions.
func honestRows() []model.Evidence {
	b := newEvidence("honest")
	for _, age := range []float64{170, 135, 100, 65, 30} {
		b.add(age, model.EvidenceDeliveryVerified, 1, nil)
		b.add(age-hour, model.EvidenceHTTPProbeOK, 0.95, nil)
	}
	for _, age := range []float64{120, 60, 20} {
		b.add(age, model.EvidenceDeliverySustained, 1, nil)
	}
	addProjects(b, []float64{178, 120, 60}, []float64{130, 70, 15})
	for _, age := range []float64{135, 65, 30} {
		b.add(age-2*hour, model.EvidenceGitHubContributorOK, 0.9, nil)
		b.add(age-3*hour, model.EvidenceOwnershipStrong, 0.9, nil)
	}
	b.add(100, model.EvidenceStackDepthInferred, 1, &model.StackDepthPayload{Categories: 5})
	for _, age := range []float64{100, 30} {
		b.add(age-hour, model.EvidenceRepoComplexity, 0.6, nil)
	}
	b.add(128, model.EvidenceTeamAttestation, 0.8, &model.AttestationPayload{AttesterID: "peer-1", Rating: 5})
	b.add(14, model.EvidenceTeamAttestation, 0.8, &model.AttestationPayload{AttesterID: "peer-2", Rating: 4})
	b.add(14, model.EvidenceCleanDeparture, 1, nil)
	for _, age := range []float64{3, 10, 24, 38, 52, 77} {
		b.add(age, model.EvidencePRReview, 1, nil)
	}
	return b.rows
}

func addProjects(b *evidenceBuilder, joined, completed []float64) {
	for _, age := range joined {
		b.add(age, model.EvidenceProjectJoined, 1, nil)
	}
	for _, age := range completed {
		b.add(age, model.EvidenceProjectCompleted, 1, nil)
	}
}

// spammerRows is twenty submitted deliveries inside a few hours with only
// failed deployment probes.
func spammerRows() []model.Evidence {
	b := newEvidence("spammer")
	for i := 0; i < 20; i++ {
		b.add(1-float64(i)*10/(24*60), model.EvidenceDeliverySubmitted, 1, &model.DeliveryPayload{Title: fmt.Sprintf("commit %d", i)})
	}
	for i := 0; i < 3; i++ {
		b.add(1-float64(4+i)*hour, model.EvidenceHTTPProbeFail, 0.1, &model.HTTPProbePayload{URL: fmt.Sprintf("https://spam-%d.example.com", i)})
	}
	return b.rows
}

// ghosterRows keeps the honest delivery record but no-shows three of four
// joined projects.
func ghosterRows() []model.Evidence {
	b := newEvidence("ghoster")
	for _, ev := range honestRows() {
		switch ev.Type {
		case model.EvidenceProjectJoined, model.EvidenceProjectCompleted,
			model.EvidenceTeamAttestation, model.EvidenceCleanDeparture:
			continue
		}
		ev.BuilderID = b.builderID
		b.rows = append(b.rows, ev)
	}
	addProjects(b, []float64{178, 140, 100, 60}, []float64{120})
	for _, age := range []float64{130, 90, 50} {
		b.add(age, model.EvidenceNoShow, 1, nil)
	}
	return b.rows
}

func inputFor(builderID string, rows []model.Evidence) Input {
	return Input{
		BuilderID: builderID,
		Evidence:  rows,
		Model:     model.DefaultScoringModel(),
		Now:       fixtureNow,
	}
}
