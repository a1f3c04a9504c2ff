package scorer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forgescore/internal/model"
)

var defaultCaps = model.DefaultScoringModel().Caps

func TestGini(t *testing.T) {
	assert.InDelta(t, 0, Gini([]float64{3, 3, 3, 3}), 1e-9)
	assert.InDelta(t, 0.75, Gini([]float64{0, 0, 0, 12}), 1e-9)
	assert.InDelta(t, 0, Gini([]float64{0, 0}), 1e-9)
	assert.InDelta(t, 0, Gini(nil), 1e-9)
}

func TestBurstiness(t *testing.T) {
	steady := newEvidence("b")
	for w := 0; w < 20; w++ {
		steady.add(float64(w*7), model.EvidencePRReview, 1, nil)
	}
	assert.InDelta(t, 0, Burstiness(steady.rows), 1e-9)

	assert.Greater(t, Burstiness(spammerRows()), burstinessHigh, "one bin of four holds everything")
	assert.Zero(t, Burstiness(newEvidence("b").add(1, model.EvidenceNoShow, 1, nil).rows))
}

func TestComputeBCM_EmptyEvidenceNearNeutral(t *testing.T) {
	res := ComputeBCM(BCMInput{BuilderID: "b"}, defaultCaps)
	assert.InDelta(t, 1.0, res.Multiplier, 1e-9)
	assert.Empty(t, res.Flags)
}

func TestComputeBCM_SteadyVeteranBonus(t *testing.T) {
	b := newEvidence("vet")
	for w := 0; w < 30; w++ {
		b.add(float64(w*7)+1, model.EvidenceDeliveryVerified, 1, &model.DeliveryPayload{Title: fmt.Sprintf("week %d", w)})
	}
	res := ComputeBCM(BCMInput{BuilderID: "vet", Evidence: b.rows, TenureDays: 210}, defaultCaps)
	assert.Empty(t, res.Flags)
	assert.GreaterOrEqual(t, res.Multiplier, 1.0)
	assert.LessOrEqual(t, res.Multiplier, 1.05)
}

func TestComputeBCM_SpammerFlags(t *testing.T) {
	rows := spammerRows()
	res := ComputeBCM(BCMInput{BuilderID: "spammer", Evidence: rows, TenureDays: 1}, defaultCaps)
	assert.Contains(t, res.Flags, model.FlagHighBurstiness)
	assert.Contains(t, res.Flags, model.FlagAbnormalEvidenceDensity)
	assert.InDelta(t, 0.75, res.Multiplier, 1e-9)
}

func TestComputeBCM_SkillJump(t *testing.T) {
	prev := model.SkillVector{EC: 20, AOI: 20, RC: 20, LPI: 20}
	res := ComputeBCM(BCMInput{
		BuilderID: "b",
		Previous:  &prev,
		Current:   model.SkillVector{EC: 20, AOI: 75, RC: 20, LPI: 20},
	}, defaultCaps)
	assert.Equal(t, 55, res.MaxSkillJump)
	assert.Contains(t, res.Flags, model.FlagSuspiciousSkillJump)

	res = ComputeBCM(BCMInput{BuilderID: "b", Current: model.SkillVector{EC: 90}}, defaultCaps)
	assert.NotContains(t, res.Flags, model.FlagSuspiciousSkillJump, "no previous vector")
}

func TestComputeBCM_TemplateClone(t *testing.T) {
	b := newEvidence("cloner")
	stacks := [][]string{
		{"Go", "TypeScript"},
		{"typescript", "go"},
		{"TYPESCRIPT", "Go"},
		{"Go", "TypeScript", "go"},
		{"TypeScript", "Go"},
	}
	for i, langs := range stacks {
		b.add(float64(60-i*12), model.EvidenceRepoStackInferred, 0.8, &model.RepoStackPayload{
			RepoURL:   fmt.Sprintf("https://github.com/cloner/app-%d", i),
			Languages: langs,
		})
	}

	assert.InDelta(t, 0.6, TemplateCloneProbability(b.rows), 1e-9)
	res := ComputeBCM(BCMInput{BuilderID: "cloner", Evidence: b.rows, TenureDays: 60}, defaultCaps)
	assert.Contains(t, res.Flags, model.FlagTemplateClone)
	assert.Less(t, res.Multiplier, 1.0)
}

func TestTemplateCloneProbability_BelowGroupMinimum(t *testing.T) {
	b := newEvidence("b")
	for i := 0; i < 2; i++ {
		b.add(float64(i), model.EvidenceRepoStackInferred, 0.8, &model.RepoStackPayload{Languages: []string{"Go"}})
	}
	b.add(3, model.EvidenceRepoStackInferred, 0.8, &model.RepoStackPayload{Languages: []string{"Rust"}})
	assert.Zero(t, TemplateCloneProbability(b.rows))
}

func TestComputeBCM_TemplateCloneGroupBoundary(t *testing.T) {
	tests := []struct {
		repos   int
		prob    float64
		flagged bool
	}{
		{repos: 3, prob: 0.2, flagged: false},
		{repos: 4, prob: 0.4, flagged: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d repos", tt.repos), func(t *testing.T) {
			b := newEvidence("b")
			for i := 0; i < tt.repos; i++ {
				b.add(float64(60-i*12), model.EvidenceRepoStackInferred, 0.8, &model.RepoStackPayload{
					RepoURL:   fmt.Sprintf("https://github.com/b/app-%d", i),
					Languages: []string{"Go", "TypeScript"},
				})
			}

			assert.InDelta(t, tt.prob, TemplateCloneProbability(b.rows), 1e-9)
			res := ComputeBCM(BCMInput{BuilderID: "b", Evidence: b.rows, TenureDays: 60}, defaultCaps)
			if tt.flagged {
				assert.Contains(t, res.Flags, model.FlagTemplateClone)
			} else {
				assert.NotContains(t, res.Flags, model.FlagTemplateClone)
			}
		})
	}
}

func TestComputeBCM_AttestationRing(t *testing.T) {
	var atts []model.Evidence
	for i := 2; i <= 6; i++ {
		peer := fmt.Sprintf("b-%d", i)
		atts = append(atts,
			model.Evidence{BuilderID: "b-1", Type: model.EvidenceTeamAttestation, Payload: &model.AttestationPayload{AttesterID: peer}},
			model.Evidence{BuilderID: peer, Type: model.EvidenceTeamAttestation, Payload: &model.AttestationPayload{AttesterID: "b-1"}},
		)
	}

	assert.InDelta(t, 1.0, AttestationRingScore("b-1", atts), 1e-9)
	res := ComputeBCM(BCMInput{BuilderID: "b-1", Attestations: atts}, defaultCaps)
	assert.Contains(t, res.Flags, model.FlagAttestationRing)
	assert.Less(t, res.Multiplier, 1.0)
}

func TestAttestationRingScore_OneWay(t *testing.T) {
	atts := []model.Evidence{
		{BuilderID: "b-1", Type: model.EvidenceTeamAttestation, Payload: &model.AttestationPayload{AttesterID: "b-2"}},
		{BuilderID: "b-1", Type: model.EvidenceTeamAttestation, Payload: &model.AttestationPayload{AttesterID: "b-3"}},
		{BuilderID: "b-2", Type: model.EvidenceTeamAttestation, Payload: &model.AttestationPayload{AttesterID: "b-1"}},
		{BuilderID: "b-1", Type: model.EvidenceTeamAttestation, Payload: &model.AttestationPayload{AttesterID: "b-1"}},
	}
	assert.InDelta(t, 0.5, AttestationRingScore("b-1", atts), 1e-9)
	assert.Zero(t, AttestationRingScore("b-9", atts))
}

func TestComputeBCM_RangeHolds(t *testing.T) {
	prev := model.SkillVector{}
	var atts []model.Evidence
	for i := 0; i < 4; i++ {
		peer := fmt.Sprintf("p-%d", i)
		atts = append(atts,
			model.Evidence{BuilderID: "spammer", Type: model.EvidenceTeamAttestation, Payload: &model.AttestationPayload{AttesterID: peer}},
			model.Evidence{BuilderID: peer, Type: model.EvidenceTeamAttestation, Payload: &model.AttestationPayload{AttesterID: "spammer"}},
		)
	}
	rows := spammerRows()
	for i := 0; i < 6; i++ {
		rows = append(rows, model.Evidence{
			Type:      model.EvidenceRepoStackInferred,
			Payload:   &model.RepoStackPayload{Languages: []string{"Go"}},
			CreatedAt: fixtureNow,
		})
	}

	res := ComputeBCM(BCMInput{
		BuilderID:    "spammer",
		Evidence:     rows,
		TenureDays:   1,
		Previous:     &prev,
		Current:      model.SkillVector{EC: 90},
		Attestations: atts,
	}, defaultCaps)
	require.Len(t, res.Flags, 5)
	assert.InDelta(t, 0.6, res.Multiplier, 1e-9, "penalties stop at the floor")

	for _, fixture := range [][]model.Evidence{nil, honestRows(), ghosterRows(), spammerRows()} {
		r := ComputeBCM(BCMInput{BuilderID: "x", Evidence: fixture, TenureDays: 90}, defaultCaps)
		assert.GreaterOrEqual(t, r.Multiplier, 0.6)
		assert.LessOrEqual(t, r.Multiplier, 1.05)
	}
}
