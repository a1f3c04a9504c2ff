package model

import (
	"encoding/json"
	"time"
)

// EvidenceType is the closed set of evidence kinds the ledger accepts.
type EvidenceType string

const (
	EvidenceDeliverySubmitted     EvidenceType = "DELIVERY_SUBMITTED"
	EvidenceDeliveryVerified      EvidenceType = "DELIVERY_VERIFIED"
	EvidenceDeliverySustained     EvidenceType = "DELIVERY_SUSTAINED"
	EvidenceHTTPProbeOK           EvidenceType = "DEPLOYMENT_HTTP_PROBE_OK"
	EvidenceHTTPProbeFail         EvidenceType = "DEPLOYMENT_HTTP_PROBE_FAIL"
	EvidenceGitHubContributorOK   EvidenceType = "GITHUB_CONTRIBUTOR_VERIFIED"
	EvidenceGitHubContributorFail EvidenceType = "GITHUB_CONTRIBUTOR_FAIL"
	EvidenceRepoStackInferred     EvidenceType = "REPO_STACK_INFERRED"
	EvidenceStackDepthInferred    EvidenceType = "STACK_DEPTH_INFERRED"
	EvidenceOwnershipStrong       EvidenceType = "OWNERSHIP_VERIFIED_STRONG"
	EvidenceOwnershipWeak         EvidenceType = "OWNERSHIP_VERIFIED_WEAK"
	EvidenceRepoComplexity        EvidenceType = "REPO_COMPLEXITY_SIGNAL"
	EvidenceArchitectureDecision  EvidenceType = "ARCHITECTURE_DECISION_LOGGED"
	EvidencePRReview              EvidenceType = "PR_REVIEW_COMPLETED"
	EvidenceProjectJoined         EvidenceType = "PROJECT_JOINED"
	EvidenceProjectCompleted      EvidenceType = "PROJECT_COMPLETED"
	EvidenceProjectAbandoned      EvidenceType = "PROJECT_ABANDONED"
	EvidenceTeamCompleted         EvidenceType = "TEAM_COMPLETED"
	EvidenceNoShow                EvidenceType = "NO_SHOW"
	EvidenceGhostDeparture        EvidenceType = "GHOST_DEPARTURE"
	EvidenceCleanDeparture        EvidenceType = "CLEAN_DEPARTURE"
	EvidenceLateDelivery          EvidenceType = "LATE_DELIVERY"
	EvidenceTeamAttestation       EvidenceType = "TEAM_ATTESTATION"
	EvidenceLiveChallengePassed   EvidenceType = "LIVE_CHALLENGE_PASSED"
	EvidenceAnomalyFlagged        EvidenceType = "ANOMALY_FLAGGED"
	EvidenceManualAdjustment      EvidenceType = "MANUAL_ADJUSTMENT"
)

// AllEvidenceTypes lists every accepted evidence type in declaration order.
var AllEvidenceTypes = []EvidenceType{
	EvidenceDeliverySubmitted,
	EvidenceDeliveryVerified,
	EvidenceDeliverySustained,
	EvidenceHTTPProbeOK,
	EvidenceHTTPProbeFail,
	EvidenceGitHubContributorOK,
	EvidenceGitHubContributorFail,
	EvidenceRepoStackInferred,
	EvidenceStackDepthInferred,
	EvidenceOwnershipStrong,
	EvidenceOwnershipWeak,
	EvidenceRepoComplexity,
	EvidenceArchitectureDecision,
	EvidencePRReview,
	EvidenceProjectJoined,
	EvidenceProjectCompleted,
	EvidenceProjectAbandoned,
	EvidenceTeamCompleted,
	EvidenceNoShow,
	EvidenceGhostDeparture,
	EvidenceCleanDeparture,
	EvidenceLateDelivery,
	EvidenceTeamAttestation,
	EvidenceLiveChallengePassed,
	EvidenceAnomalyFlagged,
	EvidenceManualAdjustment,
}

var evidenceTypeSet = func() map[EvidenceType]bool {
	m := make(map[EvidenceType]bool, len(AllEvidenceTypes))
	for _, t := range AllEvidenceTypes {
		m[t] = true
	}
	return m
}()

// Valid reports whether t is a known evidence type.
func (t EvidenceType) Valid() bool {
	return evidenceTypeSet[t]
}

// IsMilestone reports whether evidence of this type permits the wider
// milestone movement cap.
func (t EvidenceType) IsMilestone() bool {
	return t == EvidenceDeliveryVerified || t == EvidenceProjectCompleted
}

// EvidenceSource identifies who or what produced a piece of evidence.
type EvidenceSource string

const (
	SourceProbeHTTP       EvidenceSource = "probe_http"
	SourceProbeGitHub     EvidenceSource = "probe_github"
	SourceProbeStack      EvidenceSource = "probe_stack"
	SourcePlatformEvent   EvidenceSource = "platform_event"
	SourceUserAction      EvidenceSource = "user_action"
	SourceAnomalyDetector EvidenceSource = "anomaly_detector"
	SourceAttestation     EvidenceSource = "attestation"
	SourceSystem          EvidenceSource = "system"
)

// Valid reports whether s is a known evidence source.
func (s EvidenceSource) Valid() bool {
	switch s {
	case SourceProbeHTTP, SourceProbeGitHub, SourceProbeStack, SourcePlatformEvent,
		SourceUserAction, SourceAnomalyDetector, SourceAttestation, SourceSystem:
		return true
	}
	return false
}

// StampsOwnTime reports whether the source may supply its own event time.
// Only platform-internal producers do; every other row is stamped at ingest.
func (s EvidenceSource) StampsOwnTime() bool {
	return s == SourcePlatformEvent || s == SourceSystem
}

// Evidence is one immutable row of the evidence ledger.
type Evidence struct {
	ID           string         `json:"id"`
	BuilderID    string         `json:"builder_id"`
	ProjectID    string         `json:"project_id,omitempty"`
	DeliveryID   string         `json:"delivery_id,omitempty"`
	Type         EvidenceType   `json:"type"`
	Source       EvidenceSource `json:"source"`
	Payload      Payload        `json:"payload"`
	Confidence   float64        `json:"confidence"`
	Hash         string         `json:"hash"`
	SupersededBy string         `json:"superseded_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Superseded reports whether a newer row has retired this one.
func (e *Evidence) Superseded() bool {
	return e.SupersededBy != ""
}

// AttesterID returns the attesting builder for TEAM_ATTESTATION evidence.
func (e *Evidence) AttesterID() string {
	if p, ok := e.Payload.(*AttestationPayload); ok {
		return p.AttesterID
	}
	return ""
}

// evidenceJSON mirrors Evidence with a raw payload so decoding can dispatch
// on the type field.
type evidenceJSON struct {
	ID           string          `json:"id"`
	BuilderID    string          `json:"builder_id"`
	ProjectID    string          `json:"project_id,omitempty"`
	DeliveryID   string          `json:"delivery_id,omitempty"`
	Type         EvidenceType    `json:"type"`
	Source       EvidenceSource  `json:"source"`
	Payload      json.RawMessage `json:"payload"`
	Confidence   float64         `json:"confidence"`
	Hash         string          `json:"hash"`
	SupersededBy string          `json:"superseded_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UnmarshalJSON decodes the payload into the shape registered for the type.
func (e *Evidence) UnmarshalJSON(data []byte) error {
	var raw evidenceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*e = Evidence{
		ID:           raw.ID,
		BuilderID:    raw.BuilderID,
		ProjectID:    raw.ProjectID,
		DeliveryID:   raw.DeliveryID,
		Type:         raw.Type,
		Source:       raw.Source,
		Payload:      p,
		Confidence:   raw.Confidence,
		Hash:         raw.Hash,
		SupersededBy: raw.SupersededBy,
		CreatedAt:    raw.CreatedAt,
	}
	return nil
}
