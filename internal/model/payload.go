package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Payload is the type-specific body of an evidence row. Each evidence type
// maps to exactly one concrete payload shape.
type Payload interface {
	payloadKind() string
}

// DeliveryPayload describes a shipped delivery.
type DeliveryPayload struct {
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
	DaysLate int    `json:"days_late,omitempty"`
}

// HTTPProbePayload records the result of a deployment reachability check.
type HTTPProbePayload struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMS  int64  `json:"latency_ms,omitempty"`
	TokenFound bool   `json:"token_found"`
	Error      string `json:"error,omitempty"`
}

// GitHubProbePayload records a contributor lookup against a repository.
type GitHubProbePayload struct {
	RepoURL       string `json:"repo_url"`
	Owner         string `json:"owner,omitempty"`
	Repo          string `json:"repo,omitempty"`
	Username      string `json:"username"`
	Contributions int    `json:"contributions,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RepoStackPayload holds languages and tooling harvested from a repository.
type RepoStackPayload struct {
	RepoURL   string   `json:"repo_url"`
	Languages []string `json:"languages"`
	HasCI     bool     `json:"has_ci"`
	HasTests  bool     `json:"has_tests"`
	HasDocker bool     `json:"has_docker"`
}

// StackDepthPayload holds the categories detected in a dependency manifest.
type StackDepthPayload struct {
	Manifest       string `json:"manifest,omitempty"`
	Auth           bool   `json:"auth"`
	Database       bool   `json:"database"`
	API            bool   `json:"api"`
	Payments       bool   `json:"payments"`
	BackgroundJobs bool   `json:"background_jobs"`
	Testing        bool   `json:"testing"`
	CI             bool   `json:"ci"`
	Categories     int    `json:"categories"`
}

// OwnershipPayload records which probes backed an ownership inference.
type OwnershipPayload struct {
	RepoURL       string `json:"repo_url,omitempty"`
	DeploymentURL string `json:"deployment_url,omitempty"`
	HTTPOK        bool   `json:"http_ok"`
	GitHubOK      bool   `json:"github_ok"`
}

// ComplexityPayload lists the complexity signals observed in a repository.
type ComplexityPayload struct {
	RepoURL string   `json:"repo_url"`
	Signals []string `json:"signals"`
}

// AttestationPayload is a teammate vouching for the builder.
type AttestationPayload struct {
	AttesterID string `json:"attester_id"`
	Rating     int    `json:"rating,omitempty"`
	Note       string `json:"note,omitempty"`
}

// ProjectPayload describes a team/project lifecycle event.
type ProjectPayload struct {
	Role string `json:"role,omitempty"`
	Note string `json:"note,omitempty"`
}

// NotePayload is the free-form shape for types without a dedicated schema.
type NotePayload struct {
	Note string         `json:"note,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

func (*DeliveryPayload) payloadKind() string    { return "delivery" }
func (*HTTPProbePayload) payloadKind() string   { return "http_probe" }
func (*GitHubProbePayload) payloadKind() string { return "github_probe" }
func (*RepoStackPayload) payloadKind() string   { return "repo_stack" }
func (*StackDepthPayload) payloadKind() string  { return "stack_depth" }
func (*OwnershipPayload) payloadKind() string   { return "ownership" }
func (*ComplexityPayload) payloadKind() string  { return "complexity" }
func (*AttestationPayload) payloadKind() string { return "attestation" }
func (*ProjectPayload) payloadKind() string     { return "project" }
func (*NotePayload) payloadKind() string        { return "note" }

// stableFormer is implemented by payloads that carry per-run measurements.
type stableFormer interface {
	stableForm() Payload
}

// StableForm returns p without fields that differ between runs of the same
// check, such as latency. The dedupe hash is taken over this form so a
// repeated probe with the same outcome collapses into the existing row.
func StableForm(p Payload) Payload {
	if s, ok := p.(stableFormer); ok {
		return s.stableForm()
	}
	return p
}

func (p *HTTPProbePayload) stableForm() Payload {
	c := *p
	c.LatencyMS = 0
	return &c
}

func (p *GitHubProbePayload) stableForm() Payload {
	c := *p
	c.Contributions = 0
	return &c
}

// NewPayload returns an empty payload of the shape registered for t.
func NewPayload(t EvidenceType) Payload {
	switch t {
	case EvidenceDeliverySubmitted, EvidenceDeliveryVerified, EvidenceDeliverySustained, EvidenceLateDelivery:
		return &DeliveryPayload{}
	case EvidenceHTTPProbeOK, EvidenceHTTPProbeFail:
		return &HTTPProbePayload{}
	case EvidenceGitHubContributorOK, EvidenceGitHubContributorFail:
		return &GitHubProbePayload{}
	case EvidenceRepoStackInferred:
		return &RepoStackPayload{}
	case EvidenceStackDepthInferred:
		return &StackDepthPayload{}
	case EvidenceOwnershipStrong, EvidenceOwnershipWeak:
		return &OwnershipPayload{}
	case EvidenceRepoComplexity:
		return &ComplexityPayload{}
	case EvidenceTeamAttestation:
		return &AttestationPayload{}
	case EvidenceProjectJoined, EvidenceProjectCompleted, EvidenceProjectAbandoned,
		EvidenceTeamCompleted, EvidenceNoShow, EvidenceGhostDeparture, EvidenceCleanDeparture:
		return &ProjectPayload{}
	default:
		return &NotePayload{}
	}
}

// PayloadMatches reports whether p has the shape registered for t.
func PayloadMatches(t EvidenceType, p Payload) bool {
	if p == nil {
		return false
	}
	return NewPayload(t).payloadKind() == p.payloadKind()
}

// DecodePayload decodes raw JSON into the payload shape registered for t.
// Empty or null input yields the zero payload.
func DecodePayload(t EvidenceType, raw []byte) (Payload, error) {
	p := NewPayload(t)
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, eris.Wrapf(err, "model: decode %s payload", t)
	}
	return p, nil
}
