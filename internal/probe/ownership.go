package probe

import (
	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/model"
)

// Ownership combines the deployment and contributor results. Both positive
// yields OWNERSHIP_VERIFIED_STRONG, exactly one yields _WEAK. The second
// return is false when neither probe ran or neither succeeded.
func Ownership(builderID, projectID, deliveryID string, h *HTTPResult, g *GitHubResult) (ledger.IngestParams, bool) {
	httpOK := h != nil && h.OK
	githubOK := g != nil && g.Verified
	if !httpOK && !githubOK {
		return ledger.IngestParams{}, false
	}

	payload := &model.OwnershipPayload{HTTPOK: httpOK, GitHubOK: githubOK}
	if h != nil {
		payload.DeploymentURL = h.URL
	}
	if g != nil {
		payload.RepoURL = g.RepoURL
	}

	p := ledger.IngestParams{
		BuilderID:  builderID,
		ProjectID:  projectID,
		DeliveryID: deliveryID,
		Type:       model.EvidenceOwnershipWeak,
		Source:     model.SourceSystem,
		Payload:    payload,
		Confidence: ConfidenceOwnershipWeak,
	}
	if httpOK && githubOK {
		p.Type = model.EvidenceOwnershipStrong
		p.Confidence = ConfidenceOwnershipFull
	}
	return p, true
}
