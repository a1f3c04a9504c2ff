package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forgescore/internal/model"
)

// Hash returns the hex SHA-256 of v's canonical JSON form. v is round-tripped
// through generic JSON values so object keys serialize in sorted order and
// field order in the input never changes the result.
func Hash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "ledger: marshal for hash")
	}
	// UseNumber keeps integers beyond 2^53 exact through the round trip.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", eris.Wrap(err, "ledger: canonicalize for hash")
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", eris.Wrap(err, "ledger: marshal canonical form")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

type hashEnvelope struct {
	Type       model.EvidenceType   `json:"type"`
	Source     model.EvidenceSource `json:"source"`
	ProjectID  string               `json:"project_id"`
	DeliveryID string               `json:"delivery_id"`
	Payload    model.Payload        `json:"payload"`
}

// EvidenceHash is the dedupe key of an evidence row. The envelope includes
// type and source so identical payloads of different kinds stay distinct.
// Per-run measurements are left out; see model.StableForm.
func EvidenceHash(t model.EvidenceType, source model.EvidenceSource, projectID, deliveryID string, payload model.Payload) (string, error) {
	return Hash(hashEnvelope{
		Type:       t,
		Source:     source,
		ProjectID:  projectID,
		DeliveryID: deliveryID,
		Payload:    model.StableForm(payload),
	})
}
