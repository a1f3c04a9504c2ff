package store

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forgescore/internal/model"
)

const evidenceColumns = `id, builder_id, project_id, delivery_id, type, source, payload, confidence, hash, superseded_by, created_at`

const historyColumns = `id, builder_id, score, previous_score, delta, breakdown, anomaly_flags, evidence_snapshot_ids, model_version, reason, confidence, computed_at`

const jobColumns = `id, builder_id, trigger_type, trigger_evidence_id, priority, status, created_at, processed_at, error_message`

const modelColumns = `version, weights, caps, tier_config, effective_from, deprecated_at`

type scannable interface {
	Scan(dest ...any) error
}

// nullIfEmpty maps "" to a SQL NULL.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func marshalPayload(ev *model.Evidence) ([]byte, error) {
	if ev.Payload == nil {
		ev.Payload = model.NewPayload(ev.Type)
	}
	b, err := json.Marshal(ev.Payload)
	return b, eris.Wrap(err, "marshal payload")
}

// evidenceFromRaw assembles an Evidence from scanned column values.
func evidenceFromRaw(ev *model.Evidence, payload []byte, projectID, deliveryID, supersededBy *string) error {
	ev.ProjectID = derefString(projectID)
	ev.DeliveryID = derefString(deliveryID)
	ev.SupersededBy = derefString(supersededBy)
	p, err := model.DecodePayload(ev.Type, payload)
	if err != nil {
		return err
	}
	ev.Payload = p
	ev.CreatedAt = ev.CreatedAt.UTC()
	return nil
}

type historyJSON struct {
	breakdown []byte
	flags     []byte
	snapshot  []byte
}

func marshalHistory(h *model.ScoreHistory) (*historyJSON, error) {
	breakdown, err := json.Marshal(h.Breakdown)
	if err != nil {
		return nil, eris.Wrap(err, "marshal breakdown")
	}
	flags := h.AnomalyFlags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return nil, eris.Wrap(err, "marshal anomaly flags")
	}
	ids := h.EvidenceSnapshotIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, eris.Wrap(err, "marshal evidence snapshot")
	}
	return &historyJSON{breakdown: breakdown, flags: flagsJSON, snapshot: idsJSON}, nil
}

func unmarshalHistory(h *model.ScoreHistory, raw historyJSON) error {
	if err := json.Unmarshal(raw.breakdown, &h.Breakdown); err != nil {
		return eris.Wrap(err, "unmarshal breakdown")
	}
	if err := json.Unmarshal(raw.flags, &h.AnomalyFlags); err != nil {
		return eris.Wrap(err, "unmarshal anomaly flags")
	}
	if err := json.Unmarshal(raw.snapshot, &h.EvidenceSnapshotIDs); err != nil {
		return eris.Wrap(err, "unmarshal evidence snapshot")
	}
	h.ComputedAt = h.ComputedAt.UTC()
	return nil
}

type modelJSON struct {
	weights []byte
	caps    []byte
	tiers   []byte
}

func marshalModel(mv model.ScoringModelVersion) (*modelJSON, error) {
	weights, err := json.Marshal(mv.Weights)
	if err != nil {
		return nil, eris.Wrap(err, "marshal weights")
	}
	caps, err := json.Marshal(mv.Caps)
	if err != nil {
		return nil, eris.Wrap(err, "marshal caps")
	}
	tiers, err := json.Marshal(mv.Tiers)
	if err != nil {
		return nil, eris.Wrap(err, "marshal tier config")
	}
	return &modelJSON{weights: weights, caps: caps, tiers: tiers}, nil
}

func unmarshalModel(mv *model.ScoringModelVersion, raw modelJSON) error {
	if err := json.Unmarshal(raw.weights, &mv.Weights); err != nil {
		return eris.Wrap(err, "unmarshal weights")
	}
	if err := json.Unmarshal(raw.caps, &mv.Caps); err != nil {
		return eris.Wrap(err, "unmarshal caps")
	}
	if len(raw.tiers) > 0 {
		if err := json.Unmarshal(raw.tiers, &mv.Tiers); err != nil {
			return eris.Wrap(err, "unmarshal tier config")
		}
	}
	mv.EffectiveFrom = mv.EffectiveFrom.UTC()
	return nil
}

// typeStrings converts evidence types for use as query arguments.
func typeStrings(types []model.EvidenceType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// placeholders returns "?, ?, ?" for n SQLite parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
