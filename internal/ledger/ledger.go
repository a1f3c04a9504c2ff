// Package ledger is the append-only evidence log every score is derived from.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/store"
)

// ErrInvalidEvidence is returned (wrapped) when ingest parameters fail
// validation.
var ErrInvalidEvidence = eris.New("ledger: invalid evidence")

// DefaultMaxBackdate bounds how far before now a caller-supplied CreatedAt
// may lie.
const DefaultMaxBackdate = 365 * 24 * time.Hour

// IngestParams describes one piece of evidence to record. A zero CreatedAt
// means now; only sources that stamp their own time may set it.
type IngestParams struct {
	BuilderID  string               `json:"builder_id"`
	ProjectID  string               `json:"project_id,omitempty"`
	DeliveryID string               `json:"delivery_id,omitempty"`
	Type       model.EvidenceType   `json:"type"`
	Source     model.EvidenceSource `json:"source"`
	Payload    model.Payload        `json:"payload"`
	Confidence float64              `json:"confidence"`
	CreatedAt  time.Time            `json:"created_at,omitempty"`
}

// Filter narrows a Query.
type Filter struct {
	Types             []model.EvidenceType
	Since             time.Time
	Limit             int
	IncludeSuperseded bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used to stamp new rows.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMaxBackdate bounds caller-supplied timestamps to d before now. Zero
// keeps the default.
func WithMaxBackdate(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.maxBackdate = d
		}
	}
}

// Ledger validates, hashes and records evidence.
type Ledger struct {
	store       store.Store
	now         func() time.Time
	maxBackdate time.Duration
}

// New creates a Ledger backed by s.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{store: s, now: time.Now, maxBackdate: DefaultMaxBackdate}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Validate checks p without touching storage.
func (p IngestParams) Validate() error {
	if p.BuilderID == "" {
		return eris.Wrap(ErrInvalidEvidence, "builder_id is required")
	}
	if !p.Type.Valid() {
		return eris.Wrapf(ErrInvalidEvidence, "unknown evidence type %q", p.Type)
	}
	if !p.Source.Valid() {
		return eris.Wrapf(ErrInvalidEvidence, "unknown evidence source %q", p.Source)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return eris.Wrapf(ErrInvalidEvidence, "confidence %.3f outside [0,1]", p.Confidence)
	}
	if p.Payload != nil && !model.PayloadMatches(p.Type, p.Payload) {
		return eris.Wrapf(ErrInvalidEvidence, "payload shape does not match %s", p.Type)
	}
	return nil
}

// Ingest records evidence. It returns nil, nil when an identical row already
// exists for the builder.
func (l *Ledger) Ingest(ctx context.Context, p IngestParams) (*model.Evidence, error) {
	ev, err := l.build(p)
	if err != nil {
		return nil, err
	}

	inserted, err := l.store.InsertEvidence(ctx, ev)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: ingest")
	}
	if !inserted {
		zap.L().Debug("ledger: duplicate evidence ignored",
			zap.String("builder_id", p.BuilderID),
			zap.String("type", string(p.Type)),
			zap.String("hash", ev.Hash),
		)
		return nil, nil
	}
	return ev, nil
}

// build validates p and turns it into an unsaved row.
func (l *Ledger) build(p IngestParams) (*model.Evidence, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	createdAt, err := l.stamp(p)
	if err != nil {
		return nil, err
	}
	payload := p.Payload
	if payload == nil {
		payload = model.NewPayload(p.Type)
	}

	hash, err := EvidenceHash(p.Type, p.Source, p.ProjectID, p.DeliveryID, payload)
	if err != nil {
		return nil, err
	}

	return &model.Evidence{
		BuilderID:  p.BuilderID,
		ProjectID:  p.ProjectID,
		DeliveryID: p.DeliveryID,
		Type:       p.Type,
		Source:     p.Source,
		Payload:    payload,
		Confidence: p.Confidence,
		Hash:       hash,
		CreatedAt:  createdAt,
	}, nil
}

// stamp resolves the row time. A caller-supplied time must come from a
// source that stamps its own time, must not be in the future and must fall
// inside the backdate window.
func (l *Ledger) stamp(p IngestParams) (time.Time, error) {
	now := l.now().UTC()
	if p.CreatedAt.IsZero() {
		return now, nil
	}
	at := p.CreatedAt.UTC()
	switch {
	case !p.Source.StampsOwnTime():
		return time.Time{}, eris.Wrapf(ErrInvalidEvidence, "source %s may not set created_at", p.Source)
	case at.After(now):
		return time.Time{}, eris.Wrapf(ErrInvalidEvidence, "created_at %s is in the future", at.Format(time.RFC3339))
	case now.Sub(at) > l.maxBackdate:
		return time.Time{}, eris.Wrapf(ErrInvalidEvidence, "created_at %s is older than the %s backdate window",
			at.Format(time.RFC3339), l.maxBackdate)
	}
	return at, nil
}

// Supersede records the replacement for oldID and retires the old row in one
// store transaction. It is the only permitted mutation of an existing row.
func (l *Ledger) Supersede(ctx context.Context, oldID string, p IngestParams) (*model.Evidence, error) {
	old, err := l.store.GetEvidence(ctx, oldID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: supersede %s", oldID)
	}
	if old.Superseded() {
		return nil, eris.Wrapf(ErrInvalidEvidence, "evidence %s already superseded by %s", oldID, old.SupersededBy)
	}
	if old.BuilderID != p.BuilderID {
		return nil, eris.Wrapf(ErrInvalidEvidence, "evidence %s belongs to another builder", oldID)
	}

	replacement, err := l.build(p)
	if err != nil {
		return nil, err
	}
	inserted, err := l.store.SupersedeEvidence(ctx, oldID, replacement)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: supersede %s", oldID)
	}
	if !inserted {
		return nil, eris.Wrapf(ErrInvalidEvidence, "replacement for %s duplicates existing evidence", oldID)
	}
	return replacement, nil
}

// Query returns the builder's evidence newest first. Superseded rows are
// excluded unless the filter asks for them.
func (l *Ledger) Query(ctx context.Context, builderID string, f Filter) ([]model.Evidence, error) {
	out, err := l.store.ListEvidence(ctx, builderID, store.EvidenceFilter{
		Types:             f.Types,
		Since:             f.Since,
		Limit:             f.Limit,
		IncludeSuperseded: f.IncludeSuperseded,
		NewestFirst:       true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: query %s", builderID)
	}
	return out, nil
}

// Active returns every non-superseded row for the builder oldest first. This
// is the snapshot a score computation reads.
func (l *Ledger) Active(ctx context.Context, builderID string) ([]model.Evidence, error) {
	out, err := l.store.ListEvidence(ctx, builderID, store.EvidenceFilter{})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: active evidence %s", builderID)
	}
	return out, nil
}

// CountByType counts non-superseded evidence per type.
func (l *Ledger) CountByType(ctx context.Context, builderID string) (map[model.EvidenceType]int, error) {
	counts, err := l.store.CountEvidenceByType(ctx, builderID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: count %s", builderID)
	}
	return counts, nil
}

// AttestationsInvolving returns TEAM_ATTESTATION rows where the builder is
// either the subject or the attester.
func (l *Ledger) AttestationsInvolving(ctx context.Context, builderID string) ([]model.Evidence, error) {
	out, err := l.store.ListAttestationsInvolving(ctx, builderID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: attestations %s", builderID)
	}
	return out, nil
}

// UnmarshalJSON decodes the payload into the shape registered for the type.
func (p *IngestParams) UnmarshalJSON(data []byte) error {
	var raw struct {
		BuilderID  string               `json:"builder_id"`
		ProjectID  string               `json:"project_id"`
		DeliveryID string               `json:"delivery_id"`
		Type       model.EvidenceType   `json:"type"`
		Source     model.EvidenceSource `json:"source"`
		Payload    json.RawMessage      `json:"payload"`
		Confidence float64              `json:"confidence"`
		CreatedAt  time.Time            `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "ledger: decode ingest params")
	}
	payload, err := model.DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return eris.Wrap(ErrInvalidEvidence, err.Error())
	}
	*p = IngestParams{
		BuilderID:  raw.BuilderID,
		ProjectID:  raw.ProjectID,
		DeliveryID: raw.DeliveryID,
		Type:       raw.Type,
		Source:     raw.Source,
		Payload:    payload,
		Confidence: raw.Confidence,
		CreatedAt:  raw.CreatedAt,
	}
	return nil
}
