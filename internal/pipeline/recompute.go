package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/scorer"
	"github.com/sells-group/forgescore/internal/store"
)

// IngestEvidence records evidence and queues a recompute for the builder.
// Milestone evidence is queued ahead of ordinary work. A duplicate returns
// nil, nil and queues nothing.
func (p *Pipeline) IngestEvidence(ctx context.Context, params ledger.IngestParams) (*model.Evidence, error) {
	ev, err := p.record(ctx, params)
	if err != nil || ev == nil {
		return nil, err
	}

	priority := model.PriorityNormal
	if ev.Type.IsMilestone() {
		priority = model.PriorityMilestone
	}
	if _, err := p.EnqueueRecompute(ctx, ev.BuilderID, evidenceTrigger(ev.Type), ev.ID, priority); err != nil {
		return nil, err
	}
	return ev, nil
}

// SupersedeEvidence replaces oldID with a corrected row and queues a
// recompute for the builder.
func (p *Pipeline) SupersedeEvidence(ctx context.Context, oldID string, params ledger.IngestParams) (*model.Evidence, error) {
	ev, err := p.ledger.Supersede(ctx, oldID, params)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: supersede evidence")
	}
	p.recorder.EvidenceIngested(ctx, params.Type, false)

	if _, err := p.EnqueueRecompute(ctx, ev.BuilderID, evidenceTrigger(ev.Type), ev.ID, model.PriorityNormal); err != nil {
		return nil, err
	}
	return ev, nil
}

// record ingests one row and seeds the builder's tenure start. Tenure is
// stamped with the ingest clock, never the row's own created_at, so backdated
// evidence cannot open the tenure gates.
func (p *Pipeline) record(ctx context.Context, params ledger.IngestParams) (*model.Evidence, error) {
	ev, err := p.ledger.Ingest(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: ingest evidence")
	}
	p.recorder.EvidenceIngested(ctx, params.Type, ev == nil)
	if ev == nil {
		return nil, nil
	}

	start := p.now().UTC()
	if err := p.store.UpsertBuilderProjection(ctx, &model.BuilderProjection{
		BuilderID:   ev.BuilderID,
		TenureStart: &start,
	}); err != nil {
		return nil, eris.Wrapf(err, "pipeline: seed tenure for %s", ev.BuilderID)
	}
	return ev, nil
}

// EnqueueRecompute queues a recompute job. A request inside the advisory
// recompute window is logged and still queued.
func (p *Pipeline) EnqueueRecompute(ctx context.Context, builderID, trigger, evidenceID string, priority int) (*model.RecomputeJob, error) {
	if builderID == "" {
		return nil, eris.New("pipeline: builder id is required")
	}

	last, err := p.store.LastRecomputeAt(ctx, builderID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read recompute stamp for %s", builderID)
	}
	if last != nil && p.now().Sub(*last) < p.window {
		zap.L().Info("pipeline: recompute requested inside advisory window",
			zap.String("builder_id", builderID),
			zap.Time("last_recompute", *last),
			zap.Duration("window", p.window),
		)
	}

	job := &model.RecomputeJob{
		BuilderID:         builderID,
		TriggerType:       trigger,
		TriggerEvidenceID: evidenceID,
		Priority:          priority,
		CreatedAt:         p.now().UTC(),
	}
	if err := p.store.EnqueueJob(ctx, job); err != nil {
		return nil, eris.Wrapf(err, "pipeline: enqueue recompute for %s", builderID)
	}
	zap.L().Debug("pipeline: recompute queued",
		zap.String("job_id", job.ID),
		zap.String("builder_id", builderID),
		zap.String("trigger", trigger),
		zap.Int("priority", priority),
	)
	return job, nil
}

// ProcessRecomputeJob claims and runs one job. It returns nil, nil when
// another worker already claimed it. A failed computation marks the job
// failed with the error message; there is no automatic retry.
func (p *Pipeline) ProcessRecomputeJob(ctx context.Context, jobID string) (*scorer.Result, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load job %s", jobID)
	}

	claimed, err := p.store.ClaimJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: claim job %s", jobID)
	}
	if !claimed {
		zap.L().Debug("pipeline: job already claimed", zap.String("job_id", jobID))
		return nil, nil
	}

	log := zap.L().With(zap.String("job_id", jobID), zap.String("builder_id", job.BuilderID))
	res, err := p.ComputeScoreForBuilder(ctx, job.BuilderID, "job:"+job.TriggerType, triggerIsMilestone(job.TriggerType))
	if err != nil {
		if failErr := p.store.FailJob(ctx, jobID, err.Error()); failErr != nil {
			log.Error("pipeline: mark job failed", zap.Error(failErr))
		}
		p.recorder.JobFinished(ctx, model.JobStatusFailed)
		log.Error("pipeline: recompute failed", zap.Error(err))
		return nil, err
	}

	if err := p.store.CompleteJob(ctx, jobID); err != nil {
		log.Error("pipeline: mark job completed", zap.Error(err))
		// The score is already persisted; failing the job keeps it out of processing.
		if failErr := p.store.FailJob(ctx, jobID, "complete job: "+err.Error()); failErr != nil {
			log.Error("pipeline: mark job failed", zap.Error(failErr))
		}
		p.recorder.JobFinished(ctx, model.JobStatusFailed)
		return nil, eris.Wrapf(err, "pipeline: complete job %s", jobID)
	}
	p.recorder.JobFinished(ctx, model.JobStatusCompleted)
	return res, nil
}

// ComputeScoreForBuilder scores the builder's current evidence and persists
// a history row and the projection. A missing or unreadable model falls back
// to the built-in default so scoring never blocks on configuration.
func (p *Pipeline) ComputeScoreForBuilder(ctx context.Context, builderID, reason string, hasMilestone bool) (*scorer.Result, error) {
	start := time.Now()
	now := p.now().UTC()
	log := zap.L().With(zap.String("builder_id", builderID))

	mv := p.activeModel(ctx)

	evidence, err := p.ledger.Active(ctx, builderID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: gather evidence")
	}
	attestations, err := p.ledger.AttestationsInvolving(ctx, builderID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: gather attestations")
	}

	prev, err := p.store.LatestScoreHistory(ctx, builderID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load previous score")
	}

	in := scorer.Input{
		BuilderID:    builderID,
		Evidence:     evidence,
		Attestations: attestations,
		HasMilestone: hasMilestone,
		Model:        mv,
		Now:          now,
	}
	if prev != nil {
		score := prev.Score
		skills := prev.Breakdown.Dimensions
		in.PreviousScore = &score
		in.PreviousSkills = &skills
	}

	proj, err := p.store.GetBuilderProjection(ctx, builderID)
	switch {
	case err == nil:
		in.TenureStart = proj.TenureStart
		in.LegacyScoreV2 = proj.LegacyScoreV2
	case !eris.Is(err, store.ErrNotFound):
		return nil, eris.Wrap(err, "pipeline: load builder projection")
	}
	if in.TenureStart == nil && len(evidence) > 0 {
		in.TenureStart = &now
	}

	res := scorer.ComputeForgeScoreV3(in)

	hist := &model.ScoreHistory{
		BuilderID:           builderID,
		Score:               res.Score,
		PreviousScore:       res.PreviousScore,
		Delta:               res.Delta,
		Breakdown:           res.Breakdown,
		AnomalyFlags:        res.BCM.Flags,
		EvidenceSnapshotIDs: res.EvidenceIDs,
		ModelVersion:        res.ModelVersion,
		Reason:              reason,
		Confidence:          res.Confidence,
		ComputedAt:          now,
	}
	if err := p.store.InsertScoreHistory(ctx, hist); err != nil {
		return nil, eris.Wrap(err, "pipeline: write score history")
	}

	score := res.Score
	projection := &model.BuilderProjection{
		BuilderID:         builderID,
		ScoreV3:           &score,
		ScoreV3Model:      res.ModelVersion,
		ScoreV3ComputedAt: &now,
		ScoreV3Confidence: res.Confidence,
		TenureStart:       in.TenureStart,
	}
	if err := p.store.UpsertBuilderProjection(ctx, projection); err != nil {
		return nil, eris.Wrap(err, "pipeline: update builder projection")
	}

	if err := p.store.TouchRecomputeStamp(ctx, builderID, now); err != nil {
		return nil, eris.Wrap(err, "pipeline: stamp recompute")
	}

	p.recorder.ScoreComputed(ctx, res.Score, len(res.BCM.Flags), time.Since(start))
	log.Info("pipeline: score computed",
		zap.Int("score", res.Score),
		zap.Int("delta", res.Delta),
		zap.String("tier", res.Tier),
		zap.Float64("bcm", res.BCM.Multiplier),
		zap.Strings("flags", res.BCM.Flags),
		zap.Float64("confidence", res.Confidence),
		zap.String("model_version", res.ModelVersion),
		zap.Int("evidence", len(evidence)),
	)
	return &res, nil
}

// activeModel loads the active scoring model, falling back to the default.
func (p *Pipeline) activeModel(ctx context.Context) model.ScoringModelVersion {
	mv, err := p.store.ActiveModelVersion(ctx)
	if err != nil {
		zap.L().Warn("pipeline: load scoring model failed, using default", zap.Error(err))
		return model.DefaultScoringModel()
	}
	if mv == nil {
		return model.DefaultScoringModel()
	}
	return *mv
}

const evidenceTriggerPrefix = model.TriggerEvidence + ":"

func evidenceTrigger(t model.EvidenceType) string {
	return evidenceTriggerPrefix + string(t)
}

func triggerIsMilestone(trigger string) bool {
	t, ok := strings.CutPrefix(trigger, evidenceTriggerPrefix)
	return ok && model.EvidenceType(t).IsMilestone()
}
