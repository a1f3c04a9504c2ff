package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/store"
)

var testNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

type countingRecorder struct {
	mu         sync.Mutex
	ingested   int
	duplicates int
	scores     []int
	jobs       map[model.JobStatus]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{jobs: make(map[model.JobStatus]int)}
}

func (r *countingRecorder) EvidenceIngested(_ context.Context, _ model.EvidenceType, duplicate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingested++
	if duplicate {
		r.duplicates++
	}
}

func (r *countingRecorder) ScoreComputed(_ context.Context, score int, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, score)
}

func (r *countingRecorder) JobFinished(_ context.Context, status model.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[status]++
}

func delivery(builderID, deliveryID string, t model.EvidenceType, ageDays int) ledger.IngestParams {
	return ledger.IngestParams{
		BuilderID:  builderID,
		ProjectID:  "proj-1",
		DeliveryID: deliveryID,
		Type:       t,
		Source:     model.SourcePlatformEvent,
		Payload:    &model.DeliveryPayload{Title: deliveryID},
		Confidence: 1,
		CreatedAt:  testNow.AddDate(0, 0, -ageDays),
	}
}

func TestIngestEvidence_QueuesRecompute(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := New(s, WithClock(fixedClock()))

	ev, err := p.IngestEvidence(ctx, delivery("b-1", "d-1", model.EvidenceDeliveryVerified, 40))
	require.NoError(t, err)
	require.NotNil(t, ev)

	submitted, err := p.IngestEvidence(ctx, delivery("b-1", "d-2", model.EvidenceDeliverySubmitted, 10))
	require.NoError(t, err)
	require.NotNil(t, submitted)

	jobs, err := s.ListJobs(ctx, store.JobFilter{BuilderID: "b-1"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "evidence:DELIVERY_VERIFIED", jobs[0].TriggerType)
	assert.Equal(t, model.PriorityMilestone, jobs[0].Priority)
	assert.Equal(t, ev.ID, jobs[0].TriggerEvidenceID)
	assert.Equal(t, model.JobStatusPending, jobs[0].Status)

	assert.Equal(t, "evidence:DELIVERY_SUBMITTED", jobs[1].TriggerType)
	assert.Equal(t, model.PriorityNormal, jobs[1].Priority)

	proj, err := s.GetBuilderProjection(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, proj.TenureStart)
	assert.True(t, proj.TenureStart.Equal(testNow), "tenure starts when the ledger first sees the builder")
	assert.Nil(t, proj.ScoreV3)
}

func TestIngestEvidence_BackdatingDoesNotGrantTenure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := New(s, WithClock(fixedClock()))

	_, err := p.IngestEvidence(ctx, delivery("b-1", "d-1", model.EvidenceDeliveryVerified, 300))
	require.NoError(t, err)

	res, err := p.ComputeScoreForBuilder(ctx, "b-1", model.TriggerManual, false)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Breakdown.TenureDays, 1e-9)

	_, err = p.IngestEvidence(ctx, delivery("b-1", "d-2", model.EvidenceDeliveryVerified, -365))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ledger.ErrInvalidEvidence))

	tight := New(s, WithClock(fixedClock()), WithMaxBackdate(30*24*time.Hour))
	_, err = tight.IngestEvidence(ctx, delivery("b-2", "d-3", model.EvidenceDeliveryVerified, 31))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ledger.ErrInvalidEvidence))
}

func TestIngestEvidence_DuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := newCountingRecorder()
	p := New(s, WithClock(fixedClock()), WithRecorder(rec))

	params := delivery("b-1", "d-1", model.EvidenceDeliverySubmitted, 3)
	first, err := p.IngestEvidence(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := p.IngestEvidence(ctx, params)
	require.NoError(t, err)
	assert.Nil(t, again)

	counts, err := s.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.JobStatusPending])
	assert.Equal(t, 2, rec.ingested)
	assert.Equal(t, 1, rec.duplicates)
}

func TestIngestEvidence_InvalidParams(t *testing.T) {
	p := New(newTestStore(t), WithClock(fixedClock()))

	_, err := p.IngestEvidence(context.Background(), ledger.IngestParams{BuilderID: "b-1", Type: "NOPE"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ledger.ErrInvalidEvidence))
}

func TestProcessRecomputeJob_WritesHistoryAndProjection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := newCountingRecorder()
	p := New(s, WithClock(fixedClock()), WithRecorder(rec))

	_, err := p.IngestEvidence(ctx, delivery("b-1", "d-1", model.EvidenceDeliveryVerified, 30))
	require.NoError(t, err)
	_, err = p.IngestEvidence(ctx, delivery("b-1", "d-2", model.EvidenceDeliveryVerified, 5))
	require.NoError(t, err)

	jobs, err := s.ListJobs(ctx, store.JobFilter{Status: model.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	res, err := p.ProcessRecomputeJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.EvidenceIDs, 2)
	assert.Nil(t, res.PreviousScore)

	job, err := s.GetJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.ProcessedAt)

	hist, err := s.LatestScoreHistory(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, hist)
	assert.Equal(t, res.Score, hist.Score)
	assert.Equal(t, "job:evidence:DELIVERY_VERIFIED", hist.Reason)
	assert.ElementsMatch(t, res.EvidenceIDs, hist.EvidenceSnapshotIDs)

	proj, err := s.GetBuilderProjection(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, proj.ScoreV3)
	assert.Equal(t, res.Score, *proj.ScoreV3)
	assert.Equal(t, model.DefaultModelVersion, proj.ScoreV3Model)

	last, err := s.LastRecomputeAt(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(testNow))

	// A second run carries the previous score forward.
	second, err := p.ProcessRecomputeJob(ctx, jobs[1].ID)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.NotNil(t, second.PreviousScore)
	assert.Equal(t, res.Score, *second.PreviousScore)
	assert.Equal(t, second.Score-res.Score, second.Delta)

	assert.Len(t, rec.scores, 2)
	assert.Equal(t, 2, rec.jobs[model.JobStatusCompleted])
}

func TestProcessRecomputeJob_AlreadyClaimed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := New(s, WithClock(fixedClock()))

	job, err := p.EnqueueRecompute(ctx, "b-1", model.TriggerManual, "", model.PriorityManual)
	require.NoError(t, err)

	first, err := p.ProcessRecomputeJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := p.ProcessRecomputeJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestProcessRecomputeJob_ConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := New(s, WithClock(fixedClock()))

	_, err := p.IngestEvidence(ctx, delivery("b-1", "d-1", model.EvidenceDeliverySubmitted, 2))
	require.NoError(t, err)
	job, err := p.EnqueueRecompute(ctx, "b-1", model.TriggerManual, "", model.PriorityManual)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.ProcessRecomputeJob(ctx, job.ID)
			assert.NoError(t, err)
			if res != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	history, err := s.ListScoreHistory(ctx, "b-1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// failingHistoryStore rejects score history writes.
type failingHistoryStore struct {
	store.Store
}

func (failingHistoryStore) InsertScoreHistory(context.Context, *model.ScoreHistory) error {
	return eris.New("disk full")
}

func TestProcessRecomputeJob_FailureMarksJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := newCountingRecorder()
	p := New(failingHistoryStore{Store: s}, WithClock(fixedClock()), WithRecorder(rec))

	job, err := p.EnqueueRecompute(ctx, "b-1", model.TriggerManual, "", model.PriorityManual)
	require.NoError(t, err)

	res, err := p.ProcessRecomputeJob(ctx, job.ID)
	require.Error(t, err)
	assert.Nil(t, res)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "disk full")
	assert.Equal(t, 1, rec.jobs[model.JobStatusFailed])

	// Failed jobs are not retried.
	again, err := p.ProcessRecomputeJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
}

// failingCompleteStore cannot mark jobs completed.
type failingCompleteStore struct {
	store.Store
}

func (failingCompleteStore) CompleteJob(context.Context, string) error {
	return eris.New("connection reset")
}

func TestProcessRecomputeJob_CompleteFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := newCountingRecorder()
	p := New(failingCompleteStore{Store: s}, WithClock(fixedClock()), WithRecorder(rec))

	_, err := p.IngestEvidence(ctx, delivery("b-1", "d-1", model.EvidenceDeliverySubmitted, 2))
	require.NoError(t, err)
	job, err := p.EnqueueRecompute(ctx, "b-1", model.TriggerManual, "", model.PriorityManual)
	require.NoError(t, err)

	res, err := p.ProcessRecomputeJob(ctx, job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Nil(t, res)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "complete job: connection reset")
	assert.Equal(t, 1, rec.jobs[model.JobStatusFailed])
	assert.Zero(t, rec.jobs[model.JobStatusCompleted])

	// The score itself was written before the completion step.
	history, err := s.ListScoreHistory(ctx, "b-1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestComputeScoreForBuilder_UsesPublishedModel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := New(s, WithClock(fixedClock()))

	mv := model.DefaultScoringModel()
	mv.Version = "v3.1.0"
	mv.EffectiveFrom = testNow.AddDate(0, 0, -1)
	require.NoError(t, s.PublishModelVersion(ctx, mv))

	res, err := p.ComputeScoreForBuilder(ctx, "b-1", "manual", false)
	require.NoError(t, err)
	assert.Equal(t, "v3.1.0", res.ModelVersion)

	hist, err := s.LatestScoreHistory(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "v3.1.0", hist.ModelVersion)
}

// brokenModelStore fails every model lookup.
type brokenModelStore struct {
	store.Store
}

func (brokenModelStore) ActiveModelVersion(context.Context) (*model.ScoringModelVersion, error) {
	return nil, eris.New("models table missing")
}

func TestComputeScoreForBuilder_ModelFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("no model published", func(t *testing.T) {
		p := New(newTestStore(t), WithClock(fixedClock()))
		res, err := p.ComputeScoreForBuilder(ctx, "b-1", "manual", false)
		require.NoError(t, err)
		assert.Equal(t, model.DefaultModelVersion, res.ModelVersion)
	})

	t.Run("model lookup fails", func(t *testing.T) {
		s := newTestStore(t)
		p := New(brokenModelStore{Store: s}, WithClock(fixedClock()))
		res, err := p.ComputeScoreForBuilder(ctx, "b-1", "manual", false)
		require.NoError(t, err)
		assert.Equal(t, model.DefaultModelVersion, res.ModelVersion)

		hist, err := s.LatestScoreHistory(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, model.DefaultModelVersion, hist.ModelVersion)
	})
}

func TestComputeScoreForBuilder_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := New(s, WithClock(fixedClock()))

	for i, age := range []int{90, 60, 30} {
		_, err := p.IngestEvidence(ctx, delivery("b-1", fmt.Sprintf("d-%d", i), model.EvidenceDeliveryVerified, age))
		require.NoError(t, err)
	}

	first, err := p.ComputeScoreForBuilder(ctx, "b-1", "manual", false)
	require.NoError(t, err)
	second, err := p.ComputeScoreForBuilder(ctx, "b-1", "manual", false)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Breakdown, second.Breakdown)
	require.NotNil(t, second.PreviousScore)
	assert.Zero(t, second.Delta)
}

func TestComputeScoreForBuilder_LegacyScore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := New(s, WithClock(fixedClock()))

	_, err := p.IngestEvidence(ctx, delivery("b-1", "d-1", model.EvidenceDeliverySubmitted, 2))
	require.NoError(t, err)
	without, err := p.ComputeScoreForBuilder(ctx, "b-2", "manual", false)
	require.NoError(t, err)

	require.NoError(t, s.SetLegacyScoreV2(ctx, "b-1", 80))
	with, err := p.ComputeScoreForBuilder(ctx, "b-1", "manual", false)
	require.NoError(t, err)
	assert.Greater(t, with.Breakdown.SelfReportBoost, 0.0)
	assert.Zero(t, without.Breakdown.SelfReportBoost)
}

func TestEnqueueRecompute_InsideWindowStillQueues(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := New(s, WithClock(fixedClock()))

	require.NoError(t, s.TouchRecomputeStamp(ctx, "b-1", testNow.Add(-time.Minute)))

	job, err := p.EnqueueRecompute(ctx, "b-1", model.TriggerManual, "", model.PriorityManual)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	_, err = p.EnqueueRecompute(ctx, "", model.TriggerManual, "", 0)
	assert.Error(t, err)
}

func TestTriggerIsMilestone(t *testing.T) {
	assert.True(t, triggerIsMilestone("evidence:DELIVERY_VERIFIED"))
	assert.True(t, triggerIsMilestone("evidence:PROJECT_COMPLETED"))
	assert.False(t, triggerIsMilestone("evidence:DELIVERY_SUBMITTED"))
	assert.False(t, triggerIsMilestone("manual"))
	assert.False(t, triggerIsMilestone("probe"))
}
