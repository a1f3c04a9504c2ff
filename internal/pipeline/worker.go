package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/store"
)

// WorkerConfig controls the recompute worker.
type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int
}

// DefaultWorkerConfig returns the worker defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  4,
		PollInterval: 5 * time.Second,
		BatchSize:    50,
	}
}

// Worker drains the recompute queue.
type Worker struct {
	pipeline *Pipeline
	cfg      WorkerConfig
}

// NewWorker creates a worker for p. Zero config values take defaults.
func NewWorker(p *Pipeline, cfg WorkerConfig) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Worker{pipeline: p, cfg: cfg}
}

// Drain processes one batch of pending jobs, highest priority first, and
// returns how many it completed. Once a job is claimed it runs to the end
// even if ctx is cancelled. Job failures are recorded on the job and do not
// stop the batch.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	jobs, err := w.pipeline.store.ListJobs(ctx, store.JobFilter{
		Status: model.JobStatusPending,
		Limit:  w.cfg.BatchSize,
	})
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list pending jobs")
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var done atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Concurrency)

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := w.pipeline.ProcessRecomputeJob(context.WithoutCancel(ctx), job.ID)
			if err != nil {
				zap.L().Warn("pipeline: job failed",
					zap.String("job_id", job.ID),
					zap.String("builder_id", job.BuilderID),
					zap.Error(err),
				)
				return nil
			}
			if res != nil {
				done.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(done.Load()), nil
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "pipeline.worker"))
	log.Info("starting recompute worker",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("poll_interval", w.cfg.PollInterval),
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.tick(ctx, log)
		select {
		case <-ctx.Done():
			log.Info("recompute worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) tick(ctx context.Context, log *zap.Logger) {
	n, err := w.Drain(ctx)
	if err != nil {
		log.Error("pipeline: drain queue", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("pipeline: batch processed", zap.Int("completed", n))
	}
}
