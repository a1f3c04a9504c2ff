// Package pipeline ties the ledger, probes and scorer together: it ingests
// evidence, queues recomputes and persists every computed score.
package pipeline

import (
	"context"
	"time"

	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/probe"
	"github.com/sells-group/forgescore/internal/store"
	"github.com/sells-group/forgescore/pkg/github"
)

// DefaultRecomputeWindow is the advisory minimum interval between recomputes
// of one builder.
const DefaultRecomputeWindow = 15 * time.Minute

// Recorder receives pipeline events for metrics.
type Recorder interface {
	EvidenceIngested(ctx context.Context, t model.EvidenceType, duplicate bool)
	ScoreComputed(ctx context.Context, score int, flags int, elapsed time.Duration)
	JobFinished(ctx context.Context, status model.JobStatus)
}

type noopRecorder struct{}

func (noopRecorder) EvidenceIngested(context.Context, model.EvidenceType, bool) {}
func (noopRecorder) ScoreComputed(context.Context, int, int, time.Duration)     {}
func (noopRecorder) JobFinished(context.Context, model.JobStatus)               {}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source for stamps, history rows and scoring.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRecorder routes pipeline events to r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithRecomputeWindow sets the advisory recompute interval.
func WithRecomputeWindow(d time.Duration) Option {
	return func(p *Pipeline) { p.window = d }
}

// WithMaxBackdate bounds how far back platform events may date themselves.
func WithMaxBackdate(d time.Duration) Option {
	return func(p *Pipeline) { p.maxBackdate = d }
}

// WithHTTPProber sets the deployment prober used by VerifyDelivery.
func WithHTTPProber(hp *probe.HTTPProber) Option {
	return func(p *Pipeline) { p.httpProbe = hp }
}

// WithGitHub sets the GitHub client used for contributor probes and manifest
// fetches.
func WithGitHub(c github.Client) Option {
	return func(p *Pipeline) {
		p.github = c
		p.githubProbe = probe.NewGitHubProber(c)
	}
}

// Pipeline orchestrates ingest, recompute and verification.
type Pipeline struct {
	store       store.Store
	ledger      *ledger.Ledger
	httpProbe   *probe.HTTPProber
	githubProbe *probe.GitHubProber
	github      github.Client
	recorder    Recorder
	window      time.Duration
	maxBackdate time.Duration
	now         func() time.Time
}

// New creates a Pipeline backed by s.
func New(s store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    s,
		recorder: noopRecorder{},
		window:   DefaultRecomputeWindow,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.httpProbe == nil {
		p.httpProbe = probe.NewHTTPProber(nil, probe.DefaultHTTPOptions())
	}
	p.ledger = ledger.New(s, ledger.WithClock(p.now), ledger.WithMaxBackdate(p.maxBackdate))
	return p
}

// Ledger exposes the evidence ledger for read paths.
func (p *Pipeline) Ledger() *ledger.Ledger {
	return p.ledger
}

// Store exposes the underlying store for read paths.
func (p *Pipeline) Store() store.Store {
	return p.store
}
