package pipeline

import (
	"context"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/probe"
	"github.com/sells-group/forgescore/pkg/github"
)

// ErrInvalidTarget is returned when a delivery target has nothing to probe.
var ErrInvalidTarget = eris.New("pipeline: invalid delivery target")

// DeliveryTarget names what to verify for one delivery.
type DeliveryTarget struct {
	BuilderID         string `json:"builder_id"`
	ProjectID         string `json:"project_id,omitempty"`
	DeliveryID        string `json:"delivery_id,omitempty"`
	DeploymentURL     string `json:"deployment_url,omitempty"`
	VerificationToken string `json:"verification_token,omitempty"`
	RepoURL           string `json:"repo_url,omitempty"`
	GitHubUsername    string `json:"github_username,omitempty"`
	ManifestPath      string `json:"manifest_path,omitempty"`
}

// Validate checks the target has a builder and at least one probe input.
func (t DeliveryTarget) Validate() error {
	if strings.TrimSpace(t.BuilderID) == "" {
		return eris.Wrap(ErrInvalidTarget, "builder_id is required")
	}
	if t.DeploymentURL == "" && t.RepoURL == "" {
		return eris.Wrap(ErrInvalidTarget, "deployment_url or repo_url is required")
	}
	if t.RepoURL != "" && t.GitHubUsername == "" {
		return eris.Wrap(ErrInvalidTarget, "github_username is required with repo_url")
	}
	return nil
}

// VerifyReport summarizes one verification run.
type VerifyReport struct {
	HTTP       *probe.HTTPResult   `json:"http,omitempty"`
	GitHub     *probe.GitHubResult `json:"github,omitempty"`
	Stack      *probe.StackDepth   `json:"stack,omitempty"`
	Evidence   []model.Evidence    `json:"evidence"`
	Duplicates int                 `json:"duplicates"`
	Job        *model.RecomputeJob `json:"job,omitempty"`
}

// VerifyDelivery probes a delivery's deployment and repository concurrently,
// records every resulting evidence row and queues a single recompute. Probe
// failures become FAIL evidence; only storage errors are returned.
func (p *Pipeline) VerifyDelivery(ctx context.Context, t DeliveryTarget) (*VerifyReport, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("builder_id", t.BuilderID), zap.String("delivery_id", t.DeliveryID))

	var (
		httpRes  *probe.HTTPResult
		ghRes    *probe.GitHubResult
		stackRes *probe.StackDepth
	)

	g, gctx := errgroup.WithContext(ctx)
	if t.DeploymentURL != "" {
		g.Go(func() error {
			r := p.httpProbe.Probe(gctx, t.DeploymentURL, t.VerificationToken)
			httpRes = &r
			return nil
		})
	}
	if t.RepoURL != "" && p.githubProbe != nil {
		g.Go(func() error {
			r := p.githubProbe.Probe(gctx, t.RepoURL, t.GitHubUsername)
			ghRes = &r
			return nil
		})
		if t.ManifestPath != "" {
			g.Go(func() error {
				stackRes = p.fetchStack(gctx, t.RepoURL, t.ManifestPath)
				return nil
			})
		}
	} else if t.RepoURL != "" {
		log.Warn("pipeline: no github client configured, skipping repository probe")
	}
	_ = g.Wait()

	var rows []ledger.IngestParams
	if httpRes != nil {
		rows = append(rows, httpRes.Evidence(t.BuilderID, t.ProjectID, t.DeliveryID))
	}
	if ghRes != nil {
		rows = append(rows, ghRes.Evidence(t.BuilderID, t.ProjectID, t.DeliveryID)...)
	}
	if stackRes != nil {
		if row, ok := stackRes.Evidence(t.BuilderID, t.ProjectID, t.DeliveryID); ok {
			rows = append(rows, row)
		}
	}
	if row, ok := probe.Ownership(t.BuilderID, t.ProjectID, t.DeliveryID, httpRes, ghRes); ok {
		rows = append(rows, row)
	}

	report := &VerifyReport{HTTP: httpRes, GitHub: ghRes, Stack: stackRes}
	for _, row := range rows {
		ev, err := p.record(ctx, row)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			report.Duplicates++
			continue
		}
		report.Evidence = append(report.Evidence, *ev)
	}

	if len(report.Evidence) > 0 {
		job, err := p.EnqueueRecompute(ctx, t.BuilderID, model.TriggerProbe, report.Evidence[0].ID, model.PriorityNormal)
		if err != nil {
			return nil, err
		}
		report.Job = job
	}

	log.Info("pipeline: delivery verified",
		zap.Int("evidence", len(report.Evidence)),
		zap.Int("duplicates", report.Duplicates),
		zap.Bool("queued", report.Job != nil),
	)
	return report, nil
}

// fetchStack reads a manifest through the contents API and infers the stack.
// A failed fetch yields nil.
func (p *Pipeline) fetchStack(ctx context.Context, repoURL, manifestPath string) *probe.StackDepth {
	owner, repo, err := github.ParseRepoURL(repoURL)
	if err != nil {
		return nil
	}
	content, err := p.github.GetFileContent(ctx, owner, repo, manifestPath)
	if err != nil {
		zap.L().Debug("pipeline: manifest fetch failed",
			zap.String("repo", owner+"/"+repo),
			zap.String("path", manifestPath),
			zap.Error(err),
		)
		return nil
	}
	sd := probe.InferStack(path.Base(manifestPath), content)
	return &sd
}
