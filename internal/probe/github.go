package probe

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/pkg/github"
)

// Root entries that mark a repository as having CI, tests or a container build.
var (
	ciMarkers     = []string{".github", ".gitlab-ci.yml", ".circleci", "jenkinsfile"}
	testMarkers   = []string{"test", "tests", "__tests__", "spec", "pytest.ini"}
	dockerMarkers = []string{"dockerfile", "docker-compose.yml", "compose.yaml"}
)

// Complexity signal names.
const (
	SignalCI        = "ci"
	SignalTests     = "tests"
	SignalDocker    = "docker"
	SignalPolyglot  = "multi_language"
	minComplexity   = 2
	polyglotMinimum = 3
)

// GitHubProber verifies that a builder contributed to a repository.
type GitHubProber struct {
	client github.Client
}

// NewGitHubProber creates a prober backed by client.
func NewGitHubProber(client github.Client) *GitHubProber {
	return &GitHubProber{client: client}
}

// GitHubResult is the outcome of one contributor probe.
type GitHubResult struct {
	RepoURL       string   `json:"repo_url"`
	Owner         string   `json:"owner,omitempty"`
	Repo          string   `json:"repo,omitempty"`
	Username      string   `json:"username"`
	Verified      bool     `json:"verified"`
	Contributions int      `json:"contributions"`
	Languages     []string `json:"languages,omitempty"`
	HasCI         bool     `json:"has_ci"`
	HasTests      bool     `json:"has_tests"`
	HasDocker     bool     `json:"has_docker"`
	Err           string   `json:"error,omitempty"`
}

// Probe looks up username among the repository's contributors and harvests
// languages and root layout. API failures are recorded in the result.
func (p *GitHubProber) Probe(ctx context.Context, repoURL, username string) GitHubResult {
	res := GitHubResult{RepoURL: repoURL, Username: username}

	owner, repo, err := github.ParseRepoURL(repoURL)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	res.Owner, res.Repo = owner, repo

	if _, err := p.client.GetRepo(ctx, owner, repo); err != nil {
		res.Err = err.Error()
		zap.L().Debug("probe: repo lookup failed", zap.String("repo", owner+"/"+repo), zap.Error(err))
		return res
	}

	contributors, err := p.client.ListContributors(ctx, owner, repo)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	for _, c := range contributors {
		if strings.EqualFold(c.Login, username) {
			res.Verified = true
			res.Contributions = c.Contributions
			break
		}
	}
	if !res.Verified {
		res.Err = "user " + username + " is not a contributor"
	}

	// Languages and layout are best effort; the contributor check stands alone.
	if langs, err := p.client.ListLanguages(ctx, owner, repo); err == nil {
		res.Languages = sortedLanguages(langs)
	} else {
		zap.L().Debug("probe: languages lookup failed", zap.Error(err))
	}
	if entries, err := p.client.ListRootContents(ctx, owner, repo); err == nil {
		res.HasCI, res.HasTests, res.HasDocker = scanLayout(entries)
	} else {
		zap.L().Debug("probe: contents lookup failed", zap.Error(err))
	}
	return res
}

// sortedLanguages orders language names by byte count, largest first.
func sortedLanguages(langs map[string]int64) []string {
	out := make([]string, 0, len(langs))
	for name := range langs {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		if langs[out[i]] != langs[out[j]] {
			return langs[out[i]] > langs[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func scanLayout(entries []github.ContentEntry) (ci, tests, docker bool) {
	for _, e := range entries {
		name := strings.ToLower(e.Name)
		ci = ci || contains(ciMarkers, name)
		tests = tests || contains(testMarkers, name) || strings.HasPrefix(name, "jest.config.")
		docker = docker || contains(dockerMarkers, name)
	}
	return ci, tests, docker
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Signals returns the complexity signals the repository shows.
func (r GitHubResult) Signals() []string {
	var out []string
	if r.HasCI {
		out = append(out, SignalCI)
	}
	if r.HasTests {
		out = append(out, SignalTests)
	}
	if r.HasDocker {
		out = append(out, SignalDocker)
	}
	if len(r.Languages) >= polyglotMinimum {
		out = append(out, SignalPolyglot)
	}
	return out
}

// Evidence converts the result into ledger rows: the contributor verdict,
// plus REPO_STACK_INFERRED when languages are known and
// REPO_COMPLEXITY_SIGNAL when at least two signals hold.
func (r GitHubResult) Evidence(builderID, projectID, deliveryID string) []ledger.IngestParams {
	verdict := ledger.IngestParams{
		BuilderID:  builderID,
		ProjectID:  projectID,
		DeliveryID: deliveryID,
		Source:     model.SourceProbeGitHub,
		Payload: &model.GitHubProbePayload{
			RepoURL:       r.RepoURL,
			Owner:         r.Owner,
			Repo:          r.Repo,
			Username:      r.Username,
			Contributions: r.Contributions,
			Error:         r.Err,
		},
	}
	if r.Verified {
		verdict.Type = model.EvidenceGitHubContributorOK
		verdict.Confidence = ConfidenceGitHubOK
	} else {
		verdict.Type = model.EvidenceGitHubContributorFail
		verdict.Confidence = ConfidenceGitHubFail
	}
	out := []ledger.IngestParams{verdict}

	if len(r.Languages) > 0 {
		out = append(out, ledger.IngestParams{
			BuilderID:  builderID,
			ProjectID:  projectID,
			DeliveryID: deliveryID,
			Type:       model.EvidenceRepoStackInferred,
			Source:     model.SourceProbeGitHub,
			Payload: &model.RepoStackPayload{
				RepoURL:   r.RepoURL,
				Languages: r.Languages,
				HasCI:     r.HasCI,
				HasTests:  r.HasTests,
				HasDocker: r.HasDocker,
			},
			Confidence: ConfidenceRepoStack,
		})
	}

	if signals := r.Signals(); len(signals) >= minComplexity {
		out = append(out, ledger.IngestParams{
			BuilderID:  builderID,
			ProjectID:  projectID,
			DeliveryID: deliveryID,
			Type:       model.EvidenceRepoComplexity,
			Source:     model.SourceProbeGitHub,
			Payload:    &model.ComplexityPayload{RepoURL: r.RepoURL, Signals: signals},
			Confidence: ConfidenceComplexity,
		})
	}
	return out
}
