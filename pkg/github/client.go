// Package github provides a small client for the GitHub REST endpoints the
// verification probes need.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/forgescore/internal/resilience"
)

// ErrNotFound is returned (wrapped) for a 404 from the API.
var ErrNotFound = eris.New("github: not found")

// Client defines the GitHub operations used by the probes.
type Client interface {
	GetRepo(ctx context.Context, owner, repo string) (*Repo, error)
	ListContributors(ctx context.Context, owner, repo string) ([]Contributor, error)
	ListLanguages(ctx context.Context, owner, repo string) (map[string]int64, error)
	ListRootContents(ctx context.Context, owner, repo string) ([]ContentEntry, error)
	GetFileContent(ctx context.Context, owner, repo, path string) (string, error)
}

// Repo is the subset of repository metadata the probes read.
type Repo struct {
	FullName      string `json:"full_name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Language      string `json:"language"`
	Private       bool   `json:"private"`
	Fork          bool   `json:"fork"`
	Stars         int    `json:"stargazers_count"`
}

// Contributor is one entry of the contributors listing.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// ContentEntry is one file or directory in a repository listing.
type ContentEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

type fileContent struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Option configures the GitHub client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing or GitHub Enterprise).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithToken enables bearer authentication.
func WithToken(token string) Option {
	return func(c *httpClient) {
		c.token = token
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker routes every call through cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a GitHub REST client. Unauthenticated use is allowed but
// subject to GitHub's lower anonymous rate limit.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://api.github.com",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("github", "request")
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitFromSettings("github", 0, 0))
	}
	return c
}

// getJSON fetches path and decodes the body into out.
func (c *httpClient) getJSON(ctx context.Context, path string, out any) error {
	body, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			return c.get(ctx, path)
		})
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "github: decode %s", path)
	}
	return nil
}

func (c *httpClient) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "github: rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "github: create request")
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "forgescore")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "github: GET %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, eris.Wrap(err, "github: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "GET %s", path)
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, resilience.NewTransientError(eris.Errorf("github: rate limit exhausted for %s", path), resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, resilience.StatusError("github", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

func (c *httpClient) GetRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	var out Repo
	if err := c.getJSON(ctx, repoPath(owner, repo), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) ListContributors(ctx context.Context, owner, repo string) ([]Contributor, error) {
	var out []Contributor
	if err := c.getJSON(ctx, repoPath(owner, repo)+"/contributors?per_page=100", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) ListLanguages(ctx context.Context, owner, repo string) (map[string]int64, error) {
	out := make(map[string]int64)
	if err := c.getJSON(ctx, repoPath(owner, repo)+"/languages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) ListRootContents(ctx context.Context, owner, repo string) ([]ContentEntry, error) {
	var out []ContentEntry
	if err := c.getJSON(ctx, repoPath(owner, repo)+"/contents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetFileContent returns the decoded text of a file at the default branch.
func (c *httpClient) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	var fc fileContent
	escaped := (&url.URL{Path: strings.TrimLeft(path, "/")}).EscapedPath()
	if err := c.getJSON(ctx, repoPath(owner, repo)+"/contents/"+escaped, &fc); err != nil {
		return "", err
	}
	if fc.Encoding != "base64" {
		return fc.Content, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(fc.Content, "\n", ""))
	if err != nil {
		return "", eris.Wrapf(err, "github: decode content %s", path)
	}
	return string(raw), nil
}

// ParseRepoURL extracts owner and repo from https, ssh, or "owner/repo"
// forms. A trailing ".git" and any path past the repo name are ignored.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "git@"):
		idx := strings.Index(s, ":")
		if idx < 0 {
			return "", "", eris.Errorf("github: invalid repo url %q", raw)
		}
		s = s[idx+1:]
	case strings.Contains(s, "://"):
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", eris.Wrapf(perr, "github: invalid repo url %q", raw)
		}
		if !strings.EqualFold(strings.TrimPrefix(u.Hostname(), "www."), "github.com") {
			return "", "", eris.Errorf("github: not a github url %q", raw)
		}
		s = u.Path
	case strings.HasPrefix(s, "github.com/"):
		s = strings.TrimPrefix(s, "github.com/")
	}

	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", eris.Errorf("github: invalid repo url %q", raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
