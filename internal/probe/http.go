// Package probe turns outside observations of a delivery into ledger evidence:
// deployment reachability, GitHub contribution, manifest stack depth and the
// ownership signal derived from both.
package probe

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/model"
)

// Confidence assigned to probe evidence.
const (
	ConfidenceHTTPOK        = 0.7
	ConfidenceHTTPOKToken   = 0.95
	ConfidenceHTTPFail      = 0.1
	ConfidenceGitHubOK      = 0.9
	ConfidenceGitHubFail    = 0.2
	ConfidenceRepoStack     = 0.8
	ConfidenceComplexity    = 0.6
	ConfidenceOwnershipFull = 0.9
	ConfidenceOwnershipWeak = 0.5
)

// HTTPOptions configures the deployment probe.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	TokenTimeout time.Duration
	MaxBodyBytes int64
}

// DefaultHTTPOptions returns a 10s reachability check and a 5s, 1 MiB token
// scan.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		UserAgent:    "forgescore-probe/1.0",
		Timeout:      10 * time.Second,
		TokenTimeout: 5 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// HTTPProber checks that a deployment URL answers.
type HTTPProber struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPProber creates a prober. A nil client gets a plain http.Client;
// per-request deadlines come from opts either way.
func NewHTTPProber(client *http.Client, opts HTTPOptions) *HTTPProber {
	def := DefaultHTTPOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.TokenTimeout <= 0 {
		opts.TokenTimeout = def.TokenTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProber{client: client, opts: opts}
}

// HTTPResult is the outcome of one deployment probe.
type HTTPResult struct {
	URL        string `json:"url"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code"`
	LatencyMS  int64  `json:"latency_ms"`
	TokenFound bool   `json:"token_found"`
	Err        string `json:"error,omitempty"`
}

// Probe issues a GET against url. When token is non-empty and the URL is
// reachable, a second GET scans the body for it. Network failures are
// reported in the result, never as an error.
func (p *HTTPProber) Probe(ctx context.Context, url, token string) HTTPResult {
	res := HTTPResult{URL: url}

	start := time.Now()
	status, err := p.get(ctx, url, p.opts.Timeout, nil)
	res.LatencyMS = time.Since(start).Milliseconds()
	res.StatusCode = status
	if err != nil {
		res.Err = err.Error()
		zap.L().Debug("probe: deployment unreachable", zap.String("url", url), zap.Error(err))
		return res
	}
	if status < 200 || status >= 400 {
		res.Err = "unexpected status " + strconv.Itoa(status)
		return res
	}
	res.OK = true

	if token != "" {
		var body []byte
		if _, err := p.get(ctx, url, p.opts.TokenTimeout, &body); err != nil {
			zap.L().Debug("probe: token scan failed", zap.String("url", url), zap.Error(err))
		} else {
			res.TokenFound = bytes.Contains(body, []byte(token))
		}
	}
	return res
}

// get performs one bounded GET. When body is non-nil it receives at most
// MaxBodyBytes of the response.
func (p *HTTPProber) get(ctx context.Context, url string, timeout time.Duration, body *[]byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, eris.Wrap(err, "probe: create request")
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, eris.Wrapf(err, "probe: GET %s", url)
	}
	defer resp.Body.Close() //nolint:errcheck

	if body != nil {
		*body, err = io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxBodyBytes))
		if err != nil {
			return resp.StatusCode, eris.Wrap(err, "probe: read body")
		}
	}
	return resp.StatusCode, nil
}

// Evidence converts the result into a DEPLOYMENT_HTTP_PROBE_OK or _FAIL row.
func (r HTTPResult) Evidence(builderID, projectID, deliveryID string) ledger.IngestParams {
	p := ledger.IngestParams{
		BuilderID:  builderID,
		ProjectID:  projectID,
		DeliveryID: deliveryID,
		Source:     model.SourceProbeHTTP,
		Payload: &model.HTTPProbePayload{
			URL:        r.URL,
			StatusCode: r.StatusCode,
			LatencyMS:  r.LatencyMS,
			TokenFound: r.TokenFound,
			Error:      r.Err,
		},
	}
	switch {
	case !r.OK:
		p.Type = model.EvidenceHTTPProbeFail
		p.Confidence = ConfidenceHTTPFail
	case r.TokenFound:
		p.Type = model.EvidenceHTTPProbeOK
		p.Confidence = ConfidenceHTTPOKToken
	default:
		p.Type = model.EvidenceHTTPProbeOK
		p.Confidence = ConfidenceHTTPOK
	}
	return p
}
