package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forgescore/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	base := []Option{WithBaseURL(srv.URL), WithRateLimit(1000, 100), WithRetry(fastRetry())}
	return NewClient(append(base, opts...)...)
}

func TestClient_GetRepo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/shop", r.URL.Path)
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "forgescore", r.Header.Get("User-Agent"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"full_name":        "acme/shop",
			"default_branch":   "main",
			"language":         "Go",
			"stargazers_count": 12,
		})
	}, WithToken("tok"))

	repo, err := c.GetRepo(context.Background(), "acme", "shop")
	require.NoError(t, err)
	assert.Equal(t, "acme/shop", repo.FullName)
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.Equal(t, 12, repo.Stars)
}

func TestClient_NoAuthHeaderWithoutToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"Go": 1200, "Shell": 30}`))
	})

	langs, err := c.ListLanguages(context.Background(), "acme", "shop")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), langs["Go"])
}

func TestClient_ListContributorsAndContents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/shop/contributors":
			assert.Equal(t, "100", r.URL.Query().Get("per_page"))
			_, _ = w.Write([]byte(`[{"login":"Alice","contributions":40},{"login":"bob","contributions":2}]`))
		case "/repos/acme/shop/contents":
			_, _ = w.Write([]byte(`[{"name":".github","path":".github","type":"dir"},{"name":"Dockerfile","path":"Dockerfile","type":"file"}]`))
		default:
			http.NotFound(w, r)
		}
	})

	contributors, err := c.ListContributors(context.Background(), "acme", "shop")
	require.NoError(t, err)
	require.Len(t, contributors, 2)
	assert.Equal(t, "Alice", contributors[0].Login)

	entries, err := c.ListRootContents(context.Background(), "acme", "shop")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dir", entries[0].Type)
}

func TestClient_GetFileContentDecodesBase64(t *testing.T) {
	manifest := "module example.com/shop\n\nrequire github.com/stripe/stripe-go/v76 v76.0.0\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(manifest))
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/shop/contents/go.mod", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"content":  encoded[:10] + "\n" + encoded[10:],
			"encoding": "base64",
		})
	})

	got, err := c.GetFileContent(context.Background(), "acme", "shop", "go.mod")
	require.NoError(t, err)
	assert.Equal(t, manifest, got)
}

func TestClient_NotFound(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})

	_, err := c.GetRepo(context.Background(), "acme", "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.Equal(t, int32(1), calls.Load(), "404 is not retried")
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"full_name":"acme/shop"}`))
	})

	repo, err := c.GetRepo(context.Background(), "acme", "shop")
	require.NoError(t, err)
	assert.Equal(t, "acme/shop", repo.FullName)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RateLimitExhaustedIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}, WithRetry(resilience.RetryConfig{MaxAttempts: 1}))

	_, err := c.GetRepo(context.Background(), "acme", "shop")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestClient_CircuitOpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "github", FailureThreshold: 2, ResetTimeout: time.Hour})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithRetry(resilience.RetryConfig{MaxAttempts: 1}), WithCircuitBreaker(cb))

	for i := 0; i < 2; i++ {
		_, err := c.GetRepo(context.Background(), "acme", "shop")
		require.Error(t, err)
	}
	_, err := c.GetRepo(context.Background(), "acme", "shop")
	require.Error(t, err)
	assert.True(t, eris.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())
}

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		in          string
		owner, repo string
		wantErr     bool
	}{
		{in: "https://github.com/acme/shop", owner: "acme", repo: "shop"},
		{in: "https://github.com/acme/shop.git", owner: "acme", repo: "shop"},
		{in: "https://www.github.com/acme/shop/tree/main/cmd", owner: "acme", repo: "shop"},
		{in: "git@github.com:acme/shop.git", owner: "acme", repo: "shop"},
		{in: "github.com/acme/shop", owner: "acme", repo: "shop"},
		{in: "acme/shop", owner: "acme", repo: "shop"},
		{in: "https://gitlab.com/acme/shop", wantErr: true},
		{in: "acme", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, repo, err := ParseRepoURL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}
