package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forgescore/internal/config"
	"github.com/sells-group/forgescore/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "worker", "recompute", "process", "score", "legacy", "ingest", "verify", "model", "status", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "forgescore", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestGroupCommands_HaveSubcommands(t *testing.T) {
	groups := map[string][]string{
		"model":  {"import", "show", "list"},
		"legacy": {"set", "import"},
	}
	for group, subs := range groups {
		c, _, err := rootCmd.Find([]string{group})
		require.NoError(t, err)
		names := make(map[string]bool)
		for _, sub := range c.Commands() {
			names[sub.Name()] = true
		}
		for _, name := range subs {
			assert.True(t, names[name], "%s should have subcommand %q", group, name)
		}
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
		def  string
	}{
		{"serve", "port", "0"},
		{"serve", "with-worker", "false"},
		{"worker", "once", "false"},
		{"recompute", "async", "false"},
		{"score", "history", "10"},
		{"status", "lookback", "0"},
		{"status", "alert", "false"},
		{"verify", "builder", ""},
		{"verify", "repo", ""},
		{"verify", "github-user", ""},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+"/"+tt.flag, func(t *testing.T) {
			c, _, err := rootCmd.Find([]string{tt.cmd})
			require.NoError(t, err)
			f := c.Flags().Lookup(tt.flag)
			require.NotNil(t, f, "%s should have --%s", tt.cmd, tt.flag)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

// runCLI executes the root command against a scratch SQLite database.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupCLIEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FORGE_STORE_DRIVER", "sqlite")
	t.Setenv("FORGE_STORE_SQLITE_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("FORGE_LOG_LEVEL", "error")
	t.Setenv("FORGE_TELEMETRY_ENDPOINT", "")
	return dir
}

func TestCLI_IngestRecomputeScore(t *testing.T) {
	dir := setupCLIEnv(t)

	first := time.Now().UTC().AddDate(0, 0, -60).Format(time.RFC3339)
	second := time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339)
	evidence := fmt.Sprintf(`[
		{"builder_id":"b-1","delivery_id":"d-1","type":"DELIVERY_VERIFIED","source":"platform_event","payload":{"title":"one"},"confidence":1,"created_at":%q},
		{"builder_id":"b-1","delivery_id":"d-2","type":"DELIVERY_VERIFIED","source":"platform_event","payload":{"title":"two"},"confidence":1,"created_at":%q},
		{"builder_id":"b-1","delivery_id":"d-2","type":"DELIVERY_VERIFIED","source":"platform_event","payload":{"title":"two"},"confidence":1,"created_at":%q}
	]`, first, second, second)
	path := filepath.Join(dir, "evidence.json")
	require.NoError(t, os.WriteFile(path, []byte(evidence), 0o600))

	out, err := runCLI(t, "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 2, skipped 1 duplicate(s)")

	out, err = runCLI(t, "recompute", "b-1")
	require.NoError(t, err)
	var res struct {
		Score       int      `json:"score"`
		EvidenceIDs []string `json:"evidence_ids"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.GreaterOrEqual(t, res.Score, 100)
	assert.Len(t, res.EvidenceIDs, 2)

	out, err = runCLI(t, "score", "b-1")
	require.NoError(t, err)
	var score struct {
		Builder model.BuilderProjection `json:"builder"`
		History []model.ScoreHistory    `json:"history"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &score), out)
	require.NotNil(t, score.Builder.ScoreV3)
	assert.Equal(t, res.Score, *score.Builder.ScoreV3)
	require.Len(t, score.History, 1)
	assert.Equal(t, model.TriggerManual, score.History[0].Reason)
}

func TestCLI_WorkerOnceDrainsQueue(t *testing.T) {
	dir := setupCLIEnv(t)

	path := filepath.Join(dir, "one.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"builder_id":"b-2","type":"PROJECT_COMPLETED","source":"platform_event","payload":{},"confidence":1}`,
	), 0o600))

	_, err := runCLI(t, "ingest", path)
	require.NoError(t, err)

	out, err := runCLI(t, "worker", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "completed 1 job(s)")

	out, err = runCLI(t, "status")
	require.NoError(t, err)
	var status struct {
		ModelVersion string `json:"model_version"`
		Queue        struct {
			JobsPending   int `json:"jobs_pending"`
			JobsCompleted int `json:"jobs_completed"`
		} `json:"queue"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status), out)
	assert.Equal(t, model.DefaultModelVersion, status.ModelVersion)
	assert.Equal(t, 0, status.Queue.JobsPending)
	assert.Equal(t, 1, status.Queue.JobsCompleted)
}

func TestCLI_ModelImportAndShow(t *testing.T) {
	dir := setupCLIEnv(t)

	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: v3.1.0
weights:
  ec: 0.25
  aoi: 0.25
  rc: 0.25
  lpi: 0.25
  self_report_max: 0.1
  self_report_threshold: 5
`), 0o600))

	out, err := runCLI(t, "model", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "published v3.1.0")

	out, err = runCLI(t, "model", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "version: v3.1.0")
	assert.Contains(t, out, "ec: 0.25")
	assert.Contains(t, out, "Legendary", "omitted tiers fall back to the default")
}

func TestCLI_LegacyImportBoostsSparseBuilder(t *testing.T) {
	dir := setupCLIEnv(t)

	csvPath := filepath.Join(dir, "legacy.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("builder_id,score\nb-3,80\nb-4,20\n"), 0o600))

	out, err := runCLI(t, "legacy", "import", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 legacy score(s)")

	out, err = runCLI(t, "recompute", "b-3")
	require.NoError(t, err)
	var res struct {
		Breakdown model.ScoreBreakdown `json:"breakdown"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.InDelta(t, 8.0, res.Breakdown.SelfReportBoost, 1e-9)
}

func TestCLI_VerifyRequiresBuilder(t *testing.T) {
	setupCLIEnv(t)
	_, err := runCLI(t, "verify", "--url", "https://example.com")
	require.Error(t, err)
}
