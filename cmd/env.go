package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/pipeline"
	"github.com/sells-group/forgescore/internal/probe"
	"github.com/sells-group/forgescore/internal/resilience"
	"github.com/sells-group/forgescore/internal/store"
	"github.com/sells-group/forgescore/internal/telemetry"
	"github.com/sells-group/forgescore/pkg/github"
)

// appEnv holds the store, telemetry and pipeline shared by every command.
type appEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline

	shutdownTelemetry telemetry.Shutdown
}

// Close flushes telemetry and releases the store.
func (e *appEnv) Close() {
	if e.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.shutdownTelemetry(ctx); err != nil {
			zap.L().Warn("telemetry shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates config for mode, opens and migrates the store and builds
// the pipeline. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Insecure)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.shutdownTelemetry = shutdown

	rec, err := telemetry.NewRecorder(telemetry.Meter(telemetry.MeterName))
	if err != nil {
		env.Close()
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithRecorder(rec),
		pipeline.WithRecomputeWindow(time.Duration(cfg.Recompute.WindowMinutes) * time.Minute),
		pipeline.WithMaxBackdate(time.Duration(cfg.Ledger.MaxBackdateDays) * 24 * time.Hour),
		pipeline.WithHTTPProber(probe.NewHTTPProber(nil, probe.HTTPOptions{
			UserAgent:    cfg.Probe.UserAgent,
			Timeout:      time.Duration(cfg.Probe.TimeoutSecs) * time.Second,
			TokenTimeout: time.Duration(cfg.Probe.TokenTimeoutSecs) * time.Second,
			MaxBodyBytes: cfg.Probe.MaxBodyBytes,
		})),
		pipeline.WithGitHub(initGitHub()),
	}
	env.Pipeline = pipeline.New(st, opts...)

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initGitHub() github.Client {
	opts := []github.Option{
		github.WithBaseURL(cfg.GitHub.BaseURL),
		github.WithRateLimit(cfg.GitHub.RateLimit, cfg.GitHub.Burst),
		github.WithRetry(resilience.FromSettings(cfg.GitHub.MaxRetries, 0, 0)),
		github.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitFromSettings("github", 0, 0))),
	}
	if cfg.GitHub.Token != "" {
		opts = append(opts, github.WithToken(cfg.GitHub.Token))
	} else {
		zap.L().Debug("FORGE_GITHUB_TOKEN not set, using anonymous GitHub rate limit")
	}
	return github.NewClient(opts...)
}
