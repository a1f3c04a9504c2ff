package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/forgescore/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	GitHub     GitHubConfig     `yaml:"github" mapstructure:"github"`
	Probe      ProbeConfig      `yaml:"probe" mapstructure:"probe"`
	Ledger     LedgerConfig     `yaml:"ledger" mapstructure:"ledger"`
	Recompute  RecomputeConfig  `yaml:"recompute" mapstructure:"recompute"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// GitHubConfig holds GitHub REST API settings.
type GitHubConfig struct {
	Token      string  `yaml:"token" mapstructure:"token"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
	MaxRetries int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// ProbeConfig configures deployment probes.
type ProbeConfig struct {
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	TokenTimeoutSecs int    `yaml:"token_timeout_secs" mapstructure:"token_timeout_secs"`
	MaxBodyBytes     int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LedgerConfig bounds caller-supplied evidence timestamps.
type LedgerConfig struct {
	MaxBackdateDays int `yaml:"max_backdate_days" mapstructure:"max_backdate_days"`
}

// RecomputeConfig configures the advisory recompute window.
type RecomputeConfig struct {
	WindowMinutes int `yaml:"window_minutes" mapstructure:"window_minutes"`
}

// WorkerConfig configures the queue worker.
type WorkerConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// MonitoringConfig configures queue health alerts.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MaxPendingJobs      int     `yaml:"max_pending_jobs" mapstructure:"max_pending_jobs"`
	FailureRateWarn     float64 `yaml:"failure_rate_warn" mapstructure:"failure_rate_warn"`
	FailureRateCritical float64 `yaml:"failure_rate_critical" mapstructure:"failure_rate_critical"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CooldownMinutes     int     `yaml:"cooldown_minutes" mapstructure:"cooldown_minutes"`
}

// TelemetryConfig configures OTLP metric export. An empty endpoint disables
// export.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	Insecure    bool   `yaml:"insecure" mapstructure:"insecure"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"store.database_url", "github.token", "monitoring.webhook_url", "telemetry.endpoint",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("telemetry.insecure", false)

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "forgescore.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.rate_limit", 1.0)
	v.SetDefault("github.burst", 5)
	v.SetDefault("github.max_retries", 3)
	v.SetDefault("probe.user_agent", "forgescore-probe/1.0")
	v.SetDefault("probe.timeout_secs", 10)
	v.SetDefault("probe.token_timeout_secs", 5)
	v.SetDefault("probe.max_body_bytes", 1<<20)
	v.SetDefault("ledger.max_backdate_days", 365)
	v.SetDefault("recompute.window_minutes", 15)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval_secs", 5)
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.max_pending_jobs", 500)
	v.SetDefault("monitoring.failure_rate_warn", 0.05)
	v.SetDefault("monitoring.failure_rate_critical", 0.2)
	v.SetDefault("monitoring.cooldown_minutes", 60)
	v.SetDefault("telemetry.service_name", "forgescore")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "serve",
// "worker" or "cli".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	if c.Probe.TimeoutSecs <= 0 || c.Probe.TokenTimeoutSecs <= 0 {
		errs = append(errs, "probe timeouts must be > 0")
	}
	if c.Ledger.MaxBackdateDays < 0 {
		errs = append(errs, "ledger.max_backdate_days must be >= 0")
	}
	if c.Recompute.WindowMinutes < 0 {
		errs = append(errs, "recompute.window_minutes must be >= 0")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Monitoring.Enabled && c.Monitoring.CheckIntervalSecs <= 0 {
			errs = append(errs, "monitoring.check_interval_secs must be > 0")
		}
	case "worker":
		if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 64 {
			errs = append(errs, "worker.concurrency must be between 1 and 64")
		}
		if c.Worker.PollIntervalSecs <= 0 {
			errs = append(errs, "worker.poll_interval_secs must be > 0")
		}
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.New(strings.Join(errs, "; ")), "config: validation failed")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
