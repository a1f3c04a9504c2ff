package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/config"
)

// defaultCheckInterval applies when the config leaves the interval unset.
const defaultCheckInterval = 5 * time.Minute

// Checker collects queue health on an interval, sends alerts and keeps the
// latest snapshot for status reads.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu     sync.RWMutex
	latest *MetricsSnapshot
	alerts []Alert
}

// NewChecker creates a background queue health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Latest returns the most recent snapshot and the alerts it raised. The
// snapshot is nil until the first check completes.
func (c *Checker) Latest() (*MetricsSnapshot, []Alert) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.alerts
}

// Run checks once immediately, then on every tick. It blocks until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting queue health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx, log)
		}
		select {
		case <-ctx.Done():
			log.Info("queue health checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one collection and alert pass.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)

	c.mu.Lock()
	c.latest = snap
	c.alerts = alerts
	c.mu.Unlock()

	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered",
			zap.Int("pending", snap.JobsPending),
			zap.Int("failed", snap.JobsFailed),
		)
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
