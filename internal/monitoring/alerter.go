package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate AlertType = "job_failure_rate"
	AlertQueueBacklog   AlertType = "queue_backlog"
	AlertStuckJobs      AlertType = "stuck_jobs"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// minFinishedForRate is the number of finished jobs needed before the
// failure rate is meaningful.
const minFinishedForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached. An alert type
// that was sent within the cooldown is not sent again.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
	now      func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		lastSent: make(map[AlertType]time.Time),
		now:      time.Now,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	finished := snap.RecentCompleted + snap.RecentFailed
	if finished >= minFinishedForRate && a.cfg.FailureRateWarn > 0 && snap.RecentFailRate > a.cfg.FailureRateWarn {
		severity := SeverityWarning
		threshold := a.cfg.FailureRateWarn
		if a.cfg.FailureRateCritical > 0 && snap.RecentFailRate > a.cfg.FailureRateCritical {
			severity = SeverityCritical
			threshold = a.cfg.FailureRateCritical
		}
		alerts = append(alerts, Alert{
			Type:     AlertJobFailureRate,
			Severity: severity,
			Message: fmt.Sprintf(
				"Recompute failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RecentFailRate*100, threshold*100,
				snap.RecentFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RecentFailRate,
				"threshold":    threshold,
				"failed":       snap.RecentFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxPendingJobs > 0 && snap.JobsPending > a.cfg.MaxPendingJobs {
		alerts = append(alerts, Alert{
			Type:     AlertQueueBacklog,
			Severity: SeverityWarning,
			Message: fmt.Sprintf(
				"%d recompute jobs pending, limit is %d",
				snap.JobsPending, a.cfg.MaxPendingJobs,
			),
			Details: map[string]any{
				"pending":    snap.JobsPending,
				"processing": snap.JobsProcessing,
				"limit":      a.cfg.MaxPendingJobs,
			},
			Timestamp: now,
		})
	}

	if snap.StuckJobs > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckJobs,
			Severity: SeverityCritical,
			Message: fmt.Sprintf(
				"%d recompute job(s) claimed more than %s ago and still processing",
				snap.StuckJobs, stuckAfter,
			),
			Details: map[string]any{
				"stuck": snap.StuckJobs,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if a.coolingDown(alert.Type) {
			zap.L().Debug("monitoring: alert suppressed by cooldown", zap.String("type", string(alert.Type)))
			continue
		}
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		a.markSent(alert.Type)
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) coolingDown(t AlertType) bool {
	if a.cfg.CooldownMinutes <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.now().Sub(last) < time.Duration(a.cfg.CooldownMinutes)*time.Minute
}

func (a *Alerter) markSent(t AlertType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSent[t] = a.now()
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
