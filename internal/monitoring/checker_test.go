package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/config"
	"github.com/sells-group/forgescore/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(&mockSource{})
	alerter := NewAlerter(config.MonitoringConfig{FailureRateWarn: 0.10})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		snap, _ := checker.Latest()
		return snap != nil
	}, 2*time.Second, 10*time.Millisecond, "first check runs immediately")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&mockSource{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{
		CheckIntervalSecs: 0,
	})
	assert.NotNil(t, checker)

	// Start and immediately cancel to verify it doesn't panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)

	snap, _ := checker.Latest()
	assert.Nil(t, snap, "no check runs on a cancelled context")
}

func TestChecker_CheckStoresAlerts(t *testing.T) {
	src := &mockSource{}
	for range 10 {
		src.jobs = append(src.jobs, model.RecomputeJob{Status: model.JobStatusPending, CreatedAt: time.Now()})
	}
	cfg := config.MonitoringConfig{MaxPendingJobs: 5, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(src), NewAlerter(cfg), cfg)

	checker.Check(context.Background(), zap.NewNop())

	snap, alerts := checker.Latest()
	require.NotNil(t, snap)
	assert.Equal(t, 10, snap.JobsPending)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertQueueBacklog, alerts[0].Type)
}
