package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/opspulse/opspulse/pkg/alerts"
	"github.com/opspulse/opspulse/pkg/metrics"
	"github.com/opspulse/opspulse/pkg/models"
)

// stubSource is a MetricSource returning a fixed snapshot.
type stubSource struct {
	snap      models.Snapshot
	panicSnap bool
}

func (s *stubSource) GetSnapshot() models.Snapshot {
	if s.panicSnap {
		panic("snapshot blew up")
	}

	return s.snap
}

func (s *stubSource) GetHealthStatus() models.HealthStatus {
	return metrics.HealthFromSnapshot(s.snap)
}

// breachedErrorRate is a snapshot where only the error rate rule trips.
func breachedErrorRate() models.Snapshot {
	return models.Snapshot{
		Performance: models.PerformanceMetrics{
			ErrorRate:     6.0,
			TotalRequests: 100,
			TotalErrors:   6,
			MemoryUsageMB: 100,
		},
		Integration: models.IntegrationMetrics{
			SuccessRate: 100,
		},
		Timestamp: time.Now(),
	}
}

func newTestManager(t *testing.T, source metrics.MetricSource, channels map[string]alerts.AlertService) *Manager {
	t.Helper()

	return NewManager(Config{}, source, channels, zap.NewNop())
}

func TestCooldownSingleFire(t *testing.T) {
	source := &stubSource{snap: breachedErrorRate()}
	m := newTestManager(t, source, nil)

	now := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }

	// Breach holds across two ticks inside the cooldown window: one alert.
	m.EvaluateOnce(context.Background())

	now = now.Add(2 * time.Minute)
	m.EvaluateOnce(context.Background())

	history := m.History(24)
	require.Len(t, history, 1)
	assert.Equal(t, RuleHighErrorRate, history[0].Type)

	// Beyond the cooldown the same persistent breach fires again.
	now = now.Add(20 * time.Minute)
	m.EvaluateOnce(context.Background())

	assert.Len(t, m.History(24), 2)
}

func TestAlertInstanceFields(t *testing.T) {
	source := &stubSource{snap: breachedErrorRate()}
	m := newTestManager(t, source, nil)

	m.EvaluateOnce(context.Background())

	history := m.History(24)
	require.Len(t, history, 1)

	fired := history[0]

	assert.Equal(t, RuleHighErrorRate, fired.Type)
	assert.Equal(t, models.SeverityCritical, fired.Severity)
	assert.InDelta(t, 6.0, fired.CurrentValue, 0.001)
	assert.Equal(t, 5.0, fired.Threshold)
	assert.Contains(t, fired.Message, "6.0%")
	assert.NotEmpty(t, fired.SuggestedActions)
	assert.Equal(t, int64(100), fired.Details["total_requests"])
}

func TestDispatchIsolation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	failing := alerts.NewMockAlertService(ctrl)
	okA := alerts.NewMockAlertService(ctrl)
	okB := alerts.NewMockAlertService(ctrl)

	for _, ch := range []*alerts.MockAlertService{failing, okA, okB} {
		ch.EXPECT().IsEnabled().Return(true).AnyTimes()
	}

	// One channel always fails; the other two must still get the alert,
	// and the later payment rule must still be evaluated and delivered.
	failing.EXPECT().Alert(gomock.Any(), gomock.Any()).Return(errors.New("sink down")).Times(1)
	okA.EXPECT().Alert(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	okB.EXPECT().Alert(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	snap := breachedErrorRate()
	snap.Business.PaymentsSucceeded = 80
	snap.Business.PaymentsFailed = 20
	snap.Business.PaymentFailureRate = 20

	source := &stubSource{snap: snap}

	m := newTestManager(t, source, map[string]alerts.AlertService{
		"failing": failing,
		"ok_a":    okA,
		"ok_b":    okB,
	})

	require.NoError(t, m.UpdateRuleConfig(RuleHighErrorRate, models.RulePatch{
		Channels: []string{"failing", "ok_a", "ok_b"},
	}))
	require.NoError(t, m.UpdateRuleConfig(RuleHighPaymentFailure, models.RulePatch{
		Channels: []string{"ok_b"},
	}))

	m.EvaluateOnce(context.Background())
	m.waitForDispatches()

	assert.Len(t, m.History(24), 2)
}

func TestDisabledChannelSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	disabled := alerts.NewMockAlertService(ctrl)
	disabled.EXPECT().IsEnabled().Return(false).AnyTimes()

	source := &stubSource{snap: breachedErrorRate()}

	m := newTestManager(t, source, map[string]alerts.AlertService{
		"disabled": disabled,
	})

	require.NoError(t, m.UpdateRuleConfig(RuleHighErrorRate, models.RulePatch{
		Channels: []string{"disabled"},
	}))

	m.EvaluateOnce(context.Background())
	m.waitForDispatches()

	// The alert is still recorded even though no channel accepted it.
	assert.Len(t, m.History(24), 1)
}

func TestDisabledRuleNeverFires(t *testing.T) {
	source := &stubSource{snap: breachedErrorRate()}
	m := newTestManager(t, source, nil)

	enabled := false
	require.NoError(t, m.UpdateRuleConfig(RuleHighErrorRate, models.RulePatch{
		Enabled: &enabled,
	}))

	m.EvaluateOnce(context.Background())

	assert.Empty(t, m.History(24))
}

func TestSnapshotPanicSkipsTick(t *testing.T) {
	source := &stubSource{panicSnap: true}
	m := newTestManager(t, source, nil)

	m.EvaluateOnce(context.Background())

	assert.Empty(t, m.History(24))
	assert.True(t, m.LastTick().IsZero())

	// Next tick retries once the source recovers.
	source.panicSnap = false
	source.snap = breachedErrorRate()

	m.EvaluateOnce(context.Background())

	assert.Len(t, m.History(24), 1)
	assert.False(t, m.LastTick().IsZero())
}

func TestBelowThresholdComparison(t *testing.T) {
	snap := models.Snapshot{
		Performance: models.PerformanceMetrics{
			MemoryUsageMB: 100,
		},
		Integration: models.IntegrationMetrics{
			SuccessRate:        90,
			CallbacksProcessed: 50,
		},
		Timestamp: time.Now(),
	}

	source := &stubSource{snap: snap}
	m := newTestManager(t, source, nil)

	m.EvaluateOnce(context.Background())

	history := m.History(24)
	require.Len(t, history, 1)
	assert.Equal(t, RuleLowWebhookSuccess, history[0].Type)
	assert.InDelta(t, 90.0, history[0].CurrentValue, 0.001)
}

func TestRevenueDropNeedsPreviousPass(t *testing.T) {
	snap := breachedErrorRate()
	snap.Business.ActiveSubscriptions = 10
	snap.Business.TotalSubscriptions = 10
	snap.Business.AvgRevenuePerUser = 100

	source := &stubSource{snap: snap}
	m := newTestManager(t, source, nil)

	// First pass establishes the baseline; no revenue alert possible.
	m.EvaluateOnce(context.Background())

	for _, fired := range m.History(24) {
		assert.NotEqual(t, RuleRevenueDrop, fired.Type)
	}

	// ARPU halves between passes: well past the 30% drop threshold.
	snap.Business.AvgRevenuePerUser = 50
	source.snap = snap

	m.EvaluateOnce(context.Background())

	var found bool

	for _, fired := range m.History(24) {
		if fired.Type == RuleRevenueDrop {
			found = true

			assert.InDelta(t, 50.0, fired.CurrentValue, 0.001)
		}
	}

	assert.True(t, found, "expected a revenue_drop alert on the second pass")
}

func TestDependencyConnectivityRule(t *testing.T) {
	snap := models.Snapshot{
		Performance: models.PerformanceMetrics{MemoryUsageMB: 100},
		Integration: models.IntegrationMetrics{
			SuccessRate:      100,
			DownDependencies: []string{"postgres"},
		},
		Timestamp: time.Now(),
	}

	source := &stubSource{snap: snap}
	m := newTestManager(t, source, nil)

	m.EvaluateOnce(context.Background())

	history := m.History(24)
	require.Len(t, history, 1)
	assert.Equal(t, RuleDependencyConnFailure, history[0].Type)
	assert.Equal(t, []string{"postgres"}, history[0].AffectedEntities)
}

func TestHistoryBounded(t *testing.T) {
	source := &stubSource{snap: breachedErrorRate()}
	m := NewManager(Config{HistoryLimit: 2}, source, nil, zap.NewNop())

	cooldown := 0
	require.NoError(t, m.UpdateRuleConfig(RuleHighErrorRate, models.RulePatch{
		CooldownMinutes: &cooldown,
	}))

	for i := 0; i < 5; i++ {
		m.EvaluateOnce(context.Background())
	}

	assert.Len(t, m.History(24), 2)
	assert.Equal(t, int64(2), m.Stats().TotalAlerts)
}

func TestStatsGrouping(t *testing.T) {
	snap := breachedErrorRate()
	snap.Business.PaymentsSucceeded = 70
	snap.Business.PaymentsFailed = 30
	snap.Business.PaymentFailureRate = 30

	source := &stubSource{snap: snap}
	m := newTestManager(t, source, nil)

	m.EvaluateOnce(context.Background())

	stats := m.Stats()

	assert.Equal(t, int64(2), stats.TotalAlerts)
	assert.Equal(t, int64(1), stats.ByType[RuleHighErrorRate])
	assert.Equal(t, int64(1), stats.ByType[RuleHighPaymentFailure])
	assert.Equal(t, int64(2), stats.BySeverity[string(models.SeverityCritical)])
}

func TestHistoryWindow(t *testing.T) {
	source := &stubSource{snap: breachedErrorRate()}
	m := newTestManager(t, source, nil)

	now := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }

	m.EvaluateOnce(context.Background())

	// Two days later the alert falls outside a 24h window.
	now = now.Add(48 * time.Hour)

	assert.Empty(t, m.History(24))
	assert.Len(t, m.History(72), 1)
}

func TestUpdateRuleConfig(t *testing.T) {
	m := newTestManager(t, &stubSource{}, nil)

	t.Run("applies valid patch", func(t *testing.T) {
		threshold := 12.5
		cooldown := 45

		require.NoError(t, m.UpdateRuleConfig(RuleHighErrorRate, models.RulePatch{
			Threshold:       &threshold,
			CooldownMinutes: &cooldown,
		}))

		rule, err := m.Rule(RuleHighErrorRate)
		require.NoError(t, err)

		assert.Equal(t, 12.5, rule.Threshold)
		assert.Equal(t, 45, rule.CooldownMinutes)
	})

	t.Run("rejects negative threshold, keeps previous", func(t *testing.T) {
		bad := -1.0

		err := m.UpdateRuleConfig(RuleHighErrorRate, models.RulePatch{Threshold: &bad})
		assert.Error(t, err)

		rule, rerr := m.Rule(RuleHighErrorRate)
		require.NoError(t, rerr)
		assert.Equal(t, 12.5, rule.Threshold)
	})

	t.Run("rejects negative cooldown", func(t *testing.T) {
		bad := -5

		assert.Error(t, m.UpdateRuleConfig(RuleHighErrorRate, models.RulePatch{CooldownMinutes: &bad}))
	})

	t.Run("rejects unknown rule type", func(t *testing.T) {
		err := m.UpdateRuleConfig("made_up_rule", models.RulePatch{})
		assert.ErrorIs(t, err, ErrUnknownRule)
	})

	t.Run("rejects unknown channel", func(t *testing.T) {
		err := m.UpdateRuleConfig(RuleHighErrorRate, models.RulePatch{
			Channels: []string{"nonexistent"},
		})
		assert.Error(t, err)
	})
}

func TestRulesReturnedInEvaluationOrder(t *testing.T) {
	m := newTestManager(t, &stubSource{}, nil)

	rules := m.Rules()
	require.Len(t, rules, len(ruleOrder))

	for i, rule := range rules {
		assert.Equal(t, ruleOrder[i], rule.Type)
	}
}

func TestEndToEndErrorRateScenario(t *testing.T) {
	collector := metrics.NewCollector(metrics.Config{}, zap.NewNop(), nil)

	for i := 0; i < 94; i++ {
		collector.RecordAPIRequest("/api/profile", "GET", 50, 200)
	}

	for i := 0; i < 6; i++ {
		collector.RecordAPIRequest("/api/profile", "GET", 50, 500)
	}

	snap := collector.GetSnapshot()
	require.InDelta(t, 6.0, snap.Performance.ErrorRate, 0.001)

	m := newTestManager(t, collector, nil)
	m.EvaluateOnce(context.Background())

	var fired []models.AlertInstance

	for _, a := range m.History(24) {
		if a.Type == RuleHighErrorRate {
			fired = append(fired, a)
		}
	}

	require.Len(t, fired, 1)
	assert.InDelta(t, 6.0, fired[0].CurrentValue, 0.001)
	assert.Equal(t, 5.0, fired[0].Threshold)
}

func TestEndToEndPaymentFailureScenario(t *testing.T) {
	collector := metrics.NewCollector(metrics.Config{}, zap.NewNop(), nil)

	for i := 0; i < 88; i++ {
		collector.RecordBusinessEvent(models.PaymentSucceeded, "", 9.99)
	}

	for i := 0; i < 12; i++ {
		collector.RecordBusinessEvent(models.PaymentFailed, "", 0)
	}

	snap := collector.GetSnapshot()
	require.InDelta(t, 12.0, snap.Business.PaymentFailureRate, 0.001)

	m := newTestManager(t, collector, nil)
	m.EvaluateOnce(context.Background())

	var fired []models.AlertInstance

	for _, a := range m.History(24) {
		if a.Type == RuleHighPaymentFailure {
			fired = append(fired, a)
		}
	}

	require.Len(t, fired, 1)
	assert.InDelta(t, 12.0, fired[0].CurrentValue, 0.001)
}

func TestOnAlertHook(t *testing.T) {
	source := &stubSource{snap: breachedErrorRate()}
	m := newTestManager(t, source, nil)

	var seen []models.AlertInstance

	m.SetOnAlert(func(a models.AlertInstance) {
		seen = append(seen, a)
	})

	m.EvaluateOnce(context.Background())

	require.Len(t, seen, 1)
	assert.Equal(t, RuleHighErrorRate, seen[0].Type)
}
