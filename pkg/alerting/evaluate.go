package alerting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opspulse/opspulse/pkg/alerts"
	"github.com/opspulse/opspulse/pkg/models"
)

// EvaluateOnce runs a single evaluation pass: take a snapshot, test every
// enabled rule in declaration order, and dispatch whatever fires. A panic
// while snapshotting skips the whole pass (the next tick retries); a panic in
// one rule never aborts the remaining rules.
func (m *Manager) EvaluateOnce(ctx context.Context) {
	snap, ok := m.takeSnapshot()
	if !ok {
		return
	}

	m.mu.RLock()
	prev := m.prevSnap
	m.mu.RUnlock()

	for _, typ := range ruleOrder {
		m.evaluateRule(ctx, typ, prev, &snap)
	}

	m.mu.Lock()
	m.prevSnap = &snap
	m.lastTick = m.nowFunc()
	m.mu.Unlock()
}

func (m *Manager) takeSnapshot() (snap models.Snapshot, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("snapshot failed, skipping evaluation pass", zap.Any("panic", r))

			ok = false
		}
	}()

	return m.source.GetSnapshot(), true
}

func (m *Manager) evaluateRule(ctx context.Context, typ string, prev, cur *models.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("rule evaluation panicked",
				zap.String("type", typ),
				zap.Any("panic", r))
		}
	}()

	spec, ok := m.specs[typ]
	if !ok {
		return
	}

	m.mu.RLock()
	rule, haveRule := m.rules[typ]
	last, fired := m.lastFired[typ]
	m.mu.RUnlock()

	if !haveRule || !rule.Enabled {
		return
	}

	value, measurable := spec.value(prev, cur)
	if !measurable {
		return
	}

	if !breached(rule.Comparison, value, rule.Threshold) {
		return
	}

	now := m.nowFunc()
	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute

	if fired && now.Sub(last) < cooldown {
		return
	}

	instance := m.buildInstance(spec, rule, value, cur, now)

	m.mu.Lock()
	m.lastFired[typ] = now
	m.history = append(m.history, instance)

	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = m.history[over:]
	}

	hook := m.onAlert
	m.mu.Unlock()

	m.log.Warn("alert rule fired",
		zap.String("type", instance.Type),
		zap.String("severity", string(instance.Severity)),
		zap.Float64("current_value", instance.CurrentValue),
		zap.Float64("threshold", instance.Threshold),
	)

	if hook != nil {
		hook(instance)
	}

	m.dispatch(ctx, rule, instance)
}

func breached(cmp models.Comparison, value, threshold float64) bool {
	if cmp == models.CompareBelow {
		return value < threshold
	}

	return value > threshold
}

func (m *Manager) buildInstance(spec ruleSpec, rule models.AlertRule, value float64, cur *models.Snapshot, now time.Time) models.AlertInstance {
	details := spec.details(cur)
	if details == nil {
		details = map[string]any{}
	}

	details["evaluation_window_minutes"] = rule.WindowMinutes

	instance := models.AlertInstance{
		Type:             rule.Type,
		Severity:         rule.Severity,
		Message:          spec.message(value, rule.Threshold),
		Details:          details,
		Timestamp:        now,
		Threshold:        rule.Threshold,
		CurrentValue:     value,
		SuggestedActions: append([]string(nil), spec.remediation...),
	}

	if len(cur.Integration.DownDependencies) > 0 && rule.Type == RuleDependencyConnFailure {
		instance.AffectedEntities = append([]string(nil), cur.Integration.DownDependencies...)
	}

	return instance
}

// dispatch delivers one alert to every configured channel, each in its own
// goroutine with its own deadline. The pass moves on to the next rule without
// waiting; failures are logged with channel identity and never retried within
// the same tick.
func (m *Manager) dispatch(ctx context.Context, rule models.AlertRule, instance models.AlertInstance) {
	if !m.limiter.Allow() {
		m.log.Warn("dispatch rate limit exceeded, dropping alert dispatch",
			zap.String("type", instance.Type))

		return
	}

	for _, id := range rule.Channels {
		channel, ok := m.channels[id]
		if !ok {
			m.log.Error("rule references unknown channel",
				zap.String("type", instance.Type),
				zap.String("channel", id))

			continue
		}

		if !channel.IsEnabled() {
			continue
		}

		m.dispatchWG.Add(1)

		go func(id string, ch alerts.AlertService) {
			defer m.dispatchWG.Done()

			dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.DispatchTimeout)
			defer cancel()

			alert := instance

			if err := ch.Alert(dispatchCtx, &alert); err != nil {
				m.log.Error("channel dispatch failed",
					zap.String("type", instance.Type),
					zap.String("channel", id),
					zap.Error(err))
			}
		}(id, channel)
	}
}

// waitForDispatches blocks until all in-flight channel dispatches finish.
// Used by tests and by graceful shutdown's grace period.
func (m *Manager) waitForDispatches() {
	m.dispatchWG.Wait()
}

// Stop gives in-flight dispatches a bounded grace period, then returns.
func (m *Manager) Stop(timeout time.Duration) {
	done := make(chan struct{})

	go func() {
		m.waitForDispatches()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		m.log.Warn("shutdown grace period elapsed with dispatches still in flight",
			zap.Duration("timeout", timeout))
	}
}
