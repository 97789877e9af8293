// Package alerting implements the alert manager: a periodic evaluator that
// reads the collector's snapshot, tests it against the configured rule table
// and dispatches firing alerts to notification channels. Rules deduplicate
// through per-type cooldown windows; channel failures are isolated from each
// other and from rule evaluation.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opspulse/opspulse/pkg/alerts"
	"github.com/opspulse/opspulse/pkg/metrics"
	"github.com/opspulse/opspulse/pkg/models"
)

var (
	ErrUnknownRule      = errors.New("unknown alert rule type")
	errInvalidThreshold = errors.New("threshold must be a finite, non-negative number")
	errInvalidCooldown  = errors.New("cooldown must be non-negative")
	errUnknownChannel   = errors.New("unknown channel")
)

const (
	defaultEvaluationInterval = 60 * time.Second
	defaultDispatchTimeout    = 5 * time.Second
	defaultHistoryLimit       = 1000

	// Dispatch rate limit. Even with every rule misconfigured to fire each
	// tick, channels see at most this sustained rate.
	defaultDispatchPerSecond = 1
	defaultDispatchBurst     = 20
)

// Config controls manager behavior. The zero value is usable.
type Config struct {
	EvaluationInterval time.Duration `json:"evaluation_interval"`
	DispatchTimeout    time.Duration `json:"dispatch_timeout"`
	HistoryLimit       int           `json:"history_limit"`
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.EvaluationInterval <= 0 {
		out.EvaluationInterval = defaultEvaluationInterval
	}

	if out.DispatchTimeout <= 0 {
		out.DispatchTimeout = defaultDispatchTimeout
	}

	if out.HistoryLimit <= 0 {
		out.HistoryLimit = defaultHistoryLimit
	}

	return out
}

// Manager owns the rule table, per-rule cooldown clocks and the bounded
// alert history. It is safe for concurrent use: the evaluation goroutine and
// administrative updates share one lock, none of which sits on the metric
// recording hot path.
type Manager struct {
	mu  sync.RWMutex
	log *zap.Logger
	cfg Config

	source   metrics.MetricSource
	channels map[string]alerts.AlertService
	specs    map[string]ruleSpec

	rules     map[string]models.AlertRule
	lastFired map[string]time.Time
	history   []models.AlertInstance
	prevSnap  *models.Snapshot
	lastTick  time.Time

	limiter *rate.Limiter
	onAlert func(models.AlertInstance)

	dispatchWG sync.WaitGroup
	nowFunc    func() time.Time
}

// NewManager builds a manager over source with the given notification
// channels, keyed by the identifiers rule configs refer to.
func NewManager(cfg Config, source metrics.MetricSource, channels map[string]alerts.AlertService, logger *zap.Logger) *Manager {
	cfg = cfg.withDefaults()
	specs := builtinRules()

	rules := make(map[string]models.AlertRule, len(specs))
	for typ, spec := range specs {
		rules[typ] = spec.defaults
	}

	if channels == nil {
		channels = make(map[string]alerts.AlertService)
	}

	return &Manager{
		log:       logger,
		cfg:       cfg,
		source:    source,
		channels:  channels,
		specs:     specs,
		rules:     rules,
		lastFired: make(map[string]time.Time),
		limiter:   rate.NewLimiter(defaultDispatchPerSecond, defaultDispatchBurst),
		nowFunc:   time.Now,
	}
}

// SetOnAlert registers a hook invoked for every fired alert, after history
// append and before channel dispatch. Used by the live WebSocket feed.
func (m *Manager) SetOnAlert(fn func(models.AlertInstance)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onAlert = fn
}

// Run drives the evaluation loop until ctx is canceled. In-flight channel
// dispatches are not awaited past a short grace period.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvaluateOnce(ctx)
		}
	}
}

// LastTick returns the time of the last completed evaluation pass. A stale
// value is itself a health signal: it means the evaluator stopped running.
func (m *Manager) LastTick() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lastTick
}

// History returns the alerts fired within the trailing window, newest first.
func (m *Manager) History(hours int) []models.AlertInstance {
	if hours <= 0 {
		hours = 24
	}

	cutoff := m.nowFunc().Add(-time.Duration(hours) * time.Hour)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.AlertInstance, 0, len(m.history))

	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Timestamp.Before(cutoff) {
			break
		}

		out = append(out, m.history[i])
	}

	return out
}

// Stats aggregates the retained history by type and severity.
func (m *Manager) Stats() models.AlertStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.AlertStats{
		TotalAlerts: int64(len(m.history)),
		ByType:      make(map[string]int64),
		BySeverity:  make(map[string]int64),
	}

	for i := range m.history {
		stats.ByType[m.history[i].Type]++
		stats.BySeverity[string(m.history[i].Severity)]++
	}

	return stats
}

// Rule returns the current configuration for one rule type.
func (m *Manager) Rule(typ string) (models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[typ]
	if !ok {
		return models.AlertRule{}, fmt.Errorf("%w: %q", ErrUnknownRule, typ)
	}

	return cloneRule(rule), nil
}

// Rules returns all rule configurations in evaluation order.
func (m *Manager) Rules() []models.AlertRule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.AlertRule, 0, len(ruleOrder))

	for _, typ := range ruleOrder {
		if rule, ok := m.rules[typ]; ok {
			out = append(out, cloneRule(rule))
		}
	}

	return out
}

// UpdateRuleConfig applies a validated partial update to one rule,
// replacing the stored configuration atomically. Invalid patches are
// rejected and the previous configuration stays intact.
func (m *Manager) UpdateRuleConfig(typ string, patch models.RulePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[typ]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRule, typ)
	}

	updated := cloneRule(rule)

	if patch.Threshold != nil {
		if *patch.Threshold < 0 || math.IsNaN(*patch.Threshold) || math.IsInf(*patch.Threshold, 0) {
			return fmt.Errorf("%w: %v", errInvalidThreshold, *patch.Threshold)
		}

		updated.Threshold = *patch.Threshold
	}

	if patch.CooldownMinutes != nil {
		if *patch.CooldownMinutes < 0 {
			return fmt.Errorf("%w: %d", errInvalidCooldown, *patch.CooldownMinutes)
		}

		updated.CooldownMinutes = *patch.CooldownMinutes
	}

	if patch.Severity != nil {
		updated.Severity = *patch.Severity
	}

	if patch.Enabled != nil {
		updated.Enabled = *patch.Enabled
	}

	if patch.Channels != nil {
		for _, id := range patch.Channels {
			if _, ok := m.channels[id]; !ok {
				return fmt.Errorf("%w: %q", errUnknownChannel, id)
			}
		}

		updated.Channels = append([]string(nil), patch.Channels...)
	}

	m.rules[typ] = updated

	m.log.Info("alert rule updated",
		zap.String("type", typ),
		zap.Float64("threshold", updated.Threshold),
		zap.Int("cooldown_minutes", updated.CooldownMinutes),
		zap.Bool("enabled", updated.Enabled),
		zap.Strings("channels", updated.Channels),
	)

	return nil
}

func cloneRule(rule models.AlertRule) models.AlertRule {
	out := rule
	out.Channels = append([]string(nil), rule.Channels...)

	return out
}
