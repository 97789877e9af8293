// Package metrics implements the process-wide metrics collector: a
// thread-safe accumulator of counters, rolling latency samples and derived
// statistics consumed by request handlers and the alert manager. Recording a
// metric must never fail the operation it instruments, so no recording method
// returns an error; malformed inputs are clamped.
package metrics

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/opspulse/opspulse/pkg/models"
)

const (
	defaultBufferSize    = 10_000
	defaultResetInterval = 24 * time.Hour

	// Asymmetric nudge applied to the integration success rate: failures
	// erode trust five times faster than successes rebuild it.
	defaultNudgeUp   = 0.1
	defaultNudgeDown = 0.5

	bytesPerMB = 1024 * 1024
)

// Config controls collector behavior. The zero value is usable; unset fields
// fall back to defaults.
type Config struct {
	BufferSize    int           `json:"buffer_size"`
	ResetInterval time.Duration `json:"reset_interval"`
	NudgeUp       float64       `json:"nudge_up"`
	NudgeDown     float64       `json:"nudge_down"`
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.BufferSize <= 0 {
		out.BufferSize = defaultBufferSize
	}

	if out.ResetInterval <= 0 {
		out.ResetInterval = defaultResetInterval
	}

	if out.NudgeUp <= 0 {
		out.NudgeUp = defaultNudgeUp
	}

	if out.NudgeDown <= 0 {
		out.NudgeDown = defaultNudgeDown
	}

	return out
}

// Collector accumulates events from arbitrary concurrent callers. Counter
// updates take a short mutex; latency samples go through a lock-free ring so
// the hot path never waits on percentile computation, which happens lazily at
// snapshot time.
type Collector struct {
	mu  sync.RWMutex
	log *zap.Logger
	cfg Config

	latencies *latencyRing

	routeRequests map[string]int64
	routeErrors   map[string]int64
	totalRequests int64
	totalErrors   int64
	windowStart   time.Time

	activeSubs  int64
	totalSubs   int64
	paySucc     int64
	payFail     int64
	usersByPlan map[string]int64
	revenue     float64

	security models.SecurityMetrics

	intSuccessRate float64
	intAvgLatency  float64
	intProcessed   int64
	depsUp         map[string]bool

	prom *promMetrics

	nowFunc func() time.Time
}

// NewCollector builds a collector. logger must not be nil; pass
// zap.NewNop() to silence it. reg may be nil to skip Prometheus export.
func NewCollector(cfg Config, logger *zap.Logger, reg prometheus.Registerer) *Collector {
	cfg = cfg.withDefaults()

	c := &Collector{
		log:            logger,
		cfg:            cfg,
		latencies:      newLatencyRing(cfg.BufferSize),
		routeRequests:  make(map[string]int64),
		routeErrors:    make(map[string]int64),
		usersByPlan:    make(map[string]int64),
		depsUp:         make(map[string]bool),
		intSuccessRate: 100,
		nowFunc:        time.Now,
	}

	c.windowStart = c.nowFunc()

	if reg != nil {
		c.prom = newPromMetrics(reg)
	}

	return c
}

// RecordAPIRequest records one handled HTTP request. Negative durations
// clamp to zero; the status code decides whether the error counter moves.
func (c *Collector) RecordAPIRequest(endpoint, method string, durationMs float64, statusCode int) {
	if durationMs < 0 {
		durationMs = 0
	}

	c.latencies.Add(durationMs)

	route := method + " " + endpoint

	c.mu.Lock()
	c.routeRequests[route]++
	c.totalRequests++

	if statusCode >= 400 {
		c.routeErrors[route]++
		c.totalErrors++
	}
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.observeRequest(route, durationMs, statusCode)
	}
}

// RecordBusinessEvent records a subscription or payment lifecycle event.
// Unknown kinds are logged and dropped. Plan counts never go negative.
func (c *Collector) RecordBusinessEvent(kind models.BusinessEventKind, planID string, amount float64) {
	if amount < 0 {
		amount = 0
	}

	c.mu.Lock()

	switch kind {
	case models.SubscriptionCreated:
		c.activeSubs++
		c.totalSubs++

		if planID != "" {
			c.usersByPlan[planID]++
		}

		c.revenue += amount
	case models.SubscriptionCanceled:
		if c.activeSubs > 0 {
			c.activeSubs--
		}

		if planID != "" && c.usersByPlan[planID] > 0 {
			c.usersByPlan[planID]--
		}
	case models.PaymentSucceeded:
		c.paySucc++
		c.revenue += amount
	case models.PaymentFailed:
		c.payFail++
	case models.PlanUpgraded:
		c.revenue += amount
	default:
		c.mu.Unlock()
		c.log.Warn("unknown business event kind", zap.String("kind", string(kind)))

		return
	}

	c.mu.Unlock()

	if c.prom != nil {
		c.prom.businessEvents.WithLabelValues(string(kind)).Inc()
	}
}

// RecordSecurityEvent increments the matching daily counter.
func (c *Collector) RecordSecurityEvent(kind models.SecurityEventKind) {
	c.mu.Lock()

	switch kind {
	case models.RateLimitHit:
		c.security.RateLimitHits++
	case models.SuspiciousRequest:
		c.security.SuspiciousRequests++
	case models.ValidationFailure:
		c.security.ValidationFailures++
	case models.SignatureFailure:
		c.security.SignatureFailures++
	case models.AuthFailure:
		c.security.AuthFailures++
	default:
		c.mu.Unlock()
		c.log.Warn("unknown security event kind", zap.String("kind", string(kind)))

		return
	}

	c.mu.Unlock()

	if c.prom != nil {
		c.prom.securityEvents.WithLabelValues(string(kind)).Inc()
	}
}

// RecordIntegrationCallback records the outcome of one async callback from an
// external provider (e.g. a billing webhook). Success nudges the rolling
// success rate up; failure knocks it down harder.
func (c *Collector) RecordIntegrationCallback(kind string, processingTimeMs float64, succeeded bool) {
	if processingTimeMs < 0 {
		processingTimeMs = 0
	}

	c.mu.Lock()

	if succeeded {
		c.intSuccessRate = clampPercent(c.intSuccessRate + c.cfg.NudgeUp)
	} else {
		c.intSuccessRate = clampPercent(c.intSuccessRate - c.cfg.NudgeDown)
	}

	c.intProcessed++

	// Running average over all processed callbacks.
	n := float64(c.intProcessed)
	c.intAvgLatency += (processingTimeMs - c.intAvgLatency) / n

	c.mu.Unlock()

	if c.prom != nil {
		c.prom.observeCallback(kind, succeeded)
	}
}

// RecordDependencyStatus records the reachability of a named external
// dependency (database, payment provider, auth provider). Dependencies that
// are down surface in the snapshot and drive the connectivity alert rule.
func (c *Collector) RecordDependencyStatus(name string, up bool) {
	if name == "" {
		return
	}

	c.mu.Lock()
	c.depsUp[name] = up
	c.mu.Unlock()
}

// GetSnapshot returns a deep copy of current state. Percentiles are computed
// here, over a copy of the ring, so writers are never held up by the sort.
func (c *Collector) GetSnapshot() models.Snapshot {
	samples := c.latencies.Snapshot()
	now := c.nowFunc()

	c.mu.RLock()

	snap := models.Snapshot{
		Timestamp: now,
		Performance: models.PerformanceMetrics{
			TotalRequests: c.totalRequests,
			TotalErrors:   c.totalErrors,
		},
		Business: models.BusinessMetrics{
			ActiveSubscriptions: c.activeSubs,
			TotalSubscriptions:  c.totalSubs,
			PaymentsSucceeded:   c.paySucc,
			PaymentsFailed:      c.payFail,
			UsersByPlan:         make(map[string]int64, len(c.usersByPlan)),
			TotalRevenue:        c.revenue,
		},
		Security: c.security,
		Integration: models.IntegrationMetrics{
			SuccessRate:         c.intSuccessRate,
			AvgProcessingTimeMs: c.intAvgLatency,
			CallbacksProcessed:  c.intProcessed,
		},
	}

	for plan, n := range c.usersByPlan {
		snap.Business.UsersByPlan[plan] = n
	}

	for name, up := range c.depsUp {
		if !up {
			snap.Integration.DownDependencies = append(snap.Integration.DownDependencies, name)
		}
	}

	windowStart := c.windowStart

	c.mu.RUnlock()

	sort.Strings(snap.Integration.DownDependencies)

	snap.Performance.AvgLatencyMs = mean(samples)
	snap.Performance.P95LatencyMs = percentile(samples, 95)
	snap.Performance.P99LatencyMs = percentile(samples, 99)

	if snap.Performance.TotalRequests > 0 {
		snap.Performance.ErrorRate = clampPercent(
			float64(snap.Performance.TotalErrors) / float64(snap.Performance.TotalRequests) * 100)
	}

	if elapsed := now.Sub(windowStart).Minutes(); elapsed > 0 {
		snap.Performance.RequestsPerMinute = float64(snap.Performance.TotalRequests) / elapsed
	}

	var ms runtime.MemStats

	runtime.ReadMemStats(&ms)
	snap.Performance.MemoryUsageMB = float64(ms.Alloc) / bytesPerMB

	if total := snap.Business.PaymentsSucceeded + snap.Business.PaymentsFailed; total > 0 {
		snap.Business.PaymentFailureRate = clampPercent(
			float64(snap.Business.PaymentsFailed) / float64(total) * 100)
	}

	if snap.Business.ActiveSubscriptions > 0 {
		snap.Business.AvgRevenuePerUser = snap.Business.TotalRevenue / float64(snap.Business.ActiveSubscriptions)
	}

	return snap
}

// GetHealthStatus derives the composite health classification from the
// current snapshot.
func (c *Collector) GetHealthStatus() models.HealthStatus {
	return HealthFromSnapshot(c.GetSnapshot())
}

// ResetDailyCounters zeroes the security counters and per-route
// request/error counters. Latency samples are left alone; the ring ages them
// out on its own.
func (c *Collector) ResetDailyCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.security = models.SecurityMetrics{}
	c.routeRequests = make(map[string]int64)
	c.routeErrors = make(map[string]int64)
	c.totalRequests = 0
	c.totalErrors = 0
	c.windowStart = c.nowFunc()

	c.log.Info("daily counters reset")
}

// Run drives the daily reset until ctx is canceled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ResetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ResetDailyCounters()
		}
	}
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 100 {
		return 100
	}

	return v
}
