package alerting

import (
	"fmt"

	"github.com/opspulse/opspulse/pkg/models"
)

// Built-in rule types, evaluated in this declaration order on every tick.
const (
	RuleHighErrorRate         = "high_error_rate"
	RuleSlowResponseTime      = "slow_response_time"
	RuleHighMemoryUsage       = "high_memory_usage"
	RuleHighPaymentFailure    = "high_payment_failure_rate"
	RuleLowWebhookSuccess     = "low_webhook_success_rate"
	RuleHighChurnRate         = "high_churn_rate"
	RuleRevenueDrop           = "revenue_drop"
	RuleSuspiciousActivity    = "suspicious_activity"
	RuleRepeatedAuthFailures  = "repeated_auth_failures"
	RuleRateLimitSpike        = "rate_limit_spike"
	RuleDependencyConnFailure = "dependency_connection_failure"
	RuleThirdPartyDegradation = "third_party_degradation"
)

// ruleSpec is the immutable half of a rule: how the observed value is pulled
// from a snapshot, how the fired message reads, and what an operator should
// try first. The configurable half (threshold, cooldown, channels, enabled)
// lives in models.AlertRule and may change at runtime.
type ruleSpec struct {
	defaults models.AlertRule

	// value extracts the scalar this rule compares against its threshold.
	// prev is the snapshot from the previous tick, nil on the first pass.
	value func(prev, cur *models.Snapshot) (float64, bool)

	// message renders the human-readable firing message.
	message func(current, threshold float64) string

	// details builds the structured context attached to the instance.
	details func(cur *models.Snapshot) map[string]any

	remediation []string
}

// ruleOrder fixes the deterministic per-tick evaluation order.
var ruleOrder = []string{
	RuleHighErrorRate,
	RuleSlowResponseTime,
	RuleHighMemoryUsage,
	RuleHighPaymentFailure,
	RuleLowWebhookSuccess,
	RuleHighChurnRate,
	RuleRevenueDrop,
	RuleSuspiciousActivity,
	RuleRepeatedAuthFailures,
	RuleRateLimitSpike,
	RuleDependencyConnFailure,
	RuleThirdPartyDegradation,
}

func defaultRule(typ string, sev models.Severity, threshold float64, cmp models.Comparison, windowMin, cooldownMin int) models.AlertRule {
	return models.AlertRule{
		Type:            typ,
		Severity:        sev,
		Threshold:       threshold,
		Comparison:      cmp,
		WindowMinutes:   windowMin,
		CooldownMinutes: cooldownMin,
		Enabled:         true,
		Channels:        []string{"log"},
	}
}

func builtinRules() map[string]ruleSpec {
	return map[string]ruleSpec{
		RuleHighErrorRate: {
			defaults: defaultRule(RuleHighErrorRate, models.SeverityCritical, 5, models.CompareAbove, 5, 15),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return cur.Performance.ErrorRate, cur.Performance.TotalRequests > 0
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("API error rate is %.1f%% (threshold %.1f%%)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"total_requests": cur.Performance.TotalRequests,
					"total_errors":   cur.Performance.TotalErrors,
				}
			},
			remediation: []string{
				"Check recent deploys for regressions and roll back if one lines up",
				"Inspect error logs for the dominant failing route",
				"Verify downstream dependencies are reachable",
			},
		},
		RuleSlowResponseTime: {
			defaults: defaultRule(RuleSlowResponseTime, models.SeverityWarning, 2000, models.CompareAbove, 5, 15),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return cur.Performance.P95LatencyMs, cur.Performance.TotalRequests > 0
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("p95 latency is %.0fms (threshold %.0fms)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"avg_latency_ms": cur.Performance.AvgLatencyMs,
					"p99_latency_ms": cur.Performance.P99LatencyMs,
				}
			},
			remediation: []string{
				"Profile the slowest endpoints for N+1 queries",
				"Check database load and slow query log",
				"Review recent traffic growth against instance sizing",
			},
		},
		RuleHighMemoryUsage: {
			defaults: defaultRule(RuleHighMemoryUsage, models.SeverityWarning, 500, models.CompareAbove, 5, 30),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return cur.Performance.MemoryUsageMB, true
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("heap usage is %.0fMB (threshold %.0fMB)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"requests_per_minute": cur.Performance.RequestsPerMinute,
				}
			},
			remediation: []string{
				"Capture a heap profile and look for growth between snapshots",
				"Check for unbounded caches or queues",
				"Restart the process if usage is climbing toward the container limit",
			},
		},
		RuleHighPaymentFailure: {
			defaults: defaultRule(RuleHighPaymentFailure, models.SeverityCritical, 10, models.CompareAbove, 30, 30),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return cur.Business.PaymentFailureRate,
					cur.Business.PaymentsSucceeded+cur.Business.PaymentsFailed > 0
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("payment failure rate is %.1f%% (threshold %.1f%%)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"payments_succeeded": cur.Business.PaymentsSucceeded,
					"payments_failed":    cur.Business.PaymentsFailed,
				}
			},
			remediation: []string{
				"Check the payment provider status page",
				"Look for a common decline code across recent failures",
				"Verify provider API credentials have not expired",
			},
		},
		RuleLowWebhookSuccess: {
			defaults: defaultRule(RuleLowWebhookSuccess, models.SeverityCritical, 95, models.CompareBelow, 15, 30),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return cur.Integration.SuccessRate, cur.Integration.CallbacksProcessed > 0
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("integration callback success rate is %.1f%% (threshold %.1f%%)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"callbacks_processed":    cur.Integration.CallbacksProcessed,
					"avg_processing_time_ms": cur.Integration.AvgProcessingTimeMs,
				}
			},
			remediation: []string{
				"Check signature verification failures for a provider key rotation",
				"Replay failed callbacks from the provider dashboard",
				"Confirm the callback endpoint is reachable from outside",
			},
		},
		RuleHighChurnRate: {
			defaults: defaultRule(RuleHighChurnRate, models.SeverityWarning, 20, models.CompareAbove, 1440, 1440),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				total := cur.Business.TotalSubscriptions
				if total == 0 {
					return 0, false
				}

				canceled := total - cur.Business.ActiveSubscriptions

				return float64(canceled) / float64(total) * 100, true
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("churn is %.1f%% of all subscriptions (threshold %.1f%%)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"active_subscriptions": cur.Business.ActiveSubscriptions,
					"total_subscriptions":  cur.Business.TotalSubscriptions,
				}
			},
			remediation: []string{
				"Segment recent cancellations by plan",
				"Check whether a price or billing change shipped recently",
			},
		},
		RuleRevenueDrop: {
			defaults: defaultRule(RuleRevenueDrop, models.SeverityWarning, 30, models.CompareAbove, 1440, 720),
			value: func(prev, cur *models.Snapshot) (float64, bool) {
				if prev == nil || prev.Business.AvgRevenuePerUser <= 0 {
					return 0, false
				}

				drop := (prev.Business.AvgRevenuePerUser - cur.Business.AvgRevenuePerUser) /
					prev.Business.AvgRevenuePerUser * 100
				if drop < 0 {
					drop = 0
				}

				return drop, true
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("average revenue per user dropped %.1f%% since the last pass (threshold %.1f%%)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"avg_revenue_per_user": cur.Business.AvgRevenuePerUser,
					"total_revenue":        cur.Business.TotalRevenue,
				}
			},
			remediation: []string{
				"Compare plan distribution against the previous day",
				"Check for a spike in downgrades or refunds",
			},
		},
		RuleSuspiciousActivity: {
			defaults: defaultRule(RuleSuspiciousActivity, models.SeverityCritical, 10, models.CompareAbove, 60, 60),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return float64(cur.Security.SuspiciousRequests), true
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("%.0f suspicious requests today (threshold %.0f)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"validation_failures": cur.Security.ValidationFailures,
					"signature_failures":  cur.Security.SignatureFailures,
				}
			},
			remediation: []string{
				"Review WAF logs for a common source IP or user agent",
				"Tighten rate limits on the targeted endpoints",
			},
		},
		RuleRepeatedAuthFailures: {
			defaults: defaultRule(RuleRepeatedAuthFailures, models.SeverityCritical, 25, models.CompareAbove, 60, 60),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return float64(cur.Security.AuthFailures), true
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("%.0f authentication failures today (threshold %.0f)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"rate_limit_hits": cur.Security.RateLimitHits,
				}
			},
			remediation: []string{
				"Check for credential-stuffing patterns against the login endpoint",
				"Consider forcing a password reset on targeted accounts",
			},
		},
		RuleRateLimitSpike: {
			defaults: defaultRule(RuleRateLimitSpike, models.SeverityWarning, 100, models.CompareAbove, 60, 60),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return float64(cur.Security.RateLimitHits), true
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("%.0f rate-limit hits today (threshold %.0f)", current, threshold)
			},
			details: func(_ *models.Snapshot) map[string]any {
				return nil
			},
			remediation: []string{
				"Identify the top offending clients and block or contact them",
				"Confirm limits are not set below legitimate integration traffic",
			},
		},
		RuleDependencyConnFailure: {
			defaults: defaultRule(RuleDependencyConnFailure, models.SeverityCritical, 0, models.CompareAbove, 5, 10),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return float64(len(cur.Integration.DownDependencies)), true
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("%.0f dependencies unreachable (threshold %.0f)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"down_dependencies": cur.Integration.DownDependencies,
				}
			},
			remediation: []string{
				"Check connectivity and credentials for the listed dependencies",
				"Fail over to a replica if one is available",
			},
		},
		RuleThirdPartyDegradation: {
			defaults: defaultRule(RuleThirdPartyDegradation, models.SeverityWarning, 5000, models.CompareAbove, 15, 30),
			value: func(_, cur *models.Snapshot) (float64, bool) {
				return cur.Integration.AvgProcessingTimeMs, cur.Integration.CallbacksProcessed > 0
			},
			message: func(current, threshold float64) string {
				return fmt.Sprintf("third-party callback processing averages %.0fms (threshold %.0fms)", current, threshold)
			},
			details: func(cur *models.Snapshot) map[string]any {
				return map[string]any{
					"success_rate": cur.Integration.SuccessRate,
				}
			},
			remediation: []string{
				"Check the provider status page for degraded performance",
				"Queue non-urgent callbacks until latency recovers",
			},
		},
	}
}
