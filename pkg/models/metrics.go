// Package models pkg/models/metrics.go
package models

import "time"

// BusinessEventKind identifies a business lifecycle event.
type BusinessEventKind string

const (
	SubscriptionCreated  BusinessEventKind = "subscription_created"
	SubscriptionCanceled BusinessEventKind = "subscription_canceled"
	PaymentSucceeded     BusinessEventKind = "payment_succeeded"
	PaymentFailed        BusinessEventKind = "payment_failed"
	PlanUpgraded         BusinessEventKind = "plan_upgraded"
)

// SecurityEventKind identifies a security-relevant occurrence. All security
// counters reset on the daily cadence.
type SecurityEventKind string

const (
	RateLimitHit      SecurityEventKind = "rate_limit_hit"
	SuspiciousRequest SecurityEventKind = "suspicious_request"
	ValidationFailure SecurityEventKind = "validation_failure"
	SignatureFailure  SecurityEventKind = "signature_failure"
	AuthFailure       SecurityEventKind = "auth_failure"
)

// PerformanceMetrics holds request-level statistics derived from the latency
// ring buffer and per-route counters.
type PerformanceMetrics struct {
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	P95LatencyMs      float64 `json:"p95_latency_ms"`
	P99LatencyMs      float64 `json:"p99_latency_ms"`
	RequestsPerMinute float64 `json:"requests_per_minute"`
	ErrorRate         float64 `json:"error_rate"`
	MemoryUsageMB     float64 `json:"memory_usage_mb"`
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
}

// BusinessMetrics holds subscription and payment counters.
type BusinessMetrics struct {
	ActiveSubscriptions int64            `json:"active_subscriptions"`
	TotalSubscriptions  int64            `json:"total_subscriptions"`
	PaymentsSucceeded   int64            `json:"payments_succeeded"`
	PaymentsFailed      int64            `json:"payments_failed"`
	PaymentFailureRate  float64          `json:"payment_failure_rate"`
	UsersByPlan         map[string]int64 `json:"users_by_plan"`
	TotalRevenue        float64          `json:"total_revenue"`
	AvgRevenuePerUser   float64          `json:"avg_revenue_per_user"`
}

// SecurityMetrics holds the daily security counters.
type SecurityMetrics struct {
	RateLimitHits      int64 `json:"rate_limit_hits"`
	SuspiciousRequests int64 `json:"suspicious_requests"`
	ValidationFailures int64 `json:"validation_failures"`
	SignatureFailures  int64 `json:"signature_failures"`
	AuthFailures       int64 `json:"auth_failures"`
}

// IntegrationMetrics tracks async callbacks from external billing providers.
// SuccessRate is a rolling percentage nudged per event rather than an exact
// ratio, so a burst of failures degrades it faster than successes restore it.
type IntegrationMetrics struct {
	SuccessRate         float64  `json:"success_rate"`
	AvgProcessingTimeMs float64  `json:"avg_processing_time_ms"`
	CallbacksProcessed  int64    `json:"callbacks_processed"`
	DownDependencies    []string `json:"down_dependencies,omitempty"`
}

// Snapshot is an immutable point-in-time read of all collector state, handed
// to the alert manager for one evaluation pass.
type Snapshot struct {
	Performance PerformanceMetrics `json:"performance"`
	Business    BusinessMetrics    `json:"business"`
	Security    SecurityMetrics    `json:"security"`
	Integration IntegrationMetrics `json:"integration"`
	Timestamp   time.Time          `json:"timestamp"`
}

// HealthState classifies the composite health score.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthWarning  HealthState = "warning"
	HealthCritical HealthState = "critical"
)

// HealthStatus is the tri-state classification derived from weighted
// penalties against the current snapshot.
type HealthStatus struct {
	Status HealthState `json:"status"`
	Score  int         `json:"score"`
	Issues []string    `json:"issues"`
}
