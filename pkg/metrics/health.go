package metrics

import (
	"fmt"

	"github.com/opspulse/opspulse/pkg/models"
)

// Health score penalties. Each breached threshold subtracts a fixed amount
// from a starting score of 100.
const (
	errorRateThreshold   = 5.0
	errorRatePenalty     = 20
	p95LatencyThresholdMs = 2000.0
	p95LatencyPenalty     = 15
	paymentFailThreshold  = 10.0
	paymentFailPenalty    = 25
	integrationThreshold  = 95.0
	integrationPenalty    = 20
	memoryThresholdMB     = 500.0
	memoryPenalty         = 10
	suspiciousThreshold   = 10
	suspiciousPenalty     = 15

	healthyFloor = 90
	warningFloor = 70
)

// HealthFromSnapshot derives the 0-100 composite health score and tri-state
// classification for a snapshot.
func HealthFromSnapshot(snap models.Snapshot) models.HealthStatus {
	score := 100

	var issues []string

	if snap.Performance.ErrorRate > errorRateThreshold {
		score -= errorRatePenalty

		issues = append(issues, fmt.Sprintf("error rate %.1f%% exceeds %.0f%%",
			snap.Performance.ErrorRate, errorRateThreshold))
	}

	if snap.Performance.P95LatencyMs > p95LatencyThresholdMs {
		score -= p95LatencyPenalty

		issues = append(issues, fmt.Sprintf("p95 latency %.0fms exceeds %.0fms",
			snap.Performance.P95LatencyMs, p95LatencyThresholdMs))
	}

	if snap.Business.PaymentFailureRate > paymentFailThreshold {
		score -= paymentFailPenalty

		issues = append(issues, fmt.Sprintf("payment failure rate %.1f%% exceeds %.0f%%",
			snap.Business.PaymentFailureRate, paymentFailThreshold))
	}

	if snap.Integration.SuccessRate < integrationThreshold {
		score -= integrationPenalty

		issues = append(issues, fmt.Sprintf("integration success rate %.1f%% below %.0f%%",
			snap.Integration.SuccessRate, integrationThreshold))
	}

	if snap.Performance.MemoryUsageMB > memoryThresholdMB {
		score -= memoryPenalty

		issues = append(issues, fmt.Sprintf("memory usage %.0fMB exceeds %.0fMB",
			snap.Performance.MemoryUsageMB, memoryThresholdMB))
	}

	if snap.Security.SuspiciousRequests > suspiciousThreshold {
		score -= suspiciousPenalty

		issues = append(issues, fmt.Sprintf("%d suspicious requests today",
			snap.Security.SuspiciousRequests))
	}

	if score < 0 {
		score = 0
	}

	status := models.HealthCritical

	switch {
	case score >= healthyFloor:
		status = models.HealthHealthy
	case score >= warningFloor:
		status = models.HealthWarning
	}

	return models.HealthStatus{
		Status: status,
		Score:  score,
		Issues: issues,
	}
}
