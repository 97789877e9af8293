package metrics

import (
	"github.com/opspulse/opspulse/pkg/models"
)

//go:generate mockgen -destination=mock_metrics.go -package=metrics github.com/opspulse/opspulse/pkg/metrics MetricSource,EventRecorder

// MetricSource is the read side of the collector, consumed by the alert
// manager and the operator API.
type MetricSource interface {
	GetSnapshot() models.Snapshot
	GetHealthStatus() models.HealthStatus
}

// EventRecorder is the write side, consumed by request-handling code. All
// methods are fire-and-forget: they never block for long and never fail.
type EventRecorder interface {
	RecordAPIRequest(endpoint, method string, durationMs float64, statusCode int)
	RecordBusinessEvent(kind models.BusinessEventKind, planID string, amount float64)
	RecordSecurityEvent(kind models.SecurityEventKind)
	RecordIntegrationCallback(kind string, processingTimeMs float64, succeeded bool)
	RecordDependencyStatus(name string, up bool)
}
