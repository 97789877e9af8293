// Package alerts pkg/alerts/interfaces.go

//go:generate mockgen -destination=mock_alerts.go -package=alerts github.com/opspulse/opspulse/pkg/alerts AlertService

package alerts

import (
	"context"

	"github.com/opspulse/opspulse/pkg/models"
)

// AlertService is a notification channel: it formats a fired alert and hands
// it to an external sink. Implementations must honor ctx deadlines; the
// manager treats a deadline overrun as a failed delivery and never retries
// within the same evaluation pass.
type AlertService interface {
	// Alert attempts delivery of one alert instance.
	Alert(ctx context.Context, alert *models.AlertInstance) error

	// IsEnabled reports whether the channel should receive dispatches.
	IsEnabled() bool
}
