package alerts

import (
	"context"

	"go.uber.org/zap"

	"github.com/opspulse/opspulse/pkg/models"
)

// LogAlerter writes fired alerts to the process log. It never fails, so it
// makes a sensible last-resort channel when every external sink is down.
type LogAlerter struct {
	log *zap.Logger
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{log: logger}
}

func (*LogAlerter) IsEnabled() bool {
	return true
}

func (l *LogAlerter) Alert(_ context.Context, alert *models.AlertInstance) error {
	l.log.Warn("alert fired",
		zap.String("type", alert.Type),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message),
		zap.Float64("threshold", alert.Threshold),
		zap.Float64("current_value", alert.CurrentValue),
		zap.Any("details", alert.Details),
	)

	return nil
}
