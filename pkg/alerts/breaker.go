package alerts

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opspulse/opspulse/pkg/models"
)

const (
	breakerFailureThreshold = 3
	breakerOpenDuration     = 2 * time.Minute
)

// BreakerAlerter wraps another channel with a circuit breaker so a sink that
// keeps timing out stops being hammered every evaluation pass. While the
// breaker is open, dispatches fail fast with gobreaker.ErrOpenState.
type BreakerAlerter struct {
	inner   AlertService
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerAlerter wraps inner with a named circuit breaker.
func NewBreakerAlerter(name string, inner AlertService) *BreakerAlerter {
	return &BreakerAlerter{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: breakerOpenDuration,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailureThreshold
			},
		}),
	}
}

func (b *BreakerAlerter) IsEnabled() bool {
	return b.inner.IsEnabled()
}

func (b *BreakerAlerter) Alert(ctx context.Context, alert *models.AlertInstance) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Alert(ctx, alert)
	})

	return err
}
