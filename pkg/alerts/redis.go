package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/opspulse/opspulse/pkg/models"
)

var errRedisDisabled = fmt.Errorf("redis alerter is disabled")

const defaultRedisChannel = "opspulse:alerts"

// RedisConfig configures the Redis pub/sub channel.
type RedisConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Channel string `json:"channel,omitempty"`
	DB      int    `json:"db,omitempty"`
}

// RedisAlerter publishes fired alerts as JSON on a Redis pub/sub channel so
// downstream consumers (incident bots, audit pipelines) can fan out further.
type RedisAlerter struct {
	config  RedisConfig
	client  redis.UniversalClient
	channel string
}

// NewRedisAlerter builds a Redis pub/sub channel.
func NewRedisAlerter(config RedisConfig) *RedisAlerter {
	channel := config.Channel
	if channel == "" {
		channel = defaultRedisChannel
	}

	return &RedisAlerter{
		config: config,
		client: redis.NewClient(&redis.Options{
			Addr: config.Addr,
			DB:   config.DB,
		}),
		channel: channel,
	}
}

func (r *RedisAlerter) IsEnabled() bool {
	return r.config.Enabled
}

// Alert publishes one alert.
func (r *RedisAlerter) Alert(ctx context.Context, alert *models.AlertInstance) error {
	if !r.IsEnabled() {
		return errRedisDisabled
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	return nil
}

// Close releases the underlying Redis connection.
func (r *RedisAlerter) Close() error {
	return r.client.Close()
}
