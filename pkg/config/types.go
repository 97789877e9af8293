package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opspulse/opspulse/pkg/alerts"
)

var (
	errNoListenAddr    = errors.New("listen_addr is required")
	errBadInterval     = errors.New("evaluation_interval must be positive")
	errInvalidDuration = errors.New("invalid duration")
)

// Duration wraps time.Duration so JSON configs can say "30s" or "24h".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %q", errInvalidDuration, v)
		}

		*d = Duration(parsed)
	default:
		return fmt.Errorf("%w: %v", errInvalidDuration, raw)
	}

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// AppConfig is the process-level configuration supplied at startup.
type AppConfig struct {
	ListenAddr         string   `json:"listen_addr"`
	EvaluationInterval Duration `json:"evaluation_interval"`
	ResetInterval      Duration `json:"reset_interval"`
	DispatchTimeout    Duration `json:"dispatch_timeout"`
	BufferSize         int      `json:"buffer_size"`
	RuleOverridePath   string   `json:"rule_override_path,omitempty"`

	Channels ChannelsConfig `json:"channels"`
}

// ChannelsConfig holds per-channel endpoint settings. Channels left out of
// the config stay disabled; the log channel is always available.
type ChannelsConfig struct {
	Webhook    *alerts.WebhookConfig `json:"webhook,omitempty"`
	DiscordURL string                `json:"discord_url,omitempty"`
	Email      *alerts.EmailConfig   `json:"email,omitempty"`
	Redis      *alerts.RedisConfig   `json:"redis,omitempty"`
	Archive    *alerts.ArchiveConfig `json:"archive,omitempty"`
}

// Validate implements Validator.
func (c *AppConfig) Validate() error {
	if c.ListenAddr == "" {
		return errNoListenAddr
	}

	if c.EvaluationInterval != 0 && time.Duration(c.EvaluationInterval) <= 0 {
		return errBadInterval
	}

	return nil
}
