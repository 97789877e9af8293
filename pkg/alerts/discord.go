package alerts

import "time"

const (
	DiscordColorRed    = 15158332 // critical
	DiscordColorYellow = 16776960 // warning
	DiscordColorBlue   = 3447003  // info
)

const DiscordTemplate = `{
  "embeds": [{
    "title": {{json .alert.Type}},
    "description": {{json .alert.Message}},
    "color": {{if eq .alert.Severity "critical"}}15158332{{else if eq .alert.Severity "warning"}}16776960{{else}}3447003{{end}},
    "timestamp": {{json .alert.Timestamp}},
    "fields": [
      {
        "name": "Threshold",
        "value": {{json (printf "%.2f" .alert.Threshold)}},
        "inline": true
      },
      {
        "name": "Current Value",
        "value": {{json (printf "%.2f" .alert.CurrentValue)}},
        "inline": true
      }
      {{range $key, $value := .alert.Details}},
      {
        "name": {{json $key}},
        "value": {{json $value}},
        "inline": true
      }
      {{end}}
    ]
  }]
}`

// NewDiscordWebhook builds a webhook channel preloaded with the Discord
// embed template.
func NewDiscordWebhook(webhookURL string, timeout time.Duration) *WebhookAlerter {
	return NewWebhookAlerter(WebhookConfig{
		Enabled:  true,
		URL:      webhookURL,
		Template: DiscordTemplate,
		Timeout:  timeout,
	})
}
