package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/opspulse/opspulse/pkg/models"
)

var errEmailDisabled = fmt.Errorf("email alerter is disabled")

// EmailConfig configures the SES email channel.
type EmailConfig struct {
	Enabled bool     `json:"enabled"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Region  string   `json:"region,omitempty"`
}

// sesSender is the slice of the SES client the channel needs.
type sesSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailAlerter delivers alerts as plain-text email through AWS SES.
type EmailAlerter struct {
	config EmailConfig
	client sesSender
}

// NewEmailAlerter builds an SES-backed email channel using the default AWS
// credential chain.
func NewEmailAlerter(ctx context.Context, config EmailConfig) (*EmailAlerter, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &EmailAlerter{
		config: config,
		client: sesv2.NewFromConfig(awsCfg),
	}, nil
}

func (e *EmailAlerter) IsEnabled() bool {
	return e.config.Enabled && len(e.config.To) > 0
}

// Alert sends one alert as email.
func (e *EmailAlerter) Alert(ctx context.Context, alert *models.AlertInstance) error {
	if !e.IsEnabled() {
		return errEmailDisabled
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Type)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.config.From),
		Destination: &types.Destination{
			ToAddresses: e.config.To,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data: aws.String(subject),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data: aws.String(formatEmailBody(alert)),
					},
				},
			},
		},
	}

	if _, err := e.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func formatEmailBody(alert *models.AlertInstance) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", alert.Message)
	fmt.Fprintf(&b, "Severity:      %s\n", alert.Severity)
	fmt.Fprintf(&b, "Threshold:     %.2f\n", alert.Threshold)
	fmt.Fprintf(&b, "Current value: %.2f\n", alert.CurrentValue)
	fmt.Fprintf(&b, "Fired at:      %s\n", alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))

	if len(alert.Details) > 0 {
		b.WriteString("\nDetails:\n")

		for k, v := range alert.Details {
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
	}

	if len(alert.SuggestedActions) > 0 {
		b.WriteString("\nSuggested actions:\n")

		for _, step := range alert.SuggestedActions {
			fmt.Fprintf(&b, "- %s\n", step)
		}
	}

	return b.String()
}
