package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/slack-go/slack"
)

// Payload field keys read by Slack.
const (
	FieldEnvironment = "environment"
	FieldVersion     = "version"
	FieldStrategy    = "strategy"
	FieldDurationMs  = "duration_ms"
	FieldURL         = "url"
)

// DefaultSlackEnvironments are the deploy targets announced on Slack.
var DefaultSlackEnvironments = []string{"staging", "production"}

// Slack posts deploy notifications to an incoming webhook.
type Slack struct {
	WebhookURL   string
	Environments []string
	Footer       string
	Client       *http.Client
}

// NewSlack returns a Slack notifier, or Noop when webhookURL is empty.
func NewSlack(webhookURL string, environments []string) Notifier {
	if webhookURL == "" {
		return Noop{}
	}
	if len(environments) == 0 {
		environments = DefaultSlackEnvironments
	}
	return &Slack{
		WebhookURL:   webhookURL,
		Environments: environments,
		Footer:       "hookmeter deploy notifications",
		Client:       &http.Client{Timeout: DefaultTimeout},
	}
}

// Notifies reports whether deploys to env are announced.
func (s *Slack) Notifies(env string) bool {
	return slices.Contains(s.Environments, env)
}

func (s *Slack) Notify(ctx context.Context, d Decision, p Payload) error {
	env := p.Field(FieldEnvironment)
	if !s.Notifies(env) {
		return nil
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.WebhookURL, s.Client, s.Message(d, p)); err != nil {
		return fmt.Errorf("%w: slack: %w", ErrUnavailable, err)
	}
	return nil
}

// Message builds the webhook message for a deploy payload.
func (s *Slack) Message(d Decision, p Payload) *slack.WebhookMessage {
	env := p.Field(FieldEnvironment)
	color, text := "good", ":rocket: Deployment successful to "+env
	if d == Alert {
		color, text = "danger", ":x: Deployment failed to "+env
	}

	ts := time.Now()
	if parsed, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
		ts = parsed
	}

	duration := p.Field(FieldDurationMs)
	if duration == "" {
		duration = "0"
	}

	return &slack.WebhookMessage{
		Text: text,
		Attachments: []slack.Attachment{{
			Color: color,
			Fields: []slack.AttachmentField{
				{Title: "Version", Value: p.Field(FieldVersion), Short: true},
				{Title: "Environment", Value: env, Short: true},
				{Title: "Strategy", Value: p.Field(FieldStrategy), Short: true},
				{Title: "Duration", Value: duration + "ms", Short: true},
				{Title: "URL", Value: p.Field(FieldURL), Short: false},
			},
			Footer: s.Footer,
			Ts:     json.Number(strconv.FormatInt(ts.Unix(), 10)),
		}},
	}
}
