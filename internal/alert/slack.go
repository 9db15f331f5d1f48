package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	slackapi "github.com/slack-go/slack"
)

// Slack posts alerts to an incoming webhook.
type Slack struct {
	url  string
	post func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error
}

// NewSlack returns a Slack notifier for an incoming webhook URL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{url: webhookURL, post: slackapi.PostWebhookContext}
}

func (s *Slack) Name() string { return "slack" }

// Notify posts a as a single colored attachment.
func (s *Slack) Notify(ctx context.Context, a Alert) error {
	if err := s.post(ctx, s.url, slackMessage(a)); err != nil {
		return fmt.Errorf("alert: slack webhook: %w", err)
	}
	return nil
}

func slackMessage(a Alert) *slackapi.WebhookMessage {
	att := slackapi.Attachment{
		Color:    slackColor(a.Severity),
		Title:    a.Title,
		Text:     a.Text,
		Fallback: a.Title,
		Footer:   "raceline",
	}
	if a.SessionID != "" {
		att.Fields = []slackapi.AttachmentField{
			{Title: "Session", Value: a.SessionID, Short: true},
			{Title: "Severity", Value: string(a.Severity), Short: true},
		}
	}
	if !a.At.IsZero() {
		att.Ts = json.Number(strconv.FormatInt(a.At.Unix(), 10))
	}
	return &slackapi.WebhookMessage{
		Text:        a.Title,
		Attachments: []slackapi.Attachment{att},
	}
}

func slackColor(s Severity) string {
	switch s {
	case SeverityCritical:
		return "danger"
	case SeverityResolved:
		return "good"
	default:
		return "warning"
	}
}
