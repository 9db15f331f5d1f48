package alert

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Embed colors.
const (
	colorRed    = 0xE74C3C
	colorOrange = 0xE67E22
	colorGreen  = 0x2ECC71
)

// webhookExecutor abstracts the discordgo.Session method we use, enabling test mocks.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts to a channel webhook.
type Discord struct {
	id    string
	token string
	exec  webhookExecutor
}

// NewDiscord returns a Discord notifier for a webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>.
func NewDiscord(webhookURL string) (*Discord, error) {
	id, token, err := parseDiscordWebhook(webhookURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution needs no bot token.
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("alert: discord session: %w", err)
	}
	return &Discord{id: id, token: token, exec: s}, nil
}

func parseDiscordWebhook(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadWebhook, raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrBadWebhook, raw)
}

func (d *Discord) Name() string { return "discord" }

// Notify posts a as one embed.
func (d *Discord) Notify(ctx context.Context, a Alert) error {
	params := discordParams(a)
	if _, err := d.exec.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("alert: discord webhook: %w", err)
	}
	return nil
}

func discordParams(a Alert) *discordgo.WebhookParams {
	embed := &discordgo.MessageEmbed{
		Title:       a.Title,
		Description: a.Text,
		Color:       discordColor(a.Severity),
		Footer:      &discordgo.MessageEmbedFooter{Text: "raceline"},
	}
	if a.SessionID != "" {
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Session", Value: a.SessionID, Inline: true},
			{Name: "Severity", Value: string(a.Severity), Inline: true},
		}
	}
	if !a.At.IsZero() {
		embed.Timestamp = a.At.UTC().Format(time.RFC3339)
	}
	return &discordgo.WebhookParams{
		Username: "Raceline",
		Embeds:   []*discordgo.MessageEmbed{embed},
	}
}

func discordColor(s Severity) int {
	switch s {
	case SeverityCritical:
		return colorRed
	case SeverityResolved:
		return colorGreen
	default:
		return colorOrange
	}
}
