// Package alert tells operators on Slack or Discord when a WhatsApp session
// drops or the runtime fails to come up.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/config"
	"github.com/zulandar/raceline/internal/wa"
)

const defaultTimeout = 10 * time.Second

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityResolved Severity = "resolved"
)

// Alert is one operator notification.
type Alert struct {
	Severity  Severity
	Title     string
	Text      string
	SessionID string
	At        time.Time
}

// Notifier posts an alert to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// ObserverOpts holds parameters for creating an Observer.
type ObserverOpts struct {
	Notifiers []Notifier
	Timeout   time.Duration // per-post timeout
	Log       *zerolog.Logger
	Now       func() time.Time
}

// Observer implements wa.Observer. Posts run in the background and failures
// are only logged.
type Observer struct {
	notifiers []Notifier
	timeout   time.Duration
	log       zerolog.Logger
	now       func() time.Time

	mu   sync.Mutex
	down map[string]bool // sessions alerted as disconnected
	wg   sync.WaitGroup
}

var _ wa.Observer = (*Observer)(nil)

// NewObserver creates an Observer.
func NewObserver(opts ObserverOpts) *Observer {
	o := &Observer{
		notifiers: opts.Notifiers,
		timeout:   opts.Timeout,
		now:       opts.Now,
		down:      make(map[string]bool),
	}
	if o.timeout <= 0 {
		o.timeout = defaultTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	if opts.Log != nil {
		o.log = *opts.Log
	} else {
		o.log = zerolog.Nop()
	}
	return o
}

// FromConfig builds the notifiers named in cfg. It returns nil when no
// webhook is configured.
func FromConfig(cfg config.AlertsConfig, log *zerolog.Logger) (*Observer, error) {
	var notifiers []Notifier
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.DiscordWebhookURL != "" {
		d, err := NewDiscord(cfg.DiscordWebhookURL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, d)
	}
	if len(notifiers) == 0 {
		return nil, nil
	}
	return NewObserver(ObserverOpts{Notifiers: notifiers, Log: log}), nil
}

// SessionChanged alerts when a connected session drops for any reason other
// than an operator stop, and again when it comes back.
func (o *Observer) SessionChanged(sessionID string, prev, next wa.Status) {
	switch {
	case prev.Connected() && next.Phase == wa.PhaseDisconnected && next.Reason != wa.ReasonStopped:
		o.mu.Lock()
		o.down[sessionID] = true
		o.mu.Unlock()

		sev := SeverityWarning
		if next.Reason == wa.ReasonLoggedOut || next.Reason == wa.ReasonReplaced {
			sev = SeverityCritical
		}
		o.send(Alert{
			Severity:  sev,
			Title:     fmt.Sprintf("WhatsApp session %s disconnected", sessionID),
			Text:      disconnectText(next.Reason),
			SessionID: sessionID,
			At:        o.now(),
		})

	case next.Connected():
		o.mu.Lock()
		wasDown := o.down[sessionID]
		delete(o.down, sessionID)
		o.mu.Unlock()
		if wasDown {
			o.send(Alert{
				Severity:  SeverityResolved,
				Title:     fmt.Sprintf("WhatsApp session %s reconnected", sessionID),
				Text:      "Notifications are flowing again.",
				SessionID: sessionID,
				At:        o.now(),
			})
		}
	}
}

// AdapterFailed alerts when the WhatsApp runtime could not initialize.
func (o *Observer) AdapterFailed(err error) {
	o.send(Alert{
		Severity: SeverityCritical,
		Title:    "WhatsApp runtime failed to start",
		Text:     fmt.Sprintf("WhatsApp notifications are disabled until the service is restarted: %s", wa.Detail(err)),
		At:       o.now(),
	})
}

func disconnectText(r wa.Reason) string {
	switch r {
	case wa.ReasonLoggedOut:
		return "The phone unlinked this device. Scan a new QR code from the admin page to reconnect."
	case wa.ReasonReplaced:
		return "The session was opened on another device or server."
	default:
		return fmt.Sprintf("Connection lost (%s). Outbound notifications will fail until it reconnects.", r)
	}
}

func (o *Observer) send(a Alert) {
	for _, n := range o.notifiers {
		o.wg.Add(1)
		go func(n Notifier) {
			defer o.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
			defer cancel()
			if err := n.Notify(ctx, a); err != nil {
				o.log.Warn().Err(err).
					Str("notifier", n.Name()).
					Str("session_id", a.SessionID).
					Msg("alert not delivered")
			}
		}(n)
	}
}

// Wait blocks until in-flight posts finish.
func (o *Observer) Wait() {
	o.wg.Wait()
}

// ErrBadWebhook is returned for a webhook URL that cannot be used.
var ErrBadWebhook = errors.New("alert: invalid webhook url")
