package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/models"
	"github.com/zulandar/raceline/internal/wa"
	"gorm.io/gorm"
)

// Defaults for HooksOpts.
const (
	DefaultSendTimeout = 30 * time.Second
	DefaultRetryBase   = time.Minute
	maxRetryDelay      = 6 * time.Hour
)

// Sender delivers one outbound message. *wa.Dispatcher satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, msg wa.OutboundMessage) (wa.DeliveryResult, error)
}

// Notification is one application event addressed to a participant.
type Notification struct {
	Event   string            `json:"event"`
	To      string            `json:"to"`
	Session string            `json:"session,omitempty"` // optional session name
	Data    map[string]string `json:"data,omitempty"`
}

// HooksOpts holds parameters for creating Hooks.
type HooksOpts struct {
	Sender    Sender
	DB        *gorm.DB          // optional; failed sends are recorded when set
	Templates map[string]string // overrides DefaultTemplates per event
	Timeout   time.Duration     // per-send timeout, defaults to DefaultSendTimeout
	RetryBase time.Duration     // first redrive delay, defaults to DefaultRetryBase
	Log       *zerolog.Logger
	Now       func() time.Time
}

// Hooks are the outbound send call sites. Fire never blocks the caller on
// the WhatsApp round-trip.
type Hooks struct {
	sender    Sender
	db        *gorm.DB
	templates map[string]string
	timeout   time.Duration
	retryBase time.Duration
	log       zerolog.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

// NewHooks creates Hooks.
func NewHooks(opts HooksOpts) (*Hooks, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("notify: sender is required")
	}
	h := &Hooks{
		sender:    opts.Sender,
		db:        opts.DB,
		templates: mergeTemplates(opts.Templates),
		timeout:   opts.Timeout,
		retryBase: opts.RetryBase,
		now:       opts.Now,
	}
	if h.timeout <= 0 {
		h.timeout = DefaultSendTimeout
	}
	if h.retryBase <= 0 {
		h.retryBase = DefaultRetryBase
	}
	if h.now == nil {
		h.now = time.Now
	}
	if opts.Log != nil {
		h.log = *opts.Log
	} else {
		h.log = zerolog.Nop()
	}
	return h, nil
}

// Events returns the event names that have a template, sorted.
func (h *Hooks) Events() []string {
	out := make([]string, 0, len(h.templates))
	for k := range h.templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Body renders the message body for n.
func (h *Hooks) Body(n Notification) (string, error) {
	tmpl, ok := h.templates[n.Event]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, n.Event)
	}
	return Render(tmpl, n.Data), nil
}

// Fire renders n and sends it in the background. Only rendering problems are
// returned; delivery failures are logged and recorded for redrive.
func (h *Hooks) Fire(n Notification) error {
	body, err := h.Body(n)
	if err != nil {
		return err
	}
	if strings.TrimSpace(n.To) == "" {
		return fmt.Errorf("notify: %s: recipient is required", n.Event)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		_ = h.deliver(ctx, n, body)
	}()
	return nil
}

// Deliver renders and sends n synchronously, recording a failure entry when
// the send fails.
func (h *Hooks) Deliver(ctx context.Context, n Notification) error {
	body, err := h.Body(n)
	if err != nil {
		return err
	}
	return h.deliver(ctx, n, body)
}

func (h *Hooks) deliver(ctx context.Context, n Notification, body string) error {
	res, err := h.sender.SendMessage(ctx, wa.OutboundMessage{
		To:          n.To,
		Body:        body,
		SessionName: n.Session,
	})
	if err != nil {
		h.log.Warn().Err(err).
			Str("event", n.Event).
			Str("recipient", n.To).
			Str("kind", string(wa.KindOf(err))).
			Msg("notification not delivered")
		h.record(n, body, err)
		return err
	}
	h.log.Info().
		Str("event", n.Event).
		Str("session_id", res.SessionID).
		Str("recipient", res.Recipient).
		Msg("notification delivered")
	return nil
}

// record writes a dead-letter entry. Invalid recipients are abandoned at once
// since a retry cannot fix them.
func (h *Hooks) record(n Notification, body string, sendErr error) {
	if h.db == nil {
		return
	}
	kind := wa.KindOf(sendErr)
	status := models.FailurePending
	if kind == wa.KindInvalidRecipient {
		status = models.FailureAbandoned
	}
	entry := &models.NotificationFailure{
		Event:         n.Event,
		Recipient:     n.To,
		SessionName:   n.Session,
		Body:          body,
		Kind:          string(kind),
		Error:         sendErr.Error(),
		Attempts:      1,
		Status:        status,
		NextAttemptAt: h.now().Add(RetryDelay(h.retryBase, 1)),
	}
	if err := h.db.Create(entry).Error; err != nil {
		h.log.Error().Err(err).
			Str("event", n.Event).
			Str("recipient", n.To).
			Msg("record notification failure")
	}
}

// Wait blocks until every background send started by Fire has finished.
func (h *Hooks) Wait() {
	h.wg.Wait()
}

// RetryDelay is the wait before redrive attempt number attempts+1: base
// doubled per attempt already made, capped at six hours.
func RetryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}
