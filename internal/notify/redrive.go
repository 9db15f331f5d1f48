package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/models"
	"github.com/zulandar/raceline/internal/wa"
	"gorm.io/gorm"
)

// DefaultRetryCron redrives pending failures every fifteen minutes.
const DefaultRetryCron = "*/15 * * * *"

// DefaultMaxAttempts is the total number of sends before an entry is
// abandoned.
const DefaultMaxAttempts = 5

const redriveBatch = 100

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RedriverOpts holds parameters for creating a Redriver.
type RedriverOpts struct {
	DB          *gorm.DB
	Sender      Sender
	Schedule    string        // 5-field cron, defaults to DefaultRetryCron
	MaxAttempts int           // defaults to DefaultMaxAttempts
	RetryBase   time.Duration // defaults to DefaultRetryBase
	Timeout     time.Duration // per-send timeout, defaults to DefaultSendTimeout
	Log         *zerolog.Logger
	Now         func() time.Time
}

// Redriver re-sends pending dead-letter entries on a cron schedule.
type Redriver struct {
	db          *gorm.DB
	sender      Sender
	schedule    cron.Schedule
	maxAttempts int
	retryBase   time.Duration
	timeout     time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// RedriveResult counts what one pass did.
type RedriveResult struct {
	Delivered int
	Retrying  int
	Abandoned int
}

// NewRedriver creates a Redriver.
func NewRedriver(opts RedriverOpts) (*Redriver, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("notify: redriver: db is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("notify: redriver: sender is required")
	}
	expr := opts.Schedule
	if expr == "" {
		expr = DefaultRetryCron
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("notify: redriver: parse schedule %q: %w", expr, err)
	}
	r := &Redriver{
		db:          opts.DB,
		sender:      opts.Sender,
		schedule:    sched,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		timeout:     opts.Timeout,
		now:         opts.Now,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = DefaultMaxAttempts
	}
	if r.retryBase <= 0 {
		r.retryBase = DefaultRetryBase
	}
	if r.timeout <= 0 {
		r.timeout = DefaultSendTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	if opts.Log != nil {
		r.log = *opts.Log
	} else {
		r.log = zerolog.Nop()
	}
	return r, nil
}

// Next returns the time of the first scheduled pass after t.
func (r *Redriver) Next(t time.Time) time.Time {
	return r.schedule.Next(t)
}

// Run redrives on schedule until ctx is cancelled.
func (r *Redriver) Run(ctx context.Context) error {
	timer := time.NewTimer(r.untilNext())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			res, err := r.RunOnce(ctx)
			if err != nil {
				r.log.Error().Err(err).Msg("redrive pass failed")
			} else if res.Delivered+res.Retrying+res.Abandoned > 0 {
				r.log.Info().
					Int("delivered", res.Delivered).
					Int("retrying", res.Retrying).
					Int("abandoned", res.Abandoned).
					Msg("redrive pass complete")
			}
			timer.Reset(r.untilNext())
		}
	}
}

func (r *Redriver) untilNext() time.Duration {
	now := r.now()
	d := r.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RunOnce re-sends every pending entry whose NextAttemptAt has passed.
func (r *Redriver) RunOnce(ctx context.Context) (RedriveResult, error) {
	var due []models.NotificationFailure
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.FailurePending, r.now()).
		Order("next_attempt_at ASC, id ASC").
		Limit(redriveBatch).
		Find(&due).Error
	if err != nil {
		return RedriveResult{}, fmt.Errorf("notify: load pending failures: %w", err)
	}

	var res RedriveResult
	for i := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		outcome, err := r.redrive(ctx, &due[i])
		if err != nil {
			return res, err
		}
		switch outcome {
		case models.FailureDelivered:
			res.Delivered++
		case models.FailureAbandoned:
			res.Abandoned++
		default:
			res.Retrying++
		}
	}
	return res, nil
}

func (r *Redriver) redrive(ctx context.Context, entry *models.NotificationFailure) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	_, sendErr := r.sender.SendMessage(sendCtx, wa.OutboundMessage{
		To:          entry.Recipient,
		Body:        entry.Body,
		SessionName: entry.SessionName,
	})
	cancel()

	now := r.now()
	entry.Attempts++
	updates := map[string]interface{}{"attempts": entry.Attempts}
	switch {
	case sendErr == nil:
		entry.Status = models.FailureDelivered
		updates["delivered_at"] = now
	case entry.Attempts >= r.maxAttempts || wa.KindOf(sendErr) == wa.KindInvalidRecipient:
		entry.Status = models.FailureAbandoned
		updates["kind"] = string(wa.KindOf(sendErr))
		updates["error"] = sendErr.Error()
		r.log.Warn().Err(sendErr).
			Uint("failure_id", entry.ID).
			Str("recipient", entry.Recipient).
			Str("kind", string(wa.KindOf(sendErr))).
			Int("attempts", entry.Attempts).
			Msg("notification abandoned")
	default:
		updates["kind"] = string(wa.KindOf(sendErr))
		updates["error"] = sendErr.Error()
		updates["next_attempt_at"] = now.Add(RetryDelay(r.retryBase, entry.Attempts))
	}
	updates["status"] = entry.Status

	err := r.db.WithContext(ctx).Model(&models.NotificationFailure{}).
		Where("id = ?", entry.ID).
		Updates(updates).Error
	if err != nil {
		return "", fmt.Errorf("notify: update failure %d: %w", entry.ID, err)
	}
	return entry.Status, nil
}

// Pending lists entries still waiting for redrive, oldest first.
func Pending(ctx context.Context, db *gorm.DB) ([]models.NotificationFailure, error) {
	var out []models.NotificationFailure
	err := db.WithContext(ctx).
		Where("status = ?", models.FailurePending).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("notify: list pending failures: %w", err)
	}
	return out, nil
}
