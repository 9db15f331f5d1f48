package wa

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/phone"
)

// OutboundMessage is a text notification to one recipient. SessionName is an
// optional registry session name to send through.
type OutboundMessage struct {
	To          string
	Body        string
	SessionName string
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Controller *Controller
	Policy     phone.Policy // defaults to phone.Indonesia
	Log        *zerolog.Logger
}

// Dispatcher routes outbound messages through the controller. It keeps no
// message history.
type Dispatcher struct {
	ctrl   *Controller
	policy phone.Policy
	log    zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("wa: dispatcher: controller is required")
	}
	d := &Dispatcher{ctrl: opts.Controller, policy: opts.Policy}
	if d.policy == nil {
		d.policy = phone.Indonesia
	}
	if opts.Log != nil {
		d.log = *opts.Log
	} else {
		d.log = zerolog.Nop()
	}
	return d, nil
}

// SendMessage normalizes the recipient, selects a session, makes sure it is
// connected and sends. Every failure is a *SendError.
func (d *Dispatcher) SendMessage(ctx context.Context, msg OutboundMessage) (DeliveryResult, error) {
	recipient := d.policy.Normalize(msg.To)
	if recipient == "" {
		return DeliveryResult{}, d.fail("", msg.To, KindInvalidRecipient, fmt.Errorf("%w: %q", ErrInvalidRecipient, msg.To))
	}

	id, err := d.ctrl.SelectSessionForSend(ctx, msg.SessionName)
	if err != nil {
		return DeliveryResult{}, d.fail("", recipient, KindOf(err), err)
	}

	if err := d.ctrl.EnsureConnected(ctx, id); err != nil {
		kind := KindOf(err)
		if kind == KindSendFailed {
			kind = KindNotConnected
		}
		return DeliveryResult{}, d.fail(id, recipient, kind, err)
	}

	res, err := d.ctrl.SendText(ctx, id, recipient, msg.Body)
	if err != nil {
		return DeliveryResult{}, d.fail(id, recipient, KindOf(err), err)
	}
	if res.SessionID == "" {
		res.SessionID = id
	}
	if res.Recipient == "" {
		res.Recipient = recipient
	}
	d.log.Debug().
		Str("session_id", id).
		Str("recipient", recipient).
		Str("message_id", res.MessageID).
		Msg("message sent")
	return res, nil
}

func (d *Dispatcher) fail(sessionID, recipient string, kind FailureKind, err error) error {
	d.log.Warn().Err(err).
		Str("detail", Detail(err)).
		Str("session_id", sessionID).
		Str("recipient", recipient).
		Str("kind", string(kind)).
		Msg("notification send failed")
	return &SendError{SessionID: sessionID, Recipient: recipient, Kind: kind, Err: err}
}
