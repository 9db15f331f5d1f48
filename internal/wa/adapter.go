// Package wa owns the WhatsApp session lifecycle: the runtime adapter
// contract, the reconciliation store, the lifecycle controller and the
// notification dispatcher.
package wa

import (
	"context"
	"time"
)

// Adapter is the runtime capability set over the WhatsApp client library.
// Implementations deliver lifecycle events on a single channel returned by
// Events; the Controller is the only consumer.
type Adapter interface {
	// Init loads persisted credentials. Calls after the first are no-ops.
	Init(ctx context.Context) error

	// Start brings a session up. It must no-op when the session is already
	// connected and must not block waiting for a QR challenge.
	Start(ctx context.Context, sessionID string) error

	// Stop tears down a runtime session and releases its resources.
	Stop(ctx context.Context, sessionID string) error

	// IsConnected is a point-in-time query.
	IsConnected(sessionID string) bool

	// ConnectedSessionIDs lists connected sessions in a stable order.
	ConnectedSessionIDs() []string

	// SendText delivers a text message to a normalized phone number. It
	// fails with ErrSessionNotConnected when the session is not live.
	SendText(ctx context.Context, sessionID, phone, body string) (DeliveryResult, error)

	// Events returns the lifecycle event stream.
	Events() <-chan Event

	// Close disconnects every session and closes the event stream.
	Close() error
}

// CredentialChecker is implemented by adapters that can tell whether a
// session has stored pairing credentials.
type CredentialChecker interface {
	HasCredentials(sessionID string) bool
}

// EventKind identifies an adapter event.
type EventKind int

const (
	EventQRUpdated EventKind = iota
	EventConnected
	EventDisconnected
	EventMessageReceived
)

func (k EventKind) String() string {
	switch k {
	case EventQRUpdated:
		return "qr_updated"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessageReceived:
		return "message_received"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification from the adapter.
type Event struct {
	Kind      EventKind
	SessionID string
	QR        string // EventQRUpdated
	Reason    Reason // EventDisconnected
	From      string // EventMessageReceived
	Text      string // EventMessageReceived
	At        time.Time
}

// DeliveryResult is the adapter's acknowledgment for a sent message.
type DeliveryResult struct {
	SessionID string    `json:"sessionId"`
	Recipient string    `json:"recipient"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}
