package wa

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotConnected means the session had no live connection after
	// one reconnect attempt.
	ErrSessionNotConnected = errors.New("wa: session not connected")

	// ErrNoSessionAvailable means no session could be selected for a send.
	ErrNoSessionAvailable = errors.New("wa: no session available")

	// ErrQRTimeout means the QR poll ran out of attempts.
	ErrQRTimeout = errors.New("wa: timed out waiting for QR code")

	// ErrAdapterInit means the WhatsApp runtime failed to initialize.
	ErrAdapterInit = errors.New("wa: adapter initialization failed")

	// ErrConnection means the runtime failed to start a session.
	ErrConnection = errors.New("wa: connection problem")

	// ErrSendFailed means the runtime rejected an outbound message.
	ErrSendFailed = errors.New("wa: send failed")

	// ErrInvalidRecipient means the phone number normalized to nothing.
	ErrInvalidRecipient = errors.New("wa: invalid recipient")

	// ErrInvalidSessionID means a session id has the wrong format.
	ErrInvalidSessionID = errors.New("wa: invalid session id")
)

// FailureKind classifies a failed send for logs and dead-letter records.
type FailureKind string

const (
	KindNotConnected     FailureKind = "not_connected"
	KindNoSession        FailureKind = "no_session"
	KindInvalidRecipient FailureKind = "invalid_recipient"
	KindSendFailed       FailureKind = "send_failed"
)

// KindOf maps an error to its FailureKind.
func KindOf(err error) FailureKind {
	var se *SendError
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, ErrInvalidRecipient):
		return KindInvalidRecipient
	case errors.Is(err, ErrSessionNotConnected):
		return KindNotConnected
	case errors.Is(err, ErrNoSessionAvailable):
		return KindNoSession
	default:
		return KindSendFailed
	}
}

// SendError is the dispatcher's failure result.
type SendError struct {
	SessionID string
	Recipient string
	Kind      FailureKind
	Err       error
}

func (e *SendError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("wa: send to %s: %v", e.Recipient, e.Err)
	}
	return fmt.Sprintf("wa: send to %s via %s: %v", e.Recipient, e.SessionID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// RuntimeError wraps a failure from the WhatsApp runtime under one of the
// sentinels above. Error stops at the sentinel so library text never reaches
// API responses; errors.Is and errors.As reach both Kind and Cause.
type RuntimeError struct {
	Op    string
	Kind  error
	Cause error
}

func runtimeError(op string, kind, cause error) *RuntimeError {
	return &RuntimeError{Op: op, Kind: kind, Cause: cause}
}

func (e *RuntimeError) Error() string { return e.Op + ": " + e.Kind.Error() }

func (e *RuntimeError) Unwrap() []error { return []error{e.Kind, e.Cause} }

// Detail returns err's message followed by the innermost runtime cause, for
// logs and operator alerts.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var re *RuntimeError
	if !errors.As(err, &re) {
		return err.Error()
	}
	for re.Cause != nil {
		var inner *RuntimeError
		if !errors.As(re.Cause, &inner) {
			return err.Error() + ": " + re.Cause.Error()
		}
		re = inner
	}
	return err.Error()
}

// Indonesian guidance shown to admins for each QR outcome.
const (
	MsgQRReady           = "Silakan pindai kode QR menggunakan WhatsApp di ponsel Anda (Perangkat Tertaut)."
	MsgAlreadyConnected  = "WhatsApp sudah terhubung."
	MsgInitializing      = "WhatsApp masih dalam proses inisialisasi. Silakan coba lagi dalam beberapa saat."
	MsgConnectionProblem = "Terjadi masalah koneksi ke WhatsApp. Silakan periksa koneksi server lalu coba lagi."
	MsgActiveElsewhere   = "Sesi WhatsApp ini sedang aktif di perangkat lain. Silakan keluarkan perangkat tersebut lalu coba lagi."
)
