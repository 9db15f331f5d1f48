package wa

import "time"

// Phase is the lifecycle phase of one session id.
type Phase int

const (
	PhaseUnstarted Phase = iota
	PhaseStarting
	PhaseAwaitingQR
	PhaseConnected
	PhaseDisconnected
)

var phaseNames = map[Phase]string{
	PhaseUnstarted:    "unstarted",
	PhaseStarting:     "starting",
	PhaseAwaitingQR:   "awaiting_qr",
	PhaseConnected:    "connected",
	PhaseDisconnected: "disconnected",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Reason explains the most recent disconnect.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonLoggedOut Reason = "logged_out"
	ReasonReplaced  Reason = "replaced"
	ReasonQRExpired Reason = "qr_expired"
	ReasonNetwork   Reason = "network"
	ReasonStopped   Reason = "stopped"
)

// Status is the explicit state of one session. QR is only set while the
// phase is PhaseAwaitingQR and Reason only while PhaseDisconnected.
type Status struct {
	Phase  Phase
	QR     string
	Reason Reason
	Since  time.Time
}

// Start moves to PhaseStarting, dropping any previous challenge.
func (s Status) Start(now time.Time) Status {
	return Status{Phase: PhaseStarting, Since: now}
}

// QRUpdated stores a new pairing challenge. It is ignored once connected so
// a late QR can never replace a live connection.
func (s Status) QRUpdated(code string, now time.Time) Status {
	if s.Phase == PhaseConnected {
		return s
	}
	return Status{Phase: PhaseAwaitingQR, QR: code, Since: now}
}

// Connect moves to PhaseConnected and clears the challenge.
func (s Status) Connect(now time.Time) Status {
	if s.Phase == PhaseConnected {
		return s
	}
	return Status{Phase: PhaseConnected, Since: now}
}

// Disconnect moves to PhaseDisconnected with the given reason.
func (s Status) Disconnect(reason Reason, now time.Time) Status {
	if reason == ReasonNone {
		reason = ReasonNetwork
	}
	return Status{Phase: PhaseDisconnected, Reason: reason, Since: now}
}

// Connected reports whether the session is live.
func (s Status) Connected() bool {
	return s.Phase == PhaseConnected
}

// Pending reports whether a start is in flight.
func (s Status) Pending() bool {
	return s.Phase == PhaseStarting || s.Phase == PhaseAwaitingQR
}

// HasQR reports whether a pairing challenge is waiting to be scanned.
func (s Status) HasQR() bool {
	return s.Phase == PhaseAwaitingQR && s.QR != ""
}
