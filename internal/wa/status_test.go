package wa

import (
	"testing"
	"time"
)

func TestStatus_Transitions(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)

	var s Status
	if s.Phase != PhaseUnstarted {
		t.Fatalf("zero Status phase = %v, want unstarted", s.Phase)
	}

	s = s.Start(t0)
	if s.Phase != PhaseStarting || !s.Pending() || !s.Since.Equal(t0) {
		t.Errorf("after Start: %+v", s)
	}

	s = s.QRUpdated("qr-1", t1)
	if s.Phase != PhaseAwaitingQR || s.QR != "qr-1" || !s.HasQR() {
		t.Errorf("after QRUpdated: %+v", s)
	}

	s = s.Connect(t1)
	if !s.Connected() || s.QR != "" {
		t.Errorf("after Connect: %+v", s)
	}

	s = s.QRUpdated("late", t1)
	if !s.Connected() || s.QR != "" {
		t.Errorf("QRUpdated while connected changed status: %+v", s)
	}

	s = s.Disconnect(ReasonReplaced, t1)
	if s.Phase != PhaseDisconnected || s.Reason != ReasonReplaced || s.Pending() {
		t.Errorf("after Disconnect: %+v", s)
	}

	s = s.Start(t1)
	if s.Reason != ReasonNone || s.Phase != PhaseStarting {
		t.Errorf("restart did not clear reason: %+v", s)
	}
}

func TestStatus_DisconnectDefaultsToNetwork(t *testing.T) {
	s := Status{}.Disconnect(ReasonNone, time.Now())
	if s.Reason != ReasonNetwork {
		t.Errorf("Reason = %q, want %q", s.Reason, ReasonNetwork)
	}
}

func TestStatus_ConnectKeepsSinceWhenAlreadyConnected(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := Status{}.Connect(t0).Connect(t0.Add(time.Hour))
	if !s.Since.Equal(t0) {
		t.Errorf("Since = %v, want %v", s.Since, t0)
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseUnstarted, "unstarted"},
		{PhaseStarting, "starting"},
		{PhaseAwaitingQR, "awaiting_qr"},
		{PhaseConnected, "connected"},
		{PhaseDisconnected, "disconnected"},
		{Phase(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}
