package wa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/raceline/internal/models"
	"github.com/zulandar/raceline/internal/phone"
	"github.com/zulandar/raceline/internal/registry"
)

func newTestDispatcher(t *testing.T, c *Controller) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherOpts{Controller: c})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestNewDispatcher_RequiresController(t *testing.T) {
	if _, err := NewDispatcher(DispatcherOpts{}); err == nil {
		t.Fatal("expected error without controller")
	}
}

func TestSendMessage_NormalizesAndSends(t *testing.T) {
	m := NewMockAdapter()
	reg := &fakeRegistry{records: []models.WhatsAppSession{
		{Name: "Main", SessionID: "main", IsActive: true, IsDefault: true},
	}}
	c := newTestController(t, m, reg)
	m.Connect("main")
	waitFor(t, "connected", func() bool { return c.IsConnected("main") })

	res, err := newTestDispatcher(t, c).SendMessage(context.Background(), OutboundMessage{
		To:   "0812-3456-7890",
		Body: "Pendaftaran Anda diterima",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.SessionID != "main" || res.Recipient != "6281234567890" || res.MessageID == "" {
		t.Errorf("result = %+v", res)
	}
	sent, ok := m.LastSent()
	if !ok || sent.Phone != "6281234567890" || sent.Body != "Pendaftaran Anda diterima" {
		t.Errorf("LastSent = %+v, %v", sent, ok)
	}
}

func TestSendMessage_InvalidRecipient(t *testing.T) {
	m := NewMockAdapter()
	c := newTestController(t, m, nil)

	_, err := newTestDispatcher(t, c).SendMessage(context.Background(), OutboundMessage{To: "n/a", Body: "x"})
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *SendError", err)
	}
	if se.Kind != KindInvalidRecipient || !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("SendError = %+v", se)
	}
	if m.StartCount(DefaultFallbackSessionID) != 0 {
		t.Error("invalid recipient should not start a session")
	}
}

func TestSendMessage_ZeroSessionsFallbackConnects(t *testing.T) {
	m := NewMockAdapter()
	m.OnStart(func(id string) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			m.Connect(id)
		}()
	})
	c := newTestController(t, m, &fakeRegistry{}, func(o *ControllerOpts) { o.SendGrace = time.Second })

	res, err := newTestDispatcher(t, c).SendMessage(context.Background(), OutboundMessage{To: "81234567890", Body: "halo"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.SessionID != DefaultFallbackSessionID {
		t.Errorf("SessionID = %q, want fallback", res.SessionID)
	}
}

func TestSendMessage_ZeroSessionsFallbackNeverConnects(t *testing.T) {
	m := NewMockAdapter()
	c := newTestController(t, m, &fakeRegistry{})

	_, err := newTestDispatcher(t, c).SendMessage(context.Background(), OutboundMessage{To: "81234567890", Body: "halo"})
	if !errors.Is(err, ErrSessionNotConnected) {
		t.Fatalf("error = %v, want ErrSessionNotConnected", err)
	}
	var se *SendError
	if !errors.As(err, &se) || se.Kind != KindNotConnected || se.SessionID != DefaultFallbackSessionID {
		t.Errorf("SendError = %+v", se)
	}
	if KindOf(err) != KindNotConnected {
		t.Errorf("KindOf = %q", KindOf(err))
	}
}

func TestSendMessage_HintedDisconnectedSessionDoesNotFallBack(t *testing.T) {
	ctx := context.Background()
	mgr, err := registry.NewManager(registry.ManagerOpts{Store: registry.New(testDB(t))})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreateSession(ctx, registry.CreateOpts{Name: "support", SessionID: "support", IsDefault: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreateSession(ctx, registry.CreateOpts{Name: "marketing", SessionID: "marketing"}); err != nil {
		t.Fatal(err)
	}

	m := NewMockAdapter()
	c := newTestController(t, m, mgr.Store())
	m.Connect("support")
	waitFor(t, "support connected", func() bool { return c.IsConnected("support") })

	_, err = newTestDispatcher(t, c).SendMessage(ctx, OutboundMessage{
		To:          "081234567890",
		Body:        "promo",
		SessionName: "marketing",
	})
	if !errors.Is(err, ErrSessionNotConnected) {
		t.Fatalf("error = %v, want ErrSessionNotConnected", err)
	}
	var se *SendError
	if errors.As(err, &se) && se.SessionID != "marketing" {
		t.Errorf("SessionID = %q, want marketing", se.SessionID)
	}
	if m.SentCount() != 0 {
		t.Errorf("SentCount = %d, want 0 (no silent fallback to support)", m.SentCount())
	}
}

func TestSendMessage_AdapterFailureIsTranslated(t *testing.T) {
	m := NewMockAdapter()
	m.SetSendError(errors.New("websocket closed"))
	c := newTestController(t, m, nil)
	m.Connect("alpha")
	waitFor(t, "connected", func() bool { return c.IsConnected("alpha") })

	_, err := newTestDispatcher(t, c).SendMessage(context.Background(), OutboundMessage{To: "6281", Body: "x"})
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("error = %v, want ErrSendFailed", err)
	}
	if KindOf(err) != KindSendFailed {
		t.Errorf("KindOf = %q, want send_failed", KindOf(err))
	}
}

func TestSendMessage_CustomPolicy(t *testing.T) {
	m := NewMockAdapter()
	c := newTestController(t, m, nil)
	m.Connect("alpha")
	waitFor(t, "connected", func() bool { return c.IsConnected("alpha") })

	d, err := NewDispatcher(DispatcherOpts{Controller: c, Policy: phone.Passthrough{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.SendMessage(context.Background(), OutboundMessage{To: "+1 415 555 0100", Body: "hi"}); err != nil {
		t.Fatal(err)
	}
	sent, _ := m.LastSent()
	if sent.Phone != "14155550100" {
		t.Errorf("Phone = %q, want 14155550100", sent.Phone)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{ErrInvalidRecipient, KindInvalidRecipient},
		{ErrSessionNotConnected, KindNotConnected},
		{ErrNoSessionAvailable, KindNoSession},
		{errors.New("other"), KindSendFailed},
		{&SendError{Kind: KindNoSession, Err: errors.New("x")}, KindNoSession},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
