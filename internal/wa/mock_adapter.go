package wa

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SentText is a message recorded by MockAdapter.
type SentText struct {
	SessionID string
	Phone     string
	Body      string
}

// MockAdapter implements Adapter and CredentialChecker for testing. Tests
// drive the lifecycle with EmitQR, Connect and Disconnect.
type MockAdapter struct {
	mu          sync.Mutex
	inits       int
	initErr     error
	startErr    error
	sendErr     error
	connected   map[string]bool
	starts      map[string]int
	stops       []string
	sent        []SentText
	credentials map[string]bool
	onStart     func(sessionID string)
	events      chan Event
	closed      bool
}

// NewMockAdapter creates a MockAdapter with a buffered event channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		connected:   make(map[string]bool),
		starts:      make(map[string]int),
		credentials: make(map[string]bool),
		events:      make(chan Event, 100),
	}
}

// Init counts calls and returns the configured init error.
func (m *MockAdapter) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	return m.initErr
}

// Start records a start unless the session is connected, then runs the
// OnStart hook outside the lock.
func (m *MockAdapter) Start(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if m.startErr != nil {
		err := m.startErr
		m.mu.Unlock()
		return err
	}
	if m.connected[sessionID] {
		m.mu.Unlock()
		return nil
	}
	m.starts[sessionID]++
	hook := m.onStart
	m.mu.Unlock()

	if hook != nil {
		hook(sessionID)
	}
	return nil
}

// Stop marks the session disconnected and records the call.
func (m *MockAdapter) Stop(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops = append(m.stops, sessionID)
	delete(m.connected, sessionID)
	return nil
}

// IsConnected reports the adapter-level flag.
func (m *MockAdapter) IsConnected(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected[sessionID]
}

// ConnectedSessionIDs returns connected ids in sorted order.
func (m *MockAdapter) ConnectedSessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.connected))
	for id, ok := range m.connected {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SendText records the message when the session is connected.
func (m *MockAdapter) SendText(ctx context.Context, sessionID, phone, body string) (DeliveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected[sessionID] {
		return DeliveryResult{}, ErrSessionNotConnected
	}
	if m.sendErr != nil {
		return DeliveryResult{}, m.sendErr
	}
	m.sent = append(m.sent, SentText{SessionID: sessionID, Phone: phone, Body: body})
	return DeliveryResult{
		SessionID: sessionID,
		Recipient: phone,
		MessageID: fmt.Sprintf("mock-%d", len(m.sent)),
		Timestamp: time.Now(),
	}, nil
}

// Events returns the event channel.
func (m *MockAdapter) Events() <-chan Event {
	return m.events
}

// Close closes the event channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = make(map[string]bool)
	close(m.events)
	return nil
}

// HasCredentials implements CredentialChecker.
func (m *MockAdapter) HasCredentials(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentials[sessionID]
}

// --- Test helpers ---

// Emit pushes an event as if the client library produced it.
func (m *MockAdapter) Emit(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.events <- evt
}

// EmitQR emits a QR challenge for sessionID.
func (m *MockAdapter) EmitQR(sessionID, code string) {
	m.Emit(Event{Kind: EventQRUpdated, SessionID: sessionID, QR: code})
}

// Connect marks sessionID connected and emits EventConnected.
func (m *MockAdapter) Connect(sessionID string) {
	m.SetConnected(sessionID, true)
	m.Emit(Event{Kind: EventConnected, SessionID: sessionID})
}

// Disconnect clears the connected flag and emits EventDisconnected.
func (m *MockAdapter) Disconnect(sessionID string, reason Reason) {
	m.SetConnected(sessionID, false)
	m.Emit(Event{Kind: EventDisconnected, SessionID: sessionID, Reason: reason})
}

// SetConnected changes the adapter-level flag without emitting an event.
func (m *MockAdapter) SetConnected(sessionID string, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if connected {
		m.connected[sessionID] = true
	} else {
		delete(m.connected, sessionID)
	}
}

// OnStart sets a hook run after every recorded Start.
func (m *MockAdapter) OnStart(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = fn
}

// SetInitError makes Init fail.
func (m *MockAdapter) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// SetStartError makes Start fail.
func (m *MockAdapter) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetSendError makes SendText fail for connected sessions.
func (m *MockAdapter) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetCredentials marks sessions as having stored credentials.
func (m *MockAdapter) SetCredentials(sessionIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range sessionIDs {
		m.credentials[id] = true
	}
}

// InitCount returns the number of Init calls.
func (m *MockAdapter) InitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits
}

// StartCount returns the number of recorded starts for sessionID.
func (m *MockAdapter) StartCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts[sessionID]
}

// Stops returns the ids passed to Stop.
func (m *MockAdapter) Stops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.stops))
	copy(out, m.stops)
	return out
}

// LastSent returns the most recently sent message.
func (m *MockAdapter) LastSent() (SentText, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentText{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of sent messages.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent messages.
func (m *MockAdapter) AllSent() []SentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentText, len(m.sent))
	copy(out, m.sent)
	return out
}
