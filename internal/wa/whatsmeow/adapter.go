// Package whatsmeow implements wa.Adapter over go.mau.fi/whatsmeow. Each
// session id gets its own SQLite credential store at <auth_dir>/<id>.db.
package whatsmeow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/logging"
	"github.com/zulandar/raceline/internal/wa"
	wm "go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

const eventBuffer = 256

// Opts holds parameters for creating an Adapter.
type Opts struct {
	AuthDir    string
	DeviceName string // shown under Linked Devices on the phone
	Log        *zerolog.Logger
}

// Adapter runs one whatsmeow client per session id.
type Adapter struct {
	authDir    string
	deviceName string
	log        zerolog.Logger

	mu          sync.Mutex
	initialized bool
	sessions    map[string]*session

	ctx    context.Context
	cancel context.CancelFunc
	emitMu sync.RWMutex
	closed bool
	events chan wa.Event
}

type session struct {
	id       string
	path     string
	db       *sql.DB
	client   *wm.Client
	link     linkState
	cancelQR context.CancelFunc
}

// linkState is the part of *wm.Client that decides whether a session can send.
type linkState interface {
	IsConnected() bool
	IsLoggedIn() bool
}

// linked reports whether the socket is up and the device has completed
// login. An open socket waiting for a QR scan is not linked.
func linked(l linkState) bool {
	return l != nil && l.IsConnected() && l.IsLoggedIn()
}

func (s *session) close() {
	if s.cancelQR != nil {
		s.cancelQR()
	}
	if s.client != nil {
		s.client.Disconnect()
	}
	if s.db != nil {
		s.db.Close()
	}
}

var _ wa.Adapter = (*Adapter)(nil)
var _ wa.CredentialChecker = (*Adapter)(nil)

// New creates an Adapter. Init must be called before Start.
func New(opts Opts) (*Adapter, error) {
	if opts.AuthDir == "" {
		return nil, fmt.Errorf("whatsmeow: auth dir is required")
	}
	a := &Adapter{
		authDir:    opts.AuthDir,
		deviceName: opts.DeviceName,
		sessions:   make(map[string]*session),
		events:     make(chan wa.Event, eventBuffer),
	}
	if opts.Log != nil {
		a.log = *opts.Log
	} else {
		a.log = zerolog.Nop()
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a, nil
}

// SessionPath returns the credential store path for a session id.
func (a *Adapter) SessionPath(sessionID string) string {
	return filepath.Join(a.authDir, sessionID+".db")
}

// Init creates the auth directory and applies the device name. It runs once
// per process; later calls are no-ops.
func (a *Adapter) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}
	if err := os.MkdirAll(a.authDir, 0700); err != nil {
		return fmt.Errorf("%w: create %s: %v", wa.ErrAdapterInit, a.authDir, err)
	}
	stored, err := a.storedSessionsLocked()
	if err != nil {
		return fmt.Errorf("%w: %v", wa.ErrAdapterInit, err)
	}
	if a.deviceName != "" {
		store.DeviceProps.Os = proto.String(a.deviceName)
	}
	a.initialized = true
	a.log.Info().Str("auth_dir", a.authDir).Strs("stored", stored).Msg("whatsapp adapter initialized")
	return nil
}

// StoredSessions lists session ids that have a credential store on disk.
func (a *Adapter) StoredSessions() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storedSessionsLocked()
}

func (a *Adapter) storedSessionsLocked() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(a.authDir, "*.db"))
	if err != nil {
		return nil, fmt.Errorf("whatsmeow: list %s: %w", a.authDir, err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSuffix(filepath.Base(m), ".db")
		if wa.ValidateSessionID(id) == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// HasCredentials implements wa.CredentialChecker.
func (a *Adapter) HasCredentials(sessionID string) bool {
	_, err := os.Stat(a.SessionPath(sessionID))
	return err == nil
}

// Start opens the session's credential store and connects. Unpaired devices
// get a QR channel whose codes arrive as wa.EventQRUpdated.
func (a *Adapter) Start(ctx context.Context, sessionID string) error {
	if err := wa.ValidateSessionID(sessionID); err != nil {
		return err
	}

	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return fmt.Errorf("%w: not initialized", wa.ErrAdapterInit)
	}
	// A live socket is left alone even before login; it may be showing a QR.
	old := a.sessions[sessionID]
	if old != nil && old.client != nil && old.client.IsConnected() {
		a.mu.Unlock()
		return nil
	}
	delete(a.sessions, sessionID)
	a.mu.Unlock()

	if old != nil {
		old.close()
	}

	s, err := a.openSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if s.client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(a.ctx)
		qrChan, err := s.client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			s.db.Close()
			return fmt.Errorf("whatsmeow: qr channel for %s: %w", sessionID, err)
		}
		s.cancelQR = cancel
		go a.pumpQR(sessionID, qrChan)
	}

	a.mu.Lock()
	a.sessions[sessionID] = s
	a.mu.Unlock()

	if err := s.client.Connect(); err != nil {
		a.mu.Lock()
		if a.sessions[sessionID] == s {
			delete(a.sessions, sessionID)
		}
		a.mu.Unlock()
		s.close()
		return fmt.Errorf("whatsmeow: connect %s: %w", sessionID, err)
	}
	a.log.Info().Str("session_id", sessionID).Bool("paired", s.client.Store.ID != nil).Msg("whatsapp session starting")
	return nil
}

func (a *Adapter) openSession(ctx context.Context, sessionID string) (*session, error) {
	path := a.SessionPath(sessionID)
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("whatsmeow: open %s: %w", path, err)
	}
	container := sqlstore.NewWithDB(db, "sqlite3", logging.WhatsApp(a.log, "store/"+sessionID))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("whatsmeow: upgrade %s: %w", path, err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("whatsmeow: load device %s: %w", sessionID, err)
	}

	client := wm.NewClient(device, logging.WhatsApp(a.log, "client/"+sessionID))
	client.EnableAutoReconnect = true
	client.AddEventHandler(func(evt interface{}) {
		a.handleEvent(sessionID, evt)
	})
	return &session{id: sessionID, path: path, db: db, client: client, link: client}, nil
}

func (a *Adapter) pumpQR(sessionID string, ch <-chan wm.QRChannelItem) {
	for item := range ch {
		evt, ok := translateQR(sessionID, item)
		if !ok {
			continue
		}
		if item.Event != "code" {
			a.log.Info().Str("session_id", sessionID).Str("qr_event", item.Event).Msg("qr channel finished")
		}
		if evt.Kind == wa.EventDisconnected && evt.Reason == wa.ReasonQRExpired {
			go a.discard(sessionID, true)
		}
		a.emit(evt)
	}
}

func (a *Adapter) handleEvent(sessionID string, raw interface{}) {
	evt, ok := translate(sessionID, raw)
	if !ok {
		return
	}
	if evt.Kind == wa.EventDisconnected && evt.Reason == wa.ReasonLoggedOut {
		a.log.Warn().Str("session_id", sessionID).Msg("whatsapp session logged out, removing credentials")
		go a.discard(sessionID, true)
	}
	a.emit(evt)
}

// discard tears a session down. With removeUnpaired it also deletes the
// credential store when the device holds no pairing.
func (a *Adapter) discard(sessionID string, removeUnpaired bool) {
	a.mu.Lock()
	s := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()
	if s == nil {
		return
	}
	paired := s.client.Store.ID != nil
	s.close()
	if removeUnpaired && !paired {
		a.removeCredentials(s.path)
	}
}

func (a *Adapter) removeCredentials(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.log.Warn().Err(err).Str("path", p).Msg("remove credential store failed")
		}
	}
}

func (a *Adapter) emit(evt wa.Event) {
	a.emitMu.RLock()
	defer a.emitMu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- evt:
	case <-a.ctx.Done():
	}
}

// Stop disconnects the session and closes its store.
func (a *Adapter) Stop(ctx context.Context, sessionID string) error {
	a.discard(sessionID, false)
	return nil
}

// IsConnected implements wa.Adapter.
func (a *Adapter) IsConnected(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.sessions[sessionID]
	return s != nil && linked(s.link)
}

// ConnectedSessionIDs implements wa.Adapter.
func (a *Adapter) ConnectedSessionIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id, s := range a.sessions {
		if linked(s.link) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SendText implements wa.Adapter.
func (a *Adapter) SendText(ctx context.Context, sessionID, phone, body string) (wa.DeliveryResult, error) {
	a.mu.Lock()
	s := a.sessions[sessionID]
	a.mu.Unlock()
	if s == nil || !linked(s.link) {
		return wa.DeliveryResult{}, wa.ErrSessionNotConnected
	}

	to := types.NewJID(phone, types.DefaultUserServer)
	resp, err := s.client.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return wa.DeliveryResult{}, fmt.Errorf("whatsmeow: send to %s: %w", to, err)
	}
	return wa.DeliveryResult{
		SessionID: sessionID,
		Recipient: phone,
		MessageID: string(resp.ID),
		Timestamp: resp.Timestamp,
	}, nil
}

// Events implements wa.Adapter.
func (a *Adapter) Events() <-chan wa.Event {
	return a.events
}

// Close disconnects every session and closes the event stream.
func (a *Adapter) Close() error {
	a.cancel()

	a.mu.Lock()
	sessions := a.sessions
	a.sessions = make(map[string]*session)
	a.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	return nil
}
