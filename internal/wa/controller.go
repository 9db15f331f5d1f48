package wa

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/models"
)

// Defaults for ControllerOpts.
const (
	DefaultFallbackSessionID = "default"
	DefaultSendGrace         = 2 * time.Second
	DefaultStartStaleAfter   = 2 * time.Minute
	markConnectedTimeout     = 5 * time.Second
)

var sessionIDPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// DefaultQRBackoff returns the QR poll schedule: 500ms for 5 attempts, 1s
// for the next 10 and 2s for the last 15.
func DefaultQRBackoff() []time.Duration {
	out := make([]time.Duration, 0, 30)
	for i := 0; i < 5; i++ {
		out = append(out, 500*time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		out = append(out, time.Second)
	}
	for i := 0; i < 15; i++ {
		out = append(out, 2*time.Second)
	}
	return out
}

// Registry is the part of the session registry the controller reads for
// send routing and updates for observability.
type Registry interface {
	FindActiveByName(ctx context.Context, name string) (*models.WhatsAppSession, error)
	FindDefaultActive(ctx context.Context) (*models.WhatsAppSession, error)
	MarkConnected(ctx context.Context, sessionID string, connected bool) error
}

// Observer is told about every phase change and adapter failure.
type Observer interface {
	SessionChanged(sessionID string, prev, next Status)
	AdapterFailed(err error)
}

// ControllerOpts holds parameters for creating a Controller.
type ControllerOpts struct {
	Adapter           Adapter
	Registry          Registry // optional
	Store             *Store   // defaults to NewStore()
	Log               *zerolog.Logger
	FallbackSessionID string          // defaults to DefaultFallbackSessionID
	SendGrace         time.Duration   // defaults to DefaultSendGrace
	StartStaleAfter   time.Duration   // defaults to DefaultStartStaleAfter
	QRBackoff         []time.Duration // defaults to DefaultQRBackoff()
	Observers         []Observer
	Now               func() time.Time
}

// Controller drives the per-session state machine. Adapter events reach it
// through Run (or HandleEvent); all state lives in its Store.
type Controller struct {
	adapter    Adapter
	registry   Registry
	store      *Store
	log        zerolog.Logger
	fallbackID string
	grace      time.Duration
	staleAfter time.Duration
	backoff    []time.Duration
	observers  []Observer
	now        func() time.Time

	startMu sync.Mutex
	wg      sync.WaitGroup
}

// NewController creates a Controller.
func NewController(opts ControllerOpts) (*Controller, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("wa: controller: adapter is required")
	}
	c := &Controller{
		adapter:    opts.Adapter,
		registry:   opts.Registry,
		store:      opts.Store,
		fallbackID: opts.FallbackSessionID,
		grace:      opts.SendGrace,
		staleAfter: opts.StartStaleAfter,
		backoff:    opts.QRBackoff,
		observers:  opts.Observers,
		now:        opts.Now,
	}
	if c.store == nil {
		c.store = NewStore()
	}
	if opts.Log != nil {
		c.log = *opts.Log
	} else {
		c.log = zerolog.Nop()
	}
	if c.fallbackID == "" {
		c.fallbackID = DefaultFallbackSessionID
	}
	if !sessionIDPattern.MatchString(c.fallbackID) {
		return nil, fmt.Errorf("wa: controller: fallback session id %q: %w", c.fallbackID, ErrInvalidSessionID)
	}
	if c.grace <= 0 {
		c.grace = DefaultSendGrace
	}
	if c.staleAfter <= 0 {
		c.staleAfter = DefaultStartStaleAfter
	}
	if len(c.backoff) == 0 {
		c.backoff = DefaultQRBackoff()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// ValidateSessionID checks a runtime session id.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// Store returns the reconciliation store.
func (c *Controller) Store() *Store {
	return c.store
}

// AddObserver registers an observer. It must be called before Run.
func (c *Controller) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// Init initializes the adapter. Failures disable WhatsApp features only.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.adapter.Init(ctx); err != nil {
		c.log.Error().Err(err).Msg("whatsapp adapter init failed")
		err = runtimeError("wa: init", ErrAdapterInit, err)
		for _, o := range c.observers {
			o.AdapterFailed(err)
		}
		return err
	}
	return nil
}

// Run drains adapter events until ctx is cancelled or the event stream
// closes, then waits for background registry updates.
func (c *Controller) Run(ctx context.Context) error {
	defer c.wg.Wait()
	events := c.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(evt)
		}
	}
}

// Wait blocks until background registry updates have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// HandleEvent applies one adapter event to the store.
func (c *Controller) HandleEvent(evt Event) {
	id := evt.SessionID
	now := c.now()
	switch evt.Kind {
	case EventQRUpdated:
		c.apply(id, func(s Status) Status { return s.QRUpdated(evt.QR, now) })
	case EventConnected:
		c.apply(id, func(s Status) Status { return s.Connect(now) })
		c.markConnected(id, true)
	case EventDisconnected:
		c.apply(id, func(s Status) Status { return s.Disconnect(evt.Reason, now) })
		c.markConnected(id, false)
	case EventMessageReceived:
		c.log.Info().
			Str("session_id", id).
			Str("from", evt.From).
			Int("length", len(evt.Text)).
			Msg("message received")
	default:
		c.log.Warn().Str("session_id", id).Int("kind", int(evt.Kind)).Msg("unknown adapter event")
	}
}

func (c *Controller) apply(id string, fn func(Status) Status) Status {
	prev, next := c.store.Apply(id, fn)
	if prev.Phase != next.Phase {
		ev := c.log.Info().
			Str("session_id", id).
			Stringer("from", prev.Phase).
			Stringer("to", next.Phase)
		if next.Reason != ReasonNone {
			ev = ev.Str("reason", string(next.Reason))
		}
		ev.Msg("session phase changed")
		for _, o := range c.observers {
			o.SessionChanged(id, prev, next)
		}
	}
	return next
}

// markConnected mirrors the connection flag onto the registry in the
// background. Failures are logged and otherwise ignored.
func (c *Controller) markConnected(id string, connected bool) {
	if c.registry == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), markConnectedTimeout)
		defer cancel()
		if err := c.registry.MarkConnected(ctx, id, connected); err != nil {
			c.log.Warn().Err(err).
				Str("session_id", id).
				Bool("connected", connected).
				Msg("registry connection mirror failed")
		}
	}()
}

// Status returns the current status of id, consulting the adapter when the
// store has never seen it.
func (c *Controller) Status(id string) Status {
	st := c.store.Get(id)
	if st.Phase == PhaseUnstarted && c.adapter.IsConnected(id) {
		return Status{Phase: PhaseConnected}
	}
	return st
}

// IsConnected reports whether id is live.
func (c *Controller) IsConnected(id string) bool {
	return c.Status(id).Connected()
}

// Statuses returns every known session's status, including sessions the
// adapter reports connected that the store has not seen yet.
func (c *Controller) Statuses() map[string]Status {
	out := c.store.Snapshot()
	for _, id := range c.adapter.ConnectedSessionIDs() {
		if _, ok := out[id]; !ok {
			out[id] = Status{Phase: PhaseConnected}
		}
	}
	return out
}

// EnsureStarted asks the adapter to bring id up. It is a no-op when id is
// connected or when a start is already in flight and not stale, so a pending
// QR challenge stays valid. It does not wait for the QR.
func (c *Controller) EnsureStarted(ctx context.Context, id string) error {
	if err := ValidateSessionID(id); err != nil {
		return err
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.IsConnected(id) {
		return nil
	}
	st := c.store.Get(id)
	if st.Pending() && c.now().Sub(st.Since) < c.staleAfter {
		return nil
	}

	now := c.now()
	c.apply(id, func(s Status) Status { return s.Start(now) })
	if err := c.adapter.Start(ctx, id); err != nil {
		c.apply(id, func(s Status) Status { return s.Disconnect(ReasonNetwork, c.now()) })
		c.log.Error().Err(err).Str("session_id", id).Msg("session start failed")
		if errors.Is(err, ErrAdapterInit) {
			return runtimeError("wa: start "+id, ErrAdapterInit, err)
		}
		return runtimeError("wa: start "+id, ErrConnection, err)
	}
	return nil
}

// StopSession tears down the runtime session and forgets its state.
func (c *Controller) StopSession(ctx context.Context, id string) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	err := c.adapter.Stop(ctx, id)
	c.apply(id, func(s Status) Status { return s.Disconnect(ReasonStopped, c.now()) })
	c.store.Reset(id)
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", id).Msg("session stop failed")
		return runtimeError("wa: stop "+id, ErrConnection, err)
	}
	return nil
}

// QROutcome classifies a GetQRCode result.
type QROutcome int

const (
	QRReady QROutcome = iota
	QRAlreadyConnected
	QRTimedOut
	QRUnavailable
)

func (o QROutcome) String() string {
	switch o {
	case QRReady:
		return "qr_ready"
	case QRAlreadyConnected:
		return "connected"
	case QRTimedOut:
		return "timeout"
	default:
		return "unavailable"
	}
}

// QRResult is the outcome of a QR request. Code is set only for QRReady.
type QRResult struct {
	Outcome  QROutcome
	Code     string
	Reason   Reason // last disconnect reason, if any
	Attempts int
}

// Message returns the Indonesian admin guidance for the result.
func (r QRResult) Message() string {
	switch r.Outcome {
	case QRReady:
		return MsgQRReady
	case QRAlreadyConnected:
		return MsgAlreadyConnected
	case QRTimedOut:
		if r.Reason == ReasonReplaced {
			return MsgActiveElsewhere
		}
		return MsgInitializing
	default:
		if r.Reason == ReasonReplaced {
			return MsgActiveElsewhere
		}
		return MsgConnectionProblem
	}
}

func (c *Controller) checkQR(id string) (QRResult, bool) {
	st := c.Status(id)
	switch {
	case st.Connected():
		return QRResult{Outcome: QRAlreadyConnected}, true
	case st.HasQR():
		return QRResult{Outcome: QRReady, Code: st.QR}, true
	}
	return QRResult{Reason: st.Reason}, false
}

// qrAbandoned reports whether a disconnect reason ends the pairing attempt.
// The adapter discards the session on these, so no further code will arrive.
func qrAbandoned(r Reason) bool {
	return r == ReasonQRExpired || r == ReasonLoggedOut
}

// GetQRCode returns the pending pairing challenge for id, starting the
// session if needed and polling the store with the bounded backoff. The poll
// stops early on connect, on a qr_expired or logged_out disconnect and when
// ctx is cancelled.
func (c *Controller) GetQRCode(ctx context.Context, id string) (QRResult, error) {
	if r, ok := c.checkQR(id); ok {
		return r, nil
	}
	if err := c.EnsureStarted(ctx, id); err != nil {
		return QRResult{Outcome: QRUnavailable, Reason: c.store.Get(id).Reason}, err
	}

	attempts := 0
	for _, delay := range c.backoff {
		changed := c.store.Changed(id)
		attempts++
		r, ok := c.checkQR(id)
		if ok {
			r.Attempts = attempts
			return r, nil
		}
		if qrAbandoned(r.Reason) {
			return c.qrAbandonedResult(id, r.Reason, attempts)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return QRResult{Outcome: QRUnavailable, Attempts: attempts}, ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}

	r, ok := c.checkQR(id)
	r.Attempts = attempts
	if ok {
		return r, nil
	}
	if qrAbandoned(r.Reason) {
		return c.qrAbandonedResult(id, r.Reason, attempts)
	}
	r.Outcome = QRTimedOut
	c.log.Warn().Str("session_id", id).Int("attempts", attempts).Msg("qr poll timed out")
	return r, fmt.Errorf("wa: qr for %s: %w", id, ErrQRTimeout)
}

func (c *Controller) qrAbandonedResult(id string, reason Reason, attempts int) (QRResult, error) {
	c.log.Warn().Str("session_id", id).Str("reason", string(reason)).Int("attempts", attempts).Msg("qr poll abandoned")
	return QRResult{Outcome: QRUnavailable, Reason: reason, Attempts: attempts},
		fmt.Errorf("wa: qr for %s: %s: %w", id, reason, ErrConnection)
}

// SelectSessionForSend picks the session id for an outbound message: the
// active record named by hint, then the default active record, then the
// first connected runtime session, then the fallback id (which is started).
func (c *Controller) SelectSessionForSend(ctx context.Context, hint string) (string, error) {
	if c.registry != nil {
		if hint != "" {
			rec, err := c.registry.FindActiveByName(ctx, hint)
			if err != nil {
				return "", fmt.Errorf("wa: select session %q: %w", hint, err)
			}
			if rec != nil {
				return rec.SessionID, nil
			}
			c.log.Debug().Str("hint", hint).Msg("session hint did not match an active record")
		}
		rec, err := c.registry.FindDefaultActive(ctx)
		if err != nil {
			return "", fmt.Errorf("wa: select default session: %w", err)
		}
		if rec != nil {
			return rec.SessionID, nil
		}
	}

	if ids := c.adapter.ConnectedSessionIDs(); len(ids) > 0 {
		return ids[0], nil
	}

	if err := c.EnsureStarted(ctx, c.fallbackID); err != nil {
		return "", runtimeError("wa: fallback "+c.fallbackID, ErrNoSessionAvailable, err)
	}
	return c.fallbackID, nil
}

// EnsureConnected returns nil once id is connected. A disconnected session is
// started once and given the grace period to connect.
func (c *Controller) EnsureConnected(ctx context.Context, id string) error {
	if c.IsConnected(id) {
		return nil
	}
	changed := c.store.Changed(id)
	if err := c.EnsureStarted(ctx, id); err != nil {
		return err
	}

	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	for {
		if c.IsConnected(id) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			changed = c.store.Changed(id)
		case <-timer.C:
			if c.IsConnected(id) {
				return nil
			}
			return fmt.Errorf("wa: session %s: %w", id, ErrSessionNotConnected)
		}
	}
}

// SendText sends through the adapter, translating its failures.
func (c *Controller) SendText(ctx context.Context, id, phone, body string) (DeliveryResult, error) {
	res, err := c.adapter.SendText(ctx, id, phone, body)
	if err != nil {
		if errors.Is(err, ErrSessionNotConnected) {
			return DeliveryResult{}, fmt.Errorf("wa: send via %s: %w", id, ErrSessionNotConnected)
		}
		return DeliveryResult{}, runtimeError("wa: send via "+id, ErrSendFailed, err)
	}
	return res, nil
}

// RestoreSessions starts the given sessions after a restart. Sessions without
// stored credentials are skipped when the adapter can tell.
func (c *Controller) RestoreSessions(ctx context.Context, ids []string) (int, error) {
	checker, _ := c.adapter.(CredentialChecker)
	var (
		started int
		errs    []error
	)
	for _, id := range ids {
		if checker != nil && !checker.HasCredentials(id) {
			c.log.Debug().Str("session_id", id).Msg("no stored credentials, not restoring")
			continue
		}
		if err := c.EnsureStarted(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		started++
	}
	return started, errors.Join(errs...)
}
