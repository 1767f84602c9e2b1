package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/stompbridge/internal/registry"
)

// Manager bridges one backend STOMP session to the local bus.
type Manager struct {
	cfg       ManagerConfig
	client    Client
	publisher Publisher
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	// Desired subscription state, independent of the session.
	subs *registry.Registry[Subscription]

	// Serializes handshakes so concurrent connect-on-demand callers share one.
	connectMu sync.Mutex

	mu      sync.RWMutex
	session Session
	state   State

	errMu      sync.RWMutex
	errHandler ErrorHandler

	framesForwarded atomic.Int64
	framesDropped   atomic.Int64
	publishErrors   atomic.Int64
	errorsDelivered atomic.Int64
	reconnects      atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithErrorHandler sets the error sink at construction time.
func WithErrorHandler(h ErrorHandler) Option {
	return func(m *Manager) { m.errHandler = h }
}

// WithSleep replaces the function Reconnect uses to wait out its delay.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

// NewManager creates a Manager for cfg.URL. No connection is opened until
// Start, Connect or Subscribe is called.
func NewManager(cfg ManagerConfig, client Client, publisher Publisher, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:       cfg,
		client:    client,
		publisher: publisher,
		logger:    logger.With("url", cfg.URL),
		sleep:     sleepContext,
		subs:      registry.New[Subscription](),
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// URL returns the backend URL.
func (m *Manager) URL() string {
	return m.cfg.URL
}

// SetErrorHandler installs the error sink. Call it before the manager is used;
// errors raised earlier are dropped.
func (m *Manager) SetErrorHandler(h ErrorHandler) {
	m.errMu.Lock()
	m.errHandler = h
	m.errMu.Unlock()
}

// Start registers the configured destinations, connects and subscribes them.
// Configured destinations stay registered when the connect fails, so a later
// Reconnect or connect-on-demand subscribes them. Subscription failures are
// logged; only a failed connect is returned.
func (m *Manager) Start(ctx context.Context) error {
	for _, dest := range m.cfg.Destinations {
		// nil marks a destination that has no handle on the current session yet.
		m.subs.PutIfAbsent(dest, nil)
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	destinations := m.subs.Keys()
	if err := m.connectLocked(ctx); err != nil {
		m.logger.Warn("connection manager not started, configured destinations stay pending",
			"pending", len(destinations),
		)
		return err
	}
	m.restore(destinations)

	m.logger.Info("connection manager started",
		"subscriptions", m.subs.Len(),
	)
	return nil
}

// Stop disconnects. The subscription registry is kept.
func (m *Manager) Stop(ctx context.Context) error {
	m.Disconnect()
	m.logger.Info("connection manager stopped")
	return nil
}

// Connect opens a new session, replacing the current one.
// It blocks until the handshake completes and does not retry.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	return m.connectLocked(ctx)
}

// connectLocked performs the handshake. Must be called with connectMu held.
func (m *Manager) connectLocked(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateConnecting
	m.mu.Unlock()

	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	session, err := m.client.Connect(ctx, m.cfg.URL, m.cfg.Header.Clone(), m)
	if err != nil {
		m.mu.Lock()
		m.state = stateOf(m.session)
		m.mu.Unlock()

		m.logger.Error("error connecting to websocket", "error", err)
		return fmt.Errorf("%w: %s: %w", ErrConnect, m.cfg.URL, err)
	}

	m.mu.Lock()
	old := m.session
	m.session = session
	m.state = StateConnected
	m.mu.Unlock()

	// At most one live session per manager.
	if old != nil && old != session && old.IsConnected() {
		if err := old.Disconnect(); err != nil {
			m.logger.Debug("closing replaced session failed, ignoring",
				"session", old.ID(),
				"error", err,
			)
		}
	}

	m.logger.Info("connected", "session", session.ID())
	return nil
}

// ensureConnectedLocked connects if there is no live session. When it had to
// connect, destinations already in the registry are subscribed on the new
// session and reconnected is true. Must be called with connectMu held.
func (m *Manager) ensureConnectedLocked(ctx context.Context) (reconnected bool, err error) {
	if m.IsConnected() {
		return false, nil
	}

	destinations := m.subs.Keys()
	if err := m.connectLocked(ctx); err != nil {
		return false, err
	}
	m.restore(destinations)
	return true, nil
}

// Reconnect waits for delay, opens a new session and re-subscribes every
// destination that was registered before the call. A destination that fails to
// re-subscribe stays registered; the failure does not stop the others.
// Only the connect error is returned.
func (m *Manager) Reconnect(ctx context.Context, delay time.Duration) error {
	if delay > 0 {
		m.logger.Warn("connection lost or refused, will attempt to reconnect",
			"delay", delay,
		)
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}

	m.reconnects.Add(1)

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	destinations := m.subs.Keys()
	if err := m.connectLocked(ctx); err != nil {
		return err
	}
	m.restore(destinations)
	return nil
}

// restore re-subscribes destinations on the current session.
// Must be called with connectMu held.
func (m *Manager) restore(destinations []string) {
	if len(destinations) == 0 {
		return
	}

	restored := 0
	for _, dest := range destinations {
		err := m.resubscribe(dest)
		if err != nil {
			m.logger.Warn("resubscribe failed, destination stays registered",
				"destination", dest,
				"error", err,
			)
			continue
		}
		restored++
	}

	m.logger.Info("subscriptions restored",
		"restored", restored,
		"failed", len(destinations)-restored,
	)
}

// resubscribe replaces the stale handle for dest with one from the current session.
func (m *Manager) resubscribe(dest string) error {
	// Unsubscribed since the snapshot was taken.
	if !m.subs.Has(dest) {
		return nil
	}

	session := m.currentSession()
	if session == nil {
		return ErrNotConnected
	}

	sub, err := session.Subscribe(dest, m.HandleFrame)
	if err != nil {
		return err
	}
	m.subs.Put(dest, sub)
	return nil
}

// Subscribe subscribes dest, connecting first if needed. Subscribing a
// destination that already holds a handle does nothing. Calls are serialized
// with handshakes so a destination is subscribed at most once per session.
func (m *Manager) Subscribe(ctx context.Context, dest string) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if _, err := m.ensureConnectedLocked(ctx); err != nil {
		return err
	}

	if sub, ok := m.subs.Get(dest); ok && sub != nil {
		return nil
	}

	session := m.currentSession()
	if session == nil {
		return ErrNotConnected
	}

	sub, err := session.Subscribe(dest, m.HandleFrame)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", dest, err)
	}
	m.subs.Put(dest, sub)

	m.logger.Debug("subscribed", "destination", dest, "session", session.ID())
	return nil
}

// Unsubscribe removes dest. Unknown destinations are ignored. For a known
// destination the manager connects first if needed, then releases the handle.
func (m *Manager) Unsubscribe(ctx context.Context, dest string) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	sub, ok := m.subs.Remove(dest)
	if !ok {
		return nil
	}

	reconnected, err := m.ensureConnectedLocked(ctx)
	if err != nil {
		return err
	}
	if reconnected || sub == nil {
		// Either the handle belonged to the session that was just replaced, or
		// dest was never subscribed on any session.
		m.logger.Debug("no live subscription handle to release", "destination", dest)
		return nil
	}

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", dest, err)
	}

	m.logger.Debug("unsubscribed", "destination", dest)
	return nil
}

// Disconnect closes the session. It never fails; close errors are logged and
// dropped. Registered destinations are kept for a later reconnect. A handshake
// in flight completes first and its session is then closed.
func (m *Manager) Disconnect() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	session := m.session
	m.session = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if session == nil || !session.IsConnected() {
		return
	}

	if err := session.Disconnect(); err != nil {
		m.logger.Debug("disconnect failed, ignoring",
			"session", session.ID(),
			"error", err,
		)
		return
	}

	m.logger.Info("disconnected", "session", session.ID())
}

// SendMessage forwards a client payload to dest. Strings, byte slices and
// json.RawMessage are sent verbatim; anything else goes through the session's
// object serialization.
func (m *Manager) SendMessage(dest string, payload any) error {
	session := m.currentSession()
	if session == nil {
		return ErrNotConnected
	}

	var err error
	switch p := payload.(type) {
	case string:
		err = session.Send(dest, []byte(p))
	case []byte:
		err = session.Send(dest, p)
	case json.RawMessage:
		err = session.Send(dest, p)
	default:
		err = session.SendObject(dest, p)
	}
	if err != nil {
		return fmt.Errorf("send to %s: %w", dest, err)
	}
	return nil
}

// IsConnected reports whether a live session exists.
func (m *Manager) IsConnected() bool {
	session := m.currentSession()
	return session != nil && session.IsConnected()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == StateConnected {
		return stateOf(m.session)
	}
	return m.state
}

// Destinations returns a snapshot of the registered destinations.
func (m *Manager) Destinations() []string {
	return m.subs.Keys()
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		State:           m.State(),
		Subscriptions:   m.subs.Len(),
		FramesForwarded: m.framesForwarded.Load(),
		FramesDropped:   m.framesDropped.Load(),
		PublishErrors:   m.publishErrors.Load(),
		ErrorsDelivered: m.errorsDelivered.Load(),
		Reconnects:      m.reconnects.Load(),
	}
}

// AfterConnected implements SessionHandler.
func (m *Manager) AfterConnected(session Session) {
	m.logger.Debug("proxied target now connected", "session", session.ID())
}

// HandleFrame publishes a frame to the bus at its own destination.
// Frames without a destination are dropped.
func (m *Manager) HandleFrame(frame Frame) {
	if frame.Destination == "" {
		m.framesDropped.Add(1)
		return
	}

	m.logger.Debug("received frame",
		"destination", frame.Destination,
		"bytes", len(frame.Body),
	)

	if err := m.publisher.Publish(frame.Destination, frame.Body, frame.HeaderMap()); err != nil {
		m.publishErrors.Add(1)
		m.logger.Warn("failed to publish frame",
			"destination", frame.Destination,
			"error", err,
		)
		return
	}
	m.framesForwarded.Add(1)
}

// HandleException implements SessionHandler.
func (m *Manager) HandleException(session Session, err error) {
	m.deliver(ErrorKindProtocol, session, err)
}

// HandleTransportError implements SessionHandler. Reconnecting is left to the
// error handler.
func (m *Manager) HandleTransportError(session Session, err error) {
	m.mu.Lock()
	if m.session != nil && m.session == session {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	m.deliver(ErrorKindTransport, session, err)
}

// deliver wraps err and hands it to the error handler, if any.
func (m *Manager) deliver(kind ErrorKind, session Session, err error) {
	m.errMu.RLock()
	h := m.errHandler
	m.errMu.RUnlock()

	if h == nil {
		m.logger.Debug("no error handler, dropping session error",
			"kind", kind,
			"error", err,
		)
		return
	}

	m.errorsDelivered.Add(1)
	h.HandleError(&SessionError{
		ID:      uuid.New(),
		Manager: m,
		URL:     m.cfg.URL,
		Session: session,
		Kind:    kind,
		Err:     err,
	})
}

func (m *Manager) currentSession() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func stateOf(s Session) State {
	if s != nil && s.IsConnected() {
		return StateConnected
	}
	return StateDisconnected
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
