// Package connection owns the WebSocket link to the order back end: one
// socket per Manager, a keyed listener registry, and bounded reconnection
// with exponential backoff.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("websocket is not connected")
	ErrSuperseded   = errors.New("connection superseded before it opened")
)

// Config holds the transport settings for a Manager.
type Config struct {
	BaseURL           string        // e.g. ws://localhost:8000/ws
	ReconnectBase     time.Duration // first retry delay, doubled per attempt
	ReconnectMax      time.Duration // cap on the retry delay
	MaxReconnects     int           // consecutive failed attempts before giving up; negative disables retries
	HeartbeatInterval time.Duration // ping interval; zero disables pings
	HandshakeTimeout  time.Duration
	Header            http.Header // sent with every handshake

	// OnError observes transport errors. A failed dial or an unexpected
	// close is reported once.
	OnError func(error)
}

// DefaultConfig matches the back end's local development defaults.
var DefaultConfig = Config{
	BaseURL:           "ws://localhost:8000/ws",
	ReconnectBase:     time.Second,
	ReconnectMax:      30 * time.Second,
	MaxReconnects:     5,
	HeartbeatInterval: 20 * time.Second,
	HandshakeTimeout:  10 * time.Second,
}

// Status is the connection state exposed to consumers.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "disconnected"
}

// Listener receives every inbound message unmodified. The slice is shared
// between listeners and must not be modified.
type Listener func(msg json.RawMessage)

// StatusFunc observes connection status transitions.
type StatusFunc func(Status)

// Stats is a point-in-time view of the transport.
type Stats struct {
	Status         Status
	Attempts       int
	ReconnectCount int
	MessageCount   int64
	DroppedCount   int64
	ErrorCount     int64
	LastMessage    time.Time
	LastHeartbeat  time.Time
}

// Manager keeps at most one live socket. Every Connect supersedes the
// previous socket; Disconnect also disarms pending reconnects.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	identity  *Identity
	owner     string
	gen       uint64
	attempts  int
	retry     *time.Timer
	status    Status
	listeners map[string]Listener
	watchers  map[string]StatusFunc
	stats     Stats

	writeMu sync.Mutex
}

// NewManager fills zero config fields from DefaultConfig.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig.BaseURL
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultConfig.ReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultConfig.ReconnectMax
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = DefaultConfig.MaxReconnects
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig.HandshakeTimeout
	}

	return &Manager{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		listeners: make(map[string]Listener),
		watchers:  make(map[string]StatusFunc),
	}
}

// Connect is ConnectFor without an owner.
func (m *Manager) Connect(ctx context.Context, id Identity) error {
	return m.ConnectFor(ctx, "", id)
}

// ConnectFor closes any existing socket, records owner as the holder of
// the connection and dials the endpoint for id. A failed dial is retried
// in the background with backoff; the error is still returned.
func (m *Manager) ConnectFor(ctx context.Context, owner string, id Identity) error {
	url, err := id.Endpoint(m.cfg.BaseURL)
	if err != nil {
		m.logger.Error("Refusing to connect", zap.String("identity", id.Key()), zap.Error(err))
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	m.closeLocked()
	m.identity = &id
	m.owner = owner
	m.attempts = 0
	gen := m.gen
	n := m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	m.notify(n)
	m.logger.Info("Connecting to order websocket", zap.String("url", url), zap.String("owner", owner))
	return m.dial(ctx, gen, url)
}

// Disconnect closes the socket, cancels any pending reconnect and clears
// the listener registry and stored identity. Safe to call at any time.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	had := m.identity != nil
	n := m.disconnectLocked()
	m.mu.Unlock()

	m.notify(n)
	if had {
		m.logger.Info("Websocket disconnected")
	}
}

// Release drops the listener and status observer registered under key.
// The socket is closed only when no listener remains; otherwise a
// remaining listener becomes the holder if key held it. Release reports
// whether the socket was closed.
func (m *Manager) Release(key string) bool {
	m.mu.Lock()
	delete(m.listeners, key)
	delete(m.watchers, key)
	if len(m.listeners) > 0 {
		if m.owner == key {
			m.owner = nextHolder(m.listeners)
			m.logger.Debug("Connection handed over", zap.String("from", key), zap.String("to", m.owner))
		}
		m.mu.Unlock()
		return false
	}
	had := m.identity != nil
	n := m.disconnectLocked()
	m.mu.Unlock()

	m.notify(n)
	if had {
		m.logger.Info("Last listener released, websocket disconnected", zap.String("key", key))
	}
	return true
}

// Listeners is the number of registered listeners.
func (m *Manager) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *Manager) disconnectLocked() *notice {
	m.closeLocked()
	m.identity = nil
	m.owner = ""
	m.attempts = 0
	n := m.setStatusLocked(StatusDisconnected)
	m.listeners = make(map[string]Listener)
	m.watchers = make(map[string]StatusFunc)
	return n
}

func nextHolder(listeners map[string]Listener) string {
	keys := make([]string, 0, len(listeners))
	for k := range listeners {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}

// AddListener registers l under key, replacing any listener with that key.
func (m *Manager) AddListener(key string, l Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.listeners[key] = l
	m.mu.Unlock()
}

// Watch registers a status observer under key.
func (m *Manager) Watch(key string, fn StatusFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.watchers[key] = fn
	m.mu.Unlock()
}

// Send marshals v and writes it if the socket is open. It never panics;
// callers get ErrNotConnected while the link is down.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	conn := m.conn
	open := m.status == StatusConnected
	m.mu.Unlock()

	if conn == nil || !open {
		m.logger.Warn("Send skipped", zap.Error(ErrNotConnected))
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Identity returns the identity of the current or pending connection.
func (m *Manager) Identity() (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return Identity{}, false
	}
	return *m.identity, true
}

// Holder returns the owner passed to the last ConnectFor.
func (m *Manager) Holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Stats returns a snapshot of the transport counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Status = m.status
	s.Attempts = m.attempts
	return s
}

func (m *Manager) dial(ctx context.Context, gen uint64, url string) error {
	conn, resp, err := m.dialer.DialContext(ctx, url, m.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		m.stats.ErrorCount++
		n := m.setStatusLocked(StatusDisconnected)
		m.scheduleReconnectLocked()
		m.mu.Unlock()

		m.notify(n)
		m.reportError(err)
		return fmt.Errorf("failed to dial websocket %s: %w", url, err)
	}

	m.conn = conn
	m.done = make(chan struct{})
	m.attempts = 0
	done := m.done
	n := m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.logger.Info("Websocket connection established", zap.String("url", url))
	m.notify(n)

	go m.readLoop(gen, conn)
	if m.cfg.HeartbeatInterval > 0 {
		go m.heartbeat(conn, done)
	}
	return nil
}

// readLoop is the only reader of conn, so listeners see messages one at a
// time and in arrival order.
func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		m.dispatch(data)
	}
}

func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// deliberate close or superseded by a newer Connect
		m.mu.Unlock()
		return
	}
	m.gen++
	m.closeConnLocked()
	m.stats.ErrorCount++
	n := m.setStatusLocked(StatusDisconnected)
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.logger.Warn("Websocket closed unexpectedly", zap.Error(err))
	m.notify(n)
	m.reportError(err)
}

func (m *Manager) scheduleReconnectLocked() {
	if m.identity == nil {
		return
	}
	if m.cfg.MaxReconnects < 0 || m.attempts >= m.cfg.MaxReconnects {
		m.logger.Error("Maximum reconnection attempts reached",
			zap.Int("attempts", m.attempts),
			zap.String("identity", m.identity.Key()))
		return
	}
	m.attempts++
	delay := backoff(m.cfg.ReconnectBase, m.cfg.ReconnectMax, m.attempts)
	gen := m.gen
	m.logger.Info("Scheduling reconnection",
		zap.Int("attempt", m.attempts),
		zap.Int("max_attempts", m.cfg.MaxReconnects),
		zap.Duration("delay", delay))
	m.retry = time.AfterFunc(delay, func() { m.reconnect(gen) })
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.identity == nil {
		m.mu.Unlock()
		return
	}
	id := *m.identity
	m.retry = nil
	m.gen++
	next := m.gen
	attempt := m.attempts
	m.stats.ReconnectCount++
	n := m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	m.notify(n)
	url, err := id.Endpoint(m.cfg.BaseURL)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer cancel()
	if err := m.dial(ctx, next, url); err != nil && !errors.Is(err, ErrSuperseded) {
		m.logger.Warn("Reconnection failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (m *Manager) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			m.mu.Lock()
			if err != nil {
				m.stats.ErrorCount++
			} else {
				m.stats.LastHeartbeat = time.Now()
			}
			m.mu.Unlock()
			if err != nil {
				m.logger.Debug("Failed to send ping", zap.Error(err))
			}
		}
	}
}

func (m *Manager) dispatch(data []byte) {
	if !json.Valid(data) {
		m.mu.Lock()
		m.stats.DroppedCount++
		m.mu.Unlock()
		m.logger.Warn("Dropping malformed websocket message", zap.Int("bytes", len(data)))
		return
	}

	m.mu.Lock()
	m.stats.MessageCount++
	m.stats.LastMessage = time.Now()
	listeners := make(map[string]Listener, len(m.listeners))
	for k, l := range m.listeners {
		listeners[k] = l
	}
	m.mu.Unlock()

	msg := json.RawMessage(data)
	for key, l := range listeners {
		m.deliver(key, l, msg)
	}
}

func (m *Manager) deliver(key string, l Listener, msg json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Websocket listener panic recovered", zap.String("listener", key), zap.Any("panic", r))
		}
	}()
	l(msg)
}

// closeLocked tears down the socket and disarms any pending reconnect.
func (m *Manager) closeLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.gen++
	m.closeConnLocked()
}

func (m *Manager) closeConnLocked() {
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.conn != nil {
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = m.conn.Close()
		m.conn = nil
	}
}

type notice struct {
	status Status
	fns    []StatusFunc
}

func (m *Manager) setStatusLocked(s Status) *notice {
	if m.status == s {
		return nil
	}
	m.status = s
	n := &notice{status: s, fns: make([]StatusFunc, 0, len(m.watchers))}
	for _, fn := range m.watchers {
		n.fns = append(n.fns, fn)
	}
	return n
}

func (m *Manager) notify(n *notice) {
	if n == nil {
		return
	}
	for _, fn := range n.fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Status observer panic recovered", zap.Any("panic", r))
				}
			}()
			fn(n.status)
		}()
	}
}

func (m *Manager) reportError(err error) {
	if m.cfg.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Error callback panic recovered", zap.Any("panic", r))
		}
	}()
	m.cfg.OnError(err)
}

// backoff returns base doubled per prior attempt, capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
