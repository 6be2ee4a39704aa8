// Package subscription binds one consumer (a dashboard) to a shared
// connection.Manager. It reconnects only when the consumer's identity
// changes, never because its callbacks changed.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"restro-sync/connection"
)

var ErrClosed = errors.New("subscription closed")

// Conn is the part of connection.Manager a subscription uses.
type Conn interface {
	ConnectFor(ctx context.Context, owner string, id connection.Identity) error
	AddListener(key string, l connection.Listener)
	Watch(key string, fn connection.StatusFunc)
	Release(key string) bool
	Send(v any) error
	Status() connection.Status
}

// Options is re-supplied on every Update. Callbacks may change freely
// between calls; only the identity fields decide whether to reconnect.
type Options struct {
	Role           connection.Role
	RestaurantSlug string
	SubID          int64
	Enabled        bool

	OnMessage    func(json.RawMessage)
	OnConnect    func()
	OnDisconnect func()
	OnError      func(error)
}

func (o Options) identity() (connection.Identity, bool) {
	if !o.Enabled {
		return connection.Identity{}, false
	}
	id := connection.Identity{Role: o.Role, RestaurantSlug: o.RestaurantSlug, SubID: o.SubID}
	if id.Validate() != nil {
		return connection.Identity{}, false
	}
	return id, true
}

type Subscription struct {
	conn   Conn
	key    string
	logger *zap.Logger

	mu       sync.Mutex
	handlers Options
	current  string
	closed   bool
}

// New returns an idle subscription with its own listener key.
func New(conn Conn, logger *zap.Logger) *Subscription {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := "sub-" + uuid.NewString()
	return &Subscription{
		conn:   conn,
		key:    key,
		logger: logger.With(zap.String("subscription", key)),
	}
}

// Key is the listener key registered with the connection.
func (s *Subscription) Key() string { return s.key }

// Update stores the latest callbacks and connects, reconnects or releases
// the connection when the effective identity differs from the last one.
// A disabled or incomplete identity releases any held connection.
func (s *Subscription) Update(ctx context.Context, opts Options) error {
	id, ok := opts.identity()
	want := ""
	if ok {
		want = id.Key()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.handlers = opts
	if want == s.current {
		s.mu.Unlock()
		return nil
	}
	prev := s.current
	s.current = want
	s.mu.Unlock()

	if prev != "" {
		s.logger.Info("Identity changed, releasing connection", zap.String("from", prev), zap.String("to", want))
		s.release()
	}
	if want == "" {
		return nil
	}

	s.conn.AddListener(s.key, s.onMessage)
	s.conn.Watch(s.key, s.onStatus)
	if err := s.conn.ConnectFor(ctx, s.key, id); err != nil {
		s.logger.Warn("Connect failed, transport will retry", zap.String("identity", want), zap.Error(err))
		s.reportError(err)
		return err
	}
	return nil
}

// Close removes this consumer's listener and closes the connection if no
// other consumer still listens on it. Calling Close twice is a no-op.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	held := s.current != ""
	s.current = ""
	s.handlers = Options{}
	s.mu.Unlock()

	if held {
		s.release()
	}
}

// Send forwards v over the shared connection.
func (s *Subscription) Send(v any) error {
	if err := s.conn.Send(v); err != nil {
		s.reportError(err)
		return err
	}
	return nil
}

// Status is the connection status as seen by this consumer.
func (s *Subscription) Status() connection.Status {
	s.mu.Lock()
	active := s.current != ""
	s.mu.Unlock()
	if !active {
		return connection.StatusDisconnected
	}
	return s.conn.Status()
}

// Connected is Status() == StatusConnected.
func (s *Subscription) Connected() bool {
	return s.Status() == connection.StatusConnected
}

func (s *Subscription) release() {
	if s.conn.Release(s.key) {
		s.logger.Debug("Released last listener, connection closed")
	}
}

func (s *Subscription) onMessage(msg json.RawMessage) {
	s.mu.Lock()
	fn := s.handlers.OnMessage
	s.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (s *Subscription) onStatus(st connection.Status) {
	s.mu.Lock()
	h := s.handlers
	s.mu.Unlock()

	switch st {
	case connection.StatusConnected:
		if h.OnConnect != nil {
			h.OnConnect()
		}
	case connection.StatusDisconnected:
		if h.OnDisconnect != nil {
			h.OnDisconnect()
		}
	}
}

func (s *Subscription) reportError(err error) {
	s.mu.Lock()
	fn := s.handlers.OnError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
