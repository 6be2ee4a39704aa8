package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"restro-sync/connection"
)

type fakeConn struct {
	mu          sync.Mutex
	connects    []connection.Identity
	disconnects int
	holder      string
	status      connection.Status
	listeners   map[string]connection.Listener
	watchers    map[string]connection.StatusFunc
	failConnect error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		listeners: map[string]connection.Listener{},
		watchers:  map[string]connection.StatusFunc{},
	}
}

func (f *fakeConn) ConnectFor(_ context.Context, owner string, id connection.Identity) error {
	f.mu.Lock()
	f.connects = append(f.connects, id)
	f.holder = owner
	if f.failConnect != nil {
		f.status = connection.StatusDisconnected
		f.mu.Unlock()
		return f.failConnect
	}
	f.status = connection.StatusConnected
	watchers := make([]connection.StatusFunc, 0, len(f.watchers))
	for _, w := range f.watchers {
		watchers = append(watchers, w)
	}
	f.mu.Unlock()
	for _, w := range watchers {
		w(connection.StatusConnected)
	}
	return nil
}

func (f *fakeConn) AddListener(key string, l connection.Listener) {
	f.mu.Lock()
	f.listeners[key] = l
	f.mu.Unlock()
}

func (f *fakeConn) Release(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, key)
	delete(f.watchers, key)
	if len(f.listeners) > 0 {
		if f.holder == key {
			for k := range f.listeners {
				f.holder = k
				break
			}
		}
		return false
	}
	f.disconnects++
	f.holder = ""
	f.status = connection.StatusDisconnected
	return true
}

func (f *fakeConn) Watch(key string, fn connection.StatusFunc) {
	f.mu.Lock()
	f.watchers[key] = fn
	f.mu.Unlock()
}

func (f *fakeConn) Send(v any) error {
	if f.Status() != connection.StatusConnected {
		return connection.ErrNotConnected
	}
	return nil
}

func (f *fakeConn) Status() connection.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeConn) Holder() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holder
}

func (f *fakeConn) deliver(msg string) {
	f.mu.Lock()
	ls := make([]connection.Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(json.RawMessage(msg))
	}
}

func chefOptions() Options {
	return Options{Role: connection.RoleChef, RestaurantSlug: "spice-garden", Enabled: true}
}

func TestUpdateConnectsOncePerIdentity(t *testing.T) {
	conn := newFakeConn()
	s := New(conn, nil)
	defer s.Close()

	var last string
	for render := 0; render < 10; render++ {
		opts := chefOptions()
		n := render
		opts.OnMessage = func(msg json.RawMessage) { last = string(msg) + "#" + string(rune('0'+n)) }
		if err := s.Update(context.Background(), opts); err != nil {
			t.Fatalf("render %d: %v", render, err)
		}
	}
	if len(conn.connects) != 1 {
		t.Fatalf("connects = %d, want 1", len(conn.connects))
	}

	conn.deliver(`{"id":1}`)
	if last != `{"id":1}#9` {
		t.Fatalf("latest callback not used: %q", last)
	}
}

func TestUpdateReconnectsOnIdentityChange(t *testing.T) {
	conn := newFakeConn()
	s := New(conn, nil)
	defer s.Close()

	ctx := context.Background()
	s.Update(ctx, chefOptions())
	next := chefOptions()
	next.RestaurantSlug = "curry-house"
	s.Update(ctx, next)
	s.Update(ctx, next)

	if len(conn.connects) != 2 || conn.disconnects != 1 {
		t.Fatalf("connects=%d disconnects=%d", len(conn.connects), conn.disconnects)
	}
	if conn.connects[1].RestaurantSlug != "curry-house" {
		t.Fatalf("second identity = %v", conn.connects[1])
	}
	if _, ok := conn.listeners[s.Key()]; !ok {
		t.Fatal("listener missing after reconnect")
	}
}

func TestUpdateWaitsForCompleteIdentity(t *testing.T) {
	conn := newFakeConn()
	s := New(conn, nil)
	defer s.Close()
	ctx := context.Background()

	disabled := chefOptions()
	disabled.Enabled = false
	s.Update(ctx, disabled)

	noSlug := chefOptions()
	noSlug.RestaurantSlug = ""
	s.Update(ctx, noSlug)

	customer := Options{Role: connection.RoleCustomer, RestaurantSlug: "spice-garden", Enabled: true}
	s.Update(ctx, customer)

	if len(conn.connects) != 0 {
		t.Fatalf("connected with incomplete identity: %v", conn.connects)
	}
	if s.Status() != connection.StatusDisconnected {
		t.Fatalf("status = %v", s.Status())
	}

	customer.SubID = 42
	s.Update(ctx, customer)
	if len(conn.connects) != 1 || conn.connects[0].SubID != 42 {
		t.Fatalf("connects = %v", conn.connects)
	}
}

func TestCloseReleasesListenerAndConnection(t *testing.T) {
	conn := newFakeConn()
	s := New(conn, nil)

	var disconnected int
	opts := chefOptions()
	opts.OnDisconnect = func() { disconnected++ }
	s.Update(context.Background(), opts)
	if !s.Connected() {
		t.Fatal("not connected after Update")
	}

	s.Close()
	s.Close()
	if len(conn.listeners) != 0 {
		t.Fatalf("listeners left: %d", len(conn.listeners))
	}
	if conn.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", conn.disconnects)
	}
	if err := s.Update(context.Background(), opts); !errors.Is(err, ErrClosed) {
		t.Fatalf("Update after Close = %v", err)
	}
}

func TestCloseKeepsConnectionHeldByAnotherConsumer(t *testing.T) {
	conn := newFakeConn()
	first := New(conn, nil)
	second := New(conn, nil)
	ctx := context.Background()

	first.Update(ctx, chefOptions())
	second.Update(ctx, chefOptions())
	first.Close()

	if conn.disconnects != 0 {
		t.Fatal("non-holder closed the shared connection")
	}
	if _, ok := conn.listeners[first.Key()]; ok {
		t.Fatal("first listener still registered")
	}
	if _, ok := conn.listeners[second.Key()]; !ok {
		t.Fatal("second listener was removed")
	}
	second.Close()
	if conn.disconnects != 1 {
		t.Fatalf("disconnects = %d", conn.disconnects)
	}
}

func TestHolderCloseKeepsConnectionForOthers(t *testing.T) {
	conn := newFakeConn()
	first := New(conn, nil)
	second := New(conn, nil)
	ctx := context.Background()

	first.Update(ctx, chefOptions())
	second.Update(ctx, chefOptions())
	if conn.Holder() != second.Key() {
		t.Fatalf("holder = %q, want second", conn.Holder())
	}
	second.Close()

	if conn.disconnects != 0 {
		t.Fatal("holder closed the connection while another consumer listens")
	}
	if conn.Holder() != first.Key() {
		t.Fatalf("holder = %q, want first", conn.Holder())
	}
	if !first.Connected() {
		t.Fatal("first lost its connection")
	}
	first.Close()
	if conn.disconnects != 1 {
		t.Fatalf("disconnects = %d", conn.disconnects)
	}
}

func TestConnectErrorsReachOnError(t *testing.T) {
	conn := newFakeConn()
	conn.failConnect = errors.New("dial refused")
	s := New(conn, nil)
	defer s.Close()

	var got error
	opts := chefOptions()
	opts.OnError = func(err error) { got = err }
	if err := s.Update(context.Background(), opts); err == nil {
		t.Fatal("Update returned nil")
	}
	if got == nil {
		t.Fatal("OnError not called")
	}
	if err := s.Send(map[string]string{"type": "ping"}); !errors.Is(err, connection.ErrNotConnected) {
		t.Fatalf("Send = %v", err)
	}
	if err := s.Update(context.Background(), opts); err != nil {
		t.Fatalf("unchanged identity retried the connect: %v", err)
	}
	if len(conn.connects) != 1 {
		t.Fatalf("connects = %d", len(conn.connects))
	}
}
