// Package tracking keeps the customer's current-order record so that the
// tracking view survives a restart. A record lives for Expiry after it was
// last written.
package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"restro-sync/orders"
)

const (
	Expiry     = 4 * time.Hour
	sessionKey = "currentOrder"
)

var (
	ErrNoOrder = errors.New("no current order")
	ErrExpired = errors.New("current order expired")
)

// Record is the customer's current order.
type Record struct {
	OrderID        int64         `json:"orderId"`
	QueueNumber    int64         `json:"queueNumber"`
	TableNumber    string        `json:"tableNumber"`
	CustomerName   string        `json:"customerName"`
	Items          []orders.Item `json:"items"`
	RestaurantSlug string        `json:"restaurantSlug"`

	// OrderCreatedAt is when the order itself was placed.
	OrderCreatedAt time.Time `json:"orderCreatedAt"`

	// CreatedAt is stamped on every write and only drives expiry.
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the record is older than Expiry at now.
func (r Record) Expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) > Expiry
}

// Order rebuilds the order the record was taken from, for seeding the
// tracking view.
func (r Record) Order() orders.Order {
	o := orders.Order{
		ID:           r.OrderID,
		TableNumber:  r.TableNumber,
		CustomerName: r.CustomerName,
		CreatedAt:    r.OrderCreatedAt,
		ObservedAt:   r.CreatedAt,
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.CreatedAt
	}
	o.Items = make([]orders.Item, len(r.Items))
	copy(o.Items, r.Items)
	return o
}

// FromOrder builds a record for o.
func FromOrder(o orders.Order, slug string) Record {
	items := make([]orders.Item, len(o.Items))
	copy(items, o.Items)
	return Record{
		OrderID:        o.ID,
		QueueNumber:    o.ID,
		TableNumber:    o.TableNumber,
		CustomerName:   o.CustomerName,
		Items:          items,
		RestaurantSlug: slug,
		OrderCreatedAt: o.CreatedAt,
	}
}

// Store persists one current-order record per session.
type Store interface {
	Save(ctx context.Context, session string, rec Record) error
	// Load returns ErrNoOrder when nothing is stored and ErrExpired, after
	// clearing the record, when it is too old.
	Load(ctx context.Context, session string) (Record, error)
	// UpdateItems replaces the items of the stored record and renews it.
	UpdateItems(ctx context.Context, session string, items []orders.Item) error
	Clear(ctx context.Context, session string) error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, session string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.CreatedAt = s.now()
	s.records[session] = rec
	return nil
}

func (s *MemoryStore) Load(_ context.Context, session string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[session]
	if !ok {
		return Record{}, ErrNoOrder
	}
	if rec.Expired(s.now()) {
		delete(s.records, session)
		return Record{}, ErrExpired
	}
	return rec, nil
}

func (s *MemoryStore) UpdateItems(_ context.Context, session string, items []orders.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[session]
	if !ok || rec.Expired(s.now()) {
		delete(s.records, session)
		return ErrNoOrder
	}
	rec.Items = append([]orders.Item(nil), items...)
	rec.CreatedAt = s.now()
	s.records[session] = rec
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, session string) error {
	s.mu.Lock()
	delete(s.records, session)
	s.mu.Unlock()
	return nil
}
