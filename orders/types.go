// Package orders holds the canonical order model shared by every dashboard,
// the normalizer that builds it from inbound payloads, the merge engine that
// folds events into an in-memory order list, and the derived-state helpers.
package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a single order item.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusCompleted Status = "COMPLETED"
	StatusDeclined  Status = "DECLINED"
)

// ParseStatus accepts any casing. Unknown values report false.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusAccepted:
		return StatusAccepted, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusDeclined:
		return StatusDeclined, true
	}
	return "", false
}

// Terminal reports whether the status will not transition further.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeclined
}

// Open reports whether a kitchen still has work to do on the item.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusAccepted
}

func (s Status) rank() int {
	switch s {
	case StatusAccepted:
		return 1
	case StatusCompleted, StatusDeclined:
		return 2
	}
	return 0
}

// PaymentStatus is only populated on cashier payloads.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// WalkInCustomer is used when a payload carries no customer name.
const WalkInCustomer = "Walk-in Customer"

// Item is one line of an order.
type Item struct {
	ID                 int64               `json:"id"`
	Name               string              `json:"name"`
	VariantName        string              `json:"variant_name"`
	Quantity           int                 `json:"quantity"`
	Status             Status              `json:"status"`
	PreparationMinutes float64             `json:"preparation_time,omitempty"`
	Price              decimal.NullDecimal `json:"price"`
	Version            int64               `json:"version,omitempty"`

	// UpdatedAt is the local time the current status was first observed.
	UpdatedAt time.Time `json:"updated_at"`
}

// nameKey is the lowercased name and variant, used to match items that
// arrive without an id.
func (it Item) nameKey() string {
	return strings.ToLower(strings.TrimSpace(it.Name)) + "|" + strings.ToLower(strings.TrimSpace(it.VariantName))
}

// HasTimer reports whether a countdown applies to the item.
func (it Item) HasTimer() bool {
	return it.Status == StatusAccepted && it.PreparationMinutes > 0
}

// Order is one table's bill with its items.
type Order struct {
	ID            int64               `json:"id"`
	TableNumber   string              `json:"table_number"`
	CustomerName  string              `json:"customer_name"`
	CreatedAt     time.Time           `json:"created_at"`
	Items         []Item              `json:"items"`
	TotalAmount   decimal.NullDecimal `json:"total_amount"`
	PaymentStatus PaymentStatus       `json:"payment_status,omitempty"`

	// ObservedAt is the local time this process first learned about the order.
	ObservedAt time.Time `json:"-"`
}

// Clone returns a copy that shares no item storage with o.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = make([]Item, len(o.Items))
		copy(out.Items, o.Items)
	}
	return out
}

// Active reports whether any item is still PENDING or ACCEPTED.
func (o Order) Active() bool {
	for _, it := range o.Items {
		if it.Status.Open() {
			return true
		}
	}
	return false
}

// Item looks up an item by id.
func (o Order) Item(id int64) (Item, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// ActiveOnly keeps the orders that still have PENDING or ACCEPTED items.
func ActiveOnly(list []Order) []Order {
	out := make([]Order, 0, len(list))
	for _, o := range list {
		if o.Active() {
			out = append(out, o)
		}
	}
	return out
}

// Unpaid keeps the orders whose bill has not been settled.
func Unpaid(list []Order) []Order {
	out := make([]Order, 0, len(list))
	for _, o := range list {
		if o.PaymentStatus != PaymentPaid {
			out = append(out, o)
		}
	}
	return out
}

// CloneAll deep-copies a list of orders.
func CloneAll(list []Order) []Order {
	out := make([]Order, len(list))
	for i, o := range list {
		out[i] = o.Clone()
	}
	return out
}
