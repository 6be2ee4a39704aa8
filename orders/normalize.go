package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MessageKind tells the merge engine how to treat an inbound order.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindNew
	KindUpdate
	KindDelta
)

func (k MessageKind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindUpdate:
		return "update"
	case KindDelta:
		return "delta"
	}
	return "unknown"
}

var (
	ErrMissingOrderID = errors.New("payload has neither id nor bill_id")
	ErrMissingItemID  = errors.New("status delta has no order_item_id")
	ErrMalformed      = errors.New("payload is not a JSON object")
)

// NormalizeError is returned for payloads that cannot become a canonical
// order or delta. Such messages are dropped, never guessed.
type NormalizeError struct {
	Type string
	Err  error
}

func (e *NormalizeError) Error() string {
	if e.Type == "" {
		return "normalize: " + e.Err.Error()
	}
	return fmt.Sprintf("normalize %q: %s", e.Type, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// Delta is a single-item status change.
type Delta struct {
	ItemID             int64
	Status             Status
	ItemName           string
	PreparationMinutes float64
	Version            int64
	ObservedAt         time.Time
}

// Message is the tagged union produced by Normalize: exactly one of Order
// and Delta is set.
type Message struct {
	Kind  MessageKind
	Order *Order
	Delta *Delta
}

type wireMessage struct {
	Type string `json:"type"`

	ID            flexInt     `json:"id"`
	BillID        flexInt     `json:"bill_id"`
	TableNumber   flexString  `json:"table_number"`
	CustomerName  string      `json:"customer_name"`
	CreatedAt     string      `json:"created_at"`
	Items         []wireItem  `json:"items"`
	OrderItems    []wireItem  `json:"order_items"`
	TotalAmount   flexDecimal `json:"total_amount"`
	TotalCamel    flexDecimal `json:"totalAmount"`
	TotalPrice    flexDecimal `json:"total_price"`
	PaymentStatus string      `json:"payment_status"`

	OrderItemID     flexInt   `json:"order_item_id"`
	Status          string    `json:"status"`
	ItemName        string    `json:"item_name"`
	PreparationTime flexFloat `json:"preparation_time"`
	Version         flexInt   `json:"version"`
	Seq             flexInt   `json:"seq"`
}

type wireItem struct {
	ID              flexInt     `json:"id"`
	OrderItemID     flexInt     `json:"order_item_id"`
	Name            string      `json:"name"`
	ItemName        string      `json:"item_name"`
	MenuItemName    string      `json:"menu_item_name"`
	MenuItem        *wireNamed  `json:"menu_item"`
	VariantName     string      `json:"variant_name"`
	Variant         flexVariant `json:"variant"`
	Quantity        flexInt     `json:"quantity"`
	Status          string      `json:"status"`
	PreparationTime flexFloat   `json:"preparation_time"`
	Price           flexDecimal `json:"price"`
	Version         flexInt     `json:"version"`
	Seq             flexInt     `json:"seq"`
}

type wireNamed struct {
	Name string `json:"name"`
}

func kindOf(t string) MessageKind {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "new_order", "order_created", "send_new_order":
		return KindNew
	case "order_updated", "order_update", "items_added":
		return KindUpdate
	case "order_status_update", "send_status_update":
		return KindDelta
	}
	return KindUnknown
}

// Normalize converts one raw inbound payload into a Message. now stamps
// first-sight times when the payload carries none.
func Normalize(raw []byte, now time.Time) (Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, &NormalizeError{Err: ErrMalformed}
	}
	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Message{}, &NormalizeError{Type: w.Type, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	kind := kindOf(w.Type)
	hasItems := w.Items != nil || w.OrderItems != nil
	if kind == KindDelta || (kind == KindUnknown && !hasItems && w.OrderItemID.Valid && w.Status != "") {
		d, err := w.delta(now)
		if err != nil {
			return Message{}, &NormalizeError{Type: w.Type, Err: err}
		}
		return Message{Kind: KindDelta, Delta: &d}, nil
	}

	o, err := w.order(now)
	if err != nil {
		return Message{}, &NormalizeError{Type: w.Type, Err: err}
	}
	return Message{Kind: kind, Order: &o}, nil
}

// NormalizeOrder is Normalize for payloads that must be full orders, such
// as REST snapshot entries.
func NormalizeOrder(raw []byte, now time.Time) (Order, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Order{}, &NormalizeError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	o, err := w.order(now)
	if err != nil {
		return Order{}, &NormalizeError{Type: w.Type, Err: err}
	}
	return o, nil
}

func (w wireMessage) delta(now time.Time) (Delta, error) {
	if !w.OrderItemID.Valid || w.OrderItemID.Value == 0 {
		return Delta{}, ErrMissingItemID
	}
	status, ok := ParseStatus(w.Status)
	if !ok {
		return Delta{}, fmt.Errorf("unknown status %q", w.Status)
	}
	d := Delta{
		ItemID:     w.OrderItemID.Value,
		Status:     status,
		ItemName:   w.ItemName,
		ObservedAt: now,
	}
	if w.PreparationTime.Valid && w.PreparationTime.Value > 0 {
		d.PreparationMinutes = w.PreparationTime.Value
	}
	d.Version = firstInt(w.Version, w.Seq)
	return d, nil
}

func (w wireMessage) order(now time.Time) (Order, error) {
	var id int64
	switch {
	case w.ID.Valid && w.ID.Value != 0:
		id = w.ID.Value
	case w.BillID.Valid && w.BillID.Value != 0:
		id = w.BillID.Value
	default:
		return Order{}, ErrMissingOrderID
	}

	o := Order{
		ID:            id,
		TableNumber:   w.TableNumber.Value,
		CustomerName:  strings.TrimSpace(w.CustomerName),
		CreatedAt:     parseTime(w.CreatedAt, now),
		PaymentStatus: PaymentStatus(strings.ToUpper(strings.TrimSpace(w.PaymentStatus))),
		ObservedAt:    now,
	}
	if o.CustomerName == "" {
		o.CustomerName = WalkInCustomer
	}
	for _, total := range []flexDecimal{w.TotalAmount, w.TotalCamel, w.TotalPrice} {
		if total.Valid {
			o.TotalAmount = decimal.NewNullDecimal(total.Value)
			break
		}
	}

	raw := w.Items
	if raw == nil {
		raw = w.OrderItems
	}
	o.Items = make([]Item, 0, len(raw))
	for _, wi := range raw {
		o.Items = append(o.Items, wi.item(now))
	}
	return o, nil
}

func (wi wireItem) item(now time.Time) Item {
	it := Item{
		ID:          firstInt(wi.ID, wi.OrderItemID),
		Name:        firstString(wi.Name, wi.ItemName, wi.MenuItemName),
		VariantName: firstString(wi.VariantName, wi.Variant.Value),
		Quantity:    1,
		Status:      StatusPending,
		Version:     firstInt(wi.Version, wi.Seq),
		UpdatedAt:   now,
	}
	if it.Name == "" && wi.MenuItem != nil {
		it.Name = wi.MenuItem.Name
	}
	if wi.Quantity.Valid && wi.Quantity.Value > 0 {
		it.Quantity = int(wi.Quantity.Value)
	}
	if s, ok := ParseStatus(wi.Status); ok {
		it.Status = s
	}
	if wi.PreparationTime.Valid && wi.PreparationTime.Value > 0 {
		it.PreparationMinutes = wi.PreparationTime.Value
	}
	if wi.Price.Valid && !wi.Price.Value.IsNegative() {
		it.Price = decimal.NewNullDecimal(wi.Price.Value)
	}
	return it
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05",
}

func parseTime(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

func firstInt(vals ...flexInt) int64 {
	for _, v := range vals {
		if v.Valid && v.Value != 0 {
			return v.Value
		}
	}
	return 0
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// flexInt accepts a JSON number or a numeric string. Anything else leaves
// it invalid instead of failing the whole payload.
type flexInt struct {
	Value int64
	Valid bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	*f = flexInt{}
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt{Value: n, Valid: true}
		return nil
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(x) && !math.IsInf(x, 0) {
		*f = flexInt{Value: int64(x), Valid: true}
	}
	return nil
}

type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = flexFloat{}
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if x, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(x) && !math.IsInf(x, 0) {
		*f = flexFloat{Value: x, Valid: true}
	}
	return nil
}

// flexString accepts a string or a bare number (table numbers arrive as both).
type flexString struct {
	Value string
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	f.Value = ""
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.Value = strings.TrimSpace(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		f.Value = n.String()
	}
	return nil
}

type flexDecimal struct {
	Value decimal.Decimal
	Valid bool
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	*f = flexDecimal{}
	var d decimal.NullDecimal
	if err := d.UnmarshalJSON(b); err == nil && d.Valid {
		*f = flexDecimal{Value: d.Decimal, Valid: true}
	}
	return nil
}

// flexVariant accepts "Plain" or {"variant_name": "Plain"} / {"name": "Plain"}.
type flexVariant struct {
	Value string
}

func (f *flexVariant) UnmarshalJSON(b []byte) error {
	f.Value = ""
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.Value = s
		return nil
	}
	var obj struct {
		VariantName string `json:"variant_name"`
		Name        string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		f.Value = firstString(obj.VariantName, obj.Name)
	}
	return nil
}
