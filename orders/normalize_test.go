package orders

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeOrderShapes(t *testing.T) {
	now := t0
	tests := []struct {
		name    string
		raw     string
		kind    MessageKind
		id      int64
		table   string
		cust    string
		created time.Time
		items   []Item
	}{
		{
			name:    "chef new order with bill_id and variant",
			raw:     `{"bill_id":42,"table_number":"7","items":[{"order_item_id":5,"name":"Paneer","variant":"Half","quantity":2}]}`,
			kind:    KindUnknown,
			id:      42,
			table:   "7",
			cust:    WalkInCustomer,
			created: now,
			items:   []Item{{ID: 5, Name: "Paneer", VariantName: "Half", Quantity: 2, Status: StatusPending}},
		},
		{
			name:    "kitchen snapshot with order_items",
			raw:     `{"id":"8","table_number":3,"customer_name":"Asha","created_at":"2026-03-14T11:30:00.123456","order_items":[{"id":9,"menu_item":{"name":"Dosa"},"variant_name":"Plain","quantity":"x","status":"accepted"}]}`,
			kind:    KindUnknown,
			id:      8,
			table:   "3",
			cust:    "Asha",
			created: time.Date(2026, 3, 14, 11, 30, 0, 123456000, time.UTC),
			items:   []Item{{ID: 9, Name: "Dosa", VariantName: "Plain", Quantity: 1, Status: StatusAccepted}},
		},
		{
			name:    "typed new order with object variant and bogus status",
			raw:     `{"type":"new_order","id":1,"items":[{"id":2,"name":"Tea","variant":{"variant_name":"Masala"},"quantity":0,"status":"COOKING"}]}`,
			kind:    KindNew,
			id:      1,
			cust:    WalkInCustomer,
			created: now,
			items:   []Item{{ID: 2, Name: "Tea", VariantName: "Masala", Quantity: 1, Status: StatusPending}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Normalize([]byte(tt.raw), now)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if msg.Kind != tt.kind || msg.Order == nil || msg.Delta != nil {
				t.Fatalf("msg = %+v", msg)
			}
			o := msg.Order
			if o.ID != tt.id || o.TableNumber != tt.table || o.CustomerName != tt.cust {
				t.Errorf("header = %d/%q/%q", o.ID, o.TableNumber, o.CustomerName)
			}
			if !o.CreatedAt.Equal(tt.created) {
				t.Errorf("CreatedAt = %v, want %v", o.CreatedAt, tt.created)
			}
			if len(o.Items) != len(tt.items) {
				t.Fatalf("items = %+v", o.Items)
			}
			for i, want := range tt.items {
				got := o.Items[i]
				if got.ID != want.ID || got.Name != want.Name || got.VariantName != want.VariantName ||
					got.Quantity != want.Quantity || got.Status != want.Status {
					t.Errorf("item %d = %+v, want %+v", i, got, want)
				}
			}
		})
	}
}

func TestNormalizeDelta(t *testing.T) {
	msg, err := Normalize([]byte(`{"order_item_id":"101","status":"completed","item_name":"Dosa","preparation_time":"12.5"}`), t0)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if msg.Kind != KindDelta || msg.Delta == nil {
		t.Fatalf("untyped delta not detected: %+v", msg)
	}
	d := msg.Delta
	if d.ItemID != 101 || d.Status != StatusCompleted || d.PreparationMinutes != 12.5 || d.ItemName != "Dosa" {
		t.Errorf("delta = %+v", d)
	}
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"no id", `{"table_number":"1","items":[]}`, ErrMissingOrderID},
		{"zero id", `{"id":0,"bill_id":null,"items":[]}`, ErrMissingOrderID},
		{"delta without item", `{"type":"order_status_update","status":"ACCEPTED"}`, ErrMissingItemID},
		{"array", `[1,2,3]`, ErrMalformed},
		{"string", `"hello"`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.raw), t0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var nerr *NormalizeError
			if !errors.As(err, &nerr) {
				t.Fatalf("err %T is not *NormalizeError", err)
			}
		})
	}
}

func TestNormalizeCashierTotals(t *testing.T) {
	msg, err := Normalize([]byte(`{"id":77,"table_number":"9","totalAmount":420,"items":[{"name":"Thali","variant_name":"Full","quantity":2,"price":"150.00"},{"name":"Lassi","variant_name":"Sweet","quantity":2,"price":60}]}`), t0)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	o := *msg.Order
	if !o.TotalAmount.Valid || o.TotalAmount.Decimal.String() != "420" {
		t.Errorf("TotalAmount = %+v", o.TotalAmount)
	}
	if got := Total(o).String(); got != "420" {
		t.Errorf("Total = %s, want 420", got)
	}
}
