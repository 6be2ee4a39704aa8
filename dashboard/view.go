package dashboard

import (
	"time"

	"restro-sync/orders"
	"restro-sync/timers"
)

// ItemView is an item with its live countdown.
type ItemView struct {
	orders.Item
	RemainingSeconds *int  `json:"remaining_seconds,omitempty"`
	Countdown        string `json:"countdown,omitempty"`
}

// OrderView is an order with every derived field a dashboard shows.
type OrderView struct {
	ID            int64                `json:"id"`
	TableNumber   string               `json:"table_number"`
	CustomerName  string               `json:"customer_name"`
	CreatedAt     time.Time            `json:"created_at"`
	PaymentStatus orders.PaymentStatus `json:"payment_status,omitempty"`
	Age           string               `json:"age"`
	Priority      orders.Priority      `json:"priority"`
	TableStatus   orders.TableStatus   `json:"table_status"`
	Progress      int                  `json:"progress"`
	Total         string               `json:"total"`
	Items         []ItemView           `json:"items"`
}

// View derives the display form of the current list at the feed's clock.
func (f *Feed) View() []OrderView {
	now := f.now()
	list := f.Orders()
	out := make([]OrderView, 0, len(list))
	for _, o := range list {
		v := OrderView{
			ID:            o.ID,
			TableNumber:   o.TableNumber,
			CustomerName:  o.CustomerName,
			CreatedAt:     o.CreatedAt,
			PaymentStatus: o.PaymentStatus,
			Age:           orders.Age(o.CreatedAt, now),
			Priority:      orders.PriorityOf(o.CreatedAt, now),
			TableStatus:   orders.TableStatusOf(o),
			Progress:      orders.Progress(o),
			Total:         orders.BillTotal(o).StringFixed(2),
			Items:         make([]ItemView, 0, len(o.Items)),
		}
		for _, it := range o.Items {
			iv := ItemView{Item: it}
			if left, ok := f.tracker.Remaining(it.ID, now); ok && it.HasTimer() {
				iv.RemainingSeconds = &left
				iv.Countdown = timers.Format(left)
			}
			v.Items = append(v.Items, iv)
		}
		out = append(out, v)
	}
	return out
}
