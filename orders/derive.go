package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Priority tiers by order age.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Age thresholds, in whole minutes, above which an order is escalated.
const (
	HighPriorityMinutes   = 15
	MediumPriorityMinutes = 10
)

// TableStatus summarises an order's items for the kitchen view.
type TableStatus string

const (
	TablePending    TableStatus = "pending"
	TableInProgress TableStatus = "in-progress"
	TableReady      TableStatus = "ready"
)

func minutesSince(createdAt, now time.Time) int {
	d := now.Sub(createdAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Age renders how long ago the order was created.
func Age(createdAt, now time.Time) string {
	m := minutesSince(createdAt, now)
	switch {
	case m < 1:
		return "Just now"
	case m < 60:
		return fmt.Sprintf("%d min ago", m)
	}
	return fmt.Sprintf("%dh %dm ago", m/60, m%60)
}

// PriorityOf returns the tier for an order created at createdAt.
func PriorityOf(createdAt, now time.Time) Priority {
	m := minutesSince(createdAt, now)
	switch {
	case m > HighPriorityMinutes:
		return PriorityHigh
	case m > MediumPriorityMinutes:
		return PriorityMedium
	}
	return PriorityLow
}

// TableStatusOf is ready iff every item is COMPLETED, in-progress iff any
// item is ACCEPTED, and pending otherwise.
func TableStatusOf(o Order) TableStatus {
	allCompleted := true
	anyAccepted := false
	for _, it := range o.Items {
		if it.Status != StatusCompleted {
			allCompleted = false
		}
		if it.Status == StatusAccepted {
			anyAccepted = true
		}
	}
	switch {
	case allCompleted:
		return TableReady
	case anyAccepted:
		return TableInProgress
	}
	return TablePending
}

// Countdown returns the seconds left on an accepted item's preparation
// timer, floored at zero.
func Countdown(it Item, elapsed time.Duration) int {
	if it.PreparationMinutes <= 0 {
		return 0
	}
	total := time.Duration(it.PreparationMinutes * float64(time.Minute))
	left := total - elapsed
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// Progress is the share of completed items, in percent.
func Progress(o Order) int {
	if len(o.Items) == 0 {
		return 0
	}
	done := 0
	for _, it := range o.Items {
		if it.Status == StatusCompleted {
			done++
		}
	}
	return done * 100 / len(o.Items)
}

// Total sums price times quantity over priced, non-declined items. When no
// item carries a price the payload's own total is used.
func Total(o Order) decimal.Decimal {
	sum := decimal.Zero
	priced := false
	for _, it := range o.Items {
		if !it.Price.Valid || it.Status == StatusDeclined {
			continue
		}
		priced = true
		sum = sum.Add(it.Price.Decimal.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if !priced && o.TotalAmount.Valid {
		return o.TotalAmount.Decimal
	}
	return sum
}

// BillTotal is what the cashier charges: the back end's total when it sent
// one, otherwise Total.
func BillTotal(o Order) decimal.Decimal {
	if o.TotalAmount.Valid && o.TotalAmount.Decimal.IsPositive() {
		return o.TotalAmount.Decimal
	}
	return Total(o)
}
