package dashboard

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"restro-sync/api"
	"restro-sync/connection"
	"restro-sync/orders"
	"restro-sync/subscription"
)

// CashierAPI is the REST surface the cashier view uses.
type CashierAPI interface {
	PendingBills(ctx context.Context) ([]orders.Order, error)
	MarkBillPaid(ctx context.Context, billID int64, method api.PaymentMethod) error
}

// Cashier shows bills that are not yet paid.
type Cashier struct {
	*Dashboard
	api CashierAPI
}

func NewCashier(conn subscription.Conn, client CashierAPI, opts Options) *Cashier {
	return &Cashier{
		Dashboard: newDashboard(connection.RoleCashier, conn, orders.Unpaid, client.PendingBills, opts),
		api:       client,
	}
}

// MarkPaid settles a bill; on success it leaves the pending list.
func (c *Cashier) MarkPaid(ctx context.Context, billID int64, method api.PaymentMethod) error {
	if _, ok := c.feed.Order(billID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOrder, billID)
	}
	if err := c.api.MarkBillPaid(ctx, billID, method); err != nil {
		c.logger.Error("Failed to process payment", zap.Int64("bill_id", billID), zap.Error(err))
		return fmt.Errorf("pay bill %d: %w", billID, err)
	}

	c.feed.mutate(func(list []orders.Order) []orders.Order {
		if i := find(list, billID); i >= 0 {
			list[i].PaymentStatus = orders.PaymentPaid
		}
		return list
	})
	c.logger.Info("Payment processed", zap.Int64("bill_id", billID), zap.String("method", string(method)))
	return nil
}

// PendingTotal is the sum of every pending bill.
func (c *Cashier) PendingTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range c.feed.Orders() {
		sum = sum.Add(orders.BillTotal(o))
	}
	return sum
}
