package dashboard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"restro-sync/api"
	"restro-sync/connection"
	"restro-sync/orders"
	"restro-sync/subscription"
)

// KitchenAPI is the REST surface the chef and captain views use.
type KitchenAPI interface {
	KitchenOrders(ctx context.Context) ([]orders.Order, error)
	UpdateItemStatus(ctx context.Context, itemID int64, status orders.Status) error
	AddItems(ctx context.Context, orderID int64, items []api.NewItem) (orders.Order, error)
}

// Kitchen shows orders that still have PENDING or ACCEPTED items. The
// captain shares the chef channel and can also add items.
type Kitchen struct {
	*Dashboard
	api KitchenAPI
}

func NewChef(conn subscription.Conn, client KitchenAPI, opts Options) *Kitchen {
	return newKitchen(connection.RoleChef, conn, client, opts)
}

func NewCaptain(conn subscription.Conn, client KitchenAPI, opts Options) *Kitchen {
	return newKitchen(connection.RoleCaptain, conn, client, opts)
}

func newKitchen(role connection.Role, conn subscription.Conn, client KitchenAPI, opts Options) *Kitchen {
	return &Kitchen{
		Dashboard: newDashboard(role, conn, orders.ActiveOnly, client.KitchenOrders, opts),
		api:       client,
	}
}

// UpdateItem asks the back end to move one item to status and, once it
// accepts, records the change locally through the same monotonic merge
// the socket echo takes.
func (k *Kitchen) UpdateItem(ctx context.Context, itemID int64, status orders.Status) error {
	if !requestable(status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	if err := k.api.UpdateItemStatus(ctx, itemID, status); err != nil {
		k.logger.Error("Failed to update order status",
			zap.Int64("item_id", itemID), zap.String("status", string(status)), zap.Error(err))
		return fmt.Errorf("update item %d: %w", itemID, err)
	}
	k.feed.Apply(orders.Delta{ItemID: itemID, Status: status})
	k.logger.Info("Item status updated", zap.Int64("item_id", itemID), zap.String("status", string(status)))
	return nil
}

// UpdateTable applies status to every eligible item of one order: ACCEPTED
// and DECLINED apply to PENDING items, COMPLETED to PENDING and ACCEPTED
// ones. It stops at the first failed request; items already confirmed keep
// their new status.
func (k *Kitchen) UpdateTable(ctx context.Context, orderID int64, status orders.Status) error {
	if !requestable(status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	o, ok := k.feed.Order(orderID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOrder, orderID)
	}

	updated := 0
	for _, it := range o.Items {
		if it.ID == 0 || !eligible(it.Status, status) {
			continue
		}
		if err := k.UpdateItem(ctx, it.ID, status); err != nil {
			return fmt.Errorf("update table %s: %w", o.TableNumber, err)
		}
		updated++
	}
	k.logger.Info("Table updated",
		zap.Int64("order_id", orderID), zap.String("status", string(status)), zap.Int("items", updated))
	return nil
}

// AddItems appends items to an existing order. The response is not merged;
// the items arrive through the channel.
func (k *Kitchen) AddItems(ctx context.Context, orderID int64, items []api.NewItem) (orders.Order, error) {
	if k.role != connection.RoleCaptain {
		return orders.Order{}, ErrNotAllowed
	}
	o, err := k.api.AddItems(ctx, orderID, items)
	if err != nil {
		k.logger.Error("Failed to add items", zap.Int64("order_id", orderID), zap.Error(err))
		return orders.Order{}, fmt.Errorf("add items to order %d: %w", orderID, err)
	}
	return o, nil
}

func requestable(s orders.Status) bool {
	switch s {
	case orders.StatusAccepted, orders.StatusDeclined, orders.StatusCompleted:
		return true
	}
	return false
}

func eligible(cur, next orders.Status) bool {
	switch next {
	case orders.StatusAccepted, orders.StatusDeclined:
		return cur == orders.StatusPending
	case orders.StatusCompleted:
		return cur == orders.StatusPending || cur == orders.StatusAccepted
	}
	return false
}
