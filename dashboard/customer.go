package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"restro-sync/api"
	"restro-sync/connection"
	"restro-sync/orders"
	"restro-sync/subscription"
	"restro-sync/timers"
	"restro-sync/tracking"
)

// OrderAPI is the REST surface the customer tracking view uses.
type OrderAPI interface {
	OrderDetails(ctx context.Context, orderID int64) (orders.Order, error)
	AddItems(ctx context.Context, orderID int64, items []api.NewItem) (orders.Order, error)
}

// Tracking is the customer's view of their own bill. Nothing is filtered
// out, and the order is kept in the session store so the view survives a
// restart.
type Tracking struct {
	*Dashboard
	api     OrderAPI
	store   tracking.Store
	session string

	stopPersist func()
}

// NewTracking builds the view for the bill in opts.SubID.
func NewTracking(conn subscription.Conn, client OrderAPI, store tracking.Store, opts Options) *Tracking {
	if store == nil {
		store = tracking.NewMemoryStore()
	}
	return &Tracking{
		Dashboard: newDashboard(connection.RoleCustomer, conn, nil, nil, opts),
		api:       client,
		store:     store,
		session:   strconv.FormatInt(opts.SubID, 10),
	}
}

// Start seeds the view from the session store, or from the back end when
// the stored record is missing or expired, then subscribes to the bill's
// channel.
func (t *Tracking) Start(ctx context.Context) error {
	if err := t.Identity().Validate(); err != nil {
		return fmt.Errorf("start tracking: %w", err)
	}
	if err := t.resume(ctx); err != nil {
		t.logger.Error("Could not load current order", zap.Error(err))
	}

	t.stopPersist = t.feed.Subscribe(t.persist)
	return t.Dashboard.Start(ctx)
}

func (t *Tracking) resume(ctx context.Context) error {
	rec, err := t.store.Load(ctx, t.session)
	switch {
	case err == nil && rec.OrderID == t.opts.SubID:
		o := rec.Order()
		t.feed.Seed([]orders.Order{o}, o.ObservedAt)
		t.logger.Info("Resumed current order", zap.Int64("order_id", rec.OrderID))
		return nil
	case err != nil && !errors.Is(err, tracking.ErrNoOrder) && !errors.Is(err, tracking.ErrExpired):
		t.logger.Warn("Session store unavailable", zap.Error(err))
	}

	requestedAt := t.now()
	o, err := t.api.OrderDetails(ctx, t.opts.SubID)
	if err != nil {
		return fmt.Errorf("fetch order %d: %w", t.opts.SubID, err)
	}
	t.feed.Seed([]orders.Order{o}, requestedAt)
	if err := t.store.Save(ctx, t.session, tracking.FromOrder(o, t.opts.RestaurantSlug)); err != nil {
		t.logger.Warn("Failed to save current order", zap.Error(err))
	}
	return nil
}

func (t *Tracking) persist(list []orders.Order) {
	i := find(list, t.opts.SubID)
	if i < 0 {
		return
	}
	ctx := context.Background()
	err := t.store.UpdateItems(ctx, t.session, list[i].Items)
	if errors.Is(err, tracking.ErrNoOrder) {
		err = t.store.Save(ctx, t.session, tracking.FromOrder(list[i], t.opts.RestaurantSlug))
	}
	if err != nil {
		t.logger.Warn("Failed to persist order items", zap.Error(err))
	}
}

// Order is the tracked order.
func (t *Tracking) Order() (orders.Order, bool) {
	return t.feed.Order(t.opts.SubID)
}

// Progress is the completed share of the tracked order, in percent.
func (t *Tracking) Progress() int {
	o, ok := t.Order()
	if !ok {
		return 0
	}
	return orders.Progress(o)
}

// Countdown renders the remaining preparation time of itemID, and false
// when the item has no running timer.
func (t *Tracking) Countdown(itemID int64) (string, bool) {
	left, ok := t.feed.Remaining(itemID)
	if !ok {
		return "", false
	}
	return timers.Format(left), true
}

// AddItems orders more for the tracked bill. The response is not merged;
// the new items arrive through the channel.
func (t *Tracking) AddItems(ctx context.Context, items []api.NewItem) (orders.Order, error) {
	o, err := t.api.AddItems(ctx, t.opts.SubID, items)
	if err != nil {
		t.logger.Error("Failed to add items", zap.Error(err))
		return orders.Order{}, fmt.Errorf("add items: %w", err)
	}
	return o, nil
}

// Forget clears the stored current order.
func (t *Tracking) Forget(ctx context.Context) error {
	return t.store.Clear(ctx, t.session)
}

func (t *Tracking) Close() {
	if t.stopPersist != nil {
		t.stopPersist()
	}
	t.Dashboard.Close()
}
