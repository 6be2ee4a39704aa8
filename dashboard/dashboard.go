package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"restro-sync/connection"
	"restro-sync/orders"
	"restro-sync/subscription"
	"restro-sync/timers"
)

var (
	ErrUnknownOrder  = errors.New("order is not on this dashboard")
	ErrInvalidStatus = errors.New("status cannot be requested")
	ErrNotAllowed    = errors.New("action not available for this role")
)

// Options configures a dashboard.
type Options struct {
	RestaurantSlug  string
	SubID           int64         // bill id for the customer view
	RefreshInterval time.Duration // zero disables periodic snapshots
	Clock           *timers.Clock // shared countdown clock; one is created and run when nil
	Logger          *zap.Logger
}

type fetchFunc func(ctx context.Context) ([]orders.Order, error)

// Dashboard is the part every role shares: one subscription, one feed and
// an optional periodic snapshot refresh.
type Dashboard struct {
	role   connection.Role
	opts   Options
	feed   *Feed
	sub    *subscription.Subscription
	fetch  fetchFunc
	logger *zap.Logger
	now    func() time.Time

	ownClock bool
	clock    *timers.Clock

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lastRefresh time.Time
}

func newDashboard(role connection.Role, conn subscription.Conn, filter Filter, fetch fetchFunc, opts Options) *Dashboard {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("role", string(role)), zap.String("restaurant", opts.RestaurantSlug))

	d := &Dashboard{
		role:   role,
		opts:   opts,
		fetch:  fetch,
		logger: logger,
		now:    time.Now,
		clock:  opts.Clock,
	}
	if d.clock == nil {
		d.clock = timers.NewClock(time.Second)
		d.ownClock = true
	}
	d.feed = NewFeed(string(role), filter, d.clock, logger)
	d.sub = subscription.New(conn, logger)
	return d
}

// Identity is the channel identity this dashboard listens on.
func (d *Dashboard) Identity() connection.Identity {
	return connection.Identity{Role: d.role, RestaurantSlug: d.opts.RestaurantSlug, SubID: d.opts.SubID}
}

// Start subscribes to the role's channel, loads the first snapshot and
// starts the refresh loop. Transport and snapshot failures are logged and
// recovered later; only an incomplete identity is an error.
func (d *Dashboard) Start(ctx context.Context) error {
	if err := d.Identity().Validate(); err != nil {
		return fmt.Errorf("start %s dashboard: %w", d.role, err)
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	if d.ownClock {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.clock.Run(runCtx)
		}()
	}

	err := d.sub.Update(runCtx, subscription.Options{
		Role:           d.role,
		RestaurantSlug: d.opts.RestaurantSlug,
		SubID:          d.opts.SubID,
		Enabled:        true,
		OnMessage:      d.feed.Handle,
		OnConnect:      func() { d.logger.Info("Connected to order updates") },
		OnDisconnect:   func() { d.logger.Warn("Disconnected from order updates") },
		OnError: func(err error) {
			d.logger.Warn("Connection error, orders may not update automatically", zap.Error(err))
		},
	})
	if err != nil && !errors.Is(err, subscription.ErrClosed) {
		d.logger.Warn("Initial connect failed", zap.Error(err))
	}

	if d.fetch == nil {
		return nil
	}
	if err := d.Refresh(runCtx); err != nil {
		d.logger.Error("Initial snapshot failed", zap.Error(err))
	}
	if d.opts.RefreshInterval > 0 {
		d.wg.Add(1)
		go d.refreshLoop(runCtx)
	}
	return nil
}

// Refresh fetches a full snapshot and reconciles it into the feed.
func (d *Dashboard) Refresh(ctx context.Context) error {
	if d.fetch == nil {
		return nil
	}
	requestedAt := d.now()
	list, err := d.fetch(ctx)
	if err != nil {
		return fmt.Errorf("refresh %s orders: %w", d.role, err)
	}
	d.feed.Seed(list, requestedAt)

	d.mu.Lock()
	d.lastRefresh = requestedAt
	d.mu.Unlock()
	d.logger.Debug("Snapshot applied", zap.Int("orders", len(list)))
	return nil
}

func (d *Dashboard) refreshLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("Periodic refresh failed", zap.Error(err))
			}
		}
	}
}

// Close stops the refresh loop, releases the subscription and cancels
// every countdown.
func (d *Dashboard) Close() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	d.sub.Close()
	d.feed.Close()
}

func (d *Dashboard) Role() connection.Role { return d.role }

func (d *Dashboard) Feed() *Feed { return d.feed }

// Status is the connection status shown as the live badge.
func (d *Dashboard) Status() connection.Status { return d.sub.Status() }

// Send forwards a client message, such as a ping, over the channel.
func (d *Dashboard) Send(v any) error { return d.sub.Send(v) }

func (d *Dashboard) LastRefresh() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRefresh
}
