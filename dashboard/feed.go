// Package dashboard holds each role's live order list: inbound socket
// messages and REST snapshots are folded in through the orders merge
// engine, filtered per role, and published to observers.
package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"restro-sync/orders"
	"restro-sync/timers"
)

// Filter decides which orders a dashboard keeps.
type Filter func([]orders.Order) []orders.Order

// Observer receives a private copy of the list after every change.
type Observer func([]orders.Order)

// FeedStats counts how inbound messages were handled.
type FeedStats struct {
	Applied   int64
	Discarded int64
	Dropped   int64
}

// Feed is the single owner of a dashboard's order list. Every change is a
// read-compute-publish step taken under one lock, so two messages arriving
// back to back cannot lose each other's update.
type Feed struct {
	name    string
	filter  Filter
	tracker *timers.Tracker
	logger  *zap.Logger
	now     func() time.Time

	pubMu sync.Mutex
	mu    sync.Mutex
	// all holds every known order, including ones the filter hides, so a
	// later update can bring a hidden order back. The next snapshot prunes
	// what the back end no longer reports.
	all       []orders.Order
	list      []orders.Order
	observers map[uint64]Observer
	nextObs   uint64
	stats     FeedStats
}

// NewFeed returns an empty feed whose countdowns run on clock. A nil
// filter keeps every order.
func NewFeed(name string, filter Filter, clock *timers.Clock, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if filter == nil {
		filter = func(l []orders.Order) []orders.Order { return l }
	}
	if clock == nil {
		clock = timers.NewClock(time.Second)
	}
	return &Feed{
		name:      name,
		filter:    filter,
		tracker:   timers.NewTracker(clock, nil),
		logger:    logger.With(zap.String("feed", name)),
		now:       time.Now,
		observers: make(map[uint64]Observer),
	}
}

// Handle folds one raw socket payload into the list. Malformed or
// unidentifiable payloads and updates for unknown orders are logged and
// dropped.
func (f *Feed) Handle(raw json.RawMessage) {
	msg, err := orders.Normalize(raw, f.now())
	if err != nil {
		f.count(func(s *FeedStats) { s.Dropped++ })
		f.logger.Warn("Dropping websocket message", zap.Error(err))
		return
	}

	if msg.Kind == orders.KindDelta {
		d := *msg.Delta
		if !f.apply(d) {
			f.logger.Debug("Discarding status update for unknown item", zap.Int64("item_id", d.ItemID))
		}
		return
	}

	o := *msg.Order
	f.update(func(list []orders.Order) ([]orders.Order, bool) {
		if msg.Kind == orders.KindUpdate && !contains(list, o.ID) {
			f.logger.Debug("Discarding update for unknown order", zap.Int64("order_id", o.ID))
			f.stats.Discarded++
			return list, false
		}
		f.stats.Applied++
		return orders.Merge(list, o, msg.Kind), true
	})
}

// Seed applies a REST snapshot fetched at requestedAt.
func (f *Feed) Seed(snapshot []orders.Order, requestedAt time.Time) {
	f.update(func(list []orders.Order) ([]orders.Order, bool) {
		return orders.Reconcile(list, snapshot, requestedAt), true
	})
}

// Apply records a confirmed status change for one item.
func (f *Feed) Apply(d orders.Delta) bool {
	if d.ObservedAt.IsZero() {
		d.ObservedAt = f.now()
	}
	return f.apply(d)
}

func (f *Feed) apply(d orders.Delta) bool {
	applied := false
	f.update(func(list []orders.Order) ([]orders.Order, bool) {
		next, ok := orders.ApplyDelta(list, d)
		if !ok {
			f.stats.Discarded++
			return list, false
		}
		f.stats.Applied++
		applied = true
		return next, true
	})
	return applied
}

// mutate runs fn on a copy of every held order.
func (f *Feed) mutate(fn func([]orders.Order) []orders.Order) {
	f.update(func(list []orders.Order) ([]orders.Order, bool) {
		return fn(orders.CloneAll(list)), true
	})
}

func (f *Feed) update(fn func([]orders.Order) ([]orders.Order, bool)) {
	f.pubMu.Lock()
	defer f.pubMu.Unlock()

	f.mu.Lock()
	next, changed := fn(f.all)
	if !changed {
		f.mu.Unlock()
		return
	}
	f.all = next
	f.list = f.filter(orders.CloneAll(next))
	snapshot := orders.CloneAll(f.list)
	observers := make([]Observer, 0, len(f.observers))
	for _, o := range f.observers {
		observers = append(observers, o)
	}
	f.mu.Unlock()

	var items []orders.Item
	for _, o := range snapshot {
		items = append(items, o.Items...)
	}
	f.tracker.Sync(items, f.now())

	for _, obs := range observers {
		f.notify(obs, orders.CloneAll(snapshot))
	}
}

func (f *Feed) notify(obs Observer, list []orders.Order) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Feed observer panic recovered", zap.Any("panic", r))
		}
	}()
	obs(list)
}

// Subscribe registers obs and returns its cancel function. Observers run
// synchronously after each change and must not change the feed.
func (f *Feed) Subscribe(obs Observer) func() {
	f.mu.Lock()
	id := f.nextObs
	f.nextObs++
	f.observers[id] = obs
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.observers, id)
			f.mu.Unlock()
		})
	}
}

// Orders returns a copy of the current list, newest first.
func (f *Feed) Orders() []orders.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return orders.CloneAll(f.list)
}

// Order looks up one order by id.
func (f *Feed) Order(id int64) (orders.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := find(f.list, id); i >= 0 {
		return f.list[i].Clone(), true
	}
	return orders.Order{}, false
}

// Remaining is the countdown for itemID, if one is running.
func (f *Feed) Remaining(itemID int64) (int, bool) {
	return f.tracker.Remaining(itemID, f.now())
}

// Timers is the number of running countdowns.
func (f *Feed) Timers() int {
	return f.tracker.Active()
}

func (f *Feed) Stats() FeedStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Close stops every countdown.
func (f *Feed) Close() {
	f.tracker.Stop()
}

func (f *Feed) count(fn func(*FeedStats)) {
	f.mu.Lock()
	fn(&f.stats)
	f.mu.Unlock()
}

func contains(list []orders.Order, id int64) bool {
	return find(list, id) >= 0
}

func find(list []orders.Order, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
