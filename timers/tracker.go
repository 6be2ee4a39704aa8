package timers

import (
	"sync"
	"time"

	"restro-sync/orders"
)

// Tick reports one countdown step for an item.
type Tick struct {
	ItemID    int64
	Remaining int
}

type entry struct {
	item      orders.Item
	startedAt time.Time
	done      bool
}

// Tracker keeps one countdown per ACCEPTED item with a known preparation
// time. It holds a clock subscription only while at least one countdown
// exists.
type Tracker struct {
	clock  *Clock
	onTick func(Tick)

	mu      sync.Mutex
	entries map[int64]*entry
	cancel  func()
}

// NewTracker returns a tracker on clock. onTick may be nil.
func NewTracker(clock *Clock, onTick func(Tick)) *Tracker {
	return &Tracker{
		clock:   clock,
		onTick:  onTick,
		entries: make(map[int64]*entry),
	}
}

// Sync starts countdowns for items that just became eligible and cancels
// those whose item left ACCEPTED or is no longer present at all.
func (t *Tracker) Sync(items []orders.Item, now time.Time) {
	want := make(map[int64]orders.Item, len(items))
	for _, it := range items {
		if it.ID != 0 && it.HasTimer() {
			want[it.ID] = it
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.entries {
		if _, ok := want[id]; !ok {
			delete(t.entries, id)
		}
	}
	for id, it := range want {
		if e, ok := t.entries[id]; ok {
			if e.item.PreparationMinutes != it.PreparationMinutes {
				e.item = it
				e.done = false
			}
			continue
		}
		started := it.UpdatedAt
		if started.IsZero() || started.After(now) {
			started = now
		}
		t.entries[id] = &entry{item: it, startedAt: started}
	}

	switch {
	case len(t.entries) > 0 && t.cancel == nil:
		t.cancel = t.clock.Subscribe(t.tick)
	case len(t.entries) == 0 && t.cancel != nil:
		t.cancel()
		t.cancel = nil
	}
}

func (t *Tracker) tick(now time.Time) {
	t.mu.Lock()
	ticks := make([]Tick, 0, len(t.entries))
	for id, e := range t.entries {
		if e.done {
			continue
		}
		left := orders.Countdown(e.item, now.Sub(e.startedAt))
		if left == 0 {
			e.done = true
		}
		ticks = append(ticks, Tick{ItemID: id, Remaining: left})
	}
	t.mu.Unlock()

	if t.onTick == nil {
		return
	}
	for _, tk := range ticks {
		t.onTick(tk)
	}
}

// Remaining returns the seconds left for itemID, and false when no
// countdown is running for it.
func (t *Tracker) Remaining(itemID int64, now time.Time) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[itemID]
	if !ok {
		return 0, false
	}
	return orders.Countdown(e.item, now.Sub(e.startedAt)), true
}

// Active is the number of countdowns currently held.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stop cancels every countdown and releases the clock.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[int64]*entry)
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
