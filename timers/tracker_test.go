package timers

import (
	"context"
	"sync"
	"testing"
	"time"

	"restro-sync/orders"
)

var start = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type tickLog struct {
	mu    sync.Mutex
	ticks []Tick
}

func (l *tickLog) record(t Tick) {
	l.mu.Lock()
	l.ticks = append(l.ticks, t)
	l.mu.Unlock()
}

func (l *tickLog) countFor(id int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.ticks {
		if t.ItemID == id {
			n++
		}
	}
	return n
}

func accepted(id int64, minutes float64, at time.Time) orders.Item {
	return orders.Item{ID: id, Status: orders.StatusAccepted, PreparationMinutes: minutes, UpdatedAt: at}
}

func TestTrackerCountsDown(t *testing.T) {
	clock := NewClock(time.Second)
	var log tickLog
	tr := NewTracker(clock, log.record)

	tr.Sync([]orders.Item{accepted(101, 10, start)}, start)
	clock.Tick(start.Add(time.Second))

	left, ok := tr.Remaining(101, start.Add(time.Second))
	if !ok || left != 599 {
		t.Fatalf("Remaining = %d, %v; want 599, true", left, ok)
	}
	if log.countFor(101) != 1 {
		t.Fatalf("ticks = %+v", log.ticks)
	}
}

func TestTrackerStopsTickingAfterCompletion(t *testing.T) {
	clock := NewClock(time.Second)
	var log tickLog
	tr := NewTracker(clock, log.record)

	tr.Sync([]orders.Item{accepted(1, 5, start), accepted(2, 5, start)}, start)
	clock.Tick(start.Add(time.Second))

	done := accepted(1, 5, start)
	done.Status = orders.StatusCompleted
	tr.Sync([]orders.Item{done, accepted(2, 5, start)}, start.Add(2*time.Second))

	before := log.countFor(1)
	for i := 3; i < 10; i++ {
		clock.Tick(start.Add(time.Duration(i) * time.Second))
	}
	if after := log.countFor(1); after != before {
		t.Fatalf("item 1 ticked %d more times after completion", after-before)
	}
	if _, ok := tr.Remaining(1, start); ok {
		t.Fatal("completed item still has a countdown")
	}
	if log.countFor(2) != 8 {
		t.Fatalf("item 2 ticks = %d, want 8", log.countFor(2))
	}
}

func TestTrackerNoLeakAcrossCycles(t *testing.T) {
	clock := NewClock(time.Second)
	tr := NewTracker(clock, nil)

	for cycle := 0; cycle < 50; cycle++ {
		at := start.Add(time.Duration(cycle) * time.Minute)
		tr.Sync([]orders.Item{accepted(int64(cycle), 3, at)}, at)
		if tr.Active() != 1 || clock.Subscribers() != 1 {
			t.Fatalf("cycle %d accepted: active=%d subs=%d", cycle, tr.Active(), clock.Subscribers())
		}
		done := accepted(int64(cycle), 3, at)
		done.Status = orders.StatusCompleted
		tr.Sync([]orders.Item{done}, at.Add(time.Second))
		if tr.Active() != 0 || clock.Subscribers() != 0 {
			t.Fatalf("cycle %d completed: active=%d subs=%d", cycle, tr.Active(), clock.Subscribers())
		}
	}
}

func TestTrackerReachesZeroOnce(t *testing.T) {
	clock := NewClock(time.Second)
	var log tickLog
	tr := NewTracker(clock, log.record)

	tr.Sync([]orders.Item{accepted(7, 0.05, start)}, start)
	clock.Tick(start.Add(time.Hour))
	clock.Tick(start.Add(2 * time.Hour))

	if log.countFor(7) != 1 || log.ticks[0].Remaining != 0 {
		t.Fatalf("ticks = %+v", log.ticks)
	}
	if left, ok := tr.Remaining(7, start.Add(time.Hour)); !ok || left != 0 {
		t.Fatalf("Remaining = %d, %v", left, ok)
	}
	if Format(0) != "Ready soon!" || Format(125) != "2:05" {
		t.Fatalf("Format: %q %q", Format(0), Format(125))
	}
}

func TestTrackerIgnoresItemsWithoutTimer(t *testing.T) {
	clock := NewClock(time.Second)
	tr := NewTracker(clock, nil)
	tr.Sync([]orders.Item{
		{ID: 1, Status: orders.StatusPending, PreparationMinutes: 5},
		{ID: 2, Status: orders.StatusAccepted},
		{Status: orders.StatusAccepted, PreparationMinutes: 5},
	}, start)
	if tr.Active() != 0 || clock.Subscribers() != 0 {
		t.Fatalf("active=%d subs=%d", tr.Active(), clock.Subscribers())
	}
}

func TestClockRunStopsWithContext(t *testing.T) {
	clock := NewClock(time.Millisecond)
	ticked := make(chan struct{}, 1)
	cancelSub := clock.Subscribe(func(time.Time) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		clock.Run(ctx)
		close(done)
	}()

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("clock never ticked")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
