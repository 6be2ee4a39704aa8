// Package timers drives every per-item preparation countdown from one
// ticking clock. Countdowns are derived from elapsed time, so cancelling a
// timer is just dropping its entry.
package timers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock fans one ticker out to any number of subscribers.
type Clock struct {
	interval time.Duration

	mu   sync.Mutex
	subs map[uint64]func(time.Time)
	next uint64
}

func NewClock(interval time.Duration) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{
		interval: interval,
		subs:     make(map[uint64]func(time.Time)),
	}
}

// Run ticks until ctx is done.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

// Tick delivers now to every subscriber. Run calls it; tests call it
// directly.
func (c *Clock) Tick(now time.Time) {
	c.mu.Lock()
	fns := make([]func(time.Time), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(now)
	}
}

// Subscribe registers fn and returns its cancel function. Cancel is safe to
// call more than once.
func (c *Clock) Subscribe(fn func(time.Time)) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Subscribers is the number of live subscriptions.
func (c *Clock) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Format renders remaining seconds as m:ss, or "Ready soon!" once elapsed.
func Format(seconds int) string {
	if seconds <= 0 {
		return "Ready soon!"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
