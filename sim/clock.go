package sim

import (
	"context"
	"sync"
	"time"
)

// ManualClock is a hal.Alarm whose time only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
	at  time.Duration
	fn  func()
}

func NewManualClock() *ManualClock { return &ManualClock{} }

func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SetAlarm arms the clock. The callback only ever runs from AdvanceTo.
func (c *ManualClock) SetAlarm(at time.Duration, fn func()) {
	c.mu.Lock()
	c.at, c.fn = at, fn
	c.mu.Unlock()
}

// Pending returns the armed deadline.
func (c *ManualClock) Pending() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at, c.fn != nil
}

// AdvanceTo moves time forward to t and fires the alarm if it is due.
func (c *ManualClock) AdvanceTo(t time.Duration) bool {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	var fn func()
	if c.fn != nil && c.at <= c.now {
		fn, c.fn = c.fn, nil
	}
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return fn != nil
}

func (c *ManualClock) Advance(d time.Duration) bool { return c.AdvanceTo(c.Now() + d) }

// Idler is satisfied by sched.Executor.
type Idler interface {
	WaitIdle(ctx context.Context) error
}

// RunUntil steps time from alarm to alarm up to t. Between steps it waits
// for every task to park, so each wake-up happens at its exact deadline.
func (c *ManualClock) RunUntil(ctx context.Context, ex Idler, t time.Duration) error {
	for {
		if err := ex.WaitIdle(ctx); err != nil {
			return err
		}
		at, ok := c.Pending()
		if !ok || at > t {
			c.AdvanceTo(t)
			return nil
		}
		c.AdvanceTo(at)
	}
}

// RealtimeAlarm is a hal.Alarm on the host monotonic clock.
type RealtimeAlarm struct {
	mu    sync.Mutex
	start time.Time
	t     *time.Timer
}

func NewRealtimeAlarm() *RealtimeAlarm { return &RealtimeAlarm{start: time.Now()} }

func (a *RealtimeAlarm) Now() time.Duration { return time.Since(a.start) }

func (a *RealtimeAlarm) SetAlarm(at time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
	}
	a.t = time.AfterFunc(max(at-a.Now(), 0), fn)
}
