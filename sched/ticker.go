package sched

import (
	"context"
	"time"

	"loranode-go/x/mathx"
)

// Ticker wakes a task at start+k*period. Deadlines are absolute, so time
// spent between ticks does not accumulate. After an overrun the next
// deadline is the first grid point not before now.
type Ticker struct {
	e      *Executor
	period time.Duration
	start  time.Duration
	next   time.Duration
	missed uint32
}

// NewTicker starts the grid at the current time; the first tick is one
// period away.
func (e *Executor) NewTicker(period time.Duration) *Ticker {
	now := e.Now()
	return &Ticker{e: e, period: period, start: now, next: now + period}
}

func (t *Ticker) Period() time.Duration { return t.period }

// Missed counts grid points skipped after overruns.
func (t *Ticker) Missed() uint32 { return t.missed }

// Next suspends until the next deadline.
func (t *Ticker) Next(ctx context.Context) error {
	if now := t.e.Now(); now > t.next {
		skip := mathx.CeilDiv(now-t.next, t.period)
		t.missed += uint32(skip)
		t.next += skip * t.period
	}
	at := t.next
	t.next += t.period
	return t.e.SleepUntil(ctx, at)
}

// Reset moves the grid to a new period starting now.
func (t *Ticker) Reset(period time.Duration) {
	t.period = period
	t.start = t.e.Now()
	t.next = t.start + period
}
