// Package sched is a single-core cooperative executor. Tasks are
// goroutines, but only the holder of the run token executes; the token
// changes hands only at Sleep, SleepUntil and Await. All timed waits are
// multiplexed onto one installed hardware alarm.
package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"loranode-go/errcode"
	"loranode-go/hal"
	"loranode-go/x/logx"
)

// TaskFunc is the body of a task. It must only block through the
// executor's suspend points.
type TaskFunc func(ctx context.Context) error

type Option func(*Executor)

// WithPoolSize bounds the number of live tasks, the main task included.
func WithPoolSize(n int) Option { return func(e *Executor) { e.pool = n } }

func WithLogger(l logx.Logger) Option { return func(e *Executor) { e.log = l } }

type Executor struct {
	token chan struct{}

	mu     sync.Mutex
	alarm  hal.Alarm
	timers timerHeap
	seq    uint64
	live   int
	parked int
	pool   int
	idle   chan struct{} // closed and replaced whenever all tasks park

	log logx.Logger
}

func New(opts ...Option) *Executor {
	e := &Executor{
		token: make(chan struct{}, 1),
		pool:  4,
		idle:  make(chan struct{}),
		log:   logx.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.token <- struct{}{}
	return e
}

// Install hands the executor its time source. It may be called once.
func (e *Executor) Install(a hal.Alarm) error {
	if a == nil {
		return errcode.New(errcode.InvalidParams, "sched.Install", "nil alarm")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.alarm != nil {
		return errcode.New(errcode.TimeSourceInstalled, "sched.Install", "")
	}
	e.alarm = a
	return nil
}

// Now reads the installed time source; zero before Install.
func (e *Executor) Now() time.Duration {
	e.mu.Lock()
	a := e.alarm
	e.mu.Unlock()
	if a == nil {
		return 0
	}
	return a.Now()
}

func (e *Executor) acquire() { <-e.token }
func (e *Executor) release() { e.token <- struct{}{} }

// Run executes fn as the main task on the calling goroutine and returns
// its result. Spawned tasks keep running after Run returns.
func (e *Executor) Run(ctx context.Context, fn TaskFunc) error {
	if err := e.enter("main"); err != nil {
		return err
	}
	e.acquire()
	defer e.exit()
	defer e.release()
	return fn(ctx)
}

// Spawn starts fn as a new task. It fails with errcode.SpawnFailed when
// the pool is exhausted.
func (e *Executor) Spawn(ctx context.Context, name string, fn TaskFunc) error {
	if err := e.enter(name); err != nil {
		return err
	}
	go func() {
		e.acquire()
		defer e.exit()
		defer e.release()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			e.log.Error("task exited", logx.Str("task", name), logx.Err(err))
		}
	}()
	return nil
}

func (e *Executor) enter(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live >= e.pool {
		return errcode.New(errcode.SpawnFailed, "sched.Spawn", name+": pool exhausted")
	}
	e.live++
	return nil
}

func (e *Executor) exit() {
	e.mu.Lock()
	e.live--
	e.checkIdle()
	e.mu.Unlock()
}

// Live reports the number of running tasks.
func (e *Executor) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

// Sleep suspends the calling task for d.
func (e *Executor) Sleep(ctx context.Context, d time.Duration) error {
	if e.alarmOrNil() == nil {
		return errcode.New(errcode.NoTimeSource, "sched.Sleep", "")
	}
	return e.SleepUntil(ctx, e.Now()+d)
}

func (e *Executor) alarmOrNil() hal.Alarm {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alarm
}

// SleepUntil suspends the calling task until the time source reaches at.
// A deadline already passed returns without parking. The run token is
// released and retaken on the way, so a task already blocked on it may
// run first; nothing guarantees that it does.
func (e *Executor) SleepUntil(ctx context.Context, at time.Duration) error {
	e.mu.Lock()
	if e.alarm == nil {
		e.mu.Unlock()
		return errcode.New(errcode.NoTimeSource, "sched.SleepUntil", "")
	}
	if at <= e.alarm.Now() {
		e.mu.Unlock()
		e.release()
		e.acquire()
		return ctx.Err()
	}
	w := &waiter{at: at, seq: e.seq, wake: make(chan struct{})}
	e.seq++
	heap.Push(&e.timers, w)
	e.parked++
	if e.timers[0] == w {
		e.alarm.SetAlarm(at, e.fire)
	}
	e.checkIdle()
	e.mu.Unlock()

	e.release()
	var err error
	select {
	case <-w.wake:
	case <-ctx.Done():
		e.mu.Lock()
		if w.index >= 0 {
			heap.Remove(&e.timers, w.index)
			e.parked--
		}
		e.mu.Unlock()
		err = ctx.Err()
	}
	e.acquire()
	return err
}

// fire runs from the alarm callback and wakes every due waiter.
func (e *Executor) fire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.alarm.Now()
	for len(e.timers) > 0 && e.timers[0].at <= now {
		w := heap.Pop(&e.timers).(*waiter)
		e.parked--
		close(w.wake)
	}
	if len(e.timers) > 0 {
		e.alarm.SetAlarm(e.timers[0].at, e.fire)
	}
}

// Await releases the run token while fn performs blocking I/O and
// reacquires it before returning fn's result.
func (e *Executor) Await(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	e.release()
	go func() { done <- fn() }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	e.acquire()
	return err
}

// Quiescent reports whether every live task is parked in a timed wait.
func (e *Executor) Quiescent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live > 0 && e.parked == e.live
}

// Idle returns a channel closed the next time every live task is parked.
func (e *Executor) Idle() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idle
}

func (e *Executor) checkIdle() {
	if e.live > 0 && e.parked == e.live {
		close(e.idle)
		e.idle = make(chan struct{})
	}
}

type waiter struct {
	at    time.Duration
	seq   uint64
	wake  chan struct{}
	index int
}

// timerHeap orders waiters by deadline, then by arrival.
type timerHeap []*waiter

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// WaitIdle blocks until every live task is parked in a timed wait. It is
// meant for callers outside the executor, such as simulated clocks.
func (e *Executor) WaitIdle(ctx context.Context) error {
	for {
		ch := e.Idle()
		if e.Quiescent() {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
