package hal

import "time"

// Alarm is a type-erased one-shot hardware timer.
//
// SetAlarm arms the timer to call fn once at (or after) the instant at,
// measured on the Now timeline. Arming again replaces the pending alarm.
// fn may run on an interrupt or timer goroutine and must not block.
type Alarm interface {
	Now() time.Duration
	SetAlarm(at time.Duration, fn func())
}
