package transport

import "time"

// Scheduler abstracts timer creation so tests can drive reconnect and
// heartbeat timers without real delays.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler is the production implementation.
var SystemScheduler Scheduler = systemScheduler{}
