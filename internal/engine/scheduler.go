package engine

import "time"

// Scheduler issues delayed wake-up calls. Each session owns at most one
// outstanding wake-up; cancellation is best-effort, so a fired wake-up
// may still arrive after the session moved on and must be ignored there.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

// TimerScheduler is the production Scheduler backed by runtime timers.
type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
