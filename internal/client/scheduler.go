package client

import "time"

// Scheduler schedules a single deferred task. The retry loop is the only
// consumer; keeping it behind an interface keeps the push/reconcile logic
// testable without real timers.
type Scheduler interface {
	// ScheduleOnce runs task once after delay and returns a handle that can
	// cancel the pending run.
	ScheduleOnce(delay time.Duration, task func()) TimerHandle
}

// TimerHandle cancels a scheduled task. Cancelling after the task fired is
// a no-op.
type TimerHandle interface {
	Cancel()
}

// TimerScheduler is the production Scheduler on top of time.AfterFunc.
type TimerScheduler struct{}

// ScheduleOnce implements Scheduler.
func (TimerScheduler) ScheduleOnce(delay time.Duration, task func()) TimerHandle {
	return timerHandle{timer: time.AfterFunc(delay, task)}
}

type timerHandle struct {
	timer *time.Timer
}

func (h timerHandle) Cancel() {
	h.timer.Stop()
}
