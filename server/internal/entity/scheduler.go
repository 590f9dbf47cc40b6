package entity

import "time"

// Alarm is the host's one-timer-per-actor API. *host.Actor implements it.
type Alarm interface {
	Now() time.Time
	SetAlarm(at time.Time)
	Alarm() (time.Time, bool)
	DeleteAlarm()
}

// Scheduler manages the single outstanding expiry timer of one entity.
type Scheduler struct {
	alarm Alarm
}

// NewScheduler returns a Scheduler over alarm.
func NewScheduler(alarm Alarm) *Scheduler {
	return &Scheduler{alarm: alarm}
}

// EnsureScheduled arms the timer for at unless one is already pending.
// It reports whether a timer was armed.
func (s *Scheduler) EnsureScheduled(at time.Time) bool {
	if _, ok := s.alarm.Alarm(); ok {
		return false
	}
	s.alarm.SetAlarm(at)
	return true
}

// Reschedule replaces any pending timer with one firing at at, provided at
// is still in the future. It reports whether a timer was armed.
func (s *Scheduler) Reschedule(at time.Time) bool {
	if !at.After(s.alarm.Now()) {
		return false
	}
	s.alarm.SetAlarm(at)
	return true
}

// Pending returns when the pending timer fires, if there is one.
func (s *Scheduler) Pending() (time.Time, bool) {
	return s.alarm.Alarm()
}

// Cancel drops the pending timer.
func (s *Scheduler) Cancel() {
	s.alarm.DeleteAlarm()
}
