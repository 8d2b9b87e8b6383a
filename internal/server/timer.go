package server

import "time"

// idleTimer tracks a session's inactivity deadline. Activity only moves the
// deadline; the pending wake-up is not rescheduled, so each wake-up has to
// check whether the deadline really passed. The zero deadline is the frozen
// sentinel set when a session hands its transport away: a frozen timer
// never reports expiry.
//
// Not safe for concurrent use; owned by one session event loop.
type idleTimer struct {
	timeout  time.Duration
	deadline time.Time
	timer    *time.Timer
	fire     func()
	now      func() time.Time
}

func newIdleTimer(timeout time.Duration, fire func()) *idleTimer {
	return &idleTimer{
		timeout: timeout,
		fire:    fire,
		now:     time.Now,
	}
}

// reset pushes the deadline to now plus the timeout.
func (t *idleTimer) reset() {
	t.deadline = t.now().Add(t.timeout)
}

// freeze sets the sentinel and cancels the pending wake-up.
func (t *idleTimer) freeze() {
	t.deadline = time.Time{}
	t.stop()
}

func (t *idleTimer) frozen() bool {
	return t.deadline.IsZero()
}

func (t *idleTimer) expired() bool {
	return !t.frozen() && !t.now().Before(t.deadline)
}

// wait schedules one wake-up at the current deadline.
func (t *idleTimer) wait() {
	if t.frozen() {
		return
	}
	d := t.deadline.Sub(t.now())
	if d < 0 {
		d = 0
	}
	t.timer = time.AfterFunc(d, t.fire)
}

func (t *idleTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
