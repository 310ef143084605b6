package malamute

import "time"

// timer is a monotonic absolute-deadline timer. T1 (outstanding ack) and
// T3 (idle link probe) are both of these; nothing here sleeps, the engine
// computes the nearest deadline and waits on the port for that long.
type timer struct {
	running  bool
	deadline time.Time
}

func (t *timer) start(d time.Duration) {
	t.deadline = time.Now().Add(d)
	t.running = true
}

func (t *timer) stop() {
	t.running = false
}

func (t *timer) restart(d time.Duration) {
	t.start(d)
}

// remaining returns the saturating time left, and whether the timer is
// running at all.
func (t *timer) remaining() (time.Duration, bool) {
	if !t.running {
		return 0, false
	}
	var d = time.Until(t.deadline)
	if d < 0 {
		d = 0
	}
	return d, true
}

// expired reports whether a running timer has passed its deadline.
// A stopped timer never expires.
func (t *timer) expired() bool {
	return t.running && time.Now().After(t.deadline)
}
