package coach

import "time"

// scheduledTask is a cancellable one-shot timer owned by a session. All
// methods must be called with the session lock held. A callback that lost a
// race with cancel or re-arm sees claim return false and does nothing.
type scheduledTask struct {
	timer *time.Timer
	token uint64
}

// arm replaces any pending run with a new one after d.
func (t *scheduledTask) arm(d time.Duration, fire func(token uint64)) {
	t.cancel()
	t.token++
	token := t.token
	t.timer = time.AfterFunc(d, func() { fire(token) })
}

// cancel stops the pending run, if any. Safe to call repeatedly.
func (t *scheduledTask) cancel() bool {
	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	return true
}

// claim is called by the timer callback; it consumes the run when token is
// still current.
func (t *scheduledTask) claim(token uint64) bool {
	if t.timer == nil || token != t.token {
		return false
	}
	t.timer = nil
	return true
}

func (t *scheduledTask) armed() bool { return t.timer != nil }
