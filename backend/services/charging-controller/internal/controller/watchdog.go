package controller

import (
	"sync"
	"time"
)

// DefaultMaxTimerDelay is the largest single timer delay the watchdog
// schedules. Longer deadlines are reached by re-arming in steps.
const DefaultMaxTimerDelay = 2147483647 * time.Millisecond

// Watchdog fires once when the reservation deadline is reached. A deadline
// already in the past fires immediately. Re-arming replaces the previous
// deadline.
type Watchdog struct {
	maxDelay time.Duration
	now      func() time.Time
	fire     func()

	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	armed    bool
	gen      uint64
}

// NewWatchdog returns a disarmed watchdog.
func NewWatchdog(maxDelay time.Duration, now func() time.Time, fire func()) *Watchdog {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxTimerDelay
	}
	if now == nil {
		now = time.Now
	}
	return &Watchdog{maxDelay: maxDelay, now: now, fire: fire}
}

// Arm schedules fire for deadline.
func (w *Watchdog) Arm(deadline time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	w.deadline = deadline
	w.armed = true
	w.scheduleLocked(w.gen)
}

// Disarm cancels a pending fire.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	w.armed = false
}

// Armed reports whether a fire is pending.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Deadline returns the armed deadline.
func (w *Watchdog) Deadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline, w.armed
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) scheduleLocked(gen uint64) {
	delay := w.deadline.Sub(w.now())
	if delay < 0 {
		delay = 0
	}
	if delay > w.maxDelay {
		delay = w.maxDelay
	}
	w.timer = time.AfterFunc(delay, func() { w.expire(gen) })
}

func (w *Watchdog) expire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || !w.armed {
		w.mu.Unlock()
		return
	}
	if w.now().Before(w.deadline) {
		w.scheduleLocked(gen)
		w.mu.Unlock()
		return
	}
	w.armed = false
	w.timer = nil
	w.mu.Unlock()
	w.fire()
}
