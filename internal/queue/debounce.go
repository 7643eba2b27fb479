package queue

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of Trigger calls into a single fn invocation
// after a trailing delay. The owner must call Flush or Stop on shutdown so a
// pending invocation is either executed or deliberately dropped, never leaked.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	pending bool
}

// NewDebouncer returns a debouncer invoking fn delay after the last Trigger.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger schedules (or reschedules) an invocation.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.fn()
}

// Flush runs a pending invocation immediately, if any.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	run := d.pending
	d.pending = false
	d.mu.Unlock()
	if run {
		d.fn()
	}
}

// Stop drops any pending invocation without running it.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}
