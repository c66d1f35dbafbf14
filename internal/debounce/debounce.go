// Package debounce coalesces bursts of change signals into single
// callbacks after a quiet period.
package debounce

import (
	"sync"
	"time"
)

// Trigger collapses repeated Fire calls into one callback invocation
// once no new signal has arrived for the configured delay. A Fire
// during the quiet period restarts it.
type Trigger struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

// NewTrigger creates a trigger that calls fn after delay of quiet. A
// non-positive delay makes Fire call fn synchronously.
func NewTrigger(delay time.Duration, fn func()) *Trigger {
	return &Trigger{delay: delay, fn: fn}
}

// Fire signals a change.
func (t *Trigger) Fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.delay <= 0 {
		t.mu.Unlock()
		t.fn()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, t.run)
	t.mu.Unlock()
}

func (t *Trigger) run() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()
	t.fn()
}

// Flush runs the pending callback immediately, if any.
func (t *Trigger) Flush() {
	t.mu.Lock()
	pending := t.timer != nil && t.timer.Stop()
	t.timer = nil
	stopped := t.stopped
	t.mu.Unlock()
	if pending && !stopped {
		t.fn()
	}
}

// Stop cancels any pending callback and ignores further Fire calls.
func (t *Trigger) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.stopped = true
	t.mu.Unlock()
}
