// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"sync"
	"time"
)

const defaultDebounce = 100 * time.Millisecond

// Debouncer collapses a burst of triggers into one call made after the
// burst has been quiet for the delay. Editors typically produce several
// write and rename events per save.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	gen     uint64 // bumped on every trigger and stop
	stopped bool
}

// NewDebouncer returns a debouncer. A non-positive delay selects 100ms.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = defaultDebounce
	}
	return &Debouncer{delay: delay}
}

// Trigger schedules fn, replacing any call still waiting. Only the fn of
// the last trigger in a burst runs.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A timer that fired while being replaced must not run.
		current := gen == d.gen && !d.stopped
		if current {
			d.timer = nil
		}
		d.mu.Unlock()
		if current {
			fn()
		}
	})
}

// Pending reports whether a call is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop drops any waiting call. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// SetDelay changes the delay for later triggers.
func (d *Debouncer) SetDelay(delay time.Duration) {
	if delay <= 0 {
		delay = defaultDebounce
	}
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}
