// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watch reports modifications of a fixed set of files, debounced
// into batches.
//
// Files are watched through their parent directories so that editors and
// configuration management tools that replace a file by renaming a new one
// over it are still observed.
package watch

import (
	"sync"
	"time"
)

// Event is one observed change.
type Event struct {
	// Path is the absolute path of the changed file.
	Path string

	// Op is one of "created", "modified", "deleted", "renamed".
	Op string

	// At is when the change was observed.
	At time.Time
}

// Debouncer collects events until none has arrived for the window, then
// delivers them together. Repeated events for the same path keep only the
// latest one.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	pending map[string]Event
	order   []string
	onFlush func([]Event)
	stopped bool
}

// NewDebouncer creates a debouncer that calls onFlush after window of quiet.
func NewDebouncer(window time.Duration, onFlush func([]Event)) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]Event),
		onFlush: onFlush,
	}
}

// Add records ev and restarts the quiet window.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if _, seen := d.pending[ev.Path]; !seen {
		d.order = append(d.order, ev.Path)
	}
	d.pending[ev.Path] = ev

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	events := d.take()
	d.mu.Unlock()

	// onFlush runs outside the lock so it may call Add.
	if d.onFlush != nil && len(events) > 0 {
		d.onFlush(events)
	}
}

// take drains pending events in first-seen order. d.mu must be held.
func (d *Debouncer) take() []Event {
	events := make([]Event, 0, len(d.order))
	for _, p := range d.order {
		events = append(events, d.pending[p])
	}
	d.pending = make(map[string]Event)
	d.order = nil
	d.timer = nil
	return events
}

// Stop cancels the window. Pending events are dropped when flush is false
// and delivered immediately when it is true.
func (d *Debouncer) Stop(flush bool) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	events := d.take()
	d.mu.Unlock()

	if flush && d.onFlush != nil && len(events) > 0 {
		d.onFlush(events)
	}
}

// Pending returns the number of distinct paths waiting for the window.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
