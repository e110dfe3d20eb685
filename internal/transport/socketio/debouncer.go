package socketio

import (
	"sync"
	"time"
)

// StateDebouncer collapses rapid playback transitions into batched state
// broadcasts. A toggle that pauses one track and starts another produces
// several events back to back; clients only need the settled state.
type StateDebouncer struct {
	window   time.Duration
	callback func()

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
	stopped bool
}

// NewStateDebouncer creates a debouncer with the given window duration.
// callback fires once per burst of triggers, after the window elapses.
func NewStateDebouncer(window time.Duration, callback func()) *StateDebouncer {
	return &StateDebouncer{
		window:   window,
		callback: callback,
	}
}

// Trigger records that the playback state changed. The broadcast is
// deferred until the debounce window elapses without further triggers.
// A zero window fires synchronously.
func (d *StateDebouncer) Trigger() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.window == 0 {
		d.mu.Unlock()
		if d.callback != nil {
			d.callback()
		}
		return
	}

	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
	d.mu.Unlock()
}

// flush fires the callback if a trigger is pending.
func (d *StateDebouncer) flush() {
	d.mu.Lock()
	doFire := d.pending && !d.stopped
	d.pending = false
	d.mu.Unlock()

	if doFire && d.callback != nil {
		d.callback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *StateDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}
