package autosave

import (
	"sync"
	"time"
)

// Debouncer runs the last function triggered for a key once the key has
// been quiet for Delay.
type Debouncer struct {
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]*pendingCall
	stopped bool
}

type pendingCall struct {
	timer *time.Timer
	fn    func()
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*pendingCall),
	}
}

// Trigger schedules fn for key, replacing and postponing any pending call.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if call, ok := d.pending[key]; ok {
		call.timer.Stop()
	}
	call := &pendingCall{fn: fn}
	call.timer = time.AfterFunc(d.delay, func() {
		d.fire(key, call)
	})
	d.pending[key] = call
}

func (d *Debouncer) fire(key string, call *pendingCall) {
	d.mu.Lock()
	current, ok := d.pending[key]
	if !ok || current != call {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	call.fn()
}

// Cancel drops the pending call for key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if call, ok := d.pending[key]; ok {
		call.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending reports how many keys are waiting to fire.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush runs every pending call now, in the caller's goroutine.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	calls := make([]*pendingCall, 0, len(d.pending))
	for key, call := range d.pending {
		call.timer.Stop()
		calls = append(calls, call)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, call := range calls {
		call.fn()
	}
}

// Stop cancels every pending call. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, call := range d.pending {
		call.timer.Stop()
		delete(d.pending, key)
	}
}
