package querycache

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is the debounce interval used when none is configured.
const DefaultQuietPeriod = time.Second

// Debouncer delays emission of a changing value until it has been stable for
// a quiet period. Observe (re)starts the period on every changed value;
// observing the current raw value again is a no-op. Stop cancels any pending
// emission, so a torn-down owner never receives a late commit.
//
// A pure timing primitive: no retries, no failure modes.
type Debouncer[V comparable] struct {
	mu      sync.Mutex
	quiet   time.Duration
	emit    func(V)
	timer   *time.Timer
	raw     V
	hasRaw  bool
	stopped bool
}

// NewDebouncer returns a debouncer that calls emit with the settled value.
// quiet <= 0 uses DefaultQuietPeriod. emit runs on a timer goroutine; it must
// be safe to call from there.
func NewDebouncer[V comparable](quiet time.Duration, emit func(V)) *Debouncer[V] {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer[V]{quiet: quiet, emit: emit}
}

// Observe records a new raw value and restarts the quiet period. If v equals
// the current raw value the running timer is left alone.
func (d *Debouncer[V]) Observe(v V) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.hasRaw && d.raw == v {
		return
	}
	d.raw = v
	d.hasRaw = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(v) })
}

func (d *Debouncer[V]) fire(v V) {
	d.mu.Lock()
	// A later Observe restarted the period, or the owner stopped us.
	if d.stopped || d.raw != v {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.emit(v)
}

// Pending reports whether a commit is scheduled but has not fired.
func (d *Debouncer[V]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil && !d.stopped
}

// Stop cancels any pending commit. Further Observe calls are ignored.
func (d *Debouncer[V]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
