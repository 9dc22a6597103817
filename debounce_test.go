package querycache

import (
	"sync"
	"testing"
	"time"
)

// commitRecorder collects debouncer emissions.
type commitRecorder struct {
	mu     sync.Mutex
	values []string
}

func (r *commitRecorder) emit(v string) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *commitRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

// TestDebounceEmitsLastValueOnce: observations arriving faster than the
// quiet period collapse into exactly one commit carrying the last value.
func TestDebounceEmitsLastValueOnce(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer[string](50*time.Millisecond, rec.emit)
	defer d.Stop()

	d.Observe("a")
	time.Sleep(10 * time.Millisecond)
	d.Observe("ab")
	time.Sleep(10 * time.Millisecond)
	d.Observe("abc")

	time.Sleep(20 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("commit fired before the quiet period settled: %v", got)
	}

	time.Sleep(150 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 || got[0] != "abc" {
		t.Fatalf("want exactly one commit of %q, got %v", "abc", got)
	}
}

// TestDebounceIdenticalValueDoesNotRestart: re-observing the current raw
// value leaves the running timer alone.
func TestDebounceIdenticalValueDoesNotRestart(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer[string](100*time.Millisecond, rec.emit)
	defer d.Stop()

	d.Observe("dune")
	time.Sleep(60 * time.Millisecond)
	d.Observe("dune") // no-op: must not push the commit to t=160ms

	time.Sleep(70 * time.Millisecond) // t=130ms, past the original deadline
	if got := rec.snapshot(); len(got) != 1 || got[0] != "dune" {
		t.Fatalf("commit should have fired at the original deadline, got %v", got)
	}
}

// TestDebounceChangedValueRestarts: any raw change before the period elapses
// restarts it and the committed value stays unchanged meanwhile.
func TestDebounceChangedValueRestarts(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer[string](80*time.Millisecond, rec.emit)
	defer d.Stop()

	d.Observe("a")
	time.Sleep(50 * time.Millisecond)
	d.Observe("b") // restart at t=50ms; deadline moves to t=130ms

	time.Sleep(50 * time.Millisecond) // t=100ms: original deadline passed, new one not
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("restart should have suppressed the first deadline, got %v", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("want one commit of %q, got %v", "b", got)
	}
}

// TestDebounceStopCancelsPending: tearing the owner down before the timer
// elapses must not fire a dangling commit.
func TestDebounceStopCancelsPending(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer[string](30*time.Millisecond, rec.emit)

	d.Observe("doomed")
	if !d.Pending() {
		t.Fatalf("commit should be pending after Observe")
	}
	d.Stop()
	if d.Pending() {
		t.Fatalf("Stop should clear the pending commit")
	}

	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("stopped debouncer emitted %v", got)
	}

	d.Observe("ignored")
	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("Observe after Stop emitted %v", got)
	}
}

func TestDebounceConsecutiveSettles(t *testing.T) {
	rec := &commitRecorder{}
	d := NewDebouncer[string](30*time.Millisecond, rec.emit)
	defer d.Stop()

	d.Observe("first")
	time.Sleep(80 * time.Millisecond)
	d.Observe("second")
	time.Sleep(80 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("want two settles in order, got %v", got)
	}
}
