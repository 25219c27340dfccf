package registry

import (
	"testing"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

func canExecute(v bool) *bool { return &v }

// TestPickIdleFIFO verifies that among several idle eligible workers,
// PickIdle returns the one registered first.
func TestPickIdleFIFO(t *testing.T) {
	r := New()
	r.Register("w1", nil, gridtypes.Caps{}, "ownerA", 0)
	r.Register("w2", nil, gridtypes.Caps{}, "ownerB", 0)

	e, ok := r.PickIdle("")
	if !ok || e.WorkerID != "w1" {
		t.Fatalf("PickIdle = %+v, %v; want w1", e, ok)
	}
}

// TestPickIdleExcludesOwner verifies that a worker owned by the
// requesting submitter is never returned, even if it's the only idle
// worker.
func TestPickIdleExcludesOwner(t *testing.T) {
	r := New()
	r.Register("w1", nil, gridtypes.Caps{}, "alice", 0)

	if _, ok := r.PickIdle("alice"); ok {
		t.Fatal("PickIdle returned a worker owned by the excluded submitter")
	}

	r.Register("w2", nil, gridtypes.Caps{}, "bob", 0)
	e, ok := r.PickIdle("alice")
	if !ok || e.WorkerID != "w2" {
		t.Fatalf("PickIdle = %+v, %v; want w2", e, ok)
	}
}

// TestPickIdleSkipsBusyAndNonExecutable ensures non-idle entries and
// entries with can_execute=false are never returned.
func TestPickIdleSkipsBusyAndNonExecutable(t *testing.T) {
	r := New()
	r.Register("busy", nil, gridtypes.Caps{}, "", 0)
	r.MarkBusy("busy")
	r.Register("cant-exec", nil, gridtypes.Caps{CanExecute: canExecute(false)}, "", 0)
	r.Register("ok", nil, gridtypes.Caps{}, "", 0)

	e, ok := r.PickIdle("")
	if !ok || e.WorkerID != "ok" {
		t.Fatalf("PickIdle = %+v, %v; want ok", e, ok)
	}
}

// TestCapsDefaultExecutable verifies the default: an absent can_execute
// field means true.
func TestCapsDefaultExecutable(t *testing.T) {
	r := New()
	r.Register("w1", nil, gridtypes.Caps{}, "", 0)
	if _, ok := r.PickIdle(""); !ok {
		t.Fatal("expected a worker with unset CanExecute to be pickable")
	}
}

// TestUnregisterRemovesEntry verifies that a worker-id has a Registry
// entry only while a session is live for it.
func TestUnregisterRemovesEntry(t *testing.T) {
	r := New()
	r.Register("w1", nil, gridtypes.Caps{}, "", 0)
	if !r.Contains("w1") {
		t.Fatal("expected w1 to be registered")
	}
	r.Unregister("w1")
	if r.Contains("w1") {
		t.Fatal("expected w1 to be unregistered")
	}
}

// TestReregisterPreservesOrder verifies that replacing an existing entry
// (a reconnect under a reused id) keeps its original FIFO position rather
// than moving it to the back.
func TestReregisterPreservesOrder(t *testing.T) {
	r := New()
	r.Register("w1", nil, gridtypes.Caps{}, "", 0)
	r.Register("w2", nil, gridtypes.Caps{}, "", 0)
	r.Register("w1", nil, gridtypes.Caps{}, "", 0) // reconnect

	e, ok := r.PickIdle("")
	if !ok || e.WorkerID != "w1" {
		t.Fatalf("PickIdle = %+v, %v; want w1 (original position preserved)", e, ok)
	}
}

// TestMarkBusyThenIdle exercises the idle<->busy transitions PickIdle
// depends on.
func TestMarkBusyThenIdle(t *testing.T) {
	r := New()
	r.Register("w1", nil, gridtypes.Caps{}, "", 0)
	r.MarkBusy("w1")
	if _, ok := r.PickIdle(""); ok {
		t.Fatal("expected no idle workers while w1 is busy")
	}
	r.MarkIdle("w1")
	if _, ok := r.PickIdle(""); !ok {
		t.Fatal("expected w1 to be idle again")
	}
}

// TestCountByStatus exercises the /status endpoint's counters.
func TestCountByStatus(t *testing.T) {
	r := New()
	r.Register("w1", nil, gridtypes.Caps{}, "", 0)
	r.Register("w2", nil, gridtypes.Caps{}, "", 0)
	r.MarkBusy("w1")

	if n := r.CountByStatus(gridtypes.WorkerBusy); n != 1 {
		t.Errorf("busy count = %d, want 1", n)
	}
	if n := r.CountByStatus(gridtypes.WorkerIdle); n != 1 {
		t.Errorf("idle count = %d, want 1", n)
	}
	if n := r.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
}
