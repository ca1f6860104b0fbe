package scheduler

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func TestFirstGrowthStartsImmediately(t *testing.T) {
	s := New(5 * time.Second)

	start, wait := s.OnGrowth(t0)
	if !start {
		t.Fatalf("first growth should start immediately, wait = %v", wait)
	}
	if !s.InFlight() {
		t.Error("scheduler should report in flight after a start")
	}
}

func TestGrowthDeferredWhileInFlight(t *testing.T) {
	s := New(5 * time.Second)
	s.OnGrowth(t0)

	start, wait := s.OnGrowth(t0.Add(time.Second))
	if start {
		t.Fatal("growth must not start a second request while one is in flight")
	}
	if wait != 0 {
		t.Errorf("wait = %v, want 0: blocked by in-flight, not debounce", wait)
	}
	if !s.Desired() {
		t.Error("deferred growth should be recorded as desired")
	}
}

func TestGrowthDeferredByDebounce(t *testing.T) {
	s := New(5 * time.Second)
	s.OnGrowth(t0)
	s.OnComplete(t0.Add(time.Second))

	// Round done after 1s; the next growth is 4s inside the window.
	start, wait := s.OnGrowth(t0.Add(time.Second))
	if start {
		t.Fatal("growth inside the debounce window must not start")
	}
	if wait != 4*time.Second {
		t.Errorf("wait = %v, want 4s", wait)
	}
}

func TestCompleteStartsDeferred(t *testing.T) {
	s := New(5 * time.Second)
	s.OnGrowth(t0)
	s.OnGrowth(t0.Add(time.Second)) // deferred

	// Completion lands after the window: the deferred round starts.
	start, wait := s.OnComplete(t0.Add(6 * time.Second))
	if !start {
		t.Fatalf("deferred round should start on completion, wait = %v", wait)
	}
	if s.Desired() {
		t.Error("desire should be consumed by the start")
	}
}

func TestCompleteInsideWindowReportsWait(t *testing.T) {
	s := New(5 * time.Second)
	s.OnGrowth(t0)
	s.OnGrowth(t0.Add(time.Second)) // deferred

	start, wait := s.OnComplete(t0.Add(2 * time.Second))
	if start {
		t.Fatal("completion inside the window must not start")
	}
	if wait != 3*time.Second {
		t.Errorf("wait = %v, want 3s", wait)
	}

	// The timer fires at the window edge.
	if !s.OnTimer(t0.Add(5 * time.Second)) {
		t.Error("timer at the window edge should start the deferred round")
	}
}

func TestCompleteWithoutDesire(t *testing.T) {
	s := New(5 * time.Second)
	s.OnGrowth(t0)

	start, wait := s.OnComplete(t0.Add(6 * time.Second))
	if start || wait != 0 {
		t.Errorf("OnComplete with no desire = (%v, %v), want (false, 0)", start, wait)
	}
}

func TestTimerIgnoredWhileInFlight(t *testing.T) {
	s := New(5 * time.Second)
	s.OnGrowth(t0)
	s.OnGrowth(t0.Add(time.Second)) // deferred

	if s.OnTimer(t0.Add(10 * time.Second)) {
		t.Error("timer must not start while a request is in flight")
	}
}

func TestForceStartBypassesDebounce(t *testing.T) {
	s := New(5 * time.Second)
	s.OnGrowth(t0)
	s.OnComplete(t0.Add(time.Second))

	// Well inside the window, but forced starts ignore it.
	if !s.ForceStart(t0.Add(2 * time.Second)) {
		t.Error("ForceStart should bypass the debounce window")
	}
}

func TestForceStartRefusesWhileInFlight(t *testing.T) {
	s := New(5 * time.Second)
	s.OnGrowth(t0)

	if s.ForceStart(t0.Add(time.Second)) {
		t.Error("ForceStart must not violate the single-flight invariant")
	}
}

func TestStatsCountStartsAndDeferrals(t *testing.T) {
	s := New(5 * time.Second)
	s.OnGrowth(t0)
	s.OnGrowth(t0.Add(time.Second))
	s.OnGrowth(t0.Add(2 * time.Second))
	s.OnComplete(t0.Add(6 * time.Second))

	stats := s.GetStats()
	if stats.StartsTotal != 2 {
		t.Errorf("StartsTotal = %d, want 2", stats.StartsTotal)
	}
	if stats.DeferredTotal != 2 {
		t.Errorf("DeferredTotal = %d, want 2", stats.DeferredTotal)
	}
}

func TestZeroDebounceUsesDefault(t *testing.T) {
	s := New(0)
	s.OnGrowth(t0)
	s.OnComplete(t0.Add(time.Second))

	start, wait := s.OnGrowth(t0.Add(time.Second))
	if start {
		t.Fatal("default debounce should defer this growth")
	}
	if wait != DefaultDebounce-time.Second {
		t.Errorf("wait = %v, want %v", wait, DefaultDebounce-time.Second)
	}
}
