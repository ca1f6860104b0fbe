package scheduler

import (
	"sync"
	"time"
)

// DefaultDebounce is the minimum interval between regeneration starts.
const DefaultDebounce = 5 * time.Second

// Scheduler paces calls to the note-generation oracle. It is a passive
// state machine: the owning event loop reports growth, completion and
// timer expiry, and the scheduler answers whether a request may start
// now or how long to wait. Two invariants hold at all times: at most
// one request is in flight, and successive starts are separated by at
// least the debounce interval (the forced final request on stop is the
// single exception).
type Scheduler struct {
	mu sync.Mutex

	debounce time.Duration

	inFlight  bool
	desired   bool
	started   bool // a request has been started at least once
	lastStart time.Time

	// Statistics
	startsTotal   uint64
	deferredTotal uint64
}

// New creates a scheduler with the given debounce interval.
func New(debounce time.Duration) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Scheduler{debounce: debounce}
}

// OnGrowth reports a non-empty transcript growth event. It returns
// start=true when a request should be issued immediately; otherwise
// the desire is recorded and wait holds the remaining debounce time
// (zero when blocked only by an in-flight request).
func (s *Scheduler) OnGrowth(now time.Time) (start bool, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		s.desired = true
		s.deferredTotal++
		return false, 0
	}

	if remaining := s.remainingLocked(now); remaining > 0 {
		s.desired = true
		s.deferredTotal++
		return false, remaining
	}

	s.markStartedLocked(now)
	return true, 0
}

// OnComplete reports that the in-flight request finished, successfully
// or not. When a deferred desire is pending and the debounce window has
// elapsed, the next request starts immediately; otherwise wait holds
// the remaining debounce time (zero when no regeneration is desired).
func (s *Scheduler) OnComplete(now time.Time) (start bool, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false

	if !s.desired {
		return false, 0
	}

	if remaining := s.remainingLocked(now); remaining > 0 {
		return false, remaining
	}

	s.markStartedLocked(now)
	return true, 0
}

// OnTimer reports debounce-timer expiry. A deferred desire starts now
// if nothing is in flight and the window has truly elapsed.
func (s *Scheduler) OnTimer(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.desired || s.inFlight {
		return false
	}

	if s.remainingLocked(now) > 0 {
		return false
	}

	s.markStartedLocked(now)
	return true
}

// ForceStart starts the final regeneration on session stop, bypassing
// the debounce window. It still refuses while a request is in flight.
func (s *Scheduler) ForceStart(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return false
	}

	s.markStartedLocked(now)
	return true
}

// InFlight reports whether a request is currently active.
func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Desired reports whether a deferred regeneration is pending.
func (s *Scheduler) Desired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desired
}

// markStartedLocked records a request start. Caller holds s.mu.
func (s *Scheduler) markStartedLocked(now time.Time) {
	s.inFlight = true
	s.desired = false
	s.started = true
	s.lastStart = now
	s.startsTotal++
}

// remainingLocked returns how much of the debounce window is left.
func (s *Scheduler) remainingLocked(now time.Time) time.Duration {
	if !s.started {
		return 0
	}
	elapsed := now.Sub(s.lastStart)
	if elapsed >= s.debounce {
		return 0
	}
	return s.debounce - elapsed
}

// Stats represents scheduler statistics for monitoring
type Stats struct {
	StartsTotal   uint64 `json:"starts_total"`
	DeferredTotal uint64 `json:"deferred_total"`
	InFlight      bool   `json:"in_flight"`
	Desired       bool   `json:"desired"`
}

// GetStats returns current scheduler statistics.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		StartsTotal:   s.startsTotal,
		DeferredTotal: s.deferredTotal,
		InFlight:      s.inFlight,
		Desired:       s.desired,
	}
}
