package fabric

import (
	"sync/atomic"

	"github.com/cmu-db/oucore/internal/ou"
)

// Semaphore is a process-wide counter gating whether a SemaphoredMarker's
// body executes. Attach increments it; Detach decrements it. The body is
// skipped whenever the counter is at zero (§4.1).
type Semaphore struct {
	count atomic.Int32
}

// Attach increments the semaphore, returning the new count.
func (s *Semaphore) Attach() int32 {
	return s.count.Add(1)
}

// Detach decrements the semaphore, returning the new count. Detach never
// drives the count below zero; a caller that detaches more times than it
// attached is a bug, not a fabric-level error.
func (s *Semaphore) Detach() int32 {
	for {
		cur := s.count.Load()
		if cur <= 0 {
			return 0
		}
		if s.count.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Armed reports whether the semaphore is above zero.
func (s *Semaphore) Armed() bool {
	return s.count.Load() > 0
}

// SemaphoredMarker is a Marker whose Fire is skipped while its Semaphore
// reads zero - the coordinator's attach/detach lifecycle drives the
// semaphore directly (§3 "Ownership and lifecycle").
type SemaphoredMarker struct {
	Marker
	Sem *Semaphore
}

// Fire is a no-op when the semaphore is unarmed; the caller still had to
// evaluate args before calling, but no Observer dispatch happens.
func (m SemaphoredMarker) Fire(observer Observer, ouIndex ou.Index, planNodeID ou.PlanNodeID, args ...Arg) error {
	if m.Sem == nil || !m.Sem.Armed() {
		return nil
	}
	return m.Marker.Fire(observer, ouIndex, planNodeID, args...)
}
