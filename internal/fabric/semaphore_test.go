package fabric

import (
	"testing"

	"github.com/cmu-db/oucore/internal/ou"
)

func TestSemaphoreArmedAfterAttach(t *testing.T) {
	var s Semaphore
	if s.Armed() {
		t.Fatal("a fresh semaphore should not be armed")
	}
	s.Attach()
	if !s.Armed() {
		t.Fatal("expected armed after Attach")
	}
}

func TestSemaphoreDetachNeverGoesNegative(t *testing.T) {
	var s Semaphore
	if got := s.Detach(); got != 0 {
		t.Fatalf("Detach on a zeroed semaphore = %d, want 0", got)
	}
	if s.Armed() {
		t.Fatal("should not be armed")
	}
}

func TestSemaphoreCountsNestedAttaches(t *testing.T) {
	var s Semaphore
	s.Attach()
	s.Attach()
	if !s.Armed() {
		t.Fatal("expected armed after two attaches")
	}
	s.Detach()
	if !s.Armed() {
		t.Fatal("expected still armed after one of two detaches")
	}
	s.Detach()
	if s.Armed() {
		t.Fatal("expected unarmed after both detaches")
	}
}

func TestSemaphoredMarkerSkipsFireWhenUnarmed(t *testing.T) {
	var sem Semaphore
	m := SemaphoredMarker{Marker: Marker{Name: "seq_scan_begin"}, Sem: &sem}

	fired := false
	observer := func(name string, ouIndex ou.Index, planNodeID ou.PlanNodeID, args []Arg) {
		fired = true
	}

	if err := m.Fire(observer, 0, 0); err != nil {
		t.Fatalf("Fire with no sem armed returned error: %v", err)
	}
	if fired {
		t.Fatal("observer should not run while unarmed")
	}

	sem.Attach()
	if err := m.Fire(observer, 0, 0); err != nil {
		t.Fatalf("Fire with sem armed returned error: %v", err)
	}
	if !fired {
		t.Fatal("observer should run once armed")
	}
}
