package fabric

import (
	"testing"

	"github.com/cmu-db/oucore/internal/ou"
)

func TestSamplingGateRejectsOutOfRangeRate(t *testing.T) {
	var g SamplingGate
	for _, rate := range []float64{-0.1, 1.1, 2.0} {
		if _, err := g.Arm(rate); err == nil {
			t.Errorf("Arm(%v) expected a configuration error, got nil", rate)
		}
	}
}

func TestSamplingGateZeroAndOne(t *testing.T) {
	var g SamplingGate
	sampled, err := g.Arm(0)
	if err != nil || sampled {
		t.Errorf("Arm(0) = %v, %v; want false, nil", sampled, err)
	}
	if g.Armed() {
		t.Errorf("gate armed after Arm(0)")
	}

	sampled, err = g.Arm(1)
	if err != nil || !sampled {
		t.Errorf("Arm(1) = %v, %v; want true, nil", sampled, err)
	}
	if !g.Armed() {
		t.Errorf("gate not armed after Arm(1)")
	}

	g.Disarm()
	if g.Armed() {
		t.Errorf("gate still armed after Disarm")
	}
}

func TestSemaphoreGatesMarker(t *testing.T) {
	var sem Semaphore
	marker := SemaphoredMarker{Marker: Marker{Name: "seqscan_begin"}, Sem: &sem}

	fired := 0
	observer := func(name string, ouIndex ou.Index, planNodeID ou.PlanNodeID, args []Arg) {
		fired++
	}

	if err := marker.Fire(observer, 0, 7); err != nil {
		t.Fatalf("Fire returned error: %v", err)
	}
	if fired != 0 {
		t.Errorf("marker fired while semaphore unarmed")
	}

	sem.Attach()
	if err := marker.Fire(observer, 0, 7); err != nil {
		t.Fatalf("Fire returned error: %v", err)
	}
	if fired != 1 {
		t.Errorf("marker did not fire while semaphore armed, got %d fires", fired)
	}

	sem.Detach()
	if sem.Armed() {
		t.Fatalf("semaphore still armed after single Detach matching single Attach")
	}
	if err := marker.Fire(observer, 0, 7); err != nil {
		t.Fatalf("Fire returned error: %v", err)
	}
	if fired != 1 {
		t.Errorf("marker fired after Detach brought semaphore back to zero")
	}
}

func TestMarkerRejectsTooManyArgs(t *testing.T) {
	m := Marker{Name: "seqscan_features"}
	args := make([]Arg, ou.MaxMarkerArgs+1)
	if err := m.Fire(nil, 0, 7, args...); err == nil {
		t.Errorf("Fire with %d args expected an error, got nil", len(args))
	}
}
