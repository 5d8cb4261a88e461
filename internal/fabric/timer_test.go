package fabric

import (
	"testing"
	"time"
)

func TestTimerMeasuresElapsedSinceStart(t *testing.T) {
	var timer Timer
	timer.Start()
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.Stop()
	if elapsed <= 0 {
		t.Fatalf("elapsed = %s, want > 0", elapsed)
	}
}

func TestTimerStopWithoutStartIsZero(t *testing.T) {
	var timer Timer
	if got := timer.Stop(); got != 0 {
		t.Fatalf("Stop without Start = %s, want 0", got)
	}
}

func TestTimerStopIsNotReusableWithoutRestart(t *testing.T) {
	var timer Timer
	timer.Start()
	timer.Stop()
	if got := timer.Stop(); got != 0 {
		t.Fatalf("second Stop without an intervening Start = %s, want 0", got)
	}
}
