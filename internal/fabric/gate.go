package fabric

import (
	"fmt"
	"math/rand"
	"sync/atomic"
)

// SamplingGate is the process-wide boolean of §4.1 ("executor_running"):
// set exactly once per executor invocation with probability rate, and reset
// at teardown. All executor markers check Armed before firing.
type SamplingGate struct {
	armed atomic.Bool
}

// Arm sets the gate with probability rate and reports the outcome. rate
// outside [0,1] is a configuration error, rejected at the boundary
// (§7).
func (g *SamplingGate) Arm(rate float64) (bool, error) {
	if rate < 0 || rate > 1 {
		return false, fmt.Errorf("fabric: sampling rate %v outside [0,1]", rate)
	}
	sampled := rate >= 1 || (rate > 0 && rand.Float64() < rate)
	g.armed.Store(sampled)
	return sampled, nil
}

// Disarm resets the gate at executor teardown.
func (g *SamplingGate) Disarm() {
	g.armed.Store(false)
}

// Armed reports the gate's current state.
func (g *SamplingGate) Armed() bool {
	return g.armed.Load()
}
