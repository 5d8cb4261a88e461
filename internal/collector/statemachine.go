// Package collector is the kernel collector (§4.3): per-OU state
// machines that snapshot perf counters at BEGIN, accumulate at END, join
// with features at FLUSH, and publish completed records. StateMachine
// implements the transition table precisely; internal/collector/bpf
// attaches it to real kernel counters via cilium/ebpf, and
// internal/collector/simulate drives it with injected fake counters for
// tests and for the -simulate CLI path.
package collector

import (
	"fmt"

	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/ouerrors"
)

// MapCapacity is the documented, fixed capacity of each per-OU map
// (§4.3: "Map capacities are fixed ... ≥32 entries"). Overflows
// cause the latest write to fail silently.
const MapCapacity = 64

// Counters is the set of raw inputs a StateMachine needs at BEGIN/END: the
// five hardware perf counters (already normalized by counter × enabled ÷
// running), the two per-task I/O counters, and - when the OU has a client
// socket - the two per-socket TCP counters.
type Counters struct {
	CPUCycles           int64
	Instructions        int64
	CacheReferences     int64
	CacheMisses         int64
	RefCPUCycles        int64
	DiskBytesRead       int64
	DiskBytesWritten    int64
	NetworkBytesRead    int64
	NetworkBytesWritten int64
	PerfReadFailed      bool
}

func delta(end, start int64) (int64, bool) {
	d := end - start
	return d, d >= 0
}

// Features is a scratch-copied, OU-specific feature payload. Its shape is
// opaque to StateMachine; callers pass whatever their schema decoded.
type Features struct {
	PlanNodeID ou.PlanNodeID
	Fields     map[string]any
}

// Output is the assembled record published at FLUSH: header(ou_index,
// pid) ‖ features ‖ metrics (§6 wire format).
type Output struct {
	OUIndex ou.Index
	PID     int32
	Features Features
	Metrics  ou.ResourceMetrics
}

// Sink receives completed records and is told about drops. Production
// wiring is a per-OU ring buffer (internal/collector/bpf); tests and
// internal/collector/simulate use an in-memory Sink.
type Sink interface {
	Publish(Output)
	Drop(key ou.Key, reason string)
}

type runningEntry struct {
	metrics   ou.ResourceMetrics
	snapshot  Counters
}

// StateMachine implements §4.3's per-(ou_index, plan_node_id)
// protocol: BEGIN -> RUNNING -> (END)+ -> COMPLETE -(FEATURES any time after
// BEGIN)-> FLUSH -> ∅. It is not safe for concurrent access to the same
// key from multiple goroutines at once - §5 assigns one triggering
// thread per event, with no cross-key ordering guarantee, which this type
// mirrors by assuming single-threaded-per-key callers (internal/collector/bpf
// and internal/collector/simulate each serialize per key via their own
// dispatch loop).
type StateMachine struct {
	ouIndex  ou.Index
	sink     Sink
	clock    func() int64

	running  map[ou.Key]runningEntry
	complete map[ou.Key]ou.ResourceMetrics
	features map[ou.PlanNodeID]Features
}

// NewStateMachine returns a state machine for one OU. clock returns the
// current wall time in microseconds (§4.3: "derived from
// nanosecond clock via right shift by 10").
func NewStateMachine(ouIndex ou.Index, sink Sink, clock func() int64) *StateMachine {
	return &StateMachine{
		ouIndex:  ouIndex,
		sink:     sink,
		clock:    clock,
		running:  make(map[ou.Key]runningEntry),
		complete: make(map[ou.Key]ou.ResourceMetrics),
		features: make(map[ou.PlanNodeID]Features),
	}
}

func (m *StateMachine) key(planNodeID ou.PlanNodeID) ou.Key {
	return ou.Key{OUIndex: m.ouIndex, PlanNodeID: planNodeID}
}

// Begin implements the BEGIN transition: snapshot counters, arm the key.
// A perf-counter read failure RESETs the key (§4.3).
func (m *StateMachine) Begin(planNodeID ou.PlanNodeID, snapshot Counters) {
	k := m.key(planNodeID)
	if snapshot.PerfReadFailed {
		m.reset(k)
		return
	}
	if len(m.running) >= MapCapacity {
		if _, exists := m.running[k]; !exists {
			m.sink.Drop(k, fmt.Sprintf("%s: running_metrics map full", ouerrors.ErrCapacityExhausted))
			return
		}
	}
	m.running[k] = runningEntry{
		metrics:  ou.ResourceMetrics{StartTime: m.clock(), PID: 0, CPUID: 0},
		snapshot: snapshot,
	}
}

// End implements the END transition: look up the running snapshot, compute
// deltas, and either move the finished metrics into complete_metrics or
// accumulate into the existing entry. Any negative delta (CPU migration)
// RESETs the key. An END with no running snapshot RESETs and returns
// (§4.3, §8 invariant 2).
func (m *StateMachine) End(planNodeID ou.PlanNodeID, end Counters, cpuID int32, pid int32) {
	k := m.key(planNodeID)
	entry, ok := m.running[k]
	if !ok {
		m.reset(k)
		m.sink.Drop(k, fmt.Sprintf("%s: END without a running snapshot", ouerrors.ErrProtocolViolation))
		return
	}

	finished := entry.metrics
	finished.EndTime = m.clock()
	finished.ElapsedUs = finished.EndTime - finished.StartTime
	finished.CPUID = cpuID
	finished.PID = pid

	ok1, d1 := deltaOK(entry.snapshot.CPUCycles, end.CPUCycles)
	ok2, d2 := deltaOK(entry.snapshot.Instructions, end.Instructions)
	ok3, d3 := deltaOK(entry.snapshot.CacheReferences, end.CacheReferences)
	ok4, d4 := deltaOK(entry.snapshot.CacheMisses, end.CacheMisses)
	ok5, d5 := deltaOK(entry.snapshot.RefCPUCycles, end.RefCPUCycles)
	ok6, d6 := deltaOK(entry.snapshot.DiskBytesRead, end.DiskBytesRead)
	ok7, d7 := deltaOK(entry.snapshot.DiskBytesWritten, end.DiskBytesWritten)
	ok8, d8 := deltaOK(entry.snapshot.NetworkBytesRead, end.NetworkBytesRead)
	ok9, d9 := deltaOK(entry.snapshot.NetworkBytesWritten, end.NetworkBytesWritten)

	if end.PerfReadFailed || !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9) {
		m.reset(k)
		m.sink.Drop(k, fmt.Sprintf("%s: negative metric delta (likely CPU migration)", ouerrors.ErrTransient))
		return
	}

	finished.CPUCycles = d1
	finished.Instructions = d2
	finished.CacheReferences = d3
	finished.CacheMisses = d4
	finished.RefCPUCycles = d5
	finished.DiskBytesRead = d6
	finished.DiskBytesWritten = d7
	finished.NetworkBytesRead = d8
	finished.NetworkBytesWritten = d9

	if existing, ok := m.complete[k]; ok {
		ou.Accumulate(&existing, finished)
		m.complete[k] = existing
	} else {
		if len(m.complete) >= MapCapacity {
			delete(m.running, k)
			m.sink.Drop(k, fmt.Sprintf("%s: complete_metrics map full", ouerrors.ErrCapacityExhausted))
			return
		}
		m.complete[k] = finished
	}
	delete(m.running, k)
}

func deltaOK(start, end int64) (bool, int64) {
	d, ok := delta(end, start)
	return ok, d
}

// FeaturesEvent implements the FEATURES transition: scratch-copy the
// feature payload into <OU>_features[plan_node_id]. Unlike running_metrics
// and complete_metrics, this map is keyed by plan_node_id alone, since a
// single plan node never runs FEATURES for two OUs at once.
func (m *StateMachine) FeaturesEvent(planNodeID ou.PlanNodeID, features Features) {
	if len(m.features) >= MapCapacity {
		if _, exists := m.features[planNodeID]; !exists {
			m.sink.Drop(m.key(planNodeID), fmt.Sprintf("%s: features map full", ouerrors.ErrCapacityExhausted))
			return
		}
	}
	m.features[planNodeID] = features
}

// Flush implements the FLUSH transition: if either the features or the
// completed metrics are absent, RESET and discard (§8 invariant 1,
// scenario S3). Otherwise assemble the output record, publish it, and
// RESET the key.
func (m *StateMachine) Flush(planNodeID ou.PlanNodeID, pid int32) {
	k := m.key(planNodeID)
	features, hasFeatures := m.features[planNodeID]
	metrics, hasMetrics := m.complete[k]
	if !hasFeatures || !hasMetrics {
		m.reset(k)
		m.sink.Drop(k, fmt.Sprintf("%s: FLUSH without matched features+metrics", ouerrors.ErrProtocolViolation))
		return
	}

	metrics.PID = pid
	m.sink.Publish(Output{
		OUIndex:  m.ouIndex,
		PID:      pid,
		Features: features,
		Metrics:  metrics,
	})
	m.reset(k)
}

// reset implements the RESET action: delete this key's entries from all
// three maps (§4.3, §8 invariant 3).
func (m *StateMachine) reset(k ou.Key) {
	delete(m.running, k)
	delete(m.complete, k)
	delete(m.features, k.PlanNodeID)
}

// Reset is the exported form, for protocol-violation handling driven by
// callers outside this package (e.g. a nested BEGIN for an
// already-outstanding key).
func (m *StateMachine) Reset(planNodeID ou.PlanNodeID) {
	m.reset(m.key(planNodeID))
}

// HasRunning reports whether planNodeID currently has an outstanding
// BEGIN, used to detect the "nested BEGIN for same key" protocol
// violation before calling Begin again.
func (m *StateMachine) HasRunning(planNodeID ou.PlanNodeID) bool {
	_, ok := m.running[m.key(planNodeID)]
	return ok
}
