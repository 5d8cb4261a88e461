package simulate

import (
	"testing"

	"github.com/cmu-db/oucore/internal/collector"
	"github.com/cmu-db/oucore/internal/ou"
)

const seqScan ou.Index = 0

func steadyCounters(cycles int64) collector.Counters {
	return collector.Counters{
		CPUCycles:           cycles,
		Instructions:        cycles * 2,
		CacheReferences:     cycles / 4,
		CacheMisses:         cycles / 8,
		RefCPUCycles:        cycles,
		DiskBytesRead:       cycles * 10,
		DiskBytesWritten:    cycles * 5,
		NetworkBytesRead:    0,
		NetworkBytesWritten: 0,
	}
}

// TestNewEngineWithSinkPublishesToExternalSink asserts an Engine built
// with NewEngineWithSink delivers records to the supplied sink instead of
// an internal MemorySink - the wiring oucollectord's -simulate mode relies
// on to drive the real router/output path.
func TestNewEngineWithSinkPublishesToExternalSink(t *testing.T) {
	external := NewMemorySink()
	e := NewEngineWithSink(external, seqScan)
	if e.Sink != nil {
		t.Fatal("NewEngineWithSink should leave Sink nil; the caller's sink is authoritative")
	}

	e.Begin(seqScan, 1, steadyCounters(0))
	e.Clock.Advance(100)
	e.Features(seqScan, 1, map[string]any{"relid": 1})
	e.End(seqScan, 1, steadyCounters(1000), 0, 42)
	e.Flush(seqScan, 1, 42)

	if len(external.Published) != 1 {
		t.Fatalf("external sink got %d published records, want 1", len(external.Published))
	}
}

// S1 - single tuple SeqScan.
func TestSingleTupleSeqScan(t *testing.T) {
	e := NewEngine(seqScan)

	e.Begin(seqScan, 7, steadyCounters(0))
	e.Clock.Advance(100)
	e.Features(seqScan, 7, map[string]any{"relid": 100})
	e.End(seqScan, 7, steadyCounters(1000), 2, 42)
	e.Flush(seqScan, 7, 42)

	if len(e.Sink.Published) != 1 {
		t.Fatalf("got %d published records, want 1", len(e.Sink.Published))
	}
	rec := e.Sink.Published[0]
	if rec.OUIndex != seqScan {
		t.Errorf("OUIndex = %d, want %d", rec.OUIndex, seqScan)
	}
	if rec.Features.Fields["relid"] != 100 {
		t.Errorf("features[relid] = %v, want 100", rec.Features.Fields["relid"])
	}
	if rec.Metrics.ElapsedUs != 100 {
		t.Errorf("ElapsedUs = %d, want 100", rec.Metrics.ElapsedUs)
	}
	if rec.Metrics.CPUCycles < 0 {
		t.Errorf("CPUCycles = %d, want >= 0", rec.Metrics.CPUCycles)
	}
}

// S2 - accumulation across 3 BEGIN/END pairs.
func TestAccumulationAcrossThreePairs(t *testing.T) {
	e := NewEngine(seqScan)

	e.Begin(seqScan, 7, steadyCounters(0))
	t0 := e.Clock.Now()
	e.Clock.Advance(10)
	e.End(seqScan, 7, steadyCounters(10), 1, 42)

	e.Begin(seqScan, 7, steadyCounters(10))
	e.Clock.Advance(20)
	e.End(seqScan, 7, steadyCounters(30), 1, 42)

	e.Begin(seqScan, 7, steadyCounters(30))
	e.Clock.Advance(30)
	tLast := e.Clock.Now()
	e.End(seqScan, 7, steadyCounters(60), 5, 42)

	e.Features(seqScan, 7, map[string]any{"relid": 1})
	e.Flush(seqScan, 7, 42)

	if len(e.Sink.Published) != 1 {
		t.Fatalf("got %d published records, want 1", len(e.Sink.Published))
	}
	rec := e.Sink.Published[0]
	if rec.Metrics.Instructions != 120 {
		t.Errorf("Instructions = %d, want 120 (sum of 20+40+60)", rec.Metrics.Instructions)
	}
	if rec.Metrics.StartTime != t0 {
		t.Errorf("StartTime = %d, want first BEGIN's time %d", rec.Metrics.StartTime, t0)
	}
	if rec.Metrics.EndTime != tLast {
		t.Errorf("EndTime = %d, want last END's time %d", rec.Metrics.EndTime, tLast)
	}
	if rec.Metrics.CPUID != 1 {
		t.Errorf("CPUID = %d, want 1 (cpu_id of the first END)", rec.Metrics.CPUID)
	}
}

// S3 - lost FEATURES: BEGIN END FLUSH without FEATURES.
func TestLostFeatures(t *testing.T) {
	e := NewEngine(seqScan)

	e.Begin(seqScan, 7, steadyCounters(0))
	e.Clock.Advance(5)
	e.End(seqScan, 7, steadyCounters(10), 0, 42)
	e.Flush(seqScan, 7, 42)

	if len(e.Sink.Published) != 0 {
		t.Fatalf("got %d published records, want 0", len(e.Sink.Published))
	}
	if e.Sink.DropCount() != 1 {
		t.Fatalf("DropCount() = %d, want 1", e.Sink.DropCount())
	}
}

// S4 - counter overflow on CPU migration: normalized END read is less than
// the BEGIN snapshot, so the delta would be negative.
func TestCounterOverflowOnMigrationResets(t *testing.T) {
	e := NewEngine(seqScan)

	e.Begin(seqScan, 7, steadyCounters(1000))
	e.Clock.Advance(5)
	e.End(seqScan, 7, steadyCounters(10), 3, 42) // fewer cycles than the snapshot
	e.Features(seqScan, 7, map[string]any{"relid": 1})
	e.Flush(seqScan, 7, 42)

	if len(e.Sink.Published) != 0 {
		t.Fatalf("got %d published records, want 0 after a negative delta", len(e.Sink.Published))
	}
	if e.Sink.DropCount() == 0 {
		t.Fatalf("expected at least one drop after a negative delta")
	}
}

// S6-equivalent at the state-machine level: a PerfReadFailed BEGIN resets
// the key and produces no record even with a subsequent END/FEATURES/FLUSH.
func TestPerfReadFailureAtBeginResets(t *testing.T) {
	e := NewEngine(seqScan)

	e.Begin(seqScan, 7, collector.Counters{PerfReadFailed: true})
	e.End(seqScan, 7, steadyCounters(10), 0, 42)
	e.Features(seqScan, 7, map[string]any{"relid": 1})
	e.Flush(seqScan, 7, 42)

	if len(e.Sink.Published) != 0 {
		t.Fatalf("got %d published records, want 0 after a perf read failure at BEGIN", len(e.Sink.Published))
	}
}

// Invariant 2: end_time >= start_time and every metric delta is >= 0 for
// every emitted record.
func TestEmittedDeltasAreNeverNegative(t *testing.T) {
	e := NewEngine(seqScan)

	e.Begin(seqScan, 9, steadyCounters(0))
	e.Clock.Advance(7)
	e.End(seqScan, 9, steadyCounters(500), 0, 1)
	e.Features(seqScan, 9, map[string]any{"relid": 2})
	e.Flush(seqScan, 9, 1)

	rec := e.Sink.Published[0]
	m := rec.Metrics
	if m.EndTime < m.StartTime {
		t.Errorf("EndTime %d < StartTime %d", m.EndTime, m.StartTime)
	}
	deltas := []int64{m.CPUCycles, m.Instructions, m.CacheReferences, m.CacheMisses, m.RefCPUCycles,
		m.DiskBytesRead, m.DiskBytesWritten, m.NetworkBytesRead, m.NetworkBytesWritten}
	for i, d := range deltas {
		if d < 0 {
			t.Errorf("delta[%d] = %d, want >= 0", i, d)
		}
	}
}

// Invariant 3: after a RESET, no trace of the key remains in any of the
// three maps - observed indirectly via a clean re-BEGIN producing a fresh
// record unaffected by the reset attempt.
func TestResetLeavesNoTraceAfterMigration(t *testing.T) {
	e := NewEngine(seqScan)

	e.Begin(seqScan, 7, steadyCounters(1000))
	e.End(seqScan, 7, steadyCounters(10), 0, 42) // triggers RESET via negative delta

	// A clean run on the same key should succeed as if nothing happened.
	e.Begin(seqScan, 7, steadyCounters(0))
	e.Clock.Advance(3)
	e.End(seqScan, 7, steadyCounters(50), 0, 42)
	e.Features(seqScan, 7, map[string]any{"relid": 3})
	e.Flush(seqScan, 7, 42)

	if len(e.Sink.Published) != 1 {
		t.Fatalf("got %d published records, want 1 from the clean run after reset", len(e.Sink.Published))
	}
}
