// Package simulate is a pure-Go, dependency-free engine driving
// collector.StateMachine with injected fake clocks and counters. It gives
// the same transition semantics as internal/collector/bpf without
// requiring kernel privileges, and is what every test in this module (and
// `oucollectord -simulate`) drives.
package simulate

import (
	"fmt"
	"sync"

	"github.com/cmu-db/oucore/internal/collector"
	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/ouerrors"
)

// MemorySink is an in-memory collector.Sink recording every published
// record and every drop, for assertions in tests.
type MemorySink struct {
	mu        sync.Mutex
	Published []collector.Output
	Drops     []DropRecord
}

// DropRecord is one recorded drop, with the reason the protocol gave.
type DropRecord struct {
	Key    ou.Key
	Reason string
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(o collector.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Published = append(s.Published, o)
}

func (s *MemorySink) Drop(key ou.Key, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Drops = append(s.Drops, DropRecord{Key: key, Reason: reason})
}

// DropCount returns the number of recorded drops, matching the drop
// counter the coordinator exports (§7).
func (s *MemorySink) DropCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Drops)
}

// Clock is an injectable, monotonically-advanceable microsecond clock,
// standing in for the real (bpf_ktime_get_ns() >> 10) sample (§
// 4.3).
type Clock struct {
	us int64
}

// Now returns the current simulated time in microseconds.
func (c *Clock) Now() int64 {
	return c.us
}

// Advance moves the clock forward by deltaUs microseconds and returns the
// new time.
func (c *Clock) Advance(deltaUs int64) int64 {
	c.us += deltaUs
	return c.us
}

// Engine wires one collector.StateMachine per OU to a shared Clock and
// sink, and exposes the BEGIN/END/FEATURES/FLUSH entry points a real
// tracepoint dispatch loop would call.
type Engine struct {
	Clock *Clock
	// Sink is the MemorySink NewEngine creates, non-nil only when no
	// external sink was supplied via NewEngineWithSink - tests and
	// -simulate's standalone demo mode read Sink.Published/Sink.Drops
	// directly. When an external sink drives production output (the
	// router, in oucollectord's -simulate mode), Sink is nil and sink
	// holds that external collector.Sink instead.
	Sink     *MemorySink
	sink     collector.Sink
	machines map[ou.Index]*collector.StateMachine
}

// NewEngine returns an engine backed by its own MemorySink, ready to drive
// machines for the given OU indices - the standalone, assertable form used
// by this package's own tests and by callers with no router/sink of their
// own to wire in.
func NewEngine(ouIndices ...ou.Index) *Engine {
	memSink := NewMemorySink()
	return newEngine(memSink, memSink, ouIndices)
}

// NewEngineWithSink returns an engine that publishes directly to sink
// instead of an internal MemorySink, so a caller already holding a
// production collector.Sink (e.g. oucollectord's router) can drive the
// same BEGIN/END/FEATURES/FLUSH state machine -simulate mode exercises
// without an extra, disconnected copy of the output path.
func NewEngineWithSink(sink collector.Sink, ouIndices ...ou.Index) *Engine {
	return newEngine(nil, sink, ouIndices)
}

func newEngine(memSink *MemorySink, sink collector.Sink, ouIndices []ou.Index) *Engine {
	clock := &Clock{}
	e := &Engine{Clock: clock, Sink: memSink, sink: sink, machines: make(map[ou.Index]*collector.StateMachine)}
	for _, idx := range ouIndices {
		e.machines[idx] = collector.NewStateMachine(idx, sink, clock.Now)
	}
	return e
}

func (e *Engine) machine(ouIndex ou.Index) *collector.StateMachine {
	m, ok := e.machines[ouIndex]
	if !ok {
		m = collector.NewStateMachine(ouIndex, e.sink, e.Clock.Now)
		e.machines[ouIndex] = m
	}
	return m
}

// Begin fires a BEGIN event. counters is the snapshot to record; callers
// drive the clock externally via e.Clock.Advance between calls to model
// elapsed wall time.
func (e *Engine) Begin(ouIndex ou.Index, planNodeID ou.PlanNodeID, counters collector.Counters) {
	m := e.machine(ouIndex)
	if m.HasRunning(planNodeID) {
		e.sink.Drop(ou.Key{OUIndex: ouIndex, PlanNodeID: planNodeID},
			fmt.Sprintf("%s: nested BEGIN for an already-outstanding key", ouerrors.ErrProtocolViolation))
		m.Reset(planNodeID)
	}
	m.Begin(planNodeID, counters)
}

// End fires an END event.
func (e *Engine) End(ouIndex ou.Index, planNodeID ou.PlanNodeID, counters collector.Counters, cpuID, pid int32) {
	e.machine(ouIndex).End(planNodeID, counters, cpuID, pid)
}

// Features fires a FEATURES event.
func (e *Engine) Features(ouIndex ou.Index, planNodeID ou.PlanNodeID, fields map[string]any) {
	e.machine(ouIndex).FeaturesEvent(planNodeID, collector.Features{PlanNodeID: planNodeID, Fields: fields})
}

// Flush fires a FLUSH event.
func (e *Engine) Flush(ouIndex ou.Index, planNodeID ou.PlanNodeID, pid int32) {
	e.machine(ouIndex).Flush(planNodeID, pid)
}
