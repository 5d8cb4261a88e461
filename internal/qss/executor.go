package qss

import (
	"context"
	"time"

	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/ouconfig"
	"github.com/cmu-db/oucore/internal/qss/store"
	"github.com/cmu-db/oucore/internal/telemetrylog"
)

// NodeTags is the documented set of plan-node tags whose instrumentation
// blocks get replaced with counter blocks at ExecutorStart (§4.2):
// index/index-only scan, modify-table, lock-rows, nested-loop, aggregate,
// bitmap-index/heap scan.
var NodeTags = map[string]bool{
	"IndexScan":       true,
	"IndexOnlyScan":   true,
	"ModifyTable":     true,
	"LockRows":        true,
	"NestedLoop":      true,
	"Aggregate":       true,
	"BitmapIndexScan": true,
	"BitmapHeapScan":  true,
}

// QueryDesc is the minimal slice of the database's own query descriptor
// this package needs: identity for the plans/stats rows plus the plan
// tree to walk for counter-block replacement.
type QueryDesc struct {
	QueryID    int64
	Generation int32
	DBID       int32
	PID        int32
	PlanNodes  []PlanNode
}

// PlanNode is the minimal per-node shape ExecutorStart walks: enough to
// decide whether this node tag gets a counter block, and to carry whatever
// instrumentation slot the database attached.
type PlanNode struct {
	PlanNodeID      ou.PlanNodeID
	Tag             string
	Instrumentation any
}

// Pipeline is the in-server counter pipeline: the capability-table hooks
// of §9 ("Dynamic dispatch via function-pointer hooks") - grounded in
// original_source/cmudb/qss/qss.c's _PG_init/_PG_fini hook-swap pattern.
// ExecutorStart and ExecutorEnd chain to PrevExecutorStart and
// PrevExecutorEnd when set; AllocCounters does not call
// PrevAllocInstrumentation.
type Pipeline struct {
	Config *ouconfig.Config
	Store  *store.Store
	Logger *telemetrylog.Logger

	ctx ExecutionContext

	// PrevAllocInstrumentation, PrevExecutorStart, and PrevExecutorEnd hold
	// whatever hook occupied each slot before this Pipeline was installed
	// (§9). Pipeline has no install or teardown method that restores them.
	PrevAllocInstrumentation func(ou string) any
	PrevExecutorStart        func(qd *QueryDesc, eflags int)
	PrevExecutorEnd          func(qd *QueryDesc)
}

// AllocCounters allocates a counter block for the current frame, or
// returns nil when capture is disabled (§4.2 operation
// alloc_counters). The returned handle is already attached to the
// current frame's counter list.
func (p *Pipeline) AllocCounters(ouName string, planNodeID ou.PlanNodeID) *ou.CounterBlock {
	if !p.Config.CaptureEnabled || !p.Config.CaptureExecStats {
		return nil
	}
	f := p.ctx.Top()
	if f == nil {
		return nil
	}
	b := ou.NewCounterBlock(planNodeID)
	f.AddCounterBlock(b)
	return b
}

// AddCounter is a non-blocking, null-safe increment (§4.2).
func AddCounter(b *ou.CounterBlock, i int, value float64) {
	b.Add(i, value)
}

// ActiveAddCounter increments counter i of the innermost frame's most
// recently allocated counter block for planNodeID, or is a no-op if none
// matches - the "active" convenience wrapper referenced by §4.2.
func (p *Pipeline) ActiveAddCounter(planNodeID ou.PlanNodeID, i int, value float64) {
	f := p.ctx.Top()
	if f == nil {
		return
	}
	for j := len(f.Counters) - 1; j >= 0; j-- {
		if f.Counters[j].PlanNodeID == planNodeID {
			f.Counters[j].Add(i, value)
			return
		}
	}
}

// ExecutorStart implements §4.2: push a frame, record the
// statement start time, and walk the plan tree replacing instrumentation
// blocks with counter blocks for NodeTags.
func (p *Pipeline) ExecutorStart(qd *QueryDesc, eflags int) {
	if p.PrevExecutorStart != nil {
		p.PrevExecutorStart(qd, eflags)
	}
	if !p.Config.CaptureEnabled {
		return
	}

	f := p.ctx.Push(time.Now())

	if p.Config.CaptureExecStats {
		for i := range qd.PlanNodes {
			node := &qd.PlanNodes[i]
			if !NodeTags[node.Tag] {
				continue
			}
			b := ou.NewCounterBlock(node.PlanNodeID)
			node.Instrumentation = b
			f.AddCounterBlock(b)
		}
	}
}

// ExecutorEnd implements §4.2: if this frame is outermost (or
// capture_nested is enabled), compute the final elapsed time, upsert the
// plans row (its features_text rendered by FormatPlanText), append stats
// rows, then pop the frame. The frame always pops, regardless of whether
// it persists - §8 property 5.
func (p *Pipeline) ExecutorEnd(ctx context.Context, qd *QueryDesc) error {
	if !p.Config.CaptureEnabled {
		if p.PrevExecutorEnd != nil {
			p.PrevExecutorEnd(qd)
		}
		return nil
	}

	f := p.ctx.Top()
	if f == nil {
		if p.PrevExecutorEnd != nil {
			p.PrevExecutorEnd(qd)
		}
		return nil
	}

	shouldPersist := p.ctx.IsOutermost(f) || p.Config.CaptureNested
	now := time.Now()

	if shouldPersist && p.Store != nil {
		if err := p.Store.UpsertPlan(ctx, store.PlanRow{
			QueryID:      qd.QueryID,
			Generation:   qd.Generation,
			DBID:         qd.DBID,
			PID:          qd.PID,
			Timestamp:    now,
			FeaturesText: FormatPlanText(qd),
		}); err != nil {
			p.ctx.Pop()
			return err
		}

		rows := make([]store.StatRow, 0, len(f.Counters)+1)
		for _, b := range f.Counters {
			rows = append(rows, store.StatRow{
				QueryID:    qd.QueryID,
				DBID:       qd.DBID,
				PID:        qd.PID,
				Timestamp:  now,
				PlanNodeID: b.PlanNodeID,
				Counters:   b.Counters,
			})
		}
		if p.Config.CaptureQueryRuntime {
			rows = append(rows, store.StatRow{
				QueryID:    qd.QueryID,
				DBID:       qd.DBID,
				PID:        qd.PID,
				Timestamp:  now,
				PlanNodeID: ou.Independent,
				ElapsedUs:  float64(now.Sub(f.StatementStart).Microseconds()),
				Comment:    "query",
			})
		}
		if err := p.Store.InsertStats(ctx, rows); err != nil {
			p.ctx.Pop()
			return err
		}
	}

	p.ctx.Pop()
	if p.PrevExecutorEnd != nil {
		p.PrevExecutorEnd(qd)
	}
	return nil
}

// Depth exposes the current frame-stack depth, mainly for tests asserting
// strict nesting (§8 property 5).
func (p *Pipeline) Depth() int {
	return p.ctx.Depth()
}
