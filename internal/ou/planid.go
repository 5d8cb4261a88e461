// Package ou defines the operating-unit data model shared by every layer of
// the telemetry core: the feature/metric schema, plan-node identity, and the
// collector state key.
package ou

// PlanNodeID identifies a plan node within one query execution. Negative ids
// are reserved for non-plan instrumentation.
type PlanNodeID int32

const (
	// Invalid marks a plan-node id that was never assigned.
	Invalid PlanNodeID = -1
	// RemoteReceiver marks instrumentation attached to a remote-receiver node.
	RemoteReceiver PlanNodeID = -2
	// Independent marks instrumentation that isn't attached to any plan node.
	Independent PlanNodeID = -3
	// IndependentInstrIDStart is the first id handed out by a frame's
	// descending allocator for non-plan instrumentation (e.g. triggers).
	// The allocator counts down from here, never from Independent itself -
	// see the SPEC_FULL.md Open Questions entry on plan_separate_instr_id.
	IndependentInstrIDStart PlanNodeID = Independent - 1
)
