package ou

// Key packs (ou_index, plan_node_id) into a single comparable value, the
// collector state key of §3. Uniqueness invariant: within one
// backend, at most one BEGIN is outstanding per key at any moment.
type Key struct {
	OUIndex    Index
	PlanNodeID PlanNodeID
}

// Pack renders the key as the 64-bit value described by §3: the OU
// index in the high 32 bits, the plan-node id in the low 32 bits.
func (k Key) Pack() uint64 {
	return uint64(uint32(k.OUIndex))<<32 | uint64(uint32(k.PlanNodeID))
}

// ResourceMetrics is the fixed, OU-independent metric record of §3,
// sampled at BEGIN (as a snapshot) and END (as a delta), then accumulated
// across repeated BEGIN/END pairs and joined with features at FLUSH.
type ResourceMetrics struct {
	StartTime           int64
	EndTime              int64
	ElapsedUs            int64
	CPUCycles            int64
	Instructions         int64
	CacheReferences      int64
	CacheMisses          int64
	RefCPUCycles         int64
	DiskBytesRead        int64
	DiskBytesWritten     int64
	NetworkBytesRead     int64
	NetworkBytesWritten  int64
	CPUID                int32
	PID                  int32
}

// Accumulate implements the §4.3 END rule for a key that already
// has a complete_metrics entry: lhs keeps its own start_time, cpu_id and
// pid, overwrites end_time from rhs, and sums every other metric.
func Accumulate(lhs *ResourceMetrics, rhs ResourceMetrics) {
	lhs.EndTime = rhs.EndTime
	lhs.ElapsedUs += rhs.ElapsedUs
	lhs.CPUCycles += rhs.CPUCycles
	lhs.Instructions += rhs.Instructions
	lhs.CacheReferences += rhs.CacheReferences
	lhs.CacheMisses += rhs.CacheMisses
	lhs.RefCPUCycles += rhs.RefCPUCycles
	lhs.DiskBytesRead += rhs.DiskBytesRead
	lhs.DiskBytesWritten += rhs.DiskBytesWritten
	lhs.NetworkBytesRead += rhs.NetworkBytesRead
	lhs.NetworkBytesWritten += rhs.NetworkBytesWritten
	// start_time, cpu_id and pid are deliberately left untouched: the
	// finished record keeps the first BEGIN's start time and the first END's
	// cpu_id and pid.
}
