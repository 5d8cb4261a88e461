package ou

// CounterBlockSignature tags an extended instrumentation record as a QSS
// counter block, so host code can safely downcast the database's generic
// instrumentation type (§3, §9 "Counter-block downcast discipline").
// Absence of the signature is not an error - it means "not ours, ignore".
const CounterBlockSignature uint32 = 0x51535330 // "QSS0"

// CounterBlock is the fixed shape of §3: ten opaque float64
// accumulators, the owning plan-node id, and a signature tag. Counter
// semantics are OU-specific and assigned by convention; this package treats
// them as opaque.
type CounterBlock struct {
	Signature  uint32
	PlanNodeID PlanNodeID
	Counters   [10]float64
}

// NewCounterBlock returns a correctly signed, zeroed counter block for
// planNodeID.
func NewCounterBlock(planNodeID PlanNodeID) *CounterBlock {
	return &CounterBlock{Signature: CounterBlockSignature, PlanNodeID: planNodeID}
}

// Valid reports whether b carries the counter-block signature. Every
// consumer must check this before trusting b's fields.
func (b *CounterBlock) Valid() bool {
	return b != nil && b.Signature == CounterBlockSignature
}

// Add increments counter i by value. It is a no-op on a nil or
// unsigned block, matching the null-safe add_counter/active_add_counter
// helpers of §4.2.
func (b *CounterBlock) Add(i int, value float64) {
	if !b.Valid() || i < 0 || i >= len(b.Counters) {
		return
	}
	b.Counters[i] += value
}

// AsCounterBlock performs the signature-checked downcast of §9:
// it accepts any instrumentation value and returns a *CounterBlock only
// when the signature matches, rejecting foreign instrumentation memory
// silently rather than miscounting it.
func AsCounterBlock(instr any) *CounterBlock {
	b, ok := instr.(*CounterBlock)
	if !ok || !b.Valid() {
		return nil
	}
	return b
}
