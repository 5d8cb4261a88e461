// Package fabric is the tracepoint fabric (§4.1): a near-zero-cost
// emission surface for instrumented call sites, a semaphore that gates
// whether a marker's body runs, and a sampling gate for executor markers.
package fabric

import (
	"fmt"

	"github.com/cmu-db/oucore/internal/ou"
)

// Arg is one pointer-width payload slot of a marker invocation.
type Arg struct {
	Name  string
	Value any
}

// Observer receives a fired marker. In production this is the kernel
// collector's USDT probe; in tests and the -simulate path it is whatever
// internal/collector/simulate registers.
type Observer func(name string, ouIndex ou.Index, planNodeID ou.PlanNodeID, args []Arg)

// Marker is a named emission point taking at most ou.MaxMarkerArgs payload
// slots. Firing a Marker with no Observer attached costs one slice build
// and one nil-check; there is no dynamic dispatch until an Observer exists.
type Marker struct {
	Name string
}

// Fire evaluates nothing itself - callers must pre-evaluate args left to
// right before calling Fire, since marker argument evaluation order is
// specified but side effects in argument expressions are not guaranteed to
// run (§4.1 invariant).
func (m Marker) Fire(observer Observer, ouIndex ou.Index, planNodeID ou.PlanNodeID, args ...Arg) error {
	if len(args) > ou.MaxMarkerArgs {
		return fmt.Errorf("fabric: marker %s passed %d args, exceeds the %d-slot budget", m.Name, len(args), ou.MaxMarkerArgs)
	}
	if observer == nil {
		return nil
	}
	observer(m.Name, ouIndex, planNodeID, args)
	return nil
}

// ManualWrap is the set of node kinds whose marker signatures deviate from
// the standard <Node>_begin/_end/_features/_flush convention and so must be
// wrapped by hand rather than through the generic executor wrapper
// (§4.1: "bitmap-* / subplan / hash / hash-join").
var ManualWrap = map[string]bool{
	"bitmap_and":       true,
	"bitmap_or":        true,
	"bitmap_index_scan": true,
	"bitmap_heap_scan":  true,
	"subplan":          true,
	"hash":             true,
	"hash_join":        true,
}
