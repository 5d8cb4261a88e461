// Package sink defines the coordinator's pluggable output interface (§6:
// "the coordinator must support swapping the output sink without touching
// the collector"). The concrete sinks live in other packages.
package sink

import (
	"github.com/cmu-db/oucore/internal/collector"
)

// Sink is re-exported from collector.Sink so coordinator code depends on
// one name for "the thing records get published to", whether that is an
// in-memory sink under test, the CSV reference sink, or the
// internal-table sink (output.TableSink).
type Sink = collector.Sink
