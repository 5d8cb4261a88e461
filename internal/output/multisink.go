package output

import (
	"github.com/cmu-db/oucore/internal/collector"
	"github.com/cmu-db/oucore/internal/ou"
)

// MultiSink fans a published record out to every wrapped sink in order, so
// the router can be pointed at more than one output destination at once -
// the CSV reference sink plus TableSink when config.OutputNoisepage is
// true, for instance.
type MultiSink struct {
	sinks []collector.Sink
}

// NewMultiSink returns a Sink that forwards every Publish/Drop call to each
// of sinks in turn.
func NewMultiSink(sinks ...collector.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Publish(o collector.Output) {
	for _, s := range m.sinks {
		s.Publish(o)
	}
}

func (m *MultiSink) Drop(key ou.Key, reason string) {
	for _, s := range m.sinks {
		s.Drop(key, reason)
	}
}
