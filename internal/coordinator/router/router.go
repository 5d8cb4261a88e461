// Package router fans published records out to the configured output
// sink over one buffered channel per OU, the Go-channel equivalent of
// original_source/cmudb/tscout/tscout.py's ou_processor_queues plus its
// per-OU processor() goroutine - one process per OU there, one goroutine
// here.
package router

import (
	"sync"

	"github.com/cmu-db/oucore/internal/collector"
	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/telemetrylog"
)

// QueueDepth is the fixed per-OU channel capacity; a full channel means
// the sink is the bottleneck, and Router drops rather than blocking the
// collector goroutine feeding it (§5: "the collector must never
// block on the consumer").
const QueueDepth = 4096

// Router owns one buffered channel per OU and a consumer goroutine
// draining each into the configured sink.
type Router struct {
	sink   collector.Sink
	logger *telemetrylog.Logger

	mu      sync.Mutex
	queues  map[ou.Index]chan collector.Output
	wg      sync.WaitGroup
	closing chan struct{}
}

// New returns a Router publishing into sink.
func New(sink collector.Sink, logger *telemetrylog.Logger) *Router {
	return &Router{
		sink:    sink,
		logger:  logger,
		queues:  make(map[ou.Index]chan collector.Output),
		closing: make(chan struct{}),
	}
}

// queueFor lazily creates and starts the consumer goroutine for ouIndex.
func (r *Router) queueFor(ouIndex ou.Index) chan collector.Output {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[ouIndex]; ok {
		return q
	}
	q := make(chan collector.Output, QueueDepth)
	r.queues[ouIndex] = q
	r.wg.Add(1)
	go r.consume(ouIndex, q)
	return q
}

func (r *Router) consume(ouIndex ou.Index, q chan collector.Output) {
	defer r.wg.Done()
	for {
		select {
		case o, ok := <-q:
			if !ok {
				return
			}
			r.sink.Publish(o)
		case <-r.closing:
			// Drain whatever is already queued before exiting, mirroring
			// tscout.py's processor() poison-pill drain on shutdown.
			for {
				select {
				case o, ok := <-q:
					if !ok {
						return
					}
					r.sink.Publish(o)
				default:
					return
				}
			}
		}
	}
}

// Publish enqueues a completed record for asynchronous publication,
// dropping it (and recording the drop with the sink) if that OU's queue
// is full. Router itself satisfies collector.Sink, so it can be handed
// directly to bpf.Attach or collector/simulate.Engine in place of the
// underlying sink.
func (r *Router) Publish(o collector.Output) {
	q := r.queueFor(o.OUIndex)
	select {
	case q <- o:
	default:
		r.sink.Drop(ou.Key{OUIndex: o.OUIndex, PlanNodeID: o.Features.PlanNodeID}, "router queue full")
		if r.logger != nil {
			r.logger.PrintWarning("router queue full for OU %d, dropping record", o.OUIndex)
		}
	}
}

// Drop is forwarded straight to the sink; drops are not routed through a
// per-OU queue since there is no record payload to buffer.
func (r *Router) Drop(key ou.Key, reason string) {
	r.sink.Drop(key, reason)
}

// Close signals every consumer goroutine to drain and exit, then waits for
// them.
func (r *Router) Close() {
	close(r.closing)
	r.mu.Lock()
	for _, q := range r.queues {
		close(q)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
