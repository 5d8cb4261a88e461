// Package bpf is the real-attach path for the kernel collector (§
// 4.3): it loads a per-OU compiled BPF object, opens its ring buffer, and
// feeds decoded events into a collector.StateMachine. Everything here is
// driven by github.com/cilium/ebpf rather than a cgo libbpf binding, to
// stay in pure Go.
//
// Tests exercise internal/collector/simulate instead - loading real BPF
// objects requires root and a kernel with BTF, neither of which is
// available in CI for this module.
package bpf

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/pkg/errors"

	"github.com/cmu-db/oucore/internal/collector"
	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/ouerrors"
	"github.com/cmu-db/oucore/internal/telemetrylog"
)

// EventKind mirrors the one-byte discriminant the generated BPF program
// writes as the first field of every ring buffer record (§6: BEGIN
// / END / FEATURES / FLUSH).
type EventKind uint8

const (
	EventBegin EventKind = iota
	EventEnd
	EventFeatures
	EventFlush
)

// rawEventHeader is the fixed-size prefix every ring buffer record starts
// with: kind, plan_node_id, pid, cpu_id. Event-specific payload bytes
// follow and are decoded per kind by Attachment.dispatch.
type rawEventHeader struct {
	Kind       EventKind
	_          [3]byte // alignment padding, matches the generated C struct
	PlanNodeID int32
	PID        int32
	CPUID      int32
}

const rawEventHeaderSize = 16

// Attachment is one OU's live BPF wiring: the loaded collection, its
// uprobe/USDT links, and the ring buffer reader draining events into a
// StateMachine.
type Attachment struct {
	ouIndex         ou.Index
	hasClientSocket bool
	coll            *ebpf.Collection
	links           []link.Link
	reader          *ringbuf.Reader
	machine         *collector.StateMachine
	logger          *telemetrylog.Logger
}

// LoadOptions names the generated BPF object and program for one OU, as
// emitted by internal/coordinator/codegen.
type LoadOptions struct {
	OUIndex    ou.Index
	ObjectPath string
	ProgramName string
	MapName     string
	TargetPID   int
	Binary      string // path to the postgres binary carrying the USDT probes
	// HasClientSocket mirrors ou.Schema.HasClientSocket: when true, BEGIN/
	// END counter payloads carry the two trailing per-socket TCP counters
	// codegen only emits for client-socket OUs.
	HasClientSocket bool
}

// Attach loads the BPF object, finds its ring buffer map, attaches its
// program as a uprobe on the symbol named opts.ProgramName in opts.Binary
// (limited to opts.TargetPID), and returns a live
// Attachment. Callers must call Run to start draining events, and Close to
// tear everything down (§5: attach/detach lifecycle).
func Attach(opts LoadOptions, sink collector.Sink, clock func() int64, logger *telemetrylog.Logger) (*Attachment, error) {
	spec, err := ebpf.LoadCollectionSpec(opts.ObjectPath)
	if err != nil {
		return nil, errors.Wrapf(ouerrors.ErrAttach, "load collection spec %s: %v", opts.ObjectPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, errors.Wrapf(ouerrors.ErrAttach, "instantiate collection: %v", err)
	}

	m, ok := coll.Maps[opts.MapName]
	if !ok {
		coll.Close()
		return nil, errors.Wrapf(ouerrors.ErrAttach, "map %q not found in %s", opts.MapName, opts.ObjectPath)
	}

	reader, err := ringbuf.NewReader(m)
	if err != nil {
		coll.Close()
		return nil, errors.Wrapf(ouerrors.ErrAttach, "open ring buffer %q: %v", opts.MapName, err)
	}

	prog, ok := coll.Programs[opts.ProgramName]
	if !ok {
		reader.Close()
		coll.Close()
		return nil, errors.Wrapf(ouerrors.ErrAttach, "program %q not found in %s", opts.ProgramName, opts.ObjectPath)
	}

	ex, err := link.OpenExecutable(opts.Binary)
	if err != nil {
		reader.Close()
		coll.Close()
		return nil, errors.Wrapf(ouerrors.ErrAttach, "open executable %s: %v", opts.Binary, err)
	}

	l, err := ex.Uprobe(opts.ProgramName, prog, &link.UprobeOptions{PID: opts.TargetPID})
	if err != nil {
		reader.Close()
		coll.Close()
		return nil, errors.Wrapf(ouerrors.ErrAttach, "attach uprobe for %s: %v", opts.ProgramName, err)
	}

	return &Attachment{
		ouIndex:         opts.OUIndex,
		hasClientSocket: opts.HasClientSocket,
		coll:            coll,
		links:           []link.Link{l},
		reader:          reader,
		machine:         collector.NewStateMachine(opts.OUIndex, sink, clock),
		logger:          logger,
	}, nil
}

// Run drains the ring buffer until it is closed, decoding each record and
// dispatching it to the underlying StateMachine. Intended to run in its own
// goroutine, one per attached OU (§5).
func (a *Attachment) Run() error {
	for {
		rec, err := a.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			if a.logger != nil {
				a.logger.PrintWarning("ring buffer read for OU %d failed: %s", a.ouIndex, err)
			}
			continue
		}
		if err := a.dispatch(rec.RawSample); err != nil && a.logger != nil {
			a.logger.PrintWarning("ring buffer decode for OU %d failed: %s", a.ouIndex, err)
		}
	}
}

func (a *Attachment) dispatch(raw []byte) error {
	if len(raw) < rawEventHeaderSize {
		return fmt.Errorf("short record: %d bytes", len(raw))
	}
	kind := EventKind(raw[0])
	planNodeID := ou.PlanNodeID(int32(binary.LittleEndian.Uint32(raw[4:8])))
	pid := int32(binary.LittleEndian.Uint32(raw[8:12]))
	cpuID := int32(binary.LittleEndian.Uint32(raw[12:16]))
	payload := raw[rawEventHeaderSize:]

	switch kind {
	case EventBegin:
		c, err := decodeCounters(payload, a.hasClientSocket)
		if err != nil {
			return err
		}
		a.machine.Begin(planNodeID, c)
	case EventEnd:
		c, err := decodeCounters(payload, a.hasClientSocket)
		if err != nil {
			return err
		}
		a.machine.End(planNodeID, c, cpuID, pid)
	case EventFeatures:
		fields, err := decodeFeatures(payload)
		if err != nil {
			return err
		}
		a.machine.FeaturesEvent(planNodeID, collector.Features{PlanNodeID: planNodeID, Fields: fields})
	case EventFlush:
		a.machine.Flush(planNodeID, pid)
	default:
		return fmt.Errorf("unknown event kind %d", kind)
	}
	return nil
}

// decodeCounters unpacks the seven always-present perf/IO int64 counters
// plus the PerfReadFailed flag, laid out by the generated BPF program
// exactly as collector.Counters declares them. The two trailing per-socket
// TCP counters (network_bytes_read, network_bytes_written) are only part
// of the payload - and only decoded - for OUs codegen built with
// HasClientSocket set; other OUs' generated resource_metrics struct never
// allocates the bytes, so reading them unconditionally would misread the
// PerfReadFailed flag that immediately follows.
func decodeCounters(payload []byte, hasClientSocket bool) (collector.Counters, error) {
	fixedFields := 7
	if hasClientSocket {
		fixedFields = 9
	}
	want := fixedFields*8 + 1
	if len(payload) < want {
		return collector.Counters{}, fmt.Errorf("short counters payload: %d bytes, want %d", len(payload), want)
	}
	read := func(i int) int64 {
		return int64(binary.LittleEndian.Uint64(payload[i*8 : i*8+8]))
	}
	c := collector.Counters{
		CPUCycles:        read(0),
		Instructions:     read(1),
		CacheReferences:  read(2),
		CacheMisses:      read(3),
		RefCPUCycles:     read(4),
		DiskBytesRead:    read(5),
		DiskBytesWritten: read(6),
	}
	if hasClientSocket {
		c.NetworkBytesRead = read(7)
		c.NetworkBytesWritten = read(8)
	}
	c.PerfReadFailed = payload[fixedFields*8] != 0
	return c, nil
}

// decodeFeatures is the only feature decoder dispatch uses: it treats the
// payload as opaque and records only its length under "raw_len". Feature
// fields are not decoded against the OU's schema.
func decodeFeatures(payload []byte) (map[string]any, error) {
	return map[string]any{"raw_len": len(payload)}, nil
}

// Close detaches every link, closes the ring buffer reader, and unloads
// the collection (§5 detach).
func (a *Attachment) Close() error {
	var firstErr error
	if err := a.reader.Close(); err != nil {
		firstErr = err
	}
	for _, l := range a.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.coll.Close()
	return firstErr
}

// objectExists reports whether a file exists at path.
func objectExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
