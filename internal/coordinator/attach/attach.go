// Package attach implements the coordinator's attach/detach lifecycle
// (§5): a Manager creates or closes a backend's per-OU attachments as
// HandleEvent reports the postmaster forking or reaping it - the Go
// equivalent of original_source/cmudb/tscout/tscout.py's create_collector,
// destroy_collector, and postmaster_event. The Manager does not attach the
// postmaster itself.
package attach

import (
	"sync"
	"time"

	"github.com/cmu-db/oucore/internal/collector/bpf"
	"github.com/cmu-db/oucore/internal/oucache"
	"github.com/cmu-db/oucore/internal/telemetrylog"
)

// duplicateForkWindow bounds how long a just-seen fork event for a pid is
// remembered, so a racing duplicate fork/reap notification pair for the
// same pid (the postmaster instrumentation is not transactional) can't
// attach a second, leaked Collector.
const duplicateForkWindow = 5 * time.Second

// EventKind mirrors the fork_backend/fork_background/reap_backend/
// reap_background discriminant tscout.c's postmaster_events buffer
// carries.
type EventKind int

const (
	EventForkBackend EventKind = iota
	EventForkBackground
	EventReapBackend
	EventReapBackground
)

// PostmasterEvent is one decoded record from the postmaster's own
// tracepoint fabric announcing a child's birth or death.
type PostmasterEvent struct {
	Kind      EventKind
	ChildPID  int32
	SocketFD  int32 // only meaningful for EventForkBackend
}

// Loader attaches a freshly-forked backend's per-OU BPF programs; it is
// the process-local stand-in for tscout.py's collector() function, called
// once per backend pid and returning one Attachment per OU.
type Loader func(pid int32, socketFD int32) ([]*bpf.Attachment, error)

// Manager tracks one set of per-OU attachments per live backend PID,
// creating them on fork and tearing them down on reap.
type Manager struct {
	load   Loader
	logger *telemetrylog.Logger

	mu          sync.Mutex
	attachments map[int32][]*bpf.Attachment
	recentForks *oucache.TTLMap[int32, struct{}]
}

// NewManager returns a Manager that uses load to attach newly-forked
// backends.
func NewManager(load Loader, logger *telemetrylog.Logger) *Manager {
	return &Manager{
		load:        load,
		logger:      logger,
		attachments: make(map[int32][]*bpf.Attachment),
		recentForks: oucache.New[int32, struct{}](duplicateForkWindow, time.Second),
	}
}

// HandleEvent dispatches one postmaster event: fork events attach a fresh
// Collector for the child PID, reap events detach and remove it. Unknown
// child PIDs on a reap event are ignored, matching tscout.py's
// `collector_processes.get(child_pid)` guard.
func (m *Manager) HandleEvent(ev PostmasterEvent) error {
	switch ev.Kind {
	case EventForkBackend, EventForkBackground:
		return m.attachChild(ev.ChildPID, ev.SocketFD)
	case EventReapBackend, EventReapBackground:
		m.detachChild(ev.ChildPID)
		return nil
	default:
		return nil
	}
}

func (m *Manager) attachChild(pid int32, socketFD int32) error {
	if _, dup := m.recentForks.Get(pid); dup {
		if m.logger != nil {
			m.logger.PrintWarning("duplicate fork event for pid %d within %s, ignoring", pid, duplicateForkWindow)
		}
		return nil
	}
	m.recentForks.Put(pid, struct{}{})

	if m.logger != nil {
		m.logger.PrintInfo("postmaster forked pid %d, attaching collector", pid)
	}
	attachments, err := m.load(pid, socketFD)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.attachments[pid] = attachments
	m.mu.Unlock()

	for _, a := range attachments {
		go func(a *bpf.Attachment) {
			if err := a.Run(); err != nil && m.logger != nil {
				m.logger.PrintWarning("collector for pid %d stopped: %s", pid, err)
			}
		}(a)
	}
	return nil
}

func (m *Manager) detachChild(pid int32) {
	m.recentForks.Delete(pid)

	m.mu.Lock()
	attachments, ok := m.attachments[pid]
	delete(m.attachments, pid)
	m.mu.Unlock()

	if !ok {
		return
	}
	if m.logger != nil {
		m.logger.PrintInfo("postmaster reaped pid %d, detaching collector", pid)
	}
	for _, a := range attachments {
		if err := a.Close(); err != nil && m.logger != nil {
			m.logger.PrintWarning("detach collector for pid %d: %s", pid, err)
		}
	}
}

// Shutdown detaches every live collector, used at coordinator exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pids := make([]int32, 0, len(m.attachments))
	for pid := range m.attachments {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	for _, pid := range pids {
		m.detachChild(pid)
	}
}

// Attached reports how many backends currently have a live collector, for
// /healthz.
func (m *Manager) Attached() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attachments)
}
