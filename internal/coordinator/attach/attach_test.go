package attach

import (
	"testing"

	"github.com/cmu-db/oucore/internal/collector/bpf"
)

func TestHandleEventAttachesOnFork(t *testing.T) {
	var loadCalls int
	loader := func(pid int32, socketFD int32) ([]*bpf.Attachment, error) {
		loadCalls++
		return nil, nil
	}
	m := NewManager(loader, nil)

	if err := m.HandleEvent(PostmasterEvent{Kind: EventForkBackend, ChildPID: 100}); err != nil {
		t.Fatalf("HandleEvent(fork) error: %v", err)
	}
	if loadCalls != 1 {
		t.Fatalf("loadCalls = %d, want 1", loadCalls)
	}
	if m.Attached() != 1 {
		t.Fatalf("Attached() = %d, want 1", m.Attached())
	}
}

func TestHandleEventIgnoresDuplicateFork(t *testing.T) {
	var loadCalls int
	loader := func(pid int32, socketFD int32) ([]*bpf.Attachment, error) {
		loadCalls++
		return nil, nil
	}
	m := NewManager(loader, nil)

	m.HandleEvent(PostmasterEvent{Kind: EventForkBackend, ChildPID: 200})
	m.HandleEvent(PostmasterEvent{Kind: EventForkBackend, ChildPID: 200})

	if loadCalls != 1 {
		t.Fatalf("loadCalls = %d, want 1 (duplicate fork should be suppressed)", loadCalls)
	}
}

func TestHandleEventDetachesOnReap(t *testing.T) {
	loader := func(pid int32, socketFD int32) ([]*bpf.Attachment, error) {
		return nil, nil
	}
	m := NewManager(loader, nil)

	m.HandleEvent(PostmasterEvent{Kind: EventForkBackend, ChildPID: 300})
	if m.Attached() != 1 {
		t.Fatalf("Attached() = %d, want 1 after fork", m.Attached())
	}

	m.HandleEvent(PostmasterEvent{Kind: EventReapBackend, ChildPID: 300})
	if m.Attached() != 0 {
		t.Fatalf("Attached() = %d, want 0 after reap", m.Attached())
	}
}

func TestHandleEventReapOfUnknownPIDIsNoop(t *testing.T) {
	loader := func(pid int32, socketFD int32) ([]*bpf.Attachment, error) {
		return nil, nil
	}
	m := NewManager(loader, nil)

	if err := m.HandleEvent(PostmasterEvent{Kind: EventReapBackend, ChildPID: 999}); err != nil {
		t.Fatalf("HandleEvent(reap of unknown pid) error: %v", err)
	}
}
