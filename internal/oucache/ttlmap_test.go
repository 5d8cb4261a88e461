package oucache

import (
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	m := New[string, int](time.Hour, time.Hour)
	m.Put("a", 1)
	v, ok := m.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = (%d, %v), want (1, true)", v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	m := New[string, int](time.Hour, time.Hour)
	if _, ok := m.Get("missing"); ok {
		t.Error("Get of an absent key should report ok=false")
	}
}

func TestExpirySweepsStaleEntries(t *testing.T) {
	m := New[string, int](20*time.Millisecond, 10*time.Millisecond)
	m.Put("a", 1)
	time.Sleep(200 * time.Millisecond)
	if _, ok := m.Get("a"); ok {
		t.Error("expected entry to have been swept after its TTL elapsed")
	}
}

func TestDeleteRemovesImmediately(t *testing.T) {
	m := New[string, int](time.Hour, time.Hour)
	m.Put("a", 1)
	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Error("Delete should remove the entry immediately")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}
