// Package relspoof implements the table-size statistics overrides used for
// planner experimentation (§4.2's "exposes statistics-spoofing
// hooks"), grounded in original_source/cmudb/qss/qss_stats_functions.c's
// qss_install_stats/qss_remove_stats/qss_clear_stats/qss_GetRelationInfo.
package relspoof

import "sync"

// Entry overrides a relation or index's planner-visible size statistics.
type Entry struct {
	RelOID      uint32
	RelPages    int32
	RelTuples   float32
	TreeHeight  int32 // indexes only; zero means "leave tree height alone"
}

// Table is the installed set of spoofed entries, keyed by relation oid.
// Concurrency-safe because, unlike the rest of qss, planner-experimentation
// calls can originate from a session distinct from the one running
// get_relation_info.
type Table struct {
	mu      sync.RWMutex
	entries map[uint32]Entry
}

// New returns an empty spoof table.
func New() *Table {
	return &Table{entries: make(map[uint32]Entry)}
}

// Install adds or replaces the spoofed statistics for relOID.
func (t *Table) Install(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.RelOID] = e
}

// Remove drops the spoofed statistics for relOID, reporting whether an
// entry existed.
func (t *Table) Remove(relOID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[relOID]; !ok {
		return false
	}
	delete(t.entries, relOID)
	return true
}

// Clear drops every spoofed entry.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[uint32]Entry)
}

// RelOptInfo is the subset of the planner's per-relation cost inputs that
// get_relation_info can override: pages and tuples for the relation itself,
// plus pages/tuples/tree-height for each of its indexes.
type RelOptInfo struct {
	Pages      int32
	Tuples     float32
	Indexes    []IndexOptInfo
}

// IndexOptInfo is one index's planner-visible cost inputs.
type IndexOptInfo struct {
	IndexOID   uint32
	Pages      int32
	Tuples     float32
	TreeHeight int32
}

// Apply overrides rel's pages/tuples (and, for indexes whose oid is
// spoofed, their pages/tuples/tree-height) before any subsequent planner
// cost computation runs - §4.2's get_relation_info operation. It
// must run BEFORE the caller hands rel to cost estimation, mirroring
// qss_GetRelationInfo's placement after any previously chained hook.
func (t *Table) Apply(relOID uint32, rel *RelOptInfo) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.entries[relOID]; ok {
		rel.Pages = e.RelPages
		rel.Tuples = e.RelTuples
	}
	for i := range rel.Indexes {
		idx := &rel.Indexes[i]
		if e, ok := t.entries[idx.IndexOID]; ok {
			idx.Pages = e.RelPages
			idx.Tuples = e.RelTuples
			if e.TreeHeight != 0 {
				idx.TreeHeight = e.TreeHeight
			}
		}
	}
}
