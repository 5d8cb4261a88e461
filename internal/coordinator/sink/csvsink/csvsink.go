// Package csvsink is the reference output sink (§6): one CSV file
// per OU, header = feature names ‖ metric names, matching
// original_source/cmudb/tscout/tscout.py's processor() almost exactly,
// but using encoding/csv instead of hand-joining strings.
package csvsink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/cmu-db/oucore/internal/collector"
	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/ouerrors"
)

// Sink writes one CSV file per OU under Dir, opening each lazily on first
// use and writing the header exactly once.
type Sink struct {
	Dir     string
	Catalog *ou.Catalog

	mu      sync.Mutex
	writers map[ou.Index]*csv.Writer
	files   map[ou.Index]*os.File
	dropped map[ou.Index]int
}

// New returns a Sink writing under dir, creating it if necessary.
func New(dir string, catalog *ou.Catalog) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(ouerrors.ErrPersistence, "create output dir %s: %v", dir, err)
	}
	return &Sink{
		Dir:     dir,
		Catalog: catalog,
		writers: make(map[ou.Index]*csv.Writer),
		files:   make(map[ou.Index]*os.File),
		dropped: make(map[ou.Index]int),
	}, nil
}

func (s *Sink) writer(ouIndex ou.Index) (*csv.Writer, error) {
	if w, ok := s.writers[ouIndex]; ok {
		return w, nil
	}
	schema, ok := s.Catalog.ByIndex(ouIndex)
	if !ok {
		return nil, errors.Wrapf(ouerrors.ErrConfiguration, "no schema registered for OU index %d", ouIndex)
	}
	path := filepath.Join(s.Dir, schema.Name+".csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(ouerrors.ErrPersistence, "open %s: %v", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(ouerrors.ErrPersistence, "stat %s: %v", path, err)
	}

	w := csv.NewWriter(f)
	if stat.Size() == 0 {
		header := append(featureColumnNames(schema.Features), metricColumnNames()...)
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, errors.Wrapf(ouerrors.ErrPersistence, "write header for %s: %v", path, err)
		}
		w.Flush()
	}

	s.files[ouIndex] = f
	s.writers[ouIndex] = w
	return w, nil
}

func metricColumnNames() []string {
	names := make([]string, len(ou.MetricFields))
	for i, f := range ou.MetricFields {
		names[i] = f.Name
	}
	return names
}

func featureColumnNames(fields []ou.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Publish writes one completed record as a CSV row, feature values first
// then metric values, in the fixed column order established at header
// time.
func (s *Sink) Publish(o collector.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.writer(o.OUIndex)
	if err != nil {
		s.dropped[o.OUIndex]++
		return
	}

	schema, ok := s.Catalog.ByIndex(o.OUIndex)
	if !ok {
		s.dropped[o.OUIndex]++
		return
	}

	row := make([]string, 0, len(schema.Features)+len(ou.MetricFields))
	for _, f := range schema.Features {
		row = append(row, fmt.Sprintf("%v", o.Features.Fields[f.Name]))
	}
	row = append(row, metricValues(o.Metrics)...)

	if err := w.Write(row); err != nil {
		s.dropped[o.OUIndex]++
		return
	}
	w.Flush()
}

func metricValues(m ou.ResourceMetrics) []string {
	return []string{
		fmt.Sprintf("%d", m.StartTime),
		fmt.Sprintf("%d", m.EndTime),
		fmt.Sprintf("%d", m.ElapsedUs),
		fmt.Sprintf("%d", m.CPUCycles),
		fmt.Sprintf("%d", m.Instructions),
		fmt.Sprintf("%d", m.CacheReferences),
		fmt.Sprintf("%d", m.CacheMisses),
		fmt.Sprintf("%d", m.RefCPUCycles),
		fmt.Sprintf("%d", m.DiskBytesRead),
		fmt.Sprintf("%d", m.DiskBytesWritten),
		fmt.Sprintf("%d", m.NetworkBytesRead),
		fmt.Sprintf("%d", m.NetworkBytesWritten),
		fmt.Sprintf("%d", m.CPUID),
		fmt.Sprintf("%d", m.PID),
	}
}

// Drop records a dropped record for the /metrics drop counter (§7).
func (s *Sink) Drop(key ou.Key, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[key.OUIndex]++
}

// DropCounts returns a snapshot of drops observed per OU.
func (s *Sink) DropCounts() map[ou.Index]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ou.Index]int, len(s.dropped))
	for k, v := range s.dropped {
		out[k] = v
	}
	return out
}

// Close flushes and closes every open file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for idx, w := range s.writers {
		w.Flush()
		if err := s.files[idx].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
