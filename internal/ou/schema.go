package ou

import "fmt"

// FieldType is the primitive type of a feature field, one of the closed
// set {bool, int32, int16, int64, float64, pointer-sized opaque,
// list-length}.
type FieldType int

const (
	Bool FieldType = iota
	Int16
	Int32
	Int64
	Float64
	Pointer
	ListLength
)

func (t FieldType) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Pointer:
		return "pointer"
	case ListLength:
		return "list_length"
	default:
		return "unknown"
	}
}

// Field describes one feature or metric field by name and primitive type.
type Field struct {
	Name string
	Type FieldType
}

// Index is the stable small integer identifying an operating unit.
type Index int32

// MetricFields is the fixed, OU-independent ordered list of metric fields
// carried by every completed record (§3).
var MetricFields = []Field{
	{"start_time", Int64},
	{"end_time", Int64},
	{"elapsed_us", Int64},
	{"cpu_cycles", Int64},
	{"instructions", Int64},
	{"cache_references", Int64},
	{"cache_misses", Int64},
	{"ref_cpu_cycles", Int64},
	{"disk_bytes_read", Int64},
	{"disk_bytes_written", Int64},
	{"network_bytes_read", Int64},
	{"network_bytes_written", Int64},
	{"cpu_id", Int32},
	{"pid", Int32},
}

// MaxMarkerArgs is the compile-time maximum number of payload slots a
// marker may carry (§4.1).
const MaxMarkerArgs = 12

// Schema is the complete description of one operating unit: its index,
// name, and ordered feature fields. Metric fields are implicitly
// MetricFields for every OU.
type Schema struct {
	Index        Index
	Name         string
	Features     []Field
	// HasClientSocket is true when this OU samples per-socket TCP
	// counters, gated at codegen time by a CLIENT_SOCKET_FD macro
	// (§4.3).
	HasClientSocket bool
	// Manual is true when this OU's marker signatures deviate from the
	// standard <Node>_begin/_end/_features convention (§4.1:
	// bitmap-*, subplan, hash, hash-join).
	Manual bool
}

// Validate rejects schemas that violate the closed data model.
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("ou: schema at index %d has no name", s.Index)
	}
	if len(s.Features) == 0 {
		return fmt.Errorf("ou %s: must declare at least one feature field", s.Name)
	}
	if len(s.Features) > MaxMarkerArgs-6 {
		// 6 non-feature args are fixed in <OU>_features: plan_node_id,
		// query_id, plan_ptr, left_child_id, right_child_id, statement_start_ts.
		return fmt.Errorf("ou %s: %d feature fields exceed the %d-slot marker budget",
			s.Name, len(s.Features), MaxMarkerArgs)
	}
	seen := make(map[string]struct{}, len(s.Features))
	for _, f := range s.Features {
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("ou %s: duplicate feature field %q", s.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Catalog is an ordered, index-addressable set of OU schemas, the
// equivalent of tscout's operating_units list plus model.Model's
// index assignment.
type Catalog struct {
	byIndex []Schema
	byName  map[string]Index
}

// NewCatalog validates and indexes a list of schemas. The caller supplies
// Index values; NewCatalog rejects gaps, out-of-order indices, and duplicate
// names. Unknown OUs referenced later by name are rejected by Lookup.
func NewCatalog(schemas []Schema) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Index, len(schemas))}
	max := Index(-1)
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if int(s.Index) != len(c.byIndex) {
			return nil, fmt.Errorf("ou: schema %q has index %d, expected %d (indices must be dense, in order)", s.Name, s.Index, len(c.byIndex))
		}
		if _, ok := c.byName[s.Name]; ok {
			return nil, fmt.Errorf("ou: duplicate OU name %q", s.Name)
		}
		c.byName[s.Name] = s.Index
		c.byIndex = append(c.byIndex, s)
		if s.Index > max {
			max = s.Index
		}
	}
	return c, nil
}

// Lookup returns the schema for name, rejecting unknown OUs at the boundary
// (§7 "Configuration error: unknown OU").
func (c *Catalog) Lookup(name string) (Schema, error) {
	idx, ok := c.byName[name]
	if !ok {
		return Schema{}, fmt.Errorf("ou: unknown operating unit %q", name)
	}
	return c.byIndex[idx], nil
}

// ByIndex returns the schema at idx.
func (c *Catalog) ByIndex(idx Index) (Schema, bool) {
	if idx < 0 || int(idx) >= len(c.byIndex) {
		return Schema{}, false
	}
	return c.byIndex[idx], true
}

// All returns every schema in index order.
func (c *Catalog) All() []Schema {
	out := make([]Schema, len(c.byIndex))
	copy(out, c.byIndex)
	return out
}

// Len reports how many OUs the catalog knows about.
func (c *Catalog) Len() int {
	return len(c.byIndex)
}
