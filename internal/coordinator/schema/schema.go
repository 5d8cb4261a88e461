// Package schema extracts operating-unit field layouts from C struct
// declarations, the Go-native replacement for the coordinator's clang-based
// reflection (original_source/cmudb/tscout/clang_parser.py,
// original_source/cmudb/qss/clang_parser.py): a hand-rolled tokenizer walks
// struct bodies and expands base classes instead of shelling out to
// libclang, since no clang Go binding is available in this module's
// dependency set. A field whose type is itself a struct stays one field; it
// is not expanded into that struct's fields.
package schema

import (
	"bufio"
	"strings"

	"github.com/pkg/errors"

	"github.com/cmu-db/oucore/internal/ouerrors"
)

// Field is one field of a struct: its name as declared and its raw C type
// spelling.
type Field struct {
	Name string
	Type string
}

// StructDef is a parsed `struct Name { ... };` declaration, base classes
// not yet expanded.
type StructDef struct {
	Name    string
	Bases   []string
	Fields  []Field
}

// Catalog holds every struct this package has parsed, keyed by name, so
// callers can expand base classes and nested records by further lookups -
// matching clang_parser.py's field_map construction strategy exactly,
// without the dependency on a running clang instance.
type Catalog struct {
	structs map[string]*StructDef
}

// NewCatalog returns an empty catalog ready to receive ParseSource calls.
func NewCatalog() *Catalog {
	return &Catalog{structs: make(map[string]*StructDef)}
}

// ParseSource scans a C header/source for `struct Name { ... };` or
// `struct Name : Base1, Base2 { ... };`-style bodies (the latter only
// appears in the model's own annotated headers, never real Postgres C, but
// is accepted so the same tokenizer handles both the OU definition files
// and vanilla Postgres headers) and records each one found.
func (c *Catalog) ParseSource(src string) error {
	scanner := bufio.NewScanner(strings.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		inStruct bool
		depth    int
		name     string
		bases    []string
		fields   []Field
	)

	for scanner.Scan() {
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}

		if !inStruct {
			if strings.HasPrefix(line, "struct ") {
				rest := strings.TrimPrefix(line, "struct ")
				nameAndBases, hasBrace := splitBrace(rest)
				parts := strings.SplitN(nameAndBases, ":", 2)
				name = strings.TrimSpace(parts[0])
				if name == "" {
					continue
				}
				bases = nil
				if len(parts) == 2 {
					for _, b := range strings.Split(parts[1], ",") {
						if b = strings.TrimSpace(b); b != "" {
							bases = append(bases, b)
						}
					}
				}
				fields = nil
				inStruct = true
				depth = 0
				if hasBrace {
					depth = 1
				}
			}
			continue
		}

		depth += strings.Count(line, "{")
		closeCount := strings.Count(line, "}")
		if closeCount > 0 && depth-closeCount <= 0 {
			c.structs[name] = &StructDef{Name: name, Bases: bases, Fields: fields}
			inStruct = false
			continue
		}
		depth -= closeCount

		if f, ok := parseFieldLine(line); ok {
			fields = append(fields, f)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan C source")
	}
	return nil
}

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	return line
}

func splitBrace(s string) (string, bool) {
	if i := strings.Index(s, "{"); i >= 0 {
		return s[:i], true
	}
	return s, false
}

// parseFieldLine recognizes a single `Type name;` declaration. Pointer and
// array declarators are kept attached to the type spelling, matching how
// clang_parser.py records type.spelling verbatim.
func parseFieldLine(line string) (Field, bool) {
	line = strings.TrimSuffix(strings.TrimSpace(line), ";")
	if line == "" || strings.Contains(line, "(") {
		return Field{}, false
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Field{}, false
	}
	declarator := fields[len(fields)-1]
	name := strings.TrimLeft(declarator, "*")
	typ := strings.Join(fields[:len(fields)-1], " ")
	if stars := len(declarator) - len(name); stars > 0 {
		typ += " " + strings.Repeat("*", stars)
	}
	if i := strings.Index(name, "["); i >= 0 {
		typ += " " + name[i:]
		name = name[:i]
	}
	if name == "" || typ == "" {
		return Field{}, false
	}
	return Field{Name: name, Type: typ}, true
}

// Lookup returns the raw (unexpanded) struct definition, or an
// ouerrors.ErrConfiguration-wrapped error if the name is unknown - callers
// expand base classes themselves via ExpandedFields.
func (c *Catalog) Lookup(name string) (*StructDef, error) {
	s, ok := c.structs[name]
	if !ok {
		return nil, errors.Wrapf(ouerrors.ErrConfiguration, "struct %q not parsed", name)
	}
	return s, nil
}

// ExpandedFields returns name's fields with every base class's fields
// prepended, recursively - the Go equivalent of
// clang_parser.py's _construct_base_expanded_fields.
func (c *Catalog) ExpandedFields(name string) ([]Field, error) {
	s, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	var out []Field
	for _, base := range s.Bases {
		baseFields, err := c.ExpandedFields(base)
		if err != nil {
			return nil, err
		}
		out = append(out, baseFields...)
	}
	out = append(out, s.Fields...)
	return out, nil
}
