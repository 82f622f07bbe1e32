package table

import (
	"fmt"
	"strings"
)

// MergeKind selects the conflict-resolution rule for a column.
type MergeKind string

const (
	// MergeLWW keeps the write with the higher stamp (depth, then commit
	// hash). Default for columns with no declared kind.
	MergeLWW MergeKind = "lww"
	// MergeCounter keeps the elementwise maximum. Numeric columns only;
	// values never regress under merge.
	MergeCounter MergeKind = "counter"
)

type Column struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	PrimaryKey bool       `json:"primary_key,omitempty"`
	Merge      MergeKind  `json:"merge,omitempty"`
}

// MergeOrDefault resolves an unset kind to LWW.
func (c Column) MergeOrDefault() MergeKind {
	if c.Merge == "" {
		return MergeLWW
	}
	return c.Merge
}

// Schema is the ordered column list of a table plus the primary-key
// designation carried on the columns themselves.
type Schema struct {
	Columns []Column `json:"columns"`
}

func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (s *Schema) PrimaryKey() []string {
	var keys []string
	for _, c := range s.Columns {
		if c.PrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

func (s *Schema) Validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema has no columns")
	}
	seen := make(map[string]bool, len(s.Columns))
	hasKey := false
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema has an unnamed column")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if c.PrimaryKey {
			hasKey = true
		}
		if c.MergeOrDefault() == MergeCounter && c.Type != TypeInt && c.Type != TypeReal {
			return fmt.Errorf("counter column %q must be numeric", c.Name)
		}
	}
	if !hasKey {
		return fmt.Errorf("schema has no primary key column")
	}
	return nil
}

// KeyFor builds the row key from the primary-key column values. Composite
// keys join the rendered component values with 0x1f.
func (s *Schema) KeyFor(values map[string]Value) (string, error) {
	pk := s.PrimaryKey()
	parts := make([]string, 0, len(pk))
	for _, name := range pk {
		v, ok := values[name]
		if !ok || v.Null {
			return "", fmt.Errorf("missing primary key value for %q", name)
		}
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "\x1f"), nil
}

func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{Columns: make([]Column, len(s.Columns))}
	copy(out.Columns, s.Columns)
	return out
}
