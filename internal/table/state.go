package table

import (
	"encoding/json"
	"sort"
)

// Table is the materialized content of one table at a commit.
type Table struct {
	Schema *Schema         `json:"schema"`
	Rows   map[string]*Row `json:"rows"`
}

func NewTable(schema *Schema) *Table {
	return &Table{Schema: schema, Rows: make(map[string]*Row)}
}

func (t *Table) Clone() *Table {
	out := &Table{Schema: t.Schema.Clone(), Rows: make(map[string]*Row, len(t.Rows))}
	for k, r := range t.Rows {
		out.Rows[k] = r.Clone()
	}
	return out
}

// LiveKeys returns the non-tombstone row keys in sorted order.
func (t *Table) LiveKeys() []string {
	keys := make([]string, 0, len(t.Rows))
	for k, r := range t.Rows {
		if !r.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// State is the full logical database content at a commit: every table's
// schema and rows, tombstones included. It is derived from the commit
// graph and never authoritative over it.
type State struct {
	Tables map[string]*Table `json:"tables"`
}

func NewState() *State {
	return &State{Tables: make(map[string]*Table)}
}

func (s *State) Clone() *State {
	out := &State{Tables: make(map[string]*Table, len(s.Tables))}
	for name, t := range s.Tables {
		out.Tables[name] = t.Clone()
	}
	return out
}

func (s *State) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanonicalBytes is the deterministic encoding used for content hashing.
// encoding/json writes map keys in sorted order, so identical states
// always produce identical bytes.
func (s *State) CanonicalBytes() ([]byte, error) {
	return json.Marshal(s)
}
