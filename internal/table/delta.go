package table

import (
	"fmt"
	"sort"
)

// RowChange is one staged change to a row: either a set of column writes
// or a deletion.
type RowChange struct {
	Set    map[string]Value `json:"set,omitempty"`
	Delete bool             `json:"delete,omitempty"`
}

// TableDelta collects the staged changes for one table within a commit.
type TableDelta struct {
	Create      *Schema              `json:"create,omitempty"`
	Drop        bool                 `json:"drop,omitempty"`
	AddColumns  []Column             `json:"add_columns,omitempty"`
	DropColumns []string             `json:"drop_columns,omitempty"`
	Rows        map[string]RowChange `json:"rows,omitempty"`
}

// Delta is the table-state transition an ordinary commit introduces.
type Delta struct {
	Tables map[string]*TableDelta `json:"tables"`
}

func NewDelta() *Delta {
	return &Delta{Tables: make(map[string]*TableDelta)}
}

func (d *Delta) Empty() bool {
	return d == nil || len(d.Tables) == 0
}

func (d *Delta) Table(name string) *TableDelta {
	td, ok := d.Tables[name]
	if !ok {
		td = &TableDelta{Rows: make(map[string]RowChange)}
		d.Tables[name] = td
	}
	if td.Rows == nil {
		td.Rows = make(map[string]RowChange)
	}
	return td
}

// Fold merges a later delta fragment into d. Staging accumulates per-key:
// a later write to the same column replaces the earlier one, a delete
// supersedes prior writes, and a write after a delete restarts the row.
func (d *Delta) Fold(other *Delta) {
	if other.Empty() {
		return
	}
	for name, src := range other.Tables {
		dst := d.Table(name)
		if src.Create != nil {
			dst.Create = src.Create
			dst.Drop = false
		}
		if src.Drop {
			dst.Drop = true
			dst.Create = nil
			dst.AddColumns = nil
			dst.DropColumns = nil
			dst.Rows = make(map[string]RowChange)
		}
		dst.AddColumns = append(dst.AddColumns, src.AddColumns...)
		dst.DropColumns = append(dst.DropColumns, src.DropColumns...)
		for key, change := range src.Rows {
			prior, ok := dst.Rows[key]
			if !ok || change.Delete || prior.Delete {
				dst.Rows[key] = change
				continue
			}
			if prior.Set == nil {
				prior.Set = make(map[string]Value)
			}
			for col, v := range change.Set {
				prior.Set[col] = v
			}
			dst.Rows[key] = prior
		}
	}
}

// Apply transitions state by one delta, stamping every touched field and
// tombstone with the writing commit's stamp. The materializer calls this
// while replaying history; staging calls it with a provisional stamp to
// preview uncommitted changes.
func Apply(state *State, delta *Delta, stamp Stamp) error {
	if delta.Empty() {
		return nil
	}
	for _, name := range sortedTableNames(delta) {
		td := delta.Tables[name]

		if td.Drop {
			delete(state.Tables, name)
			continue
		}
		if td.Create != nil {
			if _, exists := state.Tables[name]; exists {
				return fmt.Errorf("table %q already exists", name)
			}
			state.Tables[name] = NewTable(td.Create.Clone())
		}

		tbl, ok := state.Tables[name]
		if !ok {
			return fmt.Errorf("delta references unknown table %q", name)
		}

		for _, col := range td.AddColumns {
			if _, exists := tbl.Schema.Column(col.Name); exists {
				return fmt.Errorf("column %q already exists in %q", col.Name, name)
			}
			tbl.Schema.Columns = append(tbl.Schema.Columns, col)
		}
		for _, colName := range td.DropColumns {
			tbl.Schema.Columns = dropColumn(tbl.Schema.Columns, colName)
			for _, row := range tbl.Rows {
				delete(row.Fields, colName)
			}
		}

		keys := make([]string, 0, len(td.Rows))
		for k := range td.Rows {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			change := td.Rows[key]
			if change.Delete {
				tbl.Rows[key] = &Row{Key: key, Deleted: true, Stamp: stamp}
				continue
			}
			row, ok := tbl.Rows[key]
			if !ok || row.Deleted {
				row = &Row{Key: key, Fields: make(map[string]Field), Stamp: stamp}
				tbl.Rows[key] = row
			}
			for col, v := range change.Set {
				if _, exists := tbl.Schema.Column(col); !exists {
					return fmt.Errorf("unknown column %q in table %q", col, name)
				}
				row.Fields[col] = Field{Value: v, Stamp: stamp}
			}
			row.Stamp = stamp
		}
	}
	return nil
}

func sortedTableNames(d *Delta) []string {
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func dropColumn(cols []Column, name string) []Column {
	out := cols[:0]
	for _, c := range cols {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}
