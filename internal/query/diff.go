package query

import (
	"fmt"
	"sort"
	"strings"

	"branchdb/internal/table"
)

// FieldChange is one column's old and new value in a modified row.
type FieldChange struct {
	Column string
	Old    table.Value
	New    table.Value
}

// TableDiff describes how one table changed between two commits.
type TableDiff struct {
	Created        bool
	Dropped        bool
	AddedColumns   []table.Column
	DroppedColumns []string
	AddedRows      map[string]map[string]table.Value
	DeletedRows    []string
	ModifiedRows   map[string][]FieldChange
}

func (d *TableDiff) Empty() bool {
	return !d.Created && !d.Dropped &&
		len(d.AddedColumns) == 0 && len(d.DroppedColumns) == 0 &&
		len(d.AddedRows) == 0 && len(d.DeletedRows) == 0 && len(d.ModifiedRows) == 0
}

// DiffResult maps table name to its change set.
type DiffResult struct {
	Tables map[string]*TableDiff
}

func (r *DiffResult) Empty() bool {
	for _, d := range r.Tables {
		if !d.Empty() {
			return false
		}
	}
	return true
}

// Diff compares two materialized states. Stamps are ignored; only logical
// content counts.
func Diff(from, to *table.State) *DiffResult {
	result := &DiffResult{Tables: make(map[string]*TableDiff)}

	names := make(map[string]bool)
	for name := range from.Tables {
		names[name] = true
	}
	for name := range to.Tables {
		names[name] = true
	}

	for name := range names {
		ft := from.Tables[name]
		tt := to.Tables[name]

		switch {
		case ft == nil:
			d := &TableDiff{Created: true, AddedRows: make(map[string]map[string]table.Value)}
			for _, key := range tt.LiveKeys() {
				d.AddedRows[key] = rowValues(tt.Rows[key])
			}
			result.Tables[name] = d
		case tt == nil:
			result.Tables[name] = &TableDiff{Dropped: true}
		default:
			if d := diffTable(ft, tt); !d.Empty() {
				result.Tables[name] = d
			}
		}
	}
	return result
}

func diffTable(ft, tt *table.Table) *TableDiff {
	d := &TableDiff{
		AddedRows:    make(map[string]map[string]table.Value),
		ModifiedRows: make(map[string][]FieldChange),
	}

	for _, col := range tt.Schema.Columns {
		if _, ok := ft.Schema.Column(col.Name); !ok {
			d.AddedColumns = append(d.AddedColumns, col)
		}
	}
	for _, col := range ft.Schema.Columns {
		if _, ok := tt.Schema.Column(col.Name); !ok {
			d.DroppedColumns = append(d.DroppedColumns, col.Name)
		}
	}

	fromLive := make(map[string]bool)
	for _, key := range ft.LiveKeys() {
		fromLive[key] = true
	}

	for _, key := range tt.LiveKeys() {
		toRow := tt.Rows[key]
		if !fromLive[key] {
			d.AddedRows[key] = rowValues(toRow)
			continue
		}
		fromRow := ft.Rows[key]
		changes := diffRow(fromRow, toRow, tt.Schema)
		if len(changes) > 0 {
			d.ModifiedRows[key] = changes
		}
	}

	for key := range fromLive {
		toRow, ok := tt.Rows[key]
		if !ok || toRow.Deleted {
			d.DeletedRows = append(d.DeletedRows, key)
		}
	}
	sort.Strings(d.DeletedRows)
	return d
}

func diffRow(from, to *table.Row, schema *table.Schema) []FieldChange {
	var changes []FieldChange
	for _, col := range schema.Columns {
		ff, inFrom := from.Fields[col.Name]
		tf, inTo := to.Fields[col.Name]
		if inFrom == inTo && ff.Value.Equal(tf.Value) {
			continue
		}
		change := FieldChange{Column: col.Name}
		if inFrom {
			change.Old = ff.Value
		} else {
			change.Old = table.NewNull(col.Type)
		}
		if inTo {
			change.New = tf.Value
		} else {
			change.New = table.NewNull(col.Type)
		}
		if !change.Old.Equal(change.New) {
			changes = append(changes, change)
		}
	}
	return changes
}

func rowValues(row *table.Row) map[string]table.Value {
	out := make(map[string]table.Value, len(row.Fields))
	for name, f := range row.Fields {
		out[name] = f.Value
	}
	return out
}

// Render writes a plain-text listing of the diff, tables and keys sorted.
func (r *DiffResult) Render() string {
	var sb strings.Builder

	var names []string
	for name := range r.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := r.Tables[name]
		switch {
		case d.Created:
			fmt.Fprintf(&sb, "+ table %s\n", name)
		case d.Dropped:
			fmt.Fprintf(&sb, "- table %s\n", name)
		}
		for _, col := range d.AddedColumns {
			fmt.Fprintf(&sb, "+ column %s.%s %s\n", name, col.Name, col.Type)
		}
		for _, col := range d.DroppedColumns {
			fmt.Fprintf(&sb, "- column %s.%s\n", name, col)
		}

		var addedKeys []string
		for key := range d.AddedRows {
			addedKeys = append(addedKeys, key)
		}
		sort.Strings(addedKeys)
		for _, key := range addedKeys {
			fmt.Fprintf(&sb, "+ %s[%s] %s\n", name, key, renderValues(d.AddedRows[key]))
		}

		var modKeys []string
		for key := range d.ModifiedRows {
			modKeys = append(modKeys, key)
		}
		sort.Strings(modKeys)
		for _, key := range modKeys {
			for _, c := range d.ModifiedRows[key] {
				fmt.Fprintf(&sb, "~ %s[%s].%s: %s -> %s\n", name, key, c.Column, c.Old, c.New)
			}
		}

		for _, key := range d.DeletedRows {
			fmt.Fprintf(&sb, "- %s[%s]\n", name, key)
		}
	}
	return sb.String()
}

func renderValues(values map[string]table.Value) string {
	var cols []string
	for name := range values {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	parts := make([]string, 0, len(cols))
	for _, name := range cols {
		parts = append(parts, fmt.Sprintf("%s=%s", name, values[name]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
