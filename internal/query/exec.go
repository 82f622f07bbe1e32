package query

import (
	"fmt"

	"branchdb/internal/sql"
	"branchdb/internal/table"
)

// Result is the output of a SELECT: projected column names and the
// matching rows in primary-key order.
type Result struct {
	Columns []string
	Rows    [][]table.Value
}

// Apply executes a statement against a materialized state. Write
// statements return the delta fragment to stage; SELECT returns rows.
// The input state is only read, never mutated.
func Apply(state *table.State, stmt *sql.Statement) (*Result, *table.Delta, error) {
	switch {
	case stmt.Create != nil:
		d, err := applyCreate(state, stmt.Create)
		return nil, d, err
	case stmt.Insert != nil:
		d, err := applyInsert(state, stmt.Insert)
		return nil, d, err
	case stmt.Update != nil:
		d, err := applyUpdate(state, stmt.Update)
		return nil, d, err
	case stmt.Delete != nil:
		d, err := applyDelete(state, stmt.Delete)
		return nil, d, err
	case stmt.Select != nil:
		r, err := Select(state, stmt.Select)
		return r, nil, err
	}
	return nil, nil, fmt.Errorf("empty statement")
}

func applyCreate(state *table.State, stmt *sql.CreateTable) (*table.Delta, error) {
	if _, exists := state.Tables[stmt.Table]; exists {
		return nil, fmt.Errorf("table %q already exists", stmt.Table)
	}
	schema := &table.Schema{}
	for _, def := range stmt.Columns {
		schema.Columns = append(schema.Columns, def.Column())
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema for %q: %w", stmt.Table, err)
	}

	delta := table.NewDelta()
	delta.Table(stmt.Table).Create = schema
	return delta, nil
}

func applyInsert(state *table.State, stmt *sql.Insert) (*table.Delta, error) {
	tbl, ok := state.Tables[stmt.Table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", stmt.Table)
	}
	if len(stmt.Columns) != len(stmt.Values) {
		return nil, fmt.Errorf("%d columns but %d values", len(stmt.Columns), len(stmt.Values))
	}

	values := make(map[string]table.Value, len(stmt.Columns))
	for i, name := range stmt.Columns {
		col, ok := tbl.Schema.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q in table %q", name, stmt.Table)
		}
		raw, err := stmt.Values[i].Value()
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", name, err)
		}
		v, err := raw.Coerce(col.Type)
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", name, err)
		}
		values[name] = v
	}

	key, err := tbl.Schema.KeyFor(values)
	if err != nil {
		return nil, err
	}
	if row, exists := tbl.Rows[key]; exists && !row.Deleted {
		return nil, fmt.Errorf("duplicate primary key %q in table %q", key, stmt.Table)
	}

	delta := table.NewDelta()
	delta.Table(stmt.Table).Rows[key] = table.RowChange{Set: values}
	return delta, nil
}

func applyUpdate(state *table.State, stmt *sql.Update) (*table.Delta, error) {
	tbl, ok := state.Tables[stmt.Table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", stmt.Table)
	}

	assignments := make(map[string]table.Value, len(stmt.Set))
	for _, a := range stmt.Set {
		col, ok := tbl.Schema.Column(a.Column)
		if !ok {
			return nil, fmt.Errorf("unknown column %q in table %q", a.Column, stmt.Table)
		}
		if col.PrimaryKey {
			return nil, fmt.Errorf("cannot update primary key column %q", a.Column)
		}
		raw, err := a.Value.Value()
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", a.Column, err)
		}
		v, err := raw.Coerce(col.Type)
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", a.Column, err)
		}
		assignments[a.Column] = v
	}

	keys, err := matchingKeys(tbl, stmt.Where)
	if err != nil {
		return nil, err
	}

	delta := table.NewDelta()
	td := delta.Table(stmt.Table)
	for _, key := range keys {
		set := make(map[string]table.Value, len(assignments))
		for k, v := range assignments {
			set[k] = v
		}
		td.Rows[key] = table.RowChange{Set: set}
	}
	return delta, nil
}

func applyDelete(state *table.State, stmt *sql.Delete) (*table.Delta, error) {
	tbl, ok := state.Tables[stmt.Table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", stmt.Table)
	}
	keys, err := matchingKeys(tbl, stmt.Where)
	if err != nil {
		return nil, err
	}

	delta := table.NewDelta()
	td := delta.Table(stmt.Table)
	for _, key := range keys {
		td.Rows[key] = table.RowChange{Delete: true}
	}
	return delta, nil
}

// Select runs a projection over the live rows matching the predicate.
func Select(state *table.State, stmt *sql.Select) (*Result, error) {
	tbl, ok := state.Tables[stmt.Table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", stmt.Table)
	}

	columns := stmt.Columns
	if stmt.Star {
		columns = nil
		for _, c := range tbl.Schema.Columns {
			columns = append(columns, c.Name)
		}
	}
	for _, name := range columns {
		if _, ok := tbl.Schema.Column(name); !ok {
			return nil, fmt.Errorf("unknown column %q in table %q", name, stmt.Table)
		}
	}

	keys, err := matchingKeys(tbl, stmt.Where)
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns}
	for _, key := range keys {
		row := tbl.Rows[key]
		out := make([]table.Value, len(columns))
		for i, name := range columns {
			col, _ := tbl.Schema.Column(name)
			if f, ok := row.Fields[name]; ok {
				out[i] = f.Value
			} else {
				out[i] = table.NewNull(col.Type)
			}
		}
		result.Rows = append(result.Rows, out)
	}
	return result, nil
}

// matchingKeys returns the live row keys matching where, in sorted order.
func matchingKeys(tbl *table.Table, where *sql.Expr) ([]string, error) {
	var keys []string
	for _, key := range tbl.LiveKeys() {
		ok, err := Eval(where, tbl.Rows[key], tbl.Schema)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
