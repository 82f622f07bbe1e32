package query

import (
	"branchdb/internal/table"
)

// RevertDelta builds the delta that transforms current into target.
// Reverting never rewrites history: the caller commits this delta on top
// of the current head, so the pre-revert states stay reachable.
func RevertDelta(current, target *table.State) *table.Delta {
	delta := table.NewDelta()

	for name := range current.Tables {
		if _, ok := target.Tables[name]; !ok {
			delta.Table(name).Drop = true
		}
	}

	for _, name := range target.TableNames() {
		tt := target.Tables[name]
		ct, exists := current.Tables[name]

		td := delta.Table(name)
		if !exists {
			td.Create = tt.Schema.Clone()
			for _, key := range tt.LiveKeys() {
				td.Rows[key] = table.RowChange{Set: rowValues(tt.Rows[key])}
			}
			continue
		}

		// Align the schema: target's column set is authoritative.
		for _, col := range tt.Schema.Columns {
			if _, ok := ct.Schema.Column(col.Name); !ok {
				td.AddColumns = append(td.AddColumns, col)
			}
		}
		for _, col := range ct.Schema.Columns {
			if _, ok := tt.Schema.Column(col.Name); !ok {
				td.DropColumns = append(td.DropColumns, col.Name)
			}
		}

		currentLive := make(map[string]bool)
		for _, key := range ct.LiveKeys() {
			currentLive[key] = true
		}

		for _, key := range tt.LiveKeys() {
			targetRow := tt.Rows[key]
			if !currentLive[key] {
				td.Rows[key] = table.RowChange{Set: rowValues(targetRow)}
				continue
			}
			set := changedValues(ct.Rows[key], targetRow, tt.Schema)
			if len(set) > 0 {
				td.Rows[key] = table.RowChange{Set: set}
			}
		}
		for key := range currentLive {
			if row, ok := tt.Rows[key]; !ok || row.Deleted {
				td.Rows[key] = table.RowChange{Delete: true}
			}
		}

		if td.Create == nil && !td.Drop && len(td.AddColumns) == 0 &&
			len(td.DropColumns) == 0 && len(td.Rows) == 0 {
			delete(delta.Tables, name)
		}
	}

	return delta
}

// changedValues returns target's field values that differ from current's,
// nulling fields the target row never had.
func changedValues(current, target *table.Row, schema *table.Schema) map[string]table.Value {
	set := make(map[string]table.Value)
	for name, tf := range target.Fields {
		cf, ok := current.Fields[name]
		if !ok || !cf.Value.Equal(tf.Value) {
			set[name] = tf.Value
		}
	}
	for name := range current.Fields {
		if _, ok := target.Fields[name]; ok {
			continue
		}
		if col, ok := schema.Column(name); ok {
			set[name] = table.NewNull(col.Type)
		}
	}
	return set
}
