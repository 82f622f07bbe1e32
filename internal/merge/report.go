package merge

import (
	"fmt"
	"sort"
	"strings"

	"branchdb/internal/table"
)

// SchemaConflict records a column resolved during schema merge.
type SchemaConflict struct {
	Table     string       `json:"table"`
	Column    string       `json:"column"`
	Kept      table.Column `json:"kept"`
	Discarded table.Column `json:"discarded"`
	Rule      string       `json:"rule"`
}

// RowConflict records a row or field resolved during row merge.
type RowConflict struct {
	Table     string      `json:"table"`
	Key       string      `json:"key"`
	Column    string      `json:"column,omitempty"`
	Kept      table.Value `json:"kept,omitempty"`
	Discarded table.Value `json:"discarded,omitempty"`
	Rule      string      `json:"rule"`
}

// Resolution rule names used in reports.
const (
	RuleLWW              = "lww"
	RuleCounterMax       = "counter-max"
	RuleLargerHash       = "larger-hash"
	RuleDeleteWins       = "delete-wins"
	RuleWriteBeatsDelete = "write-beats-delete"
)

// Report lists every conflict the merge resolved. The merge is total and
// automatic; resolutions surface here instead of as errors.
type Report struct {
	Base   string           `json:"base"`
	Left   string           `json:"left"`
	Right  string           `json:"right"`
	Schema []SchemaConflict `json:"schema,omitempty"`
	Rows   []RowConflict    `json:"rows,omitempty"`
}

func (r *Report) Empty() bool {
	return len(r.Schema) == 0 && len(r.Rows) == 0
}

// sortConflicts fixes the report order so identical merges produce
// identical reports.
func (r *Report) sortConflicts() {
	sort.Slice(r.Schema, func(i, j int) bool {
		a, b := r.Schema[i], r.Schema[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Column < b.Column
	})
	sort.Slice(r.Rows, func(i, j int) bool {
		a, b := r.Rows[i], r.Rows[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Column < b.Column
	})
}

// Render formats the report for display.
func (r *Report) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "merge base %.8s\n", r.Base)
	if r.Empty() {
		sb.WriteString("no conflicts\n")
		return sb.String()
	}
	for _, c := range r.Schema {
		fmt.Fprintf(&sb, "schema %s.%s: kept %s %s, discarded %s %s (%s)\n",
			c.Table, c.Column, c.Kept.Name, c.Kept.Type, c.Discarded.Name, c.Discarded.Type, c.Rule)
	}
	for _, c := range r.Rows {
		if c.Column != "" {
			fmt.Fprintf(&sb, "row %s[%s].%s: kept %s, discarded %s (%s)\n",
				c.Table, c.Key, c.Column, c.Kept, c.Discarded, c.Rule)
			continue
		}
		fmt.Fprintf(&sb, "row %s[%s]: %s\n", c.Table, c.Key, c.Rule)
	}
	return sb.String()
}
