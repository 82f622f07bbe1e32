package merge

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"branchdb/internal/commit"
	"branchdb/internal/content"
	"branchdb/internal/materialize"
	"branchdb/internal/table"
)

// Engine resolves two divergent heads into a single consistent state.
// The outcome is a pure function of the three input states, so two
// processes merging the same heads produce bit-identical results.
type Engine struct {
	graph  *commit.Graph
	mat    *materialize.Materializer
	store  *content.Store
	logger *zap.Logger
}

// Result is a completed merge: the two-parent commit, the resolved state
// it references, and the report of every resolved conflict.
type Result struct {
	Commit *commit.Commit
	State  *table.State
	Report *Report
}

func NewEngine(graph *commit.Graph, mat *materialize.Materializer, store *content.Store, logger *zap.Logger) *Engine {
	return &Engine{graph: graph, mat: mat, store: store, logger: logger}
}

// Merge resolves left and right against their merge base, writes the
// resolved snapshot, and creates the merge commit with parents
// [left, right]. It never pauses for input; every conflict is resolved
// deterministically and recorded in the report.
func (e *Engine) Merge(left, right, message string) (*Result, error) {
	base, err := e.graph.MergeBase(left, right)
	if err != nil {
		return nil, err
	}

	leftCommit, err := e.graph.Get(left)
	if err != nil {
		return nil, err
	}
	rightCommit, err := e.graph.Get(right)
	if err != nil {
		return nil, err
	}

	baseState, err := e.mat.StateAt(base.Hash)
	if err != nil {
		return nil, err
	}
	leftState, err := e.mat.StateAt(left)
	if err != nil {
		return nil, err
	}
	rightState, err := e.mat.StateAt(right)
	if err != nil {
		return nil, err
	}

	resolved, report, err := Resolve(baseState, leftState, rightState, base.Hash, leftCommit.Hash, rightCommit.Hash)
	if err != nil {
		return nil, err
	}

	data, err := table.StatePayload(resolved).Encode()
	if err != nil {
		return nil, err
	}
	snapshot, err := e.store.Put(data)
	if err != nil {
		return nil, fmt.Errorf("storing merge snapshot: %w", err)
	}

	c, err := e.graph.Create([]string{left, right}, snapshot, message)
	if err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.Info("merged",
			zap.String("left", leftCommit.ShortHash()),
			zap.String("right", rightCommit.ShortHash()),
			zap.String("commit", c.ShortHash()),
			zap.Int("schema_conflicts", len(report.Schema)),
			zap.Int("row_conflicts", len(report.Rows)))
	}

	return &Result{Commit: c, State: resolved, Report: report}, nil
}

// Resolve computes the merged state of left and right relative to base.
// Pure: no storage access, no clock, no randomness.
func Resolve(baseState, leftState, rightState *table.State, baseHash, leftHash, rightHash string) (*table.State, *Report, error) {
	report := &Report{Base: baseHash, Left: leftHash, Right: rightHash}
	out := table.NewState()

	// winnerHash breaks schema conflicts: the side whose head commit hash
	// is lexicographically larger wins.
	leftWins := leftHash > rightHash

	for _, name := range unionTableNames(leftState, rightState) {
		lt := leftState.Tables[name]
		rt := rightState.Tables[name]
		bt := baseState.Tables[name]

		switch {
		case lt != nil && rt == nil:
			if keep := resolveOneSidedTable(lt, bt); keep != nil {
				out.Tables[name] = keep
			}
		case lt == nil && rt != nil:
			if keep := resolveOneSidedTable(rt, bt); keep != nil {
				out.Tables[name] = keep
			}
		default:
			out.Tables[name] = mergeTable(name, bt, lt, rt, leftWins, report)
		}
	}

	report.sortConflicts()
	return out, report, nil
}

// resolveOneSidedTable handles a table present on only one side: added
// since base it is kept; dropped on the other side while unmodified it
// stays dropped; dropped but modified it survives.
func resolveOneSidedTable(side *table.Table, base *table.Table) *table.Table {
	if base == nil {
		return side.Clone()
	}
	if tablesEqual(side, base) {
		return nil // unmodified, the other side's drop wins
	}
	return side.Clone()
}

func mergeTable(name string, bt, lt, rt *table.Table, leftWins bool, report *Report) *table.Table {
	schema := mergeSchema(name, bt, lt, rt, leftWins, report)
	merged := table.NewTable(schema)

	for _, key := range unionRowKeys(lt, rt) {
		var baseRow *table.Row
		if bt != nil {
			baseRow = bt.Rows[key]
		}
		row := mergeRow(name, key, schema, baseRow, lt.Rows[key], rt.Rows[key], report)
		if row != nil {
			merged.Rows[key] = row
		}
	}
	return merged
}

// mergeSchema unions the column sets. Order: base columns first, then
// columns only the left side added, then the right's.
func mergeSchema(name string, bt, lt, rt *table.Table, leftWins bool, report *Report) *table.Schema {
	out := &table.Schema{}

	var baseSchema *table.Schema
	if bt != nil {
		baseSchema = bt.Schema
	}

	add := func(col table.Column, ok bool) {
		if ok {
			out.Columns = append(out.Columns, col)
		}
	}

	resolve := func(colName string) (table.Column, bool) {
		lc, inLeft := lt.Schema.Column(colName)
		rc, inRight := rt.Schema.Column(colName)
		var baseCol table.Column
		inBase := false
		if baseSchema != nil {
			baseCol, inBase = baseSchema.Column(colName)
		}

		switch {
		case inLeft && inRight:
			if lc == rc {
				return lc, true
			}
			if inBase && lc == baseCol {
				return rc, true // right changed it
			}
			if inBase && rc == baseCol {
				return lc, true // left changed it
			}
			// Modified differently on both sides: larger head hash wins,
			// the discarded definition goes in the report.
			kept, discarded := rc, lc
			if leftWins {
				kept, discarded = lc, rc
			}
			report.Schema = append(report.Schema, SchemaConflict{
				Table:     name,
				Column:    colName,
				Kept:      kept,
				Discarded: discarded,
				Rule:      RuleLargerHash,
			})
			return kept, true
		case inLeft:
			if inBase && lc == baseCol {
				return table.Column{}, false // dropped on right, unmodified on left
			}
			return lc, true
		case inRight:
			if inBase && rc == baseCol {
				return table.Column{}, false
			}
			return rc, true
		}
		return table.Column{}, false
	}

	seen := make(map[string]bool)
	if baseSchema != nil {
		for _, c := range baseSchema.Columns {
			seen[c.Name] = true
			add(resolve(c.Name))
		}
	}
	for _, c := range lt.Schema.Columns {
		if !seen[c.Name] {
			seen[c.Name] = true
			add(resolve(c.Name))
		}
	}
	for _, c := range rt.Schema.Columns {
		if !seen[c.Name] {
			seen[c.Name] = true
			add(resolve(c.Name))
		}
	}
	return out
}

// mergeRow resolves one primary key. Returns nil when the key should not
// appear in the merged table at all (absent both sides).
func mergeRow(name, key string, schema *table.Schema, baseRow, leftRow, rightRow *table.Row, report *Report) *table.Row {
	switch {
	case leftRow == nil && rightRow == nil:
		return nil
	case leftRow == nil:
		return rightRow.Clone()
	case rightRow == nil:
		return leftRow.Clone()
	}

	// Tombstone handling first: a deletion is a write with a stamp.
	switch {
	case leftRow.Deleted && rightRow.Deleted:
		if leftRow.Stamp.Less(rightRow.Stamp) {
			return rightRow.Clone()
		}
		return leftRow.Clone()
	case leftRow.Deleted:
		return resolveDeleteVsRow(name, key, schema, leftRow, rightRow, baseRow, report)
	case rightRow.Deleted:
		return resolveDeleteVsRow(name, key, schema, rightRow, leftRow, baseRow, report)
	}

	// Both live: resolve field by field.
	out := &table.Row{Key: key, Fields: make(map[string]table.Field)}
	for _, col := range schema.Columns {
		lf, inLeft := leftRow.Fields[col.Name]
		rf, inRight := rightRow.Fields[col.Name]

		switch {
		case !inLeft && !inRight:
			continue
		case !inRight:
			out.Fields[col.Name] = lf
		case !inLeft:
			out.Fields[col.Name] = rf
		case lf == rf:
			out.Fields[col.Name] = lf
		default:
			var baseField table.Field
			inBase := false
			if baseRow != nil && !baseRow.Deleted {
				baseField, inBase = baseRow.Fields[col.Name]
			}
			kept, discarded, rule := resolveField(col, lf, rf)
			out.Fields[col.Name] = kept

			// Only a double modification since base is a conflict worth
			// reporting; a one-sided change is ordinary convergence.
			bothChanged := !inBase || (!lf.Value.Equal(baseField.Value) && !rf.Value.Equal(baseField.Value))
			if bothChanged && !kept.Value.Equal(discarded.Value) {
				report.Rows = append(report.Rows, RowConflict{
					Table:     name,
					Key:       key,
					Column:    col.Name,
					Kept:      kept.Value,
					Discarded: discarded.Value,
					Rule:      rule,
				})
			}
		}
	}

	// Row stamp: the later of the two sides, for deterministic bytes.
	out.Stamp = leftRow.Stamp
	if out.Stamp.Less(rightRow.Stamp) {
		out.Stamp = rightRow.Stamp
	}
	return out
}

// resolveField picks the winning field for one column under its declared
// CRDT kind. Symmetric in its arguments.
func resolveField(col table.Column, a, b table.Field) (kept, discarded table.Field, rule string) {
	if col.MergeOrDefault() == table.MergeCounter {
		cmp, err := a.Value.Compare(b.Value)
		if err == nil && cmp != 0 {
			if cmp > 0 {
				return a, b, RuleCounterMax
			}
			return b, a, RuleCounterMax
		}
		// Equal values or incomparable: fall through to the stamp order
		// so the kept stamp is still deterministic.
	}
	if a.Stamp.Less(b.Stamp) {
		return b, a, ruleFor(col)
	}
	return a, b, ruleFor(col)
}

func ruleFor(col table.Column) string {
	if col.MergeOrDefault() == table.MergeCounter {
		return RuleCounterMax
	}
	return RuleLWW
}

// resolveDeleteVsRow resolves a tombstone on one side against a live row
// on the other. The deletion is a write: each concurrently-modified field
// compares its stamp against the tombstone's, and counter writes always
// survive since counters never regress. If any field write beats the
// deletion the row survives with the live side's fields; otherwise the
// delete wins.
func resolveDeleteVsRow(name, key string, schema *table.Schema, tomb, live, baseRow *table.Row, report *Report) *table.Row {
	modified := false
	survives := false
	for _, col := range schema.Columns {
		f, ok := live.Fields[col.Name]
		if !ok {
			continue
		}
		var baseField table.Field
		inBase := false
		if baseRow != nil && !baseRow.Deleted {
			baseField, inBase = baseRow.Fields[col.Name]
		}
		changed := !inBase || !f.Value.Equal(baseField.Value)
		if !changed {
			continue
		}
		modified = true
		if col.MergeOrDefault() == table.MergeCounter || tomb.Stamp.Less(f.Stamp) {
			survives = true
		}
	}

	if !modified {
		// Unmodified on the live side: delete wins, no conflict.
		return tomb.Clone()
	}
	if survives {
		report.Rows = append(report.Rows, RowConflict{
			Table: name,
			Key:   key,
			Rule:  RuleWriteBeatsDelete,
		})
		return live.Clone()
	}
	report.Rows = append(report.Rows, RowConflict{
		Table: name,
		Key:   key,
		Rule:  RuleDeleteWins,
	})
	return tomb.Clone()
}

func unionTableNames(a, b *table.State) []string {
	seen := make(map[string]bool)
	var names []string
	for name := range a.Tables {
		seen[name] = true
		names = append(names, name)
	}
	for name := range b.Tables {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func unionRowKeys(a, b *table.Table) []string {
	seen := make(map[string]bool)
	var keys []string
	for k := range a.Rows {
		seen[k] = true
		keys = append(keys, k)
	}
	for k := range b.Rows {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func tablesEqual(a, b *table.Table) bool {
	sa := table.State{Tables: map[string]*table.Table{"t": a}}
	sb := table.State{Tables: map[string]*table.Table{"t": b}}
	ba, errA := sa.CanonicalBytes()
	bb, errB := sb.CanonicalBytes()
	return errA == nil && errB == nil && string(ba) == string(bb)
}
