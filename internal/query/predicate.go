package query

import (
	"fmt"

	"branchdb/internal/sql"
	"branchdb/internal/table"
)

// Eval evaluates a predicate against one row. A nil predicate matches
// everything. Missing fields evaluate as NULL.
func Eval(expr *sql.Expr, row *table.Row, schema *table.Schema) (bool, error) {
	if expr == nil {
		return true, nil
	}
	for _, and := range expr.Or {
		matched := true
		for _, cond := range and.Conds {
			ok, err := evalCondition(cond, row, schema)
			if err != nil {
				return false, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func evalCondition(cond *sql.Condition, row *table.Row, schema *table.Schema) (bool, error) {
	col, ok := schema.Column(cond.Column)
	if !ok {
		return false, fmt.Errorf("unknown column %q in predicate", cond.Column)
	}

	var fieldValue table.Value
	if f, present := row.Fields[cond.Column]; present {
		fieldValue = f.Value
	} else {
		fieldValue = table.NewNull(col.Type)
	}

	raw, err := cond.Value.Value()
	if err != nil {
		return false, fmt.Errorf("literal for %q: %w", cond.Column, err)
	}
	lit, err := raw.Coerce(col.Type)
	if err != nil {
		return false, fmt.Errorf("literal for %q: %w", cond.Column, err)
	}

	cmp, err := fieldValue.Compare(lit)
	if err != nil {
		return false, fmt.Errorf("comparing %q: %w", cond.Column, err)
	}

	switch cond.Op {
	case "=":
		return cmp == 0, nil
	case "!=", "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %q", cond.Op)
}
