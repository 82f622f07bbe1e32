package table

import (
	"fmt"
	"strconv"
)

// ColumnType is the declared type of a column.
type ColumnType string

const (
	TypeInt  ColumnType = "INT"
	TypeReal ColumnType = "REAL"
	TypeText ColumnType = "TEXT"
	TypeBool ColumnType = "BOOL"
)

// Value is a typed cell value. Exactly one of the payload fields is
// meaningful, selected by Type; Null overrides all of them. The explicit
// tagging keeps the canonical JSON encoding stable across round-trips
// (a bare interface value would decode integers as float64).
type Value struct {
	Type ColumnType `json:"type"`
	Null bool       `json:"null,omitempty"`
	Int  int64      `json:"int,omitempty"`
	Real float64    `json:"real,omitempty"`
	Text string     `json:"text,omitempty"`
	Bool bool       `json:"bool,omitempty"`
}

func NewInt(v int64) Value     { return Value{Type: TypeInt, Int: v} }
func NewReal(v float64) Value  { return Value{Type: TypeReal, Real: v} }
func NewText(v string) Value   { return Value{Type: TypeText, Text: v} }
func NewBool(v bool) Value     { return Value{Type: TypeBool, Bool: v} }
func NewNull(t ColumnType) Value {
	return Value{Type: t, Null: true}
}

func (v Value) Equal(other Value) bool {
	return v == other
}

// numeric returns the value as a float64 for cross-type INT/REAL compares.
func (v Value) numeric() (float64, bool) {
	switch v.Type {
	case TypeInt:
		return float64(v.Int), true
	case TypeReal:
		return v.Real, true
	}
	return 0, false
}

// Compare orders two values: -1, 0 or 1. NULL sorts before everything.
// INT and REAL compare numerically against each other; any other type
// mismatch is an error.
func (v Value) Compare(other Value) (int, error) {
	if v.Null || other.Null {
		switch {
		case v.Null && other.Null:
			return 0, nil
		case v.Null:
			return -1, nil
		default:
			return 1, nil
		}
	}

	if a, ok := v.numeric(); ok {
		if b, ok := other.numeric(); ok {
			switch {
			case a < b:
				return -1, nil
			case a > b:
				return 1, nil
			default:
				return 0, nil
			}
		}
		return 0, fmt.Errorf("comparing %s with %s", v.Type, other.Type)
	}

	if v.Type != other.Type {
		return 0, fmt.Errorf("comparing %s with %s", v.Type, other.Type)
	}

	switch v.Type {
	case TypeText:
		switch {
		case v.Text < other.Text:
			return -1, nil
		case v.Text > other.Text:
			return 1, nil
		}
		return 0, nil
	case TypeBool:
		switch {
		case v.Bool == other.Bool:
			return 0, nil
		case !v.Bool:
			return -1, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("uncomparable type %s", v.Type)
}

func (v Value) String() string {
	if v.Null {
		return "NULL"
	}
	switch v.Type {
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case TypeText:
		return v.Text
	case TypeBool:
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return ""
}

// Coerce converts v to the target column type where a lossless conversion
// exists (INT to REAL, and text parsing for CSV ingestion).
func (v Value) Coerce(target ColumnType) (Value, error) {
	if v.Null {
		return NewNull(target), nil
	}
	if v.Type == target {
		return v, nil
	}

	switch target {
	case TypeReal:
		if v.Type == TypeInt {
			return NewReal(float64(v.Int)), nil
		}
		if v.Type == TypeText {
			f, err := strconv.ParseFloat(v.Text, 64)
			if err != nil {
				return Value{}, fmt.Errorf("coercing %q to REAL: %w", v.Text, err)
			}
			return NewReal(f), nil
		}
	case TypeInt:
		if v.Type == TypeText {
			n, err := strconv.ParseInt(v.Text, 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("coercing %q to INT: %w", v.Text, err)
			}
			return NewInt(n), nil
		}
	case TypeText:
		return NewText(v.String()), nil
	case TypeBool:
		if v.Type == TypeText {
			b, err := strconv.ParseBool(v.Text)
			if err != nil {
				return Value{}, fmt.Errorf("coercing %q to BOOL: %w", v.Text, err)
			}
			return NewBool(b), nil
		}
	}

	return Value{}, fmt.Errorf("cannot coerce %s to %s", v.Type, target)
}
