package sql

import (
	"strconv"
	"strings"

	"branchdb/internal/table"
)

// Statement is one parsed SQL-like statement. Exactly one branch is set.
type Statement struct {
	Create *CreateTable `parser:"( @@"`
	Insert *Insert      `parser:"| @@"`
	Update *Update      `parser:"| @@"`
	Delete *Delete      `parser:"| @@"`
	Select *Select      `parser:"| @@ ) \";\"?"`
}

type CreateTable struct {
	Table   string      `parser:"\"CREATE\" \"TABLE\" @Ident"`
	Columns []ColumnDef `parser:"\"(\" @@ ( \",\" @@ )* \")\""`
}

// ColumnDef declares a column. PRIMARY KEY must precede COUNTER when both
// appear.
type ColumnDef struct {
	Name       string `parser:"@Ident"`
	Type       string `parser:"@( \"INT\" | \"REAL\" | \"TEXT\" | \"BOOL\" )"`
	PrimaryKey bool   `parser:"@( \"PRIMARY\" \"KEY\" )?"`
	Counter    bool   `parser:"@\"COUNTER\"?"`
}

func (c ColumnDef) Column() table.Column {
	col := table.Column{
		Name:       c.Name,
		Type:       table.ColumnType(strings.ToUpper(c.Type)),
		PrimaryKey: c.PrimaryKey,
	}
	if c.Counter {
		col.Merge = table.MergeCounter
	}
	return col
}

type Insert struct {
	Table   string    `parser:"\"INSERT\" \"INTO\" @Ident"`
	Columns []string  `parser:"\"(\" @Ident ( \",\" @Ident )* \")\""`
	Values  []Literal `parser:"\"VALUES\" \"(\" @@ ( \",\" @@ )* \")\""`
}

type Update struct {
	Table string       `parser:"\"UPDATE\" @Ident"`
	Set   []Assignment `parser:"\"SET\" @@ ( \",\" @@ )*"`
	Where *Expr        `parser:"( \"WHERE\" @@ )?"`
}

type Assignment struct {
	Column string  `parser:"@Ident \"=\""`
	Value  Literal `parser:"@@"`
}

type Delete struct {
	Table string `parser:"\"DELETE\" \"FROM\" @Ident"`
	Where *Expr  `parser:"( \"WHERE\" @@ )?"`
}

type Select struct {
	Star    bool     `parser:"\"SELECT\" ( @\"*\""`
	Columns []string `parser:"| @Ident ( \",\" @Ident )* )"`
	Table   string   `parser:"\"FROM\" @Ident"`
	Where   *Expr    `parser:"( \"WHERE\" @@ )?"`
	AsOf    *SQLStr  `parser:"( \"AS\" \"OF\" @String )?"`
}

// Expr is a disjunction of conjunctions of simple comparisons.
type Expr struct {
	Or []*AndExpr `parser:"@@ ( \"OR\" @@ )*"`
}

type AndExpr struct {
	Conds []*Condition `parser:"@@ ( \"AND\" @@ )*"`
}

type Condition struct {
	Column string  `parser:"@Ident"`
	Op     string  `parser:"@( \"=\" | \"!=\" | \"<>\" | \"<=\" | \">=\" | \"<\" | \">\" )"`
	Value  Literal `parser:"@@"`
}

// SQLStr unquotes a single-quoted string token, collapsing doubled quotes.
type SQLStr string

func (s *SQLStr) Capture(values []string) error {
	v := values[0]
	*s = SQLStr(strings.ReplaceAll(v[1:len(v)-1], "''", "'"))
	return nil
}

// Boolean captures TRUE/FALSE case-insensitively.
type Boolean bool

func (b *Boolean) Capture(values []string) error {
	*b = Boolean(strings.EqualFold(values[0], "TRUE"))
	return nil
}

type Literal struct {
	Null   bool     `parser:"  @\"NULL\""`
	Bool   *Boolean `parser:"| @( \"TRUE\" | \"FALSE\" )"`
	Number *string  `parser:"| @Number"`
	String *SQLStr  `parser:"| @String"`
}

// Value converts the literal to a typed value. Numbers without a decimal
// point become INT, others REAL; NULL is typed TEXT and re-typed when
// coerced to its column.
func (l Literal) Value() (table.Value, error) {
	switch {
	case l.Null:
		return table.NewNull(table.TypeText), nil
	case l.Bool != nil:
		return table.NewBool(bool(*l.Bool)), nil
	case l.Number != nil:
		if strings.ContainsAny(*l.Number, ".eE") {
			f, err := strconv.ParseFloat(*l.Number, 64)
			if err != nil {
				return table.Value{}, err
			}
			return table.NewReal(f), nil
		}
		n, err := strconv.ParseInt(*l.Number, 10, 64)
		if err != nil {
			return table.Value{}, err
		}
		return table.NewInt(n), nil
	case l.String != nil:
		return table.NewText(string(*l.String)), nil
	}
	return table.Value{}, nil
}
