package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchdb/internal/table"
)

func TestParseCreateTable(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE users (id INT PRIMARY KEY, name TEXT, score INT COUNTER)`)
	require.NoError(t, err)
	require.NotNil(t, stmt.Create)

	assert.Equal(t, "users", stmt.Create.Table)
	require.Len(t, stmt.Create.Columns, 3)

	id := stmt.Create.Columns[0].Column()
	assert.Equal(t, table.Column{Name: "id", Type: table.TypeInt, PrimaryKey: true}, id)

	score := stmt.Create.Columns[2].Column()
	assert.Equal(t, table.MergeCounter, score.Merge)
	assert.False(t, score.PrimaryKey)
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse(`INSERT INTO users (id, name, active) VALUES (1, 'alice', TRUE);`)
	require.NoError(t, err)
	require.NotNil(t, stmt.Insert)

	assert.Equal(t, "users", stmt.Insert.Table)
	assert.Equal(t, []string{"id", "name", "active"}, stmt.Insert.Columns)
	require.Len(t, stmt.Insert.Values, 3)

	v, err := stmt.Insert.Values[0].Value()
	require.NoError(t, err)
	assert.Equal(t, table.NewInt(1), v)

	v, err = stmt.Insert.Values[1].Value()
	require.NoError(t, err)
	assert.Equal(t, table.NewText("alice"), v)

	v, err = stmt.Insert.Values[2].Value()
	require.NoError(t, err)
	assert.Equal(t, table.NewBool(true), v)
}

func TestParseUpdate(t *testing.T) {
	stmt, err := Parse(`UPDATE users SET name = 'bob', score = 2.5 WHERE id = 1`)
	require.NoError(t, err)
	require.NotNil(t, stmt.Update)

	assert.Equal(t, "users", stmt.Update.Table)
	require.Len(t, stmt.Update.Set, 2)
	assert.Equal(t, "name", stmt.Update.Set[0].Column)

	v, err := stmt.Update.Set[1].Value.Value()
	require.NoError(t, err)
	assert.Equal(t, table.NewReal(2.5), v)

	require.NotNil(t, stmt.Update.Where)
}

func TestParseDelete(t *testing.T) {
	t.Run("WithWhere", func(t *testing.T) {
		stmt, err := Parse(`DELETE FROM users WHERE id = 1`)
		require.NoError(t, err)
		require.NotNil(t, stmt.Delete)
		assert.Equal(t, "users", stmt.Delete.Table)
		require.NotNil(t, stmt.Delete.Where)
	})

	t.Run("WholeTable", func(t *testing.T) {
		stmt, err := Parse(`DELETE FROM users`)
		require.NoError(t, err)
		require.NotNil(t, stmt.Delete)
		assert.Nil(t, stmt.Delete.Where)
	})
}

func TestParseSelect(t *testing.T) {
	t.Run("Star", func(t *testing.T) {
		stmt, err := Parse(`SELECT * FROM users`)
		require.NoError(t, err)
		require.NotNil(t, stmt.Select)
		assert.True(t, stmt.Select.Star)
		assert.Equal(t, "users", stmt.Select.Table)
	})

	t.Run("TrailingSemicolon", func(t *testing.T) {
		stmt, err := Parse(`SELECT * FROM users;`)
		require.NoError(t, err)
		require.NotNil(t, stmt.Select)
	})

	t.Run("Projection", func(t *testing.T) {
		stmt, err := Parse(`SELECT id, name FROM users WHERE score >= 10 AND active = TRUE`)
		require.NoError(t, err)
		require.NotNil(t, stmt.Select)
		assert.Equal(t, []string{"id", "name"}, stmt.Select.Columns)

		require.NotNil(t, stmt.Select.Where)
		require.Len(t, stmt.Select.Where.Or, 1)
		assert.Len(t, stmt.Select.Where.Or[0].Conds, 2)
	})

	t.Run("Disjunction", func(t *testing.T) {
		stmt, err := Parse(`SELECT * FROM users WHERE id = 1 OR id = 2`)
		require.NoError(t, err)
		require.Len(t, stmt.Select.Where.Or, 2)
	})

	t.Run("AsOf", func(t *testing.T) {
		stmt, err := Parse(`SELECT * FROM users AS OF 'feature'`)
		require.NoError(t, err)
		require.NotNil(t, stmt.Select.AsOf)
		assert.Equal(t, "feature", string(*stmt.Select.AsOf))
	})
}

func TestParseLiterals(t *testing.T) {
	stmt, err := Parse(`INSERT INTO t (a, b, c, d) VALUES (NULL, -3, 1e3, 'it''s')`)
	require.NoError(t, err)
	require.NotNil(t, stmt.Insert)

	v, err := stmt.Insert.Values[0].Value()
	require.NoError(t, err)
	assert.True(t, v.Null)

	v, err = stmt.Insert.Values[1].Value()
	require.NoError(t, err)
	assert.Equal(t, table.NewInt(-3), v)

	v, err = stmt.Insert.Values[2].Value()
	require.NoError(t, err)
	assert.Equal(t, table.NewReal(1000), v)

	v, err = stmt.Insert.Values[3].Value()
	require.NoError(t, err)
	assert.Equal(t, table.NewText("it's"), v)
}

func TestParseCaseInsensitiveKeywords(t *testing.T) {
	stmt, err := Parse(`select * from users where id = 1`)
	require.NoError(t, err)
	require.NotNil(t, stmt.Select)
	assert.True(t, stmt.Select.Star)
}

func TestParseComments(t *testing.T) {
	stmt, err := Parse("SELECT * FROM users -- trailing note")
	require.NoError(t, err)
	require.NotNil(t, stmt.Select)
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"DROP TABLE users",
		"SELECT FROM users",
		"INSERT INTO users VALUES (1)",
		"CREATE TABLE t ()",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestParseOperators(t *testing.T) {
	for _, op := range []string{"=", "!=", "<>", "<", ">", "<=", ">="} {
		stmt, err := Parse(`SELECT * FROM t WHERE a ` + op + ` 1`)
		require.NoError(t, err, op)
		assert.Equal(t, op, stmt.Select.Where.Or[0].Conds[0].Op)
	}
}
