package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchdb/internal/table"
)

func TestDiff(t *testing.T) {
	t.Run("Identical", func(t *testing.T) {
		assert.True(t, Diff(seeded(t), seeded(t)).Empty())
	})

	t.Run("AddedRow", func(t *testing.T) {
		from := seeded(t)
		to := seeded(t)
		run(t, to, `INSERT INTO users (id, name) VALUES (4, 'dave')`, table.Stamp{Depth: 2, Commit: "c2"})

		d := Diff(from, to)
		require.Contains(t, d.Tables, "users")
		added := d.Tables["users"].AddedRows
		require.Contains(t, added, "4")
		assert.Equal(t, table.NewText("dave"), added["4"]["name"])
	})

	t.Run("DeletedRow", func(t *testing.T) {
		from := seeded(t)
		to := seeded(t)
		run(t, to, `DELETE FROM users WHERE id = 2`, table.Stamp{Depth: 2, Commit: "c2"})

		d := Diff(from, to)
		assert.Equal(t, []string{"2"}, d.Tables["users"].DeletedRows)
	})

	t.Run("ModifiedRow", func(t *testing.T) {
		from := seeded(t)
		to := seeded(t)
		run(t, to, `UPDATE users SET name = 'alicia' WHERE id = 1`, table.Stamp{Depth: 2, Commit: "c2"})

		d := Diff(from, to)
		changes := d.Tables["users"].ModifiedRows["1"]
		require.Len(t, changes, 1)
		assert.Equal(t, "name", changes[0].Column)
		assert.Equal(t, table.NewText("alice"), changes[0].Old)
		assert.Equal(t, table.NewText("alicia"), changes[0].New)
	})

	t.Run("StampsDoNotCount", func(t *testing.T) {
		from := seeded(t)
		to := seeded(t)
		// Rewrite the same value under a different commit.
		run(t, to, `UPDATE users SET name = 'alice' WHERE id = 1`, table.Stamp{Depth: 9, Commit: "c9"})
		assert.True(t, Diff(from, to).Empty())
	})

	t.Run("CreatedAndDroppedTables", func(t *testing.T) {
		from := seeded(t)
		to := seeded(t)
		run(t, to, `CREATE TABLE audit (id INT PRIMARY KEY)`, table.Stamp{Depth: 2, Commit: "c2"})
		delete(to.Tables, "users")

		d := Diff(from, to)
		assert.True(t, d.Tables["audit"].Created)
		assert.True(t, d.Tables["users"].Dropped)
	})
}

func TestDiffRender(t *testing.T) {
	from := seeded(t)
	to := seeded(t)
	run(t, to, `INSERT INTO users (id, name) VALUES (4, 'dave')`, table.Stamp{Depth: 2, Commit: "c2"})
	run(t, to, `UPDATE users SET score = 11 WHERE id = 1`, table.Stamp{Depth: 2, Commit: "c2"})
	run(t, to, `DELETE FROM users WHERE id = 2`, table.Stamp{Depth: 2, Commit: "c2"})

	out := Diff(from, to).Render()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "+ users[4] {id=4, name=dave}", lines[0])
	assert.Equal(t, "~ users[1].score: 10 -> 11", lines[1])
	assert.Equal(t, "- users[2]", lines[2])
}

func TestRevertDelta(t *testing.T) {
	t.Run("NoChanges", func(t *testing.T) {
		assert.True(t, RevertDelta(seeded(t), seeded(t)).Empty())
	})

	t.Run("RestoresModifiedValues", func(t *testing.T) {
		target := seeded(t)
		current := seeded(t)
		run(t, current, `UPDATE users SET name = 'changed' WHERE id = 1`, table.Stamp{Depth: 2, Commit: "c2"})

		delta := RevertDelta(current, target)
		require.False(t, delta.Empty())
		require.NoError(t, table.Apply(current, delta, table.Stamp{Depth: 3, Commit: "c3"}))

		assert.True(t, Diff(current, target).Empty())
	})

	t.Run("RestoresDeletedRows", func(t *testing.T) {
		target := seeded(t)
		current := seeded(t)
		run(t, current, `DELETE FROM users WHERE id = 2`, table.Stamp{Depth: 2, Commit: "c2"})

		delta := RevertDelta(current, target)
		require.NoError(t, table.Apply(current, delta, table.Stamp{Depth: 3, Commit: "c3"}))
		assert.Contains(t, current.Tables["users"].LiveKeys(), "2")
		assert.True(t, Diff(current, target).Empty())
	})

	t.Run("RemovesAddedRows", func(t *testing.T) {
		target := seeded(t)
		current := seeded(t)
		run(t, current, `INSERT INTO users (id, name) VALUES (4, 'extra')`, table.Stamp{Depth: 2, Commit: "c2"})

		delta := RevertDelta(current, target)
		require.NoError(t, table.Apply(current, delta, table.Stamp{Depth: 3, Commit: "c3"}))
		assert.NotContains(t, current.Tables["users"].LiveKeys(), "4")
	})

	t.Run("RecreatesDroppedTable", func(t *testing.T) {
		target := seeded(t)
		current := seeded(t)
		delete(current.Tables, "users")

		delta := RevertDelta(current, target)
		require.NoError(t, table.Apply(current, delta, table.Stamp{Depth: 3, Commit: "c3"}))
		require.Contains(t, current.Tables, "users")
		assert.True(t, Diff(current, target).Empty())
	})

	t.Run("DropsAddedTable", func(t *testing.T) {
		target := seeded(t)
		current := seeded(t)
		run(t, current, `CREATE TABLE extra (id INT PRIMARY KEY)`, table.Stamp{Depth: 2, Commit: "c2"})

		delta := RevertDelta(current, target)
		require.NoError(t, table.Apply(current, delta, table.Stamp{Depth: 3, Commit: "c3"}))
		assert.NotContains(t, current.Tables, "extra")
	})
}
