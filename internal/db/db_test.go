package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchdb/internal/errors"
	"branchdb/internal/table"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenMemory(nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func exec(t *testing.T, d *DB, input string) {
	t.Helper()
	_, err := d.Exec(input)
	require.NoError(t, err)
}

func commitAll(t *testing.T, d *DB, message string) string {
	t.Helper()
	c, err := d.Commit(message)
	require.NoError(t, err)
	return c.Hash
}

func TestBootstrap(t *testing.T) {
	d := openTestDB(t)

	active, err := d.Branches.Active()
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, active)

	head, err := d.Head()
	require.NoError(t, err)

	root, err := d.Graph.Get(head)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Equal(t, "initialize database", root.Message)

	state, err := d.StateAt("HEAD")
	require.NoError(t, err)
	assert.Empty(t, state.Tables)
}

func TestExecAndCommit(t *testing.T) {
	d := openTestDB(t)

	exec(t, d, `CREATE TABLE users (id INT PRIMARY KEY, name TEXT)`)
	exec(t, d, `INSERT INTO users (id, name) VALUES (1, 'alice')`)

	t.Run("StagedWritesVisibleBeforeCommit", func(t *testing.T) {
		r, err := d.Exec(`SELECT name FROM users`)
		require.NoError(t, err)
		require.Len(t, r.Rows, 1)
		assert.Equal(t, table.NewText("alice"), r.Rows[0][0])
	})

	t.Run("HeadUnchangedUntilCommit", func(t *testing.T) {
		state, err := d.StateAt("HEAD")
		require.NoError(t, err)
		assert.Empty(t, state.Tables)
	})

	before, err := d.Head()
	require.NoError(t, err)
	hash := commitAll(t, d, "add users")

	t.Run("CommitAdvancesHead", func(t *testing.T) {
		head, err := d.Head()
		require.NoError(t, err)
		assert.Equal(t, hash, head)
		assert.NotEqual(t, before, head)
	})

	t.Run("CommitClearsStaging", func(t *testing.T) {
		staged, err := d.Staged()
		require.NoError(t, err)
		assert.True(t, staged.Empty())
	})

	t.Run("CommittedStateQueryable", func(t *testing.T) {
		state, err := d.StateAt("HEAD")
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, state.Tables["users"].LiveKeys())
	})

	t.Run("NothingStaged", func(t *testing.T) {
		_, err := d.Commit("empty")
		assert.ErrorIs(t, err, ErrNothingStaged)
	})

	t.Run("EmptyMessage", func(t *testing.T) {
		exec(t, d, `INSERT INTO users (id, name) VALUES (2, 'bob')`)
		_, err := d.Commit("   ")
		assert.Error(t, err)
	})
}

func TestResolveRef(t *testing.T) {
	d := openTestDB(t)
	exec(t, d, `CREATE TABLE t (id INT PRIMARY KEY)`)
	hash := commitAll(t, d, "create t")

	for _, ref := range []string{"", "HEAD", "main", hash, hash[:8]} {
		got, err := d.ResolveRef(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, hash, got)
	}

	t.Run("AbbreviationMatchesLogOutput", func(t *testing.T) {
		c, err := d.Graph.Get(hash)
		require.NoError(t, err)
		got, err := d.ResolveRef(c.ShortHash())
		require.NoError(t, err)
		assert.Equal(t, hash, got)
	})

	t.Run("TooShortPrefix", func(t *testing.T) {
		_, err := d.ResolveRef(hash[:3])
		assert.ErrorIs(t, err, errors.NotFound(""))
	})

	_, err := d.ResolveRef("nonsense")
	assert.ErrorIs(t, err, errors.NotFound(""))
}

func TestSelectAsOf(t *testing.T) {
	d := openTestDB(t)
	exec(t, d, `CREATE TABLE users (id INT PRIMARY KEY, name TEXT)`)
	exec(t, d, `INSERT INTO users (id, name) VALUES (1, 'a')`)
	c1 := commitAll(t, d, "v1")
	exec(t, d, `UPDATE users SET name = 'b' WHERE id = 1`)
	commitAll(t, d, "v2")

	r, err := d.Exec(`SELECT name FROM users AS OF '` + c1 + `'`)
	require.NoError(t, err)
	assert.Equal(t, table.NewText("a"), r.Rows[0][0])

	r, err = d.Exec(`SELECT name FROM users`)
	require.NoError(t, err)
	assert.Equal(t, table.NewText("b"), r.Rows[0][0])
}

func TestBranching(t *testing.T) {
	d := openTestDB(t)
	exec(t, d, `CREATE TABLE t (id INT PRIMARY KEY)`)
	commitAll(t, d, "base")

	require.NoError(t, d.CreateBranch("feature"))

	names, err := d.Branches.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", "main"}, names)

	mainHead, err := d.Branches.Head("main")
	require.NoError(t, err)
	featHead, err := d.Branches.Head("feature")
	require.NoError(t, err)
	assert.Equal(t, mainHead, featHead)

	// Work on feature does not move main.
	require.NoError(t, d.Branches.Checkout("feature"))
	exec(t, d, `INSERT INTO t (id) VALUES (1)`)
	commitAll(t, d, "on feature")

	unchanged, err := d.Branches.Head("main")
	require.NoError(t, err)
	assert.Equal(t, mainHead, unchanged)
}

func TestMergeDivergedBranches(t *testing.T) {
	d := openTestDB(t)
	exec(t, d, `CREATE TABLE users (id INT PRIMARY KEY, name TEXT)`)
	exec(t, d, `INSERT INTO users (id, name) VALUES (1, 'a')`)
	c1 := commitAll(t, d, "seed")

	require.NoError(t, d.CreateBranch("feature"))

	exec(t, d, `UPDATE users SET name = 'b' WHERE id = 1`)
	c2 := commitAll(t, d, "main edit")

	require.NoError(t, d.Branches.Checkout("feature"))
	exec(t, d, `UPDATE users SET name = 'c' WHERE id = 1`)
	c3 := commitAll(t, d, "feature edit")

	require.NoError(t, d.Branches.Checkout("main"))
	result, fastForward, err := d.Merge("feature", "")
	require.NoError(t, err)
	assert.False(t, fastForward)
	require.NotNil(t, result)

	t.Run("CommitParents", func(t *testing.T) {
		assert.Equal(t, []string{c2, c3}, result.Commit.Parents)
		head, err := d.Head()
		require.NoError(t, err)
		assert.Equal(t, result.Commit.Hash, head)
	})

	t.Run("WinnerByHashTieBreak", func(t *testing.T) {
		want := table.NewText("b")
		if c3 > c2 {
			want = table.NewText("c")
		}
		r, err := d.Exec(`SELECT name FROM users`)
		require.NoError(t, err)
		assert.Equal(t, want, r.Rows[0][0])
	})

	t.Run("ConflictReported", func(t *testing.T) {
		require.Len(t, result.Report.Rows, 1)
		assert.Equal(t, "users", result.Report.Rows[0].Table)
		assert.Equal(t, "name", result.Report.Rows[0].Column)
	})

	t.Run("HistoryKeepsBothSides", func(t *testing.T) {
		log, err := d.Log()
		require.NoError(t, err)
		seen := map[string]bool{}
		for _, c := range log {
			seen[c.Hash] = true
		}
		assert.True(t, seen[c1])
		assert.True(t, seen[c2])
		assert.True(t, seen[c3])
	})

	t.Run("MergeAgainUpToDate", func(t *testing.T) {
		_, _, err := d.Merge("feature", "")
		assert.ErrorIs(t, err, ErrUpToDate)
	})
}

func TestMergeFastForward(t *testing.T) {
	d := openTestDB(t)
	exec(t, d, `CREATE TABLE t (id INT PRIMARY KEY)`)
	commitAll(t, d, "base")

	require.NoError(t, d.CreateBranch("feature"))
	require.NoError(t, d.Branches.Checkout("feature"))
	exec(t, d, `INSERT INTO t (id) VALUES (1)`)
	featHead := commitAll(t, d, "ahead")

	require.NoError(t, d.Branches.Checkout("main"))
	result, fastForward, err := d.Merge("feature", "")
	require.NoError(t, err)
	assert.True(t, fastForward)
	assert.Nil(t, result)

	head, err := d.Head()
	require.NoError(t, err)
	assert.Equal(t, featHead, head)
}

func TestMergeSelf(t *testing.T) {
	d := openTestDB(t)
	_, _, err := d.Merge("main", "")
	assert.Error(t, err)
}

func TestDiffRefs(t *testing.T) {
	d := openTestDB(t)
	exec(t, d, `CREATE TABLE users (id INT PRIMARY KEY, name TEXT)`)
	exec(t, d, `INSERT INTO users (id, name) VALUES (1, 'a')`)
	c1 := commitAll(t, d, "v1")
	exec(t, d, `UPDATE users SET name = 'b' WHERE id = 1`)
	commitAll(t, d, "v2")

	diff, err := d.Diff(c1, "HEAD")
	require.NoError(t, err)
	require.False(t, diff.Empty())

	changes := diff.Tables["users"].ModifiedRows["1"]
	require.Len(t, changes, 1)
	assert.Equal(t, table.NewText("a"), changes[0].Old)
	assert.Equal(t, table.NewText("b"), changes[0].New)
}

func TestRevert(t *testing.T) {
	d := openTestDB(t)
	exec(t, d, `CREATE TABLE users (id INT PRIMARY KEY, name TEXT)`)
	exec(t, d, `INSERT INTO users (id, name) VALUES (1, 'a')`)
	c1 := commitAll(t, d, "v1")
	exec(t, d, `UPDATE users SET name = 'b' WHERE id = 1`)
	exec(t, d, `INSERT INTO users (id, name) VALUES (2, 'z')`)
	c2 := commitAll(t, d, "v2")

	rev, err := d.Revert(c1)
	require.NoError(t, err)

	t.Run("StateMatchesTarget", func(t *testing.T) {
		diff, err := d.Diff(c1, "HEAD")
		require.NoError(t, err)
		assert.True(t, diff.Empty())
	})

	t.Run("HistoryPreserved", func(t *testing.T) {
		// The revert is a new commit on top; v2 stays reachable.
		assert.Equal(t, []string{c2}, rev.Parents)
		state, err := d.StateAt(c2)
		require.NoError(t, err)
		assert.Equal(t, table.NewText("b"), state.Tables["users"].Rows["1"].Fields["name"].Value)
	})

	t.Run("RevertToHeadUpToDate", func(t *testing.T) {
		_, err := d.Revert("HEAD")
		assert.ErrorIs(t, err, ErrUpToDate)
	})
}

func TestImportCSV(t *testing.T) {
	d := openTestDB(t)

	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,alice\n2,bob\n"), 0o644))

	batch, err := d.Import(path, "people")
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Rows)

	// Staged, not committed.
	r, err := d.Exec(`SELECT name FROM people WHERE id = '1'`)
	require.NoError(t, err)
	require.Len(t, r.Rows, 1)
	assert.Equal(t, table.NewText("alice"), r.Rows[0][0])

	commitAll(t, d, "import people")
	state, err := d.StateAt("HEAD")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, state.Tables["people"].LiveKeys())
}

func TestStagingPersistsAcrossStatements(t *testing.T) {
	d := openTestDB(t)
	exec(t, d, `CREATE TABLE t (id INT PRIMARY KEY, n INT)`)
	exec(t, d, `INSERT INTO t (id, n) VALUES (1, 1)`)
	exec(t, d, `UPDATE t SET n = 2 WHERE id = 1`)
	exec(t, d, `INSERT INTO t (id, n) VALUES (2, 5)`)
	exec(t, d, `DELETE FROM t WHERE id = 2`)

	commitAll(t, d, "folded")

	state, err := d.StateAt("HEAD")
	require.NoError(t, err)
	tbl := state.Tables["t"]
	assert.Equal(t, []string{"1"}, tbl.LiveKeys())
	assert.Equal(t, table.NewInt(2), tbl.Rows["1"].Fields["n"].Value)
}
