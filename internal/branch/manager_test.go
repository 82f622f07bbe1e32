package branch

import (
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchdb/internal/commit"
	"branchdb/internal/content"
	"branchdb/internal/errors"
)

type fixture struct {
	mgr   *Manager
	graph *commit.Graph
	snap  string
}

func setupManager(t *testing.T) *fixture {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := content.New(db, content.Options{})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	var tick int64
	graph := commit.NewGraph(store).WithClock(func() int64 {
		tick++
		return tick
	})

	snap, err := store.Put([]byte(`{"tables":{}}`))
	require.NoError(t, err)

	return &fixture{mgr: NewManager(db, graph), graph: graph, snap: snap}
}

func (f *fixture) commit(t *testing.T, parents []string, message string) *commit.Commit {
	t.Helper()
	c, err := f.graph.Create(parents, f.snap, message)
	require.NoError(t, err)
	return c
}

func TestManagerCreate(t *testing.T) {
	f := setupManager(t)
	root := f.commit(t, nil, "root")

	require.NoError(t, f.mgr.Create("main", root.Hash))

	t.Run("Head", func(t *testing.T) {
		head, err := f.mgr.Head("main")
		require.NoError(t, err)
		assert.Equal(t, root.Hash, head)
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := f.mgr.Create("main", root.Hash)
		assert.ErrorIs(t, err, errors.BranchExists(""))
	})

	t.Run("EmptyName", func(t *testing.T) {
		assert.Error(t, f.mgr.Create("  ", root.Hash))
	})

	t.Run("UnknownCommit", func(t *testing.T) {
		assert.Error(t, f.mgr.Create("other", "feedface"))
	})

	t.Run("UnknownBranchHead", func(t *testing.T) {
		_, err := f.mgr.Head("ghost")
		assert.ErrorIs(t, err, errors.NotFound(""))
	})
}

func TestManagerAdvance(t *testing.T) {
	t.Run("FastForward", func(t *testing.T) {
		f := setupManager(t)
		root := f.commit(t, nil, "root")
		next := f.commit(t, []string{root.Hash}, "next")
		require.NoError(t, f.mgr.Create("main", root.Hash))

		require.NoError(t, f.mgr.Advance("main", root.Hash, next.Hash))
		head, err := f.mgr.Head("main")
		require.NoError(t, err)
		assert.Equal(t, next.Hash, head)
	})

	t.Run("StaleExpected", func(t *testing.T) {
		f := setupManager(t)
		root := f.commit(t, nil, "root")
		a := f.commit(t, []string{root.Hash}, "a")
		b := f.commit(t, []string{a.Hash}, "b")
		require.NoError(t, f.mgr.Create("main", root.Hash))
		require.NoError(t, f.mgr.Advance("main", root.Hash, a.Hash))

		// Caller still believes the head is root.
		err := f.mgr.Advance("main", root.Hash, b.Hash)
		assert.ErrorIs(t, err, errors.NotFastForward(""))
	})

	t.Run("NonDescendant", func(t *testing.T) {
		f := setupManager(t)
		root := f.commit(t, nil, "root")
		a := f.commit(t, []string{root.Hash}, "a")
		b := f.commit(t, []string{root.Hash}, "b")
		require.NoError(t, f.mgr.Create("main", root.Hash))
		require.NoError(t, f.mgr.Advance("main", root.Hash, a.Hash))

		err := f.mgr.Advance("main", a.Hash, b.Hash)
		assert.ErrorIs(t, err, errors.NotFastForward(""))
	})

	t.Run("MergeCommitException", func(t *testing.T) {
		f := setupManager(t)
		root := f.commit(t, nil, "root")
		a := f.commit(t, []string{root.Hash}, "a")
		b := f.commit(t, []string{root.Hash}, "b")
		m := f.commit(t, []string{a.Hash, b.Hash}, "merge")
		require.NoError(t, f.mgr.Create("main", root.Hash))
		require.NoError(t, f.mgr.Advance("main", root.Hash, a.Hash))

		// m does not descend from a by first-parent ancestry alone, but a
		// merge whose first parent is the expected head is allowed.
		require.NoError(t, f.mgr.Advance("main", a.Hash, m.Hash))
	})

	t.Run("ConcurrentAdvance", func(t *testing.T) {
		f := setupManager(t)
		root := f.commit(t, nil, "root")
		a := f.commit(t, []string{root.Hash}, "a")
		b := f.commit(t, []string{root.Hash}, "b")
		require.NoError(t, f.mgr.Create("main", root.Hash))

		results := make([]error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			results[0] = f.mgr.Advance("main", root.Hash, a.Hash)
		}()
		go func() {
			defer wg.Done()
			results[1] = f.mgr.Advance("main", root.Hash, b.Hash)
		}()
		wg.Wait()

		// Exactly one of the two compare-and-swaps wins.
		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, errors.NotFastForward(""))
			}
		}
		assert.Equal(t, 1, wins)

		head, err := f.mgr.Head("main")
		require.NoError(t, err)
		assert.Contains(t, []string{a.Hash, b.Hash}, head)
	})
}

func TestManagerCheckout(t *testing.T) {
	f := setupManager(t)
	root := f.commit(t, nil, "root")
	require.NoError(t, f.mgr.Create("main", root.Hash))
	require.NoError(t, f.mgr.Create("feature", root.Hash))

	t.Run("NoneActive", func(t *testing.T) {
		_, err := f.mgr.Active()
		assert.ErrorIs(t, err, errors.NotFound(""))
	})

	t.Run("Switch", func(t *testing.T) {
		require.NoError(t, f.mgr.Checkout("main"))
		active, err := f.mgr.Active()
		require.NoError(t, err)
		assert.Equal(t, "main", active)

		require.NoError(t, f.mgr.Checkout("feature"))
		active, err = f.mgr.Active()
		require.NoError(t, err)
		assert.Equal(t, "feature", active)
	})

	t.Run("UnknownBranch", func(t *testing.T) {
		err := f.mgr.Checkout("ghost")
		assert.ErrorIs(t, err, errors.NotFound(""))
	})
}

func TestManagerDelete(t *testing.T) {
	f := setupManager(t)
	root := f.commit(t, nil, "root")
	require.NoError(t, f.mgr.Create("main", root.Hash))
	require.NoError(t, f.mgr.Create("feature", root.Hash))
	require.NoError(t, f.mgr.Checkout("main"))

	t.Run("Active", func(t *testing.T) {
		err := f.mgr.Delete("main")
		assert.ErrorIs(t, err, errors.CannotDeleteActive(""))
	})

	t.Run("Inactive", func(t *testing.T) {
		require.NoError(t, f.mgr.Delete("feature"))
		_, err := f.mgr.Head("feature")
		assert.ErrorIs(t, err, errors.NotFound(""))
	})

	t.Run("Missing", func(t *testing.T) {
		err := f.mgr.Delete("ghost")
		assert.ErrorIs(t, err, errors.NotFound(""))
	})
}

func TestManagerList(t *testing.T) {
	f := setupManager(t)
	root := f.commit(t, nil, "root")

	names, err := f.mgr.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"main", "feature", "bugfix"} {
		require.NoError(t, f.mgr.Create(name, root.Hash))
	}

	names, err = f.mgr.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"bugfix", "feature", "main"}, names)
}
