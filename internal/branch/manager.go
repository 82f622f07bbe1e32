package branch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"branchdb/internal/commit"
	"branchdb/internal/errors"
)

const (
	branchPrefix = "branch:"
	activeKey    = "active"
)

// Manager owns the only mutable state in the system: the branch name to
// head hash bindings, plus the active-branch marker. Everything else is
// derived from the immutable graph.
type Manager struct {
	db    *badger.DB
	graph *commit.Graph
}

func NewManager(db *badger.DB, graph *commit.Graph) *Manager {
	return &Manager{db: db, graph: graph}
}

// Create binds name to an existing commit.
func (m *Manager) Create(name, at string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if _, err := m.graph.Get(at); err != nil {
		return fmt.Errorf("resolving target commit: %w", err)
	}

	key := []byte(branchPrefix + name)
	err := m.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return errors.BranchExists(name)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, []byte(at))
	})
	if err != nil {
		return err
	}
	return nil
}

// Head returns the current head hash of name.
func (m *Manager) Head(name string) (string, error) {
	var head string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(branchPrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			head = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", errors.NotFound("branch %q not found", name)
	}
	if err != nil {
		return "", fmt.Errorf("reading branch head: %w", err)
	}
	return head, nil
}

// Advance moves the head of name from expected to next as a single atomic
// compare-and-swap. A stale expected head fails with NotFastForward; the
// caller retries with a fresh head. The new commit must descend from the
// expected head, except that a two-parent merge commit whose first parent
// is the expected head is always permitted.
func (m *Manager) Advance(name, expected, next string) error {
	c, err := m.graph.Get(next)
	if err != nil {
		return fmt.Errorf("resolving new head: %w", err)
	}

	allowed := c.IsMerge() && c.Parents[0] == expected
	if !allowed {
		ok, err := m.graph.IsAncestor(expected, next)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFastForward(name)
		}
	}

	key := []byte(branchPrefix + name)
	err = m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return errors.NotFound("branch %q not found", name)
		} else if err != nil {
			return err
		}

		var current string
		if err := item.Value(func(val []byte) error {
			current = string(val)
			return nil
		}); err != nil {
			return err
		}
		if current != expected {
			return errors.NotFastForward(name)
		}
		return txn.Set(key, []byte(next))
	})
	if err == badger.ErrConflict {
		// A concurrent writer moved the head between our read and commit.
		return errors.NotFastForward(name)
	}
	return err
}

// Checkout sets the active branch.
func (m *Manager) Checkout(name string) error {
	if _, err := m.Head(name); err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(activeKey), []byte(name))
	})
}

// Active returns the checked-out branch name.
func (m *Manager) Active() (string, error) {
	var name string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(activeKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			name = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", errors.NotFound("no branch checked out")
	}
	if err != nil {
		return "", fmt.Errorf("reading active branch: %w", err)
	}
	return name, nil
}

// Delete removes the binding only; commits stay reachable from other
// branches or remain as undeleted history.
func (m *Manager) Delete(name string) error {
	active, err := m.Active()
	if err == nil && active == name {
		return errors.CannotDeleteActive(name)
	}

	key := []byte(branchPrefix + name)
	return m.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return errors.NotFound("branch %q not found", name)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// List returns all branch names in sorted order.
func (m *Manager) List() ([]string, error) {
	var names []string
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(branchPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			names = append(names, strings.TrimPrefix(key, branchPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
