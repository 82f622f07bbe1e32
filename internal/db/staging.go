package db

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"branchdb/internal/table"
)

const stagingKey = "staging"

// staging is the pending delta accumulated by write statements and CSV
// imports since the last commit.
type staging struct {
	ID    string       `json:"id"`
	Delta *table.Delta `json:"delta"`
}

func (d *DB) loadStaging() (*staging, error) {
	var st staging
	err := d.Badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stagingKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err == badger.ErrKeyNotFound {
		return &staging{ID: uuid.New().String(), Delta: table.NewDelta()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading staging: %w", err)
	}
	if st.Delta == nil {
		st.Delta = table.NewDelta()
	}
	return &st, nil
}

func (d *DB) saveStaging(st *staging) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding staging: %w", err)
	}
	return d.Badger.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stagingKey), data)
	})
}

func (d *DB) clearStaging() error {
	return d.Badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(stagingKey))
	})
}

// Stage folds a delta fragment into the pending staging area.
func (d *DB) Stage(delta *table.Delta) error {
	if delta.Empty() {
		return nil
	}
	st, err := d.loadStaging()
	if err != nil {
		return err
	}
	st.Delta.Fold(delta)
	return d.saveStaging(st)
}

// Staged returns the pending delta, empty if nothing is staged.
func (d *DB) Staged() (*table.Delta, error) {
	st, err := d.loadStaging()
	if err != nil {
		return nil, err
	}
	return st.Delta, nil
}

// workingState is the active head's state with the staged delta applied
// under a provisional stamp, so statements see their own staged writes.
func (d *DB) workingState() (*table.State, error) {
	head, err := d.Head()
	if err != nil {
		return nil, err
	}
	state, err := d.Mat.StateAt(head)
	if err != nil {
		return nil, err
	}

	st, err := d.loadStaging()
	if err != nil {
		return nil, err
	}
	if st.Delta.Empty() {
		return state, nil
	}

	headCommit, err := d.Graph.Get(head)
	if err != nil {
		return nil, err
	}
	provisional := table.Stamp{Depth: headCommit.Depth + 1}
	if err := table.Apply(state, st.Delta, provisional); err != nil {
		return nil, fmt.Errorf("applying staged changes: %w", err)
	}
	return state, nil
}
