package db

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"branchdb/internal/commit"
	"branchdb/internal/errors"
	"branchdb/internal/ingest"
	"branchdb/internal/merge"
	"branchdb/internal/query"
	"branchdb/internal/sql"
	"branchdb/internal/table"
)

// ErrUpToDate reports a merge or revert with nothing to do.
var ErrUpToDate = stderrors.New("already up to date")

// ErrNothingStaged reports a commit attempt with an empty staging area.
var ErrNothingStaged = stderrors.New("nothing staged to commit")

// advanceAttempts bounds the CAS retry loop on concurrent head movement.
const advanceAttempts = 3

// Exec parses and executes one statement. Write statements stage their
// delta for the next commit; SELECT returns rows, honoring AS OF.
func (d *DB) Exec(input string) (*query.Result, error) {
	stmt, err := sql.Parse(input)
	if err != nil {
		return nil, err
	}

	if stmt.Select != nil && stmt.Select.AsOf != nil {
		state, err := d.StateAt(string(*stmt.Select.AsOf))
		if err != nil {
			return nil, err
		}
		return query.Select(state, stmt.Select)
	}

	state, err := d.workingState()
	if err != nil {
		return nil, err
	}
	result, delta, err := query.Apply(state, stmt)
	if err != nil {
		return nil, err
	}
	if delta != nil {
		if err := d.Stage(delta); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Commit wraps the staged delta into a new commit on the active branch.
// A lost head race retries with the freshly read head as parent.
func (d *DB) Commit(message string) (*commit.Commit, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("commit message cannot be empty")
	}
	delta, err := d.Staged()
	if err != nil {
		return nil, err
	}
	if delta.Empty() {
		return nil, ErrNothingStaged
	}

	data, err := table.DeltaPayload(delta).Encode()
	if err != nil {
		return nil, err
	}
	snapshot, err := d.Objects.Put(data)
	if err != nil {
		return nil, fmt.Errorf("storing delta: %w", err)
	}

	active, err := d.Branches.Active()
	if err != nil {
		return nil, err
	}

	c, err := d.commitOnto(active, snapshot, message)
	if err != nil {
		return nil, err
	}
	if err := d.clearStaging(); err != nil {
		return nil, err
	}

	d.Logger.Info("committed",
		zap.String("commit", c.ShortHash()),
		zap.String("branch", active))
	return c, nil
}

// commitOnto creates a one-parent commit on the branch head with a CAS
// retry on concurrent movement.
func (d *DB) commitOnto(name, snapshot, message string) (*commit.Commit, error) {
	var lastErr error
	for attempt := 0; attempt < advanceAttempts; attempt++ {
		head, err := d.Branches.Head(name)
		if err != nil {
			return nil, err
		}
		c, err := d.Graph.Create([]string{head}, snapshot, message)
		if err != nil {
			return nil, err
		}
		err = d.Branches.Advance(name, head, c.Hash)
		if err == nil {
			return c, nil
		}
		if !stderrors.Is(err, errors.NotFastForward("")) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// CreateBranch binds name to the active head.
func (d *DB) CreateBranch(name string) error {
	head, err := d.Head()
	if err != nil {
		return err
	}
	return d.Branches.Create(name, head)
}

// Merge merges the named branch into the active one. Returns the merge
// result, or fastForward true when the active head could simply advance,
// or ErrUpToDate when there is nothing to merge.
func (d *DB) Merge(other, message string) (result *merge.Result, fastForward bool, err error) {
	active, err := d.Branches.Active()
	if err != nil {
		return nil, false, err
	}
	if other == active {
		return nil, false, fmt.Errorf("cannot merge branch %q into itself", other)
	}
	otherHead, err := d.Branches.Head(other)
	if err != nil {
		return nil, false, err
	}
	if message == "" {
		message = fmt.Sprintf("Merge branch %q into %q", other, active)
	}

	var lastErr error
	for attempt := 0; attempt < advanceAttempts; attempt++ {
		head, err := d.Branches.Head(active)
		if err != nil {
			return nil, false, err
		}

		if ok, err := d.Graph.IsAncestor(otherHead, head); err != nil {
			return nil, false, err
		} else if ok {
			return nil, false, ErrUpToDate
		}
		if ok, err := d.Graph.IsAncestor(head, otherHead); err != nil {
			return nil, false, err
		} else if ok {
			if err := d.Branches.Advance(active, head, otherHead); err != nil {
				if stderrors.Is(err, errors.NotFastForward("")) {
					lastErr = err
					continue
				}
				return nil, false, err
			}
			d.Logger.Info("fast-forwarded",
				zap.String("branch", active),
				zap.String("to", otherHead))
			return nil, true, nil
		}

		res, err := d.Engine.Merge(head, otherHead, message)
		if err != nil {
			return nil, false, err
		}
		if err := d.Branches.Advance(active, head, res.Commit.Hash); err != nil {
			if stderrors.Is(err, errors.NotFastForward("")) {
				lastErr = err
				continue
			}
			return nil, false, err
		}
		return res, false, nil
	}
	return nil, false, lastErr
}

// Log returns the active head's ancestry, newest first in BFS order.
func (d *DB) Log() ([]*commit.Commit, error) {
	head, err := d.Head()
	if err != nil {
		return nil, err
	}
	return d.Graph.Ancestors(head)
}

// Diff compares the states at two refs.
func (d *DB) Diff(fromRef, toRef string) (*query.DiffResult, error) {
	from, err := d.StateAt(fromRef)
	if err != nil {
		return nil, err
	}
	to, err := d.StateAt(toRef)
	if err != nil {
		return nil, err
	}
	return query.Diff(from, to), nil
}

// Revert commits the delta that restores the state as of ref. History is
// untouched; the revert is a new commit on the active branch.
func (d *DB) Revert(ref string) (*commit.Commit, error) {
	targetHash, err := d.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	target, err := d.Mat.StateAt(targetHash)
	if err != nil {
		return nil, err
	}

	head, err := d.Head()
	if err != nil {
		return nil, err
	}
	current, err := d.Mat.StateAt(head)
	if err != nil {
		return nil, err
	}

	delta := query.RevertDelta(current, target)
	if delta.Empty() {
		return nil, ErrUpToDate
	}

	data, err := table.DeltaPayload(delta).Encode()
	if err != nil {
		return nil, err
	}
	snapshot, err := d.Objects.Put(data)
	if err != nil {
		return nil, fmt.Errorf("storing revert delta: %w", err)
	}

	active, err := d.Branches.Active()
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("Revert to %.8s", targetHash)
	c, err := d.commitOnto(active, snapshot, message)
	if err != nil {
		return nil, err
	}

	d.Logger.Info("reverted",
		zap.String("target", targetHash),
		zap.String("commit", c.ShortHash()))
	return c, nil
}

// Import stages a CSV file's records as inserts into the named table.
func (d *DB) Import(path, tableName string) (*ingest.Batch, error) {
	state, err := d.workingState()
	if err != nil {
		return nil, err
	}
	batch, err := ingest.Import(path, tableName, state)
	if err != nil {
		return nil, err
	}
	if err := d.Stage(batch.Delta); err != nil {
		return nil, err
	}

	d.Logger.Info("staged csv import",
		zap.String("batch", batch.ID),
		zap.String("table", batch.Table),
		zap.Int("rows", batch.Rows))
	return batch, nil
}

// Watch auto-imports and commits every .csv dropped into dir. The table
// name is the file name without extension.
func (d *DB) Watch(dir string) (*ingest.Watcher, error) {
	return ingest.NewWatcher(dir, func(path string) error {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		batch, err := d.Import(path, name)
		if err != nil {
			return err
		}
		_, err = d.Commit(fmt.Sprintf("Import %s into %q", filepath.Base(path), batch.Table))
		return err
	}, d.Logger)
}
