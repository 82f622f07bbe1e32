package materialize

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"branchdb/internal/commit"
	"branchdb/internal/content"
	"branchdb/internal/errors"
	"branchdb/internal/table"
)

const checkpointPrefix = "snapshot:"

// Options configures Materializer behavior.
type Options struct {
	CacheSize          int // materialized states kept in memory
	CheckpointInterval int // write a full snapshot every N commits; 0 disables
}

// Materializer reconstructs the full table state at any commit by walking
// the first-parent chain back to the nearest full snapshot and replaying
// deltas forward. Checkpoints and the in-memory cache are pure
// optimizations; the commit graph stays authoritative.
type Materializer struct {
	graph    *commit.Graph
	store    *content.Store
	db       *badger.DB
	cache    *lru.Cache[string, *table.State]
	interval int
	logger   *zap.Logger
}

func New(db *badger.DB, graph *commit.Graph, store *content.Store, logger *zap.Logger, opts Options) (*Materializer, error) {
	if opts.CacheSize == 0 {
		opts.CacheSize = 64
	}
	cache, err := lru.New[string, *table.State](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating state cache: %w", err)
	}
	return &Materializer{
		graph:    graph,
		store:    store,
		db:       db,
		cache:    cache,
		interval: opts.CheckpointInterval,
		logger:   logger,
	}, nil
}

// StateAt returns the table state as of hash. The result is a private
// copy; callers may mutate it freely.
func (m *Materializer) StateAt(hash string) (*table.State, error) {
	if state, ok := m.cache.Get(hash); ok {
		return state.Clone(), nil
	}

	state, err := m.materialize(hash)
	if err != nil {
		return nil, err
	}

	m.cache.Add(hash, state)
	return state.Clone(), nil
}

type replayStep struct {
	commit *commit.Commit
	delta  *table.Delta
}

func (m *Materializer) materialize(hash string) (*table.State, error) {
	// Walk first parents back to the nearest full snapshot: a commit
	// whose payload is a state (root or merge), or a checkpointed one.
	var steps []replayStep
	var base *table.State

	cur := hash
	for {
		if state, ok := m.cache.Get(cur); ok {
			base = state.Clone()
			break
		}

		c, err := m.graph.Get(cur)
		if err != nil {
			return nil, err
		}

		payload, err := m.loadPayload(c.Snapshot)
		if err != nil {
			return nil, err
		}
		if payload.State != nil {
			base = payload.State
			break
		}

		if ckpt, ok, err := m.loadCheckpoint(cur); err != nil {
			return nil, err
		} else if ok {
			base = ckpt
			break
		}

		if c.IsRoot() {
			// Root commits always carry a full snapshot.
			return nil, errors.CorruptObject(cur)
		}
		steps = append(steps, replayStep{commit: c, delta: payload.Delta})
		cur = c.Parents[0]
	}

	// Replay parent-to-child, stamping each write with its commit.
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		stamp := table.Stamp{Depth: step.commit.Depth, Commit: step.commit.Hash}
		if err := table.Apply(base, step.delta, stamp); err != nil {
			return nil, fmt.Errorf("replaying commit %s: %w", step.commit.ShortHash(), err)
		}
		if m.interval > 0 && step.commit.Depth%m.interval == 0 {
			if err := m.writeCheckpoint(step.commit.Hash, base); err != nil {
				return nil, err
			}
		}
	}

	return base, nil
}

func (m *Materializer) loadPayload(snapshot string) (*table.Payload, error) {
	data, err := m.store.Get(snapshot)
	if err != nil {
		return nil, err
	}
	return table.DecodePayload(data)
}

func (m *Materializer) loadCheckpoint(hash string) (*table.State, bool, error) {
	var ref string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(checkpointPrefix + hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ref = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading checkpoint index: %w", err)
	}

	payload, err := m.loadPayload(ref)
	if err != nil {
		return nil, false, err
	}
	if payload.State == nil {
		return nil, false, errors.CorruptObject(ref)
	}
	return payload.State, true, nil
}

// writeCheckpoint stores a full snapshot for hash out-of-band. It is
// never referenced from a commit, so replay results are unchanged.
func (m *Materializer) writeCheckpoint(hash string, state *table.State) error {
	data, err := table.StatePayload(state).Encode()
	if err != nil {
		return err
	}
	ref, err := m.store.Put(data)
	if err != nil {
		return fmt.Errorf("storing checkpoint: %w", err)
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointPrefix+hash), []byte(ref))
	})
	if err != nil {
		return fmt.Errorf("indexing checkpoint: %w", err)
	}
	if m.logger != nil {
		m.logger.Debug("wrote checkpoint",
			zap.String("commit", hash),
			zap.String("snapshot", ref))
	}
	return nil
}
