package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"branchdb/internal/branch"
	"branchdb/internal/commit"
	"branchdb/internal/config"
	"branchdb/internal/content"
	"branchdb/internal/errors"
	"branchdb/internal/materialize"
	"branchdb/internal/merge"
	"branchdb/internal/table"
)

// DefaultBranch is the branch created at initialization.
const DefaultBranch = "main"

// DB wires the storage, graph, branch and merge components over one
// badger handle and exposes the operations the CLI maps onto.
type DB struct {
	Root     string
	Badger   *badger.DB
	Objects  *content.Store
	Graph    *commit.Graph
	Branches *branch.Manager
	Mat      *materialize.Materializer
	Engine   *merge.Engine
	Logger   *zap.Logger

	cfg *config.Config
}

// Initialize creates the on-disk layout for a new database.
func Initialize(root string) error {
	dir := filepath.Join(root, ".branchdb", "db")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}

// Open opens (bootstrapping if fresh) the database rooted at root.
func Open(root string, cfg *config.Config, logger *zap.Logger) (*DB, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}
	if err := Initialize(absRoot); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(filepath.Join(absRoot, ".branchdb", "db"))
	opts.Logger = nil // Disable logging noise

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return wire(absRoot, bdb, cfg, logger)
}

// OpenMemory opens an in-memory database. Tests and throwaway sessions
// use this.
func OpenMemory(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	return wire("", bdb, cfg, logger)
}

func wire(root string, bdb *badger.DB, cfg *config.Config, logger *zap.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	objects, err := content.New(bdb, content.Options{
		CacheSize:   cfg.Content.CacheSize,
		CompressMin: cfg.Content.CompressMin,
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("initializing content store: %w", err)
	}

	graph := commit.NewGraph(objects)
	branches := branch.NewManager(bdb, graph)

	mat, err := materialize.New(bdb, graph, objects, logger, materialize.Options{
		CacheSize:          cfg.Materialize.CacheSize,
		CheckpointInterval: cfg.Materialize.CheckpointInterval,
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("initializing materializer: %w", err)
	}

	d := &DB{
		Root:     root,
		Badger:   bdb,
		Objects:  objects,
		Graph:    graph,
		Branches: branches,
		Mat:      mat,
		Engine:   merge.NewEngine(graph, mat, objects, logger),
		Logger:   logger,
		cfg:      cfg,
	}

	if err := d.bootstrap(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// bootstrap creates the empty root commit and the default branch on a
// fresh database. Root commits always carry a full snapshot; starting
// empty keeps every row stamp pointing at an already-created commit.
func (d *DB) bootstrap() error {
	if _, err := d.Branches.Active(); err == nil {
		return nil
	}

	data, err := table.StatePayload(table.NewState()).Encode()
	if err != nil {
		return err
	}
	snapshot, err := d.Objects.Put(data)
	if err != nil {
		return fmt.Errorf("storing root snapshot: %w", err)
	}

	root, err := d.Graph.Create(nil, snapshot, "initialize database")
	if err != nil {
		return fmt.Errorf("creating root commit: %w", err)
	}
	if err := d.Branches.Create(DefaultBranch, root.Hash); err != nil {
		return err
	}
	if err := d.Branches.Checkout(DefaultBranch); err != nil {
		return err
	}

	d.Logger.Info("initialized database",
		zap.String("root_commit", root.ShortHash()),
		zap.String("branch", DefaultBranch))
	return nil
}

// Head returns the active branch's current head hash.
func (d *DB) Head() (string, error) {
	name, err := d.Branches.Active()
	if err != nil {
		return "", err
	}
	return d.Branches.Head(name)
}

// ResolveRef resolves HEAD, a branch name, or a full or abbreviated
// commit hash. Abbreviations need at least 4 hex characters and must
// name exactly one commit.
func (d *DB) ResolveRef(ref string) (string, error) {
	if ref == "" || ref == "HEAD" {
		return d.Head()
	}
	if head, err := d.Branches.Head(ref); err == nil {
		return head, nil
	}
	if d.Objects.Exists(ref) {
		if _, err := d.Graph.Get(ref); err == nil {
			return ref, nil
		}
	}
	if isHexPrefix(ref) {
		matches, err := d.Objects.ResolvePrefix(ref)
		if err != nil {
			return "", err
		}
		var commits []string
		for _, h := range matches {
			// The object keyspace also holds snapshots and delta
			// payloads; only commits count as refs.
			if _, err := d.Graph.Get(h); err == nil {
				commits = append(commits, h)
			}
		}
		switch len(commits) {
		case 0:
		case 1:
			return commits[0], nil
		default:
			return "", errors.AmbiguousRef(ref)
		}
	}
	return "", errors.NotFound("unknown ref %q", ref)
}

func isHexPrefix(s string) bool {
	if len(s) < 4 || len(s) >= 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// StateAt materializes the state at ref.
func (d *DB) StateAt(ref string) (*table.State, error) {
	hash, err := d.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	return d.Mat.StateAt(hash)
}

func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	if d.Objects != nil {
		d.Objects.Close()
	}
	if d.Badger != nil {
		if err := d.Badger.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
	}
	return nil
}
