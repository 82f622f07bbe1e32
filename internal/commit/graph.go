package commit

import (
	"fmt"
	"sort"
	"time"

	"branchdb/internal/content"
	"branchdb/internal/errors"
)

// Graph provides the history operations over commits persisted in the
// content store. Commits are addressed by the hash of their canonical
// encoding, so the store's own integrity check doubles as the
// recompute-equals-stored invariant.
type Graph struct {
	store *content.Store
	now   func() int64
}

func NewGraph(store *content.Store) *Graph {
	return &Graph{
		store: store,
		now:   func() int64 { return time.Now().Unix() },
	}
}

// WithClock overrides the timestamp source. Tests use this to build
// reproducible histories.
func (g *Graph) WithClock(now func() int64) *Graph {
	g.now = now
	return g
}

// Create validates the parents, computes the new commit's depth and hash,
// and persists it. Existing commits are never mutated; creating a commit
// whose fields exactly match an existing one collapses to that commit.
func (g *Graph) Create(parents []string, snapshot, message string) (*Commit, error) {
	depth := 0
	for _, p := range parents {
		parent, err := g.Get(p)
		if err != nil {
			return nil, errors.UnknownParent(p)
		}
		if parent.Depth+1 > depth {
			depth = parent.Depth + 1
		}
	}
	if snapshot == "" || !g.store.Exists(snapshot) {
		return nil, errors.NotFound("snapshot %s not found", snapshot)
	}

	c := &Commit{
		Parents:   append([]string(nil), parents...),
		Snapshot:  snapshot,
		Message:   message,
		Timestamp: g.now(),
		Depth:     depth,
	}

	data, err := c.Encode()
	if err != nil {
		return nil, err
	}
	hash, err := g.store.Put(data)
	if err != nil {
		return nil, fmt.Errorf("storing commit: %w", err)
	}
	c.Hash = hash
	return c, nil
}

// Get loads a commit and verifies the stored bytes still hash to their
// key; drift is a consistency fault, never ignored.
func (g *Graph) Get(hash string) (*Commit, error) {
	data, err := g.store.Get(hash)
	if err != nil {
		return nil, err
	}
	c, err := decodeCommit(hash, data)
	if err != nil {
		return nil, errors.CorruptObject(hash)
	}
	reencoded, err := c.Encode()
	if err != nil {
		return nil, err
	}
	if content.Hash(reencoded) != hash {
		return nil, errors.CorruptObject(hash)
	}
	return c, nil
}

// Walk visits the ancestry of hash breadth-first, starting with the commit
// itself. Nodes reachable through multiple paths are visited once; the
// visited set is keyed by content hash since the graph is an adjacency
// over persisted hashes, not in-memory pointers. The walk stops early if
// fn returns false.
func (g *Graph) Walk(hash string, fn func(*Commit) (bool, error)) error {
	visited := make(map[string]bool)
	queue := []string{hash}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		c, err := g.Get(cur)
		if err != nil {
			return err
		}
		cont, err := fn(c)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		queue = append(queue, c.Parents...)
	}
	return nil
}

// Ancestors returns the commit and all its ancestors in BFS order,
// deduplicated.
func (g *Graph) Ancestors(hash string) ([]*Commit, error) {
	var out []*Commit
	err := g.Walk(hash, func(c *Commit) (bool, error) {
		out = append(out, c)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsAncestor reports whether candidate is an ancestor of (or equal to) of.
func (g *Graph) IsAncestor(candidate, of string) (bool, error) {
	found := false
	err := g.Walk(of, func(c *Commit) (bool, error) {
		if c.Hash == candidate {
			found = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// MergeBase returns the common ancestor of a and b with the minimal
// combined distance to both heads. Equal-distance candidates tie-break on
// the lexicographically smallest hash, so the result is deterministic.
func (g *Graph) MergeBase(a, b string) (*Commit, error) {
	distA, err := g.distances(a)
	if err != nil {
		return nil, err
	}
	distB, err := g.distances(b)
	if err != nil {
		return nil, err
	}

	best := ""
	bestDist := -1
	var candidates []string
	for hash, da := range distA {
		db, ok := distB[hash]
		if !ok {
			continue
		}
		candidates = append(candidates, hash)
		if bestDist == -1 || da+db < bestDist {
			bestDist = da + db
		}
	}
	if bestDist == -1 {
		return nil, errors.NotFound("no common ancestor of %s and %s", a, b)
	}

	sort.Strings(candidates)
	for _, hash := range candidates {
		if distA[hash]+distB[hash] == bestDist {
			best = hash
			break
		}
	}
	return g.Get(best)
}

// distances maps every ancestor hash to its BFS distance from start.
func (g *Graph) distances(start string) (map[string]int, error) {
	dist := map[string]int{start: 0}
	queue := []string{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		c, err := g.Get(cur)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			if _, seen := dist[p]; seen {
				continue
			}
			dist[p] = dist[cur] + 1
			queue = append(queue, p)
		}
	}
	return dist, nil
}
