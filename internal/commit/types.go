package commit

import (
	"encoding/json"
	"fmt"
)

// Commit is one immutable node of the history graph. The hash is computed
// over the canonical encoding of every other field, so it is a pure
// function of the contents; the encoded form never contains the hash.
type Commit struct {
	Hash      string   `json:"-"`
	Parents   []string `json:"parents"`
	Snapshot  string   `json:"snapshot"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"`
	Depth     int      `json:"depth"`
}

// Encode returns the canonical bytes the commit is stored and hashed as.
func (c *Commit) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding commit: %w", err)
	}
	return data, nil
}

// IsMerge reports whether the commit has two parents.
func (c *Commit) IsMerge() bool {
	return len(c.Parents) == 2
}

// IsRoot reports whether the commit has no parents.
func (c *Commit) IsRoot() bool {
	return len(c.Parents) == 0
}

// ShortHash is the abbreviated hash used in log output.
func (c *Commit) ShortHash() string {
	if len(c.Hash) < 8 {
		return c.Hash
	}
	return c.Hash[:8]
}

func decodeCommit(hash string, data []byte) (*Commit, error) {
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding commit %s: %w", hash, err)
	}
	c.Hash = hash
	return &c, nil
}
