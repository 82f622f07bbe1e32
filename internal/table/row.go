package table

// Stamp is the logical write marker attached to every field write and
// tombstone: the depth of the writing commit plus its hash as the
// tie-break. Stamps totally order writes without coordination.
type Stamp struct {
	Depth  int    `json:"depth"`
	Commit string `json:"commit"`
}

// Less orders stamps by depth, then lexicographically by commit hash.
func (s Stamp) Less(other Stamp) bool {
	if s.Depth != other.Depth {
		return s.Depth < other.Depth
	}
	return s.Commit < other.Commit
}

// Field is one cell plus the stamp of the commit that last wrote it.
type Field struct {
	Value Value `json:"value"`
	Stamp Stamp `json:"stamp"`
}

// Row holds the field mapping for one primary key. A deleted row stays in
// the state as a tombstone (Deleted true, Fields nil) so merges can compare
// the deletion's stamp against concurrent writes.
type Row struct {
	Key     string           `json:"key"`
	Fields  map[string]Field `json:"fields,omitempty"`
	Deleted bool             `json:"deleted,omitempty"`
	Stamp   Stamp            `json:"stamp"`
}

func (r *Row) Clone() *Row {
	out := &Row{Key: r.Key, Deleted: r.Deleted, Stamp: r.Stamp}
	if r.Fields != nil {
		out.Fields = make(map[string]Field, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
