package table

import (
	"encoding/json"
	"fmt"
)

// Payload is the object a commit's snapshot reference points at: either a
// full state (root commits, merge commits, checkpoints) or a delta
// (ordinary commits).
type Payload struct {
	State *State `json:"state,omitempty"`
	Delta *Delta `json:"delta,omitempty"`
}

func StatePayload(s *State) *Payload { return &Payload{State: s} }
func DeltaPayload(d *Delta) *Payload { return &Payload{Delta: d} }

func (p *Payload) Encode() ([]byte, error) {
	if (p.State == nil) == (p.Delta == nil) {
		return nil, fmt.Errorf("payload must hold exactly one of state or delta")
	}
	return json.Marshal(p)
}

func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	if (p.State == nil) == (p.Delta == nil) {
		return nil, fmt.Errorf("payload holds neither state nor delta")
	}
	return &p, nil
}
