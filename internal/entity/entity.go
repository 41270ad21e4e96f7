package entity

import "fmt"

// Key identifies a single entity row: (deployment, entity_type, entity_id).
type Key struct {
	Deployment string
	Type       string
	ID         string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Deployment, k.Type, k.ID)
}

// Entity is a fully materialized, typed record.
type Entity struct {
	Key        Key
	Attributes Attributes
}

// BlockPointer identifies a block by hash and number. The zero value is the
// absence of a pointer (pre-genesis).
type BlockPointer struct {
	Hash   string `json:"hash"`
	Number uint64 `json:"number"`
}

// IsZero reports whether the pointer has never been set.
func (p BlockPointer) IsZero() bool { return p.Hash == "" && p.Number == 0 }

// EventSource tags the provenance of a write: either an administrative write
// (None) or a mapping-driven write against a specific block.
type EventSource struct {
	IsBlock bool         `json:"is_block"`
	Block   BlockPointer `json:"block,omitempty"`
}

// NoSource is the administrative (non-mapping) event source.
func NoSource() EventSource { return EventSource{} }

// FromBlock tags a write as produced while processing the given block.
func FromBlock(ptr BlockPointer) EventSource { return EventSource{IsBlock: true, Block: ptr} }

func (s EventSource) String() string {
	if !s.IsBlock {
		return "none"
	}
	return s.Block.Hash
}
