// Package chainstore implements the per-network block cache and chain-head
// tracking described in spec §3: ancestor/fork/reorg handling and a fatal
// check against a network's genesis identity.
package chainstore

import (
	"context"

	"github.com/subgraphd/indexnode/internal/entity"
)

// Block is a minimal chain block record: enough to walk ancestry and detect
// reorgs without depending on any particular chain's transaction format
// (full block bodies are the out-of-scope chain adapter's concern, spec §1).
type Block struct {
	Network    string
	Hash       string
	Number     uint64
	ParentHash string
	Data       []byte // opaque chain-adapter payload, stored but not interpreted
}

func (b Block) Pointer() entity.BlockPointer {
	return entity.BlockPointer{Hash: b.Hash, Number: b.Number}
}

// Network describes a chain network's identity. Store.RegisterNetwork
// compares it against the recorded identity and returns an error on a
// mismatch; internal/app does not call RegisterNetwork at startup.
type Network struct {
	Name             string
	GenesisHash      string
	GenesisNumber    uint64
	NetworkIdentifier string
}

// Store is the chain store contract.
type Store interface {
	// RegisterNetwork upserts a network's identity. A call with a
	// NetworkIdentifier differing from what's on record returns a
	// NetworkIdentityMismatch error (spec §3), since the node would
	// otherwise silently index onto the wrong chain.
	RegisterNetwork(ctx context.Context, n Network) error

	// UpsertBlock records a block, keyed by (network, hash). Safe to call
	// redundantly; reorg handling walks backward from the chain head using
	// ParentHash, not insertion order.
	UpsertBlock(ctx context.Context, b Block) error

	// Block returns the stored block by hash, or nil if not cached.
	Block(ctx context.Context, network, hash string) (*Block, error)

	// BlocksByNumber returns every cached block at a given height; more
	// than one indicates an unresolved fork.
	BlocksByNumber(ctx context.Context, network string, number uint64) ([]Block, error)

	// AncestorBlock walks backward from start following ParentHash links
	// until it reaches a block at or below targetNumber (spec §3
	// "ancestor_block"), or returns nil if the chain isn't cached that far
	// back.
	AncestorBlock(ctx context.Context, network string, start entity.BlockPointer, targetNumber uint64) (*Block, error)

	// ChainHeadPtr returns the network's current head pointer.
	ChainHeadPtr(ctx context.Context, network string) (entity.BlockPointer, error)

	// AttemptChainHeadUpdate scans every fork tip cached for network (a
	// "tip" being a block no other cached block names as its parent),
	// selects the one with the greatest block number reachable by walking
	// back through at most ancestorCount cached ancestors, and atomically
	// advances the head to it (spec §4.2 attempt_chain_head_update). It
	// returns the hashes that were on the previous head's chain but are
	// not on the new canonical chain — blocks the caller must now treat as
	// orphaned and revert any deployment progress built on top of.
	AttemptChainHeadUpdate(ctx context.Context, network string, ancestorCount int) (orphanHashes []string, err error)

	// GenesisBlockPtr returns a network's registered genesis pointer.
	GenesisBlockPtr(ctx context.Context, network string) (entity.BlockPointer, error)
}
