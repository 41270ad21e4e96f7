// Package chain declares the boundary between the indexing core and the
// chain-specific RPC adapter. The adapter's implementation (connection
// pooling, retries, wire decoding for a specific chain) is out of scope
// (spec §1 Non-goals): only the interface the mapping host and chain store
// depend on lives here.
package chain

import (
	"context"

	"github.com/subgraphd/indexnode/internal/chainstore"
	"github.com/subgraphd/indexnode/internal/entity"
)

// Adapter is implemented by a chain-specific client (an Ethereum JSON-RPC
// client, a Neo N3 client, etc). The indexing core only ever calls through
// this interface.
type Adapter interface {
	// NetworkIdentifier returns a value stable for the lifetime of the
	// network's history (e.g. the genesis hash), which the chain store's
	// RegisterNetwork compares against its recorded identity. internal/app
	// does not call RegisterNetwork when the node starts, so no identity
	// check is made at startup.
	NetworkIdentifier(ctx context.Context) (string, error)

	// HeadBlock returns the adapter's view of the current chain head.
	HeadBlock(ctx context.Context) (chainstore.Block, error)

	// BlockByNumber fetches a specific block by height, following the
	// adapter's view of the canonical chain at call time.
	BlockByNumber(ctx context.Context, number uint64) (chainstore.Block, error)

	// BlockByHash fetches a specific block by hash.
	BlockByHash(ctx context.Context, hash string) (chainstore.Block, error)

	// Call invokes a read-only contract method, backing the mapping host's
	// `ethereum.call` host function (spec §5.2).
	Call(ctx context.Context, req CallRequest) ([]byte, error)
}

// CallRequest is the out-of-scope wire format for a contract call; its
// fields are passed through opaquely by the mapping host.
type CallRequest struct {
	Contract string
	Function string
	Args     []entity.Value
	Block    entity.BlockPointer
}
