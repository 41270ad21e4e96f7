package registrar

import (
	"context"

	"github.com/subgraphd/indexnode/internal/chainstore"
	"github.com/subgraphd/indexnode/internal/entity"
)

// fakeChainStore stubs chainstore.Store with a fixed head/genesis, enough to
// exercise create_subgraph_version's deployment bootstrap step.
type fakeChainStore struct {
	head    entity.BlockPointer
	genesis entity.BlockPointer
}

func (f *fakeChainStore) RegisterNetwork(ctx context.Context, n chainstore.Network) error {
	return nil
}

func (f *fakeChainStore) UpsertBlock(ctx context.Context, b chainstore.Block) error { return nil }

func (f *fakeChainStore) Block(ctx context.Context, network, hash string) (*chainstore.Block, error) {
	return nil, nil
}

func (f *fakeChainStore) BlocksByNumber(ctx context.Context, network string, number uint64) ([]chainstore.Block, error) {
	return nil, nil
}

func (f *fakeChainStore) AncestorBlock(ctx context.Context, network string, start entity.BlockPointer, targetNumber uint64) (*chainstore.Block, error) {
	return nil, nil
}

func (f *fakeChainStore) ChainHeadPtr(ctx context.Context, network string) (entity.BlockPointer, error) {
	return f.head, nil
}

func (f *fakeChainStore) AttemptChainHeadUpdate(ctx context.Context, network string, ancestorCount int) ([]string, error) {
	return nil, nil
}

func (f *fakeChainStore) GenesisBlockPtr(ctx context.Context, network string) (entity.BlockPointer, error) {
	return f.genesis, nil
}
