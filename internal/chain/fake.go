package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/subgraphd/indexnode/internal/chainstore"
)

var _ Adapter = (*FakeAdapter)(nil)

// FakeAdapter is an in-memory Adapter used by other packages' tests; it is
// not wired into the production binary.
type FakeAdapter struct {
	mu         sync.Mutex
	identifier string
	blocks     map[string]chainstore.Block
	byNumber   map[uint64]chainstore.Block
	head       chainstore.Block
	CallFunc   func(ctx context.Context, req CallRequest) ([]byte, error)
}

func NewFakeAdapter(identifier string) *FakeAdapter {
	return &FakeAdapter{
		identifier: identifier,
		blocks:     make(map[string]chainstore.Block),
		byNumber:   make(map[uint64]chainstore.Block),
	}
}

func (f *FakeAdapter) AddBlock(b chainstore.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[b.Hash] = b
	f.byNumber[b.Number] = b
	if b.Number >= f.head.Number {
		f.head = b
	}
}

func (f *FakeAdapter) NetworkIdentifier(ctx context.Context) (string, error) {
	return f.identifier, nil
}

func (f *FakeAdapter) HeadBlock(ctx context.Context) (chainstore.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *FakeAdapter) BlockByNumber(ctx context.Context, number uint64) (chainstore.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byNumber[number]
	if !ok {
		return chainstore.Block{}, fmt.Errorf("no block at height %d", number)
	}
	return b, nil
}

func (f *FakeAdapter) BlockByHash(ctx context.Context, hash string) (chainstore.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[hash]
	if !ok {
		return chainstore.Block{}, fmt.Errorf("no block with hash %s", hash)
	}
	return b, nil
}

func (f *FakeAdapter) Call(ctx context.Context, req CallRequest) ([]byte, error) {
	if f.CallFunc != nil {
		return f.CallFunc(ctx, req)
	}
	return nil, fmt.Errorf("fake adapter: no CallFunc configured")
}
