package app

import (
	"context"
	"sync"

	"github.com/subgraphd/indexnode/internal/chainstore"
	"github.com/subgraphd/indexnode/internal/entity"
)

// fakeChainStore is a minimal in-memory chainstore.Store double: enough to
// drive Runtime's forward-advance and single-block-revert paths without a
// Postgres-backed store.
type fakeChainStore struct {
	mu     sync.Mutex
	blocks map[string]map[string]chainstore.Block // network -> hash -> block
	heads  map[string]entity.BlockPointer
}

func newFakeChainStore() *fakeChainStore {
	return &fakeChainStore{
		blocks: make(map[string]map[string]chainstore.Block),
		heads:  make(map[string]entity.BlockPointer),
	}
}

func (s *fakeChainStore) RegisterNetwork(ctx context.Context, n chainstore.Network) error { return nil }

func (s *fakeChainStore) UpsertBlock(ctx context.Context, b chainstore.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocks[b.Network] == nil {
		s.blocks[b.Network] = make(map[string]chainstore.Block)
	}
	s.blocks[b.Network][b.Hash] = b
	return nil
}

func (s *fakeChainStore) Block(ctx context.Context, network, hash string) (*chainstore.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[network][hash]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *fakeChainStore) BlocksByNumber(ctx context.Context, network string, number uint64) ([]chainstore.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chainstore.Block
	for _, b := range s.blocks[network] {
		if b.Number == number {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeChainStore) AncestorBlock(ctx context.Context, network string, start entity.BlockPointer, targetNumber uint64) (*chainstore.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.blocks[network][start.Hash]
	if !ok {
		return nil, nil
	}
	for cur.Number > targetNumber {
		parent, ok := s.blocks[network][cur.ParentHash]
		if !ok {
			return nil, nil
		}
		cur = parent
	}
	out := cur
	return &out, nil
}

func (s *fakeChainStore) ChainHeadPtr(ctx context.Context, network string) (entity.BlockPointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads[network], nil
}

// AttemptChainHeadUpdate mirrors the Postgres store's fork-tip scan over
// the fake's in-memory block cache: pick the tip (a block no other cached
// block names as parent) with the greatest number, adopt it as head, and
// report any previous-head-chain blocks it displaces as orphaned.
func (s *fakeChainStore) AttemptChainHeadUpdate(ctx context.Context, network string, ancestorCount int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.blocks[network]
	hasChild := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		if b.ParentHash != "" {
			hasChild[b.ParentHash] = true
		}
	}

	var best *chainstore.Block
	for hash, b := range blocks {
		if hasChild[hash] {
			continue
		}
		b := b
		if best == nil || b.Number > best.Number {
			best = &b
		}
	}
	if best == nil {
		return nil, nil
	}

	oldHead := s.heads[network]
	if best.Hash == oldHead.Hash {
		return nil, nil
	}

	onNewChain := map[string]bool{best.Hash: true}
	cur := *best
	for i := 0; i < ancestorCount; i++ {
		parent, ok := blocks[cur.ParentHash]
		if !ok {
			break
		}
		onNewChain[parent.Hash] = true
		cur = parent
	}

	var orphans []string
	if !oldHead.IsZero() {
		hash := oldHead.Hash
		for len(orphans) < ancestorCount {
			b, ok := blocks[hash]
			if !ok || onNewChain[hash] {
				break
			}
			orphans = append(orphans, hash)
			hash = b.ParentHash
		}
	}

	s.heads[network] = best.Pointer()
	return orphans, nil
}

func (s *fakeChainStore) GenesisBlockPtr(ctx context.Context, network string) (entity.BlockPointer, error) {
	return entity.BlockPointer{}, nil
}
