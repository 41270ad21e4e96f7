package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
)

// fakeEntities is a minimal in-memory entitystore.Store double, tracking
// only what Runtime's block-commit path exercises: the per-deployment
// block pointer and a log of every operation batch it was handed.
type fakeEntities struct {
	mu      sync.Mutex
	ptrs    map[string]entity.BlockPointer
	batches []opBatch
}

type opBatch struct {
	deployment string
	from, to   entity.BlockPointer
	ops        []entity.Op
	reverted   bool
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{ptrs: make(map[string]entity.BlockPointer)}
}

func (s *fakeEntities) BlockPtr(ctx context.Context, deployment string) (entity.BlockPointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptrs[deployment], nil
}

func (s *fakeEntities) TransactBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer, ops []entity.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptrs[deployment] != from {
		return fmt.Errorf("stale from pointer for %s", deployment)
	}
	s.ptrs[deployment] = to
	s.batches = append(s.batches, opBatch{deployment: deployment, from: from, to: to, ops: ops})
	return nil
}

func (s *fakeEntities) SetBlockPtrWithNoChanges(ctx context.Context, deployment string, from, to entity.BlockPointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptrs[deployment] != from {
		return fmt.Errorf("stale from pointer for %s", deployment)
	}
	s.ptrs[deployment] = to
	s.batches = append(s.batches, opBatch{deployment: deployment, from: from, to: to})
	return nil
}

func (s *fakeEntities) RevertBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptrs[deployment] != from {
		return fmt.Errorf("stale from pointer for %s", deployment)
	}
	s.ptrs[deployment] = to
	s.batches = append(s.batches, opBatch{deployment: deployment, from: from, to: to, reverted: true})
	return nil
}

func (s *fakeEntities) blockCount(deployment string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		if b.deployment == deployment {
			n++
		}
	}
	return n
}

func (s *fakeEntities) Get(ctx context.Context, key entity.Key) (*entity.Entity, error) { return nil, nil }
func (s *fakeEntities) Find(ctx context.Context, q entity.EntityQuery) ([]entity.Entity, error) {
	return nil, nil
}
func (s *fakeEntities) FindOne(ctx context.Context, q entity.EntityQuery) (*entity.Entity, error) {
	return nil, nil
}
func (s *fakeEntities) CountEntities(ctx context.Context, deployment, entityType string) (int, error) {
	return 0, nil
}
func (s *fakeEntities) ApplyOperations(ctx context.Context, ops []entity.Op) error { return nil }
func (s *fakeEntities) SubgraphSchema(ctx context.Context, deployment string) (*entitystore.Schema, error) {
	return nil, nil
}
func (s *fakeEntities) ResolveSubgraphNameToID(ctx context.Context, name string) (string, error) {
	return "", nil
}
func (s *fakeEntities) IsDeployed(ctx context.Context, deployment string) (bool, error) {
	return true, nil
}
func (s *fakeEntities) Subscribe(ctx context.Context, keys map[entity.TypeKey]struct{}) (<-chan entity.Change, func(), error) {
	ch := make(chan entity.Change)
	close(ch)
	return ch, func() {}, nil
}
