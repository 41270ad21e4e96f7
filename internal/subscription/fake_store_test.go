package subscription

import (
	"context"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
)

// fakeStore implements just enough of entitystore.Store to drive Subscribe;
// every other method is unreachable from this package's tests.
type fakeStore struct {
	changes chan entity.Change
}

func newFakeStore() *fakeStore {
	return &fakeStore{changes: make(chan entity.Change, 8)}
}

func (s *fakeStore) Subscribe(ctx context.Context, keys map[entity.TypeKey]struct{}) (<-chan entity.Change, func(), error) {
	out := make(chan entity.Change)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-s.changes:
				if !ok {
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, func() {}, nil
}

func (s *fakeStore) Get(ctx context.Context, key entity.Key) (*entity.Entity, error) { return nil, nil }
func (s *fakeStore) Find(ctx context.Context, q entity.EntityQuery) ([]entity.Entity, error) {
	return nil, nil
}
func (s *fakeStore) FindOne(ctx context.Context, q entity.EntityQuery) (*entity.Entity, error) {
	return nil, nil
}
func (s *fakeStore) CountEntities(ctx context.Context, deployment, entityType string) (int, error) {
	return 0, nil
}
func (s *fakeStore) ApplyOperations(ctx context.Context, ops []entity.Op) error { return nil }
func (s *fakeStore) TransactBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer, ops []entity.Op) error {
	return nil
}
func (s *fakeStore) RevertBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer) error {
	return nil
}
func (s *fakeStore) SetBlockPtrWithNoChanges(ctx context.Context, deployment string, from, to entity.BlockPointer) error {
	return nil
}
func (s *fakeStore) BlockPtr(ctx context.Context, deployment string) (entity.BlockPointer, error) {
	return entity.BlockPointer{}, nil
}
func (s *fakeStore) SubgraphSchema(ctx context.Context, deployment string) (*entitystore.Schema, error) {
	return nil, nil
}
func (s *fakeStore) ResolveSubgraphNameToID(ctx context.Context, name string) (string, error) {
	return "", nil
}
func (s *fakeStore) IsDeployed(ctx context.Context, deployment string) (bool, error) { return true, nil }
