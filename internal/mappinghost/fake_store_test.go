package mappinghost

import (
	"context"
	"sync"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
)

// fakeStore is a minimal in-memory entitystore.Store used only to exercise
// Host.HandleEvent's store.get/store.set round trip without a database.
type fakeStore struct {
	mu      sync.Mutex
	byKey   map[entity.Key]entity.Attributes
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: make(map[entity.Key]entity.Attributes)}
}

func (s *fakeStore) Get(ctx context.Context, key entity.Key) (*entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	return &entity.Entity{Key: key, Attributes: attrs}, nil
}

func (s *fakeStore) Find(ctx context.Context, q entity.EntityQuery) ([]entity.Entity, error) {
	return nil, nil
}

func (s *fakeStore) FindOne(ctx context.Context, q entity.EntityQuery) (*entity.Entity, error) {
	return nil, nil
}

func (s *fakeStore) CountEntities(ctx context.Context, deployment, entityType string) (int, error) {
	return 0, nil
}

func (s *fakeStore) ApplyOperations(ctx context.Context, ops []entity.Op) error {
	return s.apply(ops)
}

func (s *fakeStore) TransactBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer, ops []entity.Op) error {
	return s.apply(ops)
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

func (s *fakeStore) IsDeployed(ctx context.Context, deployment string) (bool, error) {
	return true, nil
}

func (s *fakeStore) Subscribe(ctx context.Context, keys map[entity.TypeKey]struct{}) (<-chan entity.Change, func(), error) {
	ch := make(chan entity.Change)
	close(ch)
	return ch, func() {}, nil
}

func (s *fakeStore) apply(ops []entity.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		switch op.Kind {
		case entity.OpSet:
			existing := s.byKey[op.Set.Key]
			if existing == nil {
				existing = entity.Attributes{}
			}
			for k, v := range op.Set.Data {
				existing[k] = v
			}
			s.byKey[op.Set.Key] = existing
		case entity.OpRemove:
			delete(s.byKey, op.Remove.Key)
		}
	}
	return nil
}
