package httpapi

import (
	"context"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
)

// fakeStore resolves a fixed set of subgraph names and deployment-deployed
// states, enough to drive Server.resolveDeployment and the 404-before-
// upgrade ordering tests without a live Postgres store.
type fakeStore struct {
	namesToIDs map[string]string
	deployed   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{namesToIDs: map[string]string{}, deployed: map[string]bool{}}
}

func (s *fakeStore) ResolveSubgraphNameToID(ctx context.Context, name string) (string, error) {
	return s.namesToIDs[name], nil
}

func (s *fakeStore) IsDeployed(ctx context.Context, deployment string) (bool, error) {
	return s.deployed[deployment], nil
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
func (s *fakeStore) Subscribe(ctx context.Context, keys map[entity.TypeKey]struct{}) (<-chan entity.Change, func(), error) {
	ch := make(chan entity.Change)
	close(ch)
	return ch, func() {}, nil
}
