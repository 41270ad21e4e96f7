package assignment

import (
	"context"
	"sync"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
)

// fakeStore is a minimal entitystore.Store sufficient to drive the provider's
// subscribe-then-read startup race and its change-handling branches. Changes
// are delivered by pushing onto the channel returned from Subscribe; the test
// controls timing explicitly rather than relying on a real change bus.
type fakeStore struct {
	mu   sync.Mutex
	rows map[entity.Key]entity.Attributes

	subscribed  chan struct{}
	subscribeCh chan entity.Change

	findBeforeSubscribe bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:        make(map[entity.Key]entity.Attributes),
		subscribed:  make(chan struct{}),
		subscribeCh: make(chan entity.Change, 8),
	}
}

func (s *fakeStore) put(id, nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[entity.Key{Deployment: metaDeployment, Type: assignmentEntityType, ID: id}] =
		entity.Attributes{"nodeId": entity.String(nodeID)}
}

func changeSet(id string) entity.Change {
	return entity.Change{Deployment: metaDeployment, EntityType: assignmentEntityType, EntityID: id, Op: entity.ChangeSet}
}

func changeRemove(id string) entity.Change {
	return entity.Change{Deployment: metaDeployment, EntityType: assignmentEntityType, EntityID: id, Op: entity.ChangeRemove}
}

func (s *fakeStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, entity.Key{Deployment: metaDeployment, Type: assignmentEntityType, ID: id})
}

func (s *fakeStore) Get(ctx context.Context, key entity.Key) (*entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	return &entity.Entity{Key: key, Attributes: attrs}, nil
}

func (s *fakeStore) Find(ctx context.Context, q entity.EntityQuery) ([]entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.subscribed:
	default:
		s.findBeforeSubscribe = true
	}
	var out []entity.Entity
	for key, attrs := range s.rows {
		if key.Deployment != q.Deployment || key.Type != q.EntityType {
			continue
		}
		out = append(out, entity.Entity{Key: key, Attributes: attrs})
	}
	return out, nil
}

func (s *fakeStore) FindOne(ctx context.Context, q entity.EntityQuery) (*entity.Entity, error) {
	rows, err := s.Find(ctx, q)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (s *fakeStore) CountEntities(ctx context.Context, deployment, entityType string) (int, error) {
	rows, err := s.Find(ctx, entity.EntityQuery{Deployment: deployment, EntityType: entityType})
	return len(rows), err
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

func (s *fakeStore) IsDeployed(ctx context.Context, deployment string) (bool, error) {
	return true, nil
}

// Subscribe signals subscribed (so the test can assert it happened before the
// initial reconcile's Find) and then relays subscribeCh to the returned
// channel until the context is cancelled.
func (s *fakeStore) Subscribe(ctx context.Context, keys map[entity.TypeKey]struct{}) (<-chan entity.Change, func(), error) {
	close(s.subscribed)
	out := make(chan entity.Change)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-s.subscribeCh:
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
