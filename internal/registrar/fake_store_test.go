package registrar

import (
	"context"
	"sync"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
)

// fakeStore is a minimal in-memory entitystore.Store sufficient to exercise
// the registrar's operation lists: it applies Set/Remove/AbortUnless
// exactly like the Postgres store would within one transaction, and
// evaluates the small subset of the filter grammar (Equal/In/And) the
// registrar actually emits.
type fakeStore struct {
	mu   sync.Mutex
	rows map[entity.Key]entity.Attributes
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[entity.Key]entity.Attributes)}
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
	var out []entity.Entity
	for key, attrs := range s.rows {
		if key.Deployment != q.Deployment || key.Type != q.EntityType {
			continue
		}
		if q.Filter != nil && !matchFilter(*q.Filter, attrs) {
			continue
		}
		out = append(out, entity.Entity{Key: key, Attributes: attrs})
	}
	return out, nil
}

func matchFilter(f entity.Filter, attrs entity.Attributes) bool {
	switch f.Op {
	case entity.FilterEqual:
		return attrs[f.Attribute].Equal(f.Value)
	case entity.FilterIn:
		for _, v := range f.Values {
			if attrs[f.Attribute].Equal(v) {
				return true
			}
		}
		return false
	case entity.FilterAnd:
		for _, child := range f.Children {
			if !matchFilter(child, attrs) {
				return false
			}
		}
		return true
	case entity.FilterOr:
		for _, child := range f.Children {
			if matchFilter(child, attrs) {
				return true
			}
		}
		return false
	case entity.FilterNot:
		return !matchFilter(f.Children[0], attrs)
	default:
		return false
	}
}

func (s *fakeStore) FindOne(ctx context.Context, q entity.EntityQuery) (*entity.Entity, error) {
	results, err := s.Find(ctx, q.WithLimitOne())
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return &results[0], nil
}

func (s *fakeStore) CountEntities(ctx context.Context, deployment, entityType string) (int, error) {
	rows, err := s.Find(ctx, entity.EntityQuery{Deployment: deployment, EntityType: entityType})
	return len(rows), err
}

func (s *fakeStore) ApplyOperations(ctx context.Context, ops []entity.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		if op.Kind != entity.OpAbortUnless {
			continue
		}
		actual := s.findLocked(op.AbortUnless.Query)
		if !idSetsEqualForTest(op.AbortUnless.ExpectedIDs, actual) {
			return abortErrorForTest(op.AbortUnless.Description, op.AbortUnless.ExpectedIDs, actual)
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case entity.OpSet:
			existing := s.rows[op.Set.Key]
			s.rows[op.Set.Key] = existing.Merge(op.Set.Data)
		case entity.OpRemove:
			delete(s.rows, op.Remove.Key)
		}
	}
	return nil
}

func (s *fakeStore) findLocked(q entity.EntityQuery) []string {
	var ids []string
	for key, attrs := range s.rows {
		if key.Deployment != q.Deployment || key.Type != q.EntityType {
			continue
		}
		if q.Filter != nil && !matchFilter(*q.Filter, attrs) {
			continue
		}
		ids = append(ids, key.ID)
	}
	return ids
}

func (s *fakeStore) TransactBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer, ops []entity.Op) error {
	return s.ApplyOperations(ctx, ops)
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

// idSetsEqualForTest and abortErrorForTest duplicate the tiny pieces of
// pkg/errors' AbortError diagnostics the fake store needs without importing
// the postgres-store package (which would create an import cycle back into
// entitystore/postgres's own tests of this same algebra).
func idSetsEqualForTest(expected, actual []string) bool {
	if len(expected) != len(actual) {
		return false
	}
	counts := make(map[string]int, len(expected))
	for _, id := range expected {
		counts[id]++
	}
	for _, id := range actual {
		counts[id]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

func abortErrorForTest(description string, expected, actual []string) error {
	return &testAbortError{description: description, expected: expected, actual: actual}
}

type testAbortError struct {
	description    string
	expected, actual []string
}

func (e *testAbortError) Error() string {
	return "abort_unless " + e.description
}
