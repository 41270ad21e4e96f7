// Package entitystore implements the Entity Store (spec §4): transactional
// CRUD over typed entities, block-pointer tracked commits, and a
// change-notification bus feeding the subscription engine.
package entitystore

import (
	"context"

	"github.com/subgraphd/indexnode/internal/entity"
)

// Store is the contract spec §4.1 names: Get/Find/FindOne for reads,
// ApplyOperations for untracked administrative writes, and
// TransactBlockOperations/RevertBlockOperations/SetBlockPtrWithNoChanges for
// the block-scoped write path the mapping host and chain store drive.
type Store interface {
	Get(ctx context.Context, key entity.Key) (*entity.Entity, error)
	Find(ctx context.Context, q entity.EntityQuery) ([]entity.Entity, error)
	FindOne(ctx context.Context, q entity.EntityQuery) (*entity.Entity, error)
	CountEntities(ctx context.Context, deployment, entityType string) (int, error)

	// ApplyOperations executes ops atomically with no associated block
	// pointer advance; used for registrar/administrative writes.
	ApplyOperations(ctx context.Context, ops []entity.Op) error

	// TransactBlockOperations atomically applies ops and advances the
	// deployment's block pointer from `from` to `to` in the same
	// transaction. `from` is checked against the stored pointer; a mismatch
	// is a concurrent-writer bug and returns an error rather than silently
	// overwriting.
	TransactBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer, ops []entity.Op) error

	// RevertBlockOperations undoes the effects of the block at `from`,
	// moving the pointer back to `to` (a single block, per the spec's
	// one-block-at-a-time revert invariant).
	RevertBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer) error

	// SetBlockPtrWithNoChanges advances the pointer with an empty operation
	// list, for blocks that touch no entities of this deployment.
	SetBlockPtrWithNoChanges(ctx context.Context, deployment string, from, to entity.BlockPointer) error

	BlockPtr(ctx context.Context, deployment string) (entity.BlockPointer, error)

	SubgraphSchema(ctx context.Context, deployment string) (*Schema, error)
	ResolveSubgraphNameToID(ctx context.Context, name string) (string, error)
	IsDeployed(ctx context.Context, deployment string) (bool, error)

	// Subscribe registers interest in changes to the given type keys and
	// returns a bounded channel of matching Change records plus an unsubscribe
	// func. The channel is closed when Unsubscribe is called or the store
	// shuts down.
	Subscribe(ctx context.Context, keys map[entity.TypeKey]struct{}) (<-chan entity.Change, func(), error)
}

// Schema is a deployment's compiled GraphQL schema document plus the entity
// type names it declares. The schema language itself is out of scope (spec
// §9 Non-goals); this is only the cache payload the store hands back.
type Schema struct {
	Deployment string
	Document   string
	EntityTypes []string
}
