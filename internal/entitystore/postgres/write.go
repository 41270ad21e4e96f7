package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/subgraphd/indexnode/internal/entity"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
)

// ApplyOperations executes ops atomically with no block pointer advance,
// for registrar/administrative writes (spec §4.1).
func (s *Store) ApplyOperations(ctx context.Context, ops []entity.Op) error {
	var changes []entity.Change
	err := s.WithTx(ctx, func(ctx context.Context) error {
		var err error
		changes, err = s.applyOps(ctx, ops, entity.NoSource())
		return err
	})
	if err != nil {
		return err
	}
	s.publishAll(ctx, changes)
	return nil
}

// TransactBlockOperations atomically applies ops and advances the
// deployment's block pointer from `from` to `to`.
func (s *Store) TransactBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer, ops []entity.Op) error {
	for _, op := range ops {
		if dep, ok := op.TargetDeployment(); ok && dep != deployment {
			return pkgerrors.MalformedInput(fmt.Sprintf("operation targets deployment %q, expected %q", dep, deployment))
		}
	}

	var changes []entity.Change
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.checkAndAdvancePointer(ctx, deployment, from, to); err != nil {
			return err
		}

		source := entity.FromBlock(to)
		var err error
		changes, err = s.applyBlockOps(ctx, deployment, to.Number, ops, source)
		return err
	})
	if err != nil {
		return err
	}
	s.publishAll(ctx, changes)
	return nil
}

// RevertBlockOperations undoes the single block at `from`, restoring each
// touched entity to its pre-image and moving the pointer back to `to`. Per
// the store's one-block-at-a-time revert invariant, `from.Number` must be
// exactly `to.Number + 1`.
func (s *Store) RevertBlockOperations(ctx context.Context, deployment string, from, to entity.BlockPointer) error {
	if from.Number != to.Number+1 {
		return pkgerrors.UnsupportedOperation("revert must target exactly one block at a time")
	}

	var changes []entity.Change
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.checkAndAdvancePointer(ctx, deployment, from, to); err != nil {
			return err
		}

		rows, err := s.QueryContext(ctx,
			`SELECT entity_type, entity_id, op, prev_attributes FROM entity_history
			 WHERE deployment = $1 AND block_number = $2`,
			deployment, from.Number)
		if err != nil {
			return pkgerrors.ConnectionExhausted(err)
		}
		defer rows.Close()

		type histRow struct {
			entityType, entityID, op string
			prevAttrs                []byte
		}
		var history []histRow
		for rows.Next() {
			var h histRow
			if err := rows.Scan(&h.entityType, &h.entityID, &h.op, &h.prevAttrs); err != nil {
				return err
			}
			history = append(history, h)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		source := entity.FromBlock(to)
		for _, h := range history {
			key := entity.Key{Deployment: deployment, Type: h.entityType, ID: h.entityID}
			if h.prevAttrs == nil {
				if _, err := s.ExecContext(ctx,
					`DELETE FROM entities WHERE deployment = $1 AND entity_type = $2 AND entity_id = $3`,
					key.Deployment, key.Type, key.ID); err != nil {
					return pkgerrors.ConnectionExhausted(err)
				}
				changes = append(changes, entity.Change{
					Deployment: key.Deployment, EntityType: key.Type, EntityID: key.ID,
					Op: entity.ChangeRemove, Source: source,
				})
				continue
			}

			if _, err := s.ExecContext(ctx,
				`INSERT INTO entities (deployment, entity_type, entity_id, attributes)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (deployment, entity_type, entity_id) DO UPDATE SET attributes = EXCLUDED.attributes`,
				key.Deployment, key.Type, key.ID, h.prevAttrs); err != nil {
				return pkgerrors.ConnectionExhausted(err)
			}
			changes = append(changes, entity.Change{
				Deployment: key.Deployment, EntityType: key.Type, EntityID: key.ID,
				Op: entity.ChangeSet, Source: source,
			})
		}

		_, err = s.ExecContext(ctx,
			`DELETE FROM entity_history WHERE deployment = $1 AND block_number = $2`,
			deployment, from.Number)
		return err
	})
	if err != nil {
		return err
	}
	s.publishAll(ctx, changes)
	return nil
}

// SetBlockPtrWithNoChanges advances the pointer with an empty operation
// list, for blocks that touch no entities of this deployment.
func (s *Store) SetBlockPtrWithNoChanges(ctx context.Context, deployment string, from, to entity.BlockPointer) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		return s.checkAndAdvancePointer(ctx, deployment, from, to)
	})
}

func (s *Store) BlockPtr(ctx context.Context, deployment string) (entity.BlockPointer, error) {
	row := s.QueryRowContext(ctx,
		`SELECT block_hash, block_number FROM block_pointers WHERE deployment = $1`, deployment)
	var ptr entity.BlockPointer
	if err := row.Scan(&ptr.Hash, &ptr.Number); err != nil {
		if err == sql.ErrNoRows {
			return entity.BlockPointer{}, nil
		}
		return entity.BlockPointer{}, pkgerrors.ConnectionExhausted(err)
	}
	return ptr, nil
}

// checkAndAdvancePointer verifies the stored pointer equals `from` (allowing
// the zero pointer for a deployment's very first block) then upserts `to`.
func (s *Store) checkAndAdvancePointer(ctx context.Context, deployment string, from, to entity.BlockPointer) error {
	current, err := s.BlockPtr(ctx, deployment)
	if err != nil {
		return err
	}
	if current != from {
		return pkgerrors.SerializationConflict(fmt.Errorf(
			"block pointer for %s is %+v, caller expected %+v", deployment, current, from))
	}

	_, err = s.ExecContext(ctx,
		`INSERT INTO block_pointers (deployment, block_hash, block_number)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (deployment) DO UPDATE SET block_hash = EXCLUDED.block_hash, block_number = EXCLUDED.block_number`,
		deployment, to.Hash, to.Number)
	if err != nil {
		return pkgerrors.ConnectionExhausted(err)
	}
	return nil
}

// applyOps applies ops with no history tracking (administrative writes
// are not subject to block-scoped revert).
func (s *Store) applyOps(ctx context.Context, ops []entity.Op, source entity.EventSource) ([]entity.Change, error) {
	var changes []entity.Change
	for _, op := range ops {
		change, err := s.applyOp(ctx, op, 0, false, source)
		if err != nil {
			return nil, err
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}
	return changes, nil
}

// applyBlockOps applies ops while recording each write's pre-image into
// entity_history at blockNumber, so RevertBlockOperations can undo them.
func (s *Store) applyBlockOps(ctx context.Context, deployment string, blockNumber uint64, ops []entity.Op, source entity.EventSource) ([]entity.Change, error) {
	var changes []entity.Change
	for _, op := range ops {
		change, err := s.applyOp(ctx, op, blockNumber, true, source)
		if err != nil {
			return nil, err
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}
	return changes, nil
}

func (s *Store) applyOp(ctx context.Context, op entity.Op, blockNumber uint64, trackHistory bool, source entity.EventSource) (*entity.Change, error) {
	switch op.Kind {
	case entity.OpSet:
		return s.applySet(ctx, *op.Set, blockNumber, trackHistory, source)
	case entity.OpRemove:
		return s.applyRemove(ctx, *op.Remove, blockNumber, trackHistory, source)
	case entity.OpAbortUnless:
		return nil, s.applyAbortUnless(ctx, *op.AbortUnless)
	default:
		return nil, pkgerrors.MalformedInput(fmt.Sprintf("unknown operation kind %q", op.Kind))
	}
}

func (s *Store) applySet(ctx context.Context, set entity.SetOp, blockNumber uint64, trackHistory bool, source entity.EventSource) (*entity.Change, error) {
	existing, err := s.Get(ctx, set.Key)
	if err != nil {
		return nil, err
	}

	merged := set.Data
	if existing != nil {
		merged = existing.Attributes.Merge(set.Data)
	}

	raw, err := marshalAttributes(merged)
	if err != nil {
		return nil, fmt.Errorf("encode entity %s: %w", set.Key, err)
	}

	if trackHistory {
		var prevRaw []byte
		if existing != nil {
			prevRaw, err = marshalAttributes(existing.Attributes)
			if err != nil {
				return nil, err
			}
		}
		if err := s.recordHistory(ctx, set.Key, blockNumber, entity.ChangeSet, prevRaw); err != nil {
			return nil, err
		}
	}

	_, err = s.ExecContext(ctx,
		`INSERT INTO entities (deployment, entity_type, entity_id, attributes)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (deployment, entity_type, entity_id) DO UPDATE SET attributes = EXCLUDED.attributes`,
		set.Key.Deployment, set.Key.Type, set.Key.ID, raw)
	if err != nil {
		return nil, pkgerrors.ConnectionExhausted(err)
	}

	return &entity.Change{
		Deployment: set.Key.Deployment, EntityType: set.Key.Type, EntityID: set.Key.ID,
		Op: entity.ChangeSet, Source: source,
	}, nil
}

func (s *Store) applyRemove(ctx context.Context, rm entity.RemoveOp, blockNumber uint64, trackHistory bool, source entity.EventSource) (*entity.Change, error) {
	existing, err := s.Get(ctx, rm.Key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil // no-op per spec §4.1
	}

	if trackHistory {
		prevRaw, err := marshalAttributes(existing.Attributes)
		if err != nil {
			return nil, err
		}
		if err := s.recordHistory(ctx, rm.Key, blockNumber, entity.ChangeRemove, prevRaw); err != nil {
			return nil, err
		}
	}

	_, err = s.ExecContext(ctx,
		`DELETE FROM entities WHERE deployment = $1 AND entity_type = $2 AND entity_id = $3`,
		rm.Key.Deployment, rm.Key.Type, rm.Key.ID)
	if err != nil {
		return nil, pkgerrors.ConnectionExhausted(err)
	}

	return &entity.Change{
		Deployment: rm.Key.Deployment, EntityType: rm.Key.Type, EntityID: rm.Key.ID,
		Op: entity.ChangeRemove, Source: source,
	}, nil
}

// applyAbortUnless runs the guard query and aborts the whole transaction
// (by returning an error, which WithTx turns into a rollback) unless the
// resulting id set equals ExpectedIDs exactly.
func (s *Store) applyAbortUnless(ctx context.Context, guard entity.AbortUnlessOp) error {
	results, err := s.Find(ctx, guard.Query)
	if err != nil {
		return err
	}

	actual := make([]string, 0, len(results))
	for _, e := range results {
		actual = append(actual, e.Key.ID)
	}

	if !idSetsEqual(guard.ExpectedIDs, actual, guard.Query.Order != nil) {
		return pkgerrors.Abort(guard.Description, guard.ExpectedIDs, actual)
	}
	return nil
}

// idSetsEqual compares expected against actual per spec §4.1: when the
// guard query carries an Order, the comparison is exact-order (the query
// result order is significant), otherwise it's an unordered multiset
// comparison (only membership and count matter).
func idSetsEqual(a, b []string, ordered bool) bool {
	if len(a) != len(b) {
		return false
	}
	if ordered {
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}

func (s *Store) recordHistory(ctx context.Context, key entity.Key, blockNumber uint64, op entity.ChangeOp, prevAttrs []byte) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO entity_history (deployment, entity_type, entity_id, block_number, op, prev_attributes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (deployment, entity_type, entity_id, block_number) DO NOTHING`,
		key.Deployment, key.Type, key.ID, blockNumber, string(op), prevAttrs)
	return err
}

// publishAll broadcasts changes after the writing transaction has
// committed. Publish errors are logged, not returned: a notify failure must
// not roll back an already-committed block (spec §4.1 intra-block
// visibility is committed-state-only; the bus is a best-effort fan-out on
// top of committed state, not part of the commit's durability guarantee).
func (s *Store) publishAll(ctx context.Context, changes []entity.Change) {
	for _, c := range changes {
		if err := s.bus.cb.publish(ctx, c); err != nil {
			s.log.WithError(err).Warn("failed to publish entity change notification")
		}
	}
}
