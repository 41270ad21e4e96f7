// Package postgres implements the chain store (spec §3) against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"

	"github.com/subgraphd/indexnode/internal/chainstore"
	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/storage"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
)

var _ chainstore.Store = (*Store)(nil)

// Store is the Postgres-backed chainstore.Store implementation.
type Store struct {
	*storage.BaseStore
}

func New(db *sql.DB) *Store {
	return &Store{BaseStore: storage.NewBaseStore(db)}
}

func (s *Store) RegisterNetwork(ctx context.Context, n chainstore.Network) error {
	row := s.QueryRowContext(ctx, `SELECT net_identifier FROM networks WHERE name = $1`, n.Name)
	var existing string
	switch err := row.Scan(&existing); err {
	case nil:
		if existing != n.NetworkIdentifier {
			return pkgerrors.NetworkIdentityMismatch(n.Name, nil).
				WithDetail("registered", existing).
				WithDetail("reported", n.NetworkIdentifier)
		}
		return nil
	case sql.ErrNoRows:
		_, err := s.ExecContext(ctx,
			`INSERT INTO networks (name, genesis_hash, genesis_number, net_identifier) VALUES ($1, $2, $3, $4)`,
			n.Name, n.GenesisHash, n.GenesisNumber, n.NetworkIdentifier)
		if err != nil {
			return pkgerrors.ConnectionExhausted(err)
		}
		return nil
	default:
		return pkgerrors.ConnectionExhausted(err)
	}
}

func (s *Store) UpsertBlock(ctx context.Context, b chainstore.Block) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO blocks (network, block_hash, block_number, parent_hash, data)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (network, block_hash) DO UPDATE SET data = EXCLUDED.data`,
		b.Network, b.Hash, b.Number, b.ParentHash, nullableJSON(b.Data))
	if err != nil {
		return pkgerrors.ConnectionExhausted(err)
	}
	return nil
}

func (s *Store) Block(ctx context.Context, network, hash string) (*chainstore.Block, error) {
	row := s.QueryRowContext(ctx,
		`SELECT block_number, parent_hash, data FROM blocks WHERE network = $1 AND block_hash = $2`,
		network, hash)

	b := &chainstore.Block{Network: network, Hash: hash}
	if err := row.Scan(&b.Number, &b.ParentHash, &b.Data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, pkgerrors.ConnectionExhausted(err)
	}
	return b, nil
}

func (s *Store) BlocksByNumber(ctx context.Context, network string, number uint64) ([]chainstore.Block, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT block_hash, parent_hash, data FROM blocks WHERE network = $1 AND block_number = $2`,
		network, number)
	if err != nil {
		return nil, pkgerrors.ConnectionExhausted(err)
	}
	defer rows.Close()

	var out []chainstore.Block
	for rows.Next() {
		b := chainstore.Block{Network: network, Number: number}
		if err := rows.Scan(&b.Hash, &b.ParentHash, &b.Data); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AncestorBlock walks backward from start via ParentHash links, one
// database round trip per hop, until it reaches targetNumber or runs off
// the cached chain.
func (s *Store) AncestorBlock(ctx context.Context, network string, start entity.BlockPointer, targetNumber uint64) (*chainstore.Block, error) {
	current, err := s.Block(ctx, network, start.Hash)
	if err != nil || current == nil {
		return current, err
	}

	for current.Number > targetNumber {
		parent, err := s.Block(ctx, network, current.ParentHash)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, nil
		}
		current = parent
	}
	return current, nil
}

func (s *Store) ChainHeadPtr(ctx context.Context, network string) (entity.BlockPointer, error) {
	row := s.QueryRowContext(ctx, `SELECT block_hash, block_number FROM chain_heads WHERE network = $1`, network)
	var ptr entity.BlockPointer
	if err := row.Scan(&ptr.Hash, &ptr.Number); err != nil {
		if err == sql.ErrNoRows {
			return entity.BlockPointer{}, nil
		}
		return entity.BlockPointer{}, pkgerrors.ConnectionExhausted(err)
	}
	return ptr, nil
}

// AttemptChainHeadUpdate resolves forks the way store.rs's SQL-backed
// attempt_chain_head_update does, expressed over Go queries instead of a
// single stored procedure: find every cached fork tip, walk each one back
// through its cached ancestry, and adopt the longest chain reachable within
// ancestorCount hops as the new head.
func (s *Store) AttemptChainHeadUpdate(ctx context.Context, network string, ancestorCount int) ([]string, error) {
	var orphans []string
	err := s.WithTx(ctx, func(ctx context.Context) error {
		oldHead, err := s.ChainHeadPtr(ctx, network)
		if err != nil {
			return err
		}

		tips, err := s.forkTips(ctx, network)
		if err != nil {
			return err
		}
		if len(tips) == 0 {
			return nil
		}

		var best *chainstore.Block
		var bestChain []chainstore.Block
		for i := range tips {
			chain, err := s.walkAncestry(ctx, network, tips[i], ancestorCount)
			if err != nil {
				return err
			}
			if best == nil || tips[i].Number > best.Number {
				best = &tips[i]
				bestChain = chain
			}
		}
		if best.Hash == oldHead.Hash {
			return nil
		}

		onNewChain := make(map[string]bool, len(bestChain))
		for _, b := range bestChain {
			onNewChain[b.Hash] = true
		}
		if !oldHead.IsZero() {
			cur, err := s.Block(ctx, network, oldHead.Hash)
			if err != nil {
				return err
			}
			for cur != nil && !onNewChain[cur.Hash] && len(orphans) < ancestorCount {
				orphans = append(orphans, cur.Hash)
				if cur.ParentHash == "" {
					break
				}
				cur, err = s.Block(ctx, network, cur.ParentHash)
				if err != nil {
					return err
				}
			}
		}

		if _, err := s.ExecContext(ctx,
			`INSERT INTO chain_heads (network, block_hash, block_number)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (network) DO UPDATE SET block_hash = EXCLUDED.block_hash, block_number = EXCLUDED.block_number`,
			network, best.Hash, best.Number); err != nil {
			return pkgerrors.ConnectionExhausted(err)
		}
		return nil
	})
	return orphans, err
}

// forkTips returns every block cached for network that no other cached
// block names as its parent: the tip of every fork the cache currently
// knows about, candidate heads for AttemptChainHeadUpdate to choose among.
func (s *Store) forkTips(ctx context.Context, network string) ([]chainstore.Block, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT b.block_hash, b.block_number, b.parent_hash, b.data
		FROM blocks b
		WHERE b.network = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM blocks c WHERE c.network = b.network AND c.parent_hash = b.block_hash
		  )`, network)
	if err != nil {
		return nil, pkgerrors.ConnectionExhausted(err)
	}
	defer rows.Close()

	var out []chainstore.Block
	for rows.Next() {
		b := chainstore.Block{Network: network}
		if err := rows.Scan(&b.Hash, &b.Number, &b.ParentHash, &b.Data); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// walkAncestry walks backward from start via ParentHash links, up to
// ancestorCount hops or until the cache runs out, returning start followed
// by each ancestor in descending order.
func (s *Store) walkAncestry(ctx context.Context, network string, start chainstore.Block, ancestorCount int) ([]chainstore.Block, error) {
	chain := []chainstore.Block{start}
	cur := start
	for i := 0; i < ancestorCount && cur.ParentHash != ""; i++ {
		parent, err := s.Block(ctx, network, cur.ParentHash)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		chain = append(chain, *parent)
		cur = *parent
	}
	return chain, nil
}

func (s *Store) GenesisBlockPtr(ctx context.Context, network string) (entity.BlockPointer, error) {
	row := s.QueryRowContext(ctx, `SELECT genesis_hash, genesis_number FROM networks WHERE name = $1`, network)
	var ptr entity.BlockPointer
	if err := row.Scan(&ptr.Hash, &ptr.Number); err != nil {
		if err == sql.ErrNoRows {
			return entity.BlockPointer{}, pkgerrors.NameNotFound(network)
		}
		return entity.BlockPointer{}, pkgerrors.ConnectionExhausted(err)
	}
	return ptr, nil
}

func nullableJSON(data []byte) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}
