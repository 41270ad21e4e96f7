package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/subgraphd/indexnode/internal/entitystore"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
)

// SubgraphSchema returns the compiled schema for deployment, consulting the
// bounded LRU cache before hitting Postgres.
func (s *Store) SubgraphSchema(ctx context.Context, deployment string) (*entitystore.Schema, error) {
	if cached, ok := s.cache.get(deployment); ok {
		return cached, nil
	}

	row := s.QueryRowContext(ctx,
		`SELECT document, entity_types FROM subgraph_schemas WHERE deployment = $1`, deployment)

	var document string
	var rawTypes []byte
	if err := row.Scan(&document, &rawTypes); err != nil {
		if err == sql.ErrNoRows {
			return nil, pkgerrors.NameNotFound(deployment)
		}
		return nil, pkgerrors.ConnectionExhausted(err)
	}

	var entityTypes []string
	if err := json.Unmarshal(rawTypes, &entityTypes); err != nil {
		return nil, err
	}

	schema := &entitystore.Schema{Deployment: deployment, Document: document, EntityTypes: entityTypes}
	s.cache.put(deployment, schema)
	return schema, nil
}

// InvalidateSchemaCache drops deployment from the cache, so the next
// SubgraphSchema call reloads it. No component in this repository calls it.
func (s *Store) InvalidateSchemaCache(deployment string) {
	s.cache.invalidate(deployment)
}

// ResolveSubgraphNameToID resolves a subgraph name to its current
// deployment id.
func (s *Store) ResolveSubgraphNameToID(ctx context.Context, name string) (string, error) {
	row := s.QueryRowContext(ctx, `SELECT deployment FROM subgraph_names WHERE name = $1`, name)
	var deployment string
	if err := row.Scan(&deployment); err != nil {
		if err == sql.ErrNoRows {
			return "", pkgerrors.NameNotFound(name)
		}
		return "", pkgerrors.ConnectionExhausted(err)
	}
	return deployment, nil
}

// IsDeployed reports whether deployment has an entry in the deployments table.
func (s *Store) IsDeployed(ctx context.Context, deployment string) (bool, error) {
	row := s.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM deployments WHERE id = $1)`, deployment)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, pkgerrors.ConnectionExhausted(err)
	}
	return exists, nil
}
