// Package postgres implements the entity store (spec §4) against
// PostgreSQL, grounded on the teacher's pkg/storage/postgres.BaseStore
// transaction pattern and pkg/pgnotify.Bus change transport.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
	"github.com/subgraphd/indexnode/internal/storage"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
	"github.com/subgraphd/indexnode/pkg/logger"
	"github.com/subgraphd/indexnode/pkg/pgnotify"
)

var _ entitystore.Store = (*Store)(nil)

// Store is the Postgres-backed entitystore.Store implementation.
type Store struct {
	*storage.BaseStore
	log   *logger.Logger
	cache *schemaCache
	bus   *changeBusAdapter
}

// Config configures the store.
type Config struct {
	SchemaCacheCapacity int
}

// New wires a Store over db, sharing notifyBus with any other component
// that rides pkg/pgnotify against the same database.
func New(db *sql.DB, notifyBus *pgnotify.Bus, cfg Config, log *logger.Logger) (*Store, error) {
	cb, err := newChangeBus(notifyBus, log)
	if err != nil {
		return nil, fmt.Errorf("start change bus: %w", err)
	}

	return &Store{
		BaseStore: storage.NewBaseStore(db),
		log:       log.Component("entitystore"),
		cache:     newSchemaCache(cfg.SchemaCacheCapacity),
		bus:       &changeBusAdapter{cb},
	}, nil
}

// Close releases the store's change-bus resources.
func (s *Store) Close() { s.bus.cb.close() }

// changeBusAdapter exists only to keep changeBus's unexported type out of
// the exported Store's field set.
type changeBusAdapter struct{ cb *changeBus }

func (s *Store) Subscribe(ctx context.Context, keys map[entity.TypeKey]struct{}) (<-chan entity.Change, func(), error) {
	return s.bus.cb.subscribe(keys)
}

// Get fetches a single entity by key; returns nil, nil if absent.
func (s *Store) Get(ctx context.Context, key entity.Key) (*entity.Entity, error) {
	row := s.QueryRowContext(ctx,
		`SELECT attributes FROM entities WHERE deployment = $1 AND entity_type = $2 AND entity_id = $3`,
		key.Deployment, key.Type, key.ID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, pkgerrors.ConnectionExhausted(err)
	}

	attrs, err := unmarshalAttributes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode entity %s: %w", key, err)
	}
	return &entity.Entity{Key: key, Attributes: attrs}, nil
}

// Find executes q and returns matching entities.
func (s *Store) Find(ctx context.Context, q entity.EntityQuery) ([]entity.Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, pkgerrors.MalformedInput(err.Error())
	}

	query, args, err := buildFindQuery(q)
	if err != nil {
		return nil, pkgerrors.MalformedInput(err.Error())
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.ConnectionExhausted(err)
	}
	defer rows.Close()

	// entityRow mirrors buildFindQuery's Columns("entity_id", "attributes")
	// selection; sqlx.StructScan drains every row into it by db tag instead
	// of a manual rows.Next()/Scan() loop.
	var scanned []entityRow
	if err := sqlx.StructScan(rows, &scanned); err != nil {
		return nil, err
	}

	out := make([]entity.Entity, 0, len(scanned))
	for _, r := range scanned {
		attrs, err := unmarshalAttributes(r.Attributes)
		if err != nil {
			return nil, err
		}
		out = append(out, entity.Entity{
			Key:        entity.Key{Deployment: q.Deployment, Type: q.EntityType, ID: r.EntityID},
			Attributes: attrs,
		})
	}
	return out, nil
}

// entityRow is the sqlx struct-scan target for Find's entity_id/attributes
// projection.
type entityRow struct {
	EntityID   string `db:"entity_id"`
	Attributes []byte `db:"attributes"`
}

// FindOne runs q with an implicit limit of one.
func (s *Store) FindOne(ctx context.Context, q entity.EntityQuery) (*entity.Entity, error) {
	results, err := s.Find(ctx, q.WithLimitOne())
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// CountEntities returns the live row count for (deployment, entityType).
func (s *Store) CountEntities(ctx context.Context, deployment, entityType string) (int, error) {
	row := s.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE deployment = $1 AND entity_type = $2`,
		deployment, entityType)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, pkgerrors.ConnectionExhausted(err)
	}
	return count, nil
}

func buildFindQuery(q entity.EntityQuery) (string, []any, error) {
	b := storage.NewSelectBuilder("entities").
		Columns("entity_id", "attributes").
		WhereEq("deployment", q.Deployment).
		WhereEq("entity_type", q.EntityType)

	// b.Where uses its own $N counter starting at 1 and reassigns as
	// conditions are added; the filter compiler must continue from where
	// the builder's args end up. We render the builder first to learn its
	// arg count, then append the filter condition with continuing indices.
	query, args := b.Build()

	if q.Filter != nil {
		compiler := newFilterCompiler(len(args) + 1)
		cond, err := compiler.compile(*q.Filter)
		if err != nil {
			return "", nil, err
		}
		query += " AND (" + cond + ")"
		args = append(args, compiler.args...)
	}

	if q.Order != nil {
		query += fmt.Sprintf(" ORDER BY %s", orderExpr(*q.Order))
	}
	if q.Range != nil {
		if q.Range.First > 0 {
			query += fmt.Sprintf(" LIMIT %d", q.Range.First)
		}
		if q.Range.Skip > 0 {
			query += fmt.Sprintf(" OFFSET %d", q.Range.Skip)
		}
	}

	return query, args, nil
}

func orderExpr(o entity.OrderBy) string {
	dir := "ASC"
	if o.Direction == entity.Desc {
		dir = "DESC"
	}
	if o.Attribute == "id" {
		return fmt.Sprintf("entity_id %s NULLS LAST", dir)
	}

	attr := quoteAttr(o.Attribute)
	var castExpr string
	switch o.ValueKind {
	case entity.KindInt:
		castExpr = fmt.Sprintf("(attributes->%s->>'int')::bigint", attr)
	case entity.KindFloat:
		castExpr = fmt.Sprintf("(attributes->%s->>'float')::double precision", attr)
	case entity.KindBigInt:
		castExpr = fmt.Sprintf("(attributes->%s->>'big_int')::numeric", attr)
	default:
		castExpr = fmt.Sprintf("(attributes->%s->>'str')", attr)
	}
	return fmt.Sprintf("%s %s NULLS LAST", castExpr, dir)
}
