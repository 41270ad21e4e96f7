// Package subscription implements the Subscription Engine (spec §4.6): it
// turns a single resolved subscription field into a live response stream
// sourced from the entity store's change bus. The query-language grammar
// that would parse `subscription { field(args) }` text into a Field is out
// of scope (spec §9 Non-goals); callers hand in an already-resolved
// Document, mirroring how resolution and execution stay cleanly separated
// in the original's graphql/src/subscription module.
package subscription

import (
	"context"
	"sync/atomic"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
	"github.com/subgraphd/indexnode/pkg/logger"
	"github.com/subgraphd/indexnode/pkg/metrics"
)

const responseChanCapacity = 16

// Field is one top-level subscription selection: the entity type whose
// changes drive it, and a Resolve closure that re-executes the full
// selection set against the store's current state whenever a matching
// change arrives.
type Field struct {
	Name       string
	EntityType string
	Resolve    func(ctx context.Context) (any, error)
}

// Document is the parsed top-level operation handed to the engine. The spec
// requires exactly one subscription field (§4.6 step 1); Document carries
// whatever the caller's query layer already resolved, good or bad, so
// ResolveField can apply that rule uniformly.
type Document struct {
	Deployment string
	Fields     []Field
}

// ResolveField enforces spec §4.6 step 1: exactly one top-level field.
func ResolveField(doc Document) (Field, error) {
	switch len(doc.Fields) {
	case 0:
		return Field{}, pkgerrors.EmptyQuery()
	case 1:
		return doc.Fields[0], nil
	default:
		return Field{}, pkgerrors.MultipleSubscriptionFields(len(doc.Fields))
	}
}

// Response is one item of the response stream yielded to the client: either
// a re-executed result or the error produced while re-executing it.
type Response struct {
	Result any
	Err    error
}

// Engine sources event streams from an entity store's change bus and
// re-executes a subscription field's resolver on every matching change.
type Engine struct {
	store  entitystore.Store
	log    *logger.Logger
	active atomic.Int64
}

func New(store entitystore.Store, log *logger.Logger) *Engine {
	return &Engine{store: store, log: log.Component("subscription")}
}

// Subscribe obtains the source event stream for field (filtered to
// (deployment, field.EntityType), spec §4.6 step 2) and returns the response
// stream (step 3): one re-executed Response per source event, terminating
// when the source stream terminates (context cancellation, explicit
// unsubscribe, or the store closing the channel).
func (e *Engine) Subscribe(ctx context.Context, deployment string, field Field) (<-chan Response, func(), error) {
	changes, unsubscribe, err := e.store.Subscribe(ctx, map[entity.TypeKey]struct{}{
		{Deployment: deployment, EntityType: field.EntityType}: {},
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.SetActiveSubscriptions(int(e.active.Add(1)))
	out := make(chan Response, responseChanCapacity)
	go e.pump(ctx, field, changes, out)
	return out, func() {
		unsubscribe()
		metrics.SetActiveSubscriptions(int(e.active.Add(-1)))
	}, nil
}

func (e *Engine) pump(ctx context.Context, field Field, changes <-chan entity.Change, out chan<- Response) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			result, err := field.Resolve(ctx)
			if err != nil {
				e.log.WithError(err).WithFields(map[string]any{"field": field.Name}).
					Warn("subscription re-execution failed")
			}
			select {
			case out <- Response{Result: result, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}
