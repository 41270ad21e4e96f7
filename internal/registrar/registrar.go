// Package registrar implements the Subgraph Registrar (spec §4.4): the
// create/version/remove/list surface over the reserved subgraph-of-subgraphs
// deployment, and the version/deployment/assignment garbage collector that
// keeps it consistent under concurrent mutation. The registrar holds no
// state of its own; every mutating operation compiles to a single
// entitystore.Store.ApplyOperations call guarded by AbortUnless checks
// (spec §3 "Ownership model": "the Registrar is a stateless transformer
// over store entities").
package registrar

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/subgraphd/indexnode/internal/chainstore"
	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/internal/entitystore"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
	"github.com/subgraphd/indexnode/pkg/logger"
)

// metaDeployment is the reserved subgraph-of-subgraphs deployment the
// registrar's own meta-entities live in (spec §3).
const metaDeployment = "subgraphs"

const (
	typeSubgraph   = "Subgraph"
	typeVersion    = "Version"
	typeDeployment = "Deployment"
	typeAssignment = "Assignment"
)

// Registrar implements create_subgraph/create_subgraph_version/
// remove_subgraph/list_subgraphs.
type Registrar struct {
	store  entitystore.Store
	chains chainstore.Store
	log    *logger.Logger
}

func New(store entitystore.Store, chains chainstore.Store, log *logger.Logger) *Registrar {
	return &Registrar{store: store, chains: chains, log: log.Component("registrar")}
}

func metaKey(entityType, id string) entity.Key {
	return entity.Key{Deployment: metaDeployment, Type: entityType, ID: id}
}

// withID mirrors the entity's storage key into its own attribute set, the
// way every graph-node entity carries an `id` GraphQL field in addition to
// its storage key; without it, the registrar's AbortUnless existence guards
// would have nothing to filter on (the query engine only ever matches
// against attributes, never the storage key itself).
func withID(id string, attrs entity.Attributes) entity.Attributes {
	out := attrs.Clone()
	out["id"] = entity.ID(id)
	return out
}

func byID(entityType, id string) entity.EntityQuery {
	return entity.EntityQuery{
		Deployment: metaDeployment,
		EntityType: entityType,
		Filter:     ptrFilter(entity.Equal("id", entity.ID(id))),
	}
}

// CreateSubgraph inserts a new Subgraph named `name`, failing NameExists if
// one already exists (spec §4.4).
func (r *Registrar) CreateSubgraph(ctx context.Context, name string) error {
	existing, err := r.findSubgraphByName(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return pkgerrors.NameExists(name)
	}

	ops := []entity.Op{
		entity.Abort("subgraph name must not exist", byID(typeSubgraph, name), nil),
		entity.Set(metaKey(typeSubgraph, name), withID(name, entity.Attributes{
			"name":           entity.String(name),
			"currentVersion": entity.Null(),
			"createdAt":      entity.Int(0),
		})),
	}
	return r.store.ApplyOperations(ctx, ops)
}

// CreateSubgraphVersion implements the seven-step sequence from spec §4.4.
func (r *Registrar) CreateSubgraphVersion(ctx context.Context, name, deploymentID, nodeID, network string) error {
	sg, err := r.findSubgraphByName(ctx, name)
	if err != nil {
		return err
	}
	if sg == nil {
		return pkgerrors.NameNotFound(name)
	}
	currentVersion := sg.Attributes["currentVersion"]

	ops := []entity.Op{
		entity.Abort("subgraph must still have the observed currentVersion",
			subgraphByIDAndVersionQuery(sg.Key.ID, currentVersion), []string{sg.Key.ID}),
	}

	versionID := uuid.NewString()
	ops = append(ops, entity.Set(metaKey(typeVersion, versionID), withID(versionID, entity.Attributes{
		"subgraph":   entity.ID(sg.Key.ID),
		"deployment": entity.ID(deploymentID),
	})))

	deployment, err := r.store.Get(ctx, metaKey(typeDeployment, deploymentID))
	if err != nil {
		return fmt.Errorf("load deployment %s: %w", deploymentID, err)
	}
	if deployment == nil {
		headNumber := uint64(0)
		genesisHash := ""
		if head, err := r.chains.ChainHeadPtr(ctx, network); err == nil {
			headNumber = head.Number
		}
		if genesis, err := r.chains.GenesisBlockPtr(ctx, network); err == nil {
			genesisHash = genesis.Hash
		}
		ops = append(ops,
			entity.Abort("deployment must not exist", byID(typeDeployment, deploymentID), nil),
			entity.Set(metaKey(typeDeployment, deploymentID), withID(deploymentID, entity.Attributes{
				"latestBlockHash":         entity.String(""),
				"latestBlockNumber":       entity.Int(0),
				"ethereumHeadBlockNumber": entity.Int(int64(headNumber)),
				"genesisBlockHash":        entity.String(genesisHash),
				"failed":                  entity.Bool(false),
				"synced":                  entity.Bool(false),
			})),
		)
	}

	if !currentVersion.IsNull() {
		prevDeploymentID, err := r.versionDeploymentID(ctx, currentVersion.Str)
		if err != nil {
			return err
		}
		if prevDeploymentID != "" && prevDeploymentID != deploymentID {
			onlyThis, err := r.isOnlyCurrentVersionReferencing(ctx, sg.Key.ID, prevDeploymentID)
			if err != nil {
				return err
			}
			if onlyThis {
				ops = append(ops, entity.Remove(metaKey(typeAssignment, prevDeploymentID)))
			}
		}
	}

	assignment, err := r.store.Get(ctx, metaKey(typeAssignment, deploymentID))
	if err != nil {
		return fmt.Errorf("load assignment %s: %w", deploymentID, err)
	}
	if assignment == nil {
		ops = append(ops,
			entity.Abort("assignment must not exist", byID(typeAssignment, deploymentID), nil),
			entity.Set(metaKey(typeAssignment, deploymentID), withID(deploymentID, entity.Attributes{
				"nodeId": entity.String(nodeID),
			})),
		)
	}

	ops = append(ops, entity.Set(metaKey(typeSubgraph, sg.Key.ID), entity.Attributes{
		"currentVersion": entity.ID(versionID),
	}))

	return r.store.ApplyOperations(ctx, ops)
}

// RemoveSubgraph loads the Subgraph and its Versions and runs the GC
// algebra from spec §4.4 over them in a single operation list.
func (r *Registrar) RemoveSubgraph(ctx context.Context, name string) error {
	sg, err := r.findSubgraphByName(ctx, name)
	if err != nil {
		return err
	}
	if sg == nil {
		return pkgerrors.NameNotFound(name)
	}

	versions, err := r.store.Find(ctx, entity.EntityQuery{
		Deployment: metaDeployment,
		EntityType: typeVersion,
		Filter:     ptrFilter(entity.Equal("subgraph", entity.ID(sg.Key.ID))),
	})
	if err != nil {
		return fmt.Errorf("list versions of subgraph %s: %w", name, err)
	}

	ops, err := r.planGC(ctx, versions)
	if err != nil {
		return err
	}
	ops = append(ops, entity.Remove(metaKey(typeSubgraph, sg.Key.ID)))
	return r.store.ApplyOperations(ctx, ops)
}

// SubgraphInfo is one row of list_subgraphs().
type SubgraphInfo struct {
	Name           string
	CurrentVersion string
	Deployment     string
}

// ListSubgraphs returns every Subgraph with its current version and
// deployment. It only reads; the assignment provider does not use it (its
// startup read queries Assignment entities through the store directly).
func (r *Registrar) ListSubgraphs(ctx context.Context) ([]SubgraphInfo, error) {
	subgraphs, err := r.store.Find(ctx, entity.EntityQuery{
		Deployment: metaDeployment,
		EntityType: typeSubgraph,
	})
	if err != nil {
		return nil, fmt.Errorf("list subgraphs: %w", err)
	}

	out := make([]SubgraphInfo, 0, len(subgraphs))
	for _, sg := range subgraphs {
		info := SubgraphInfo{Name: sg.Key.ID}
		cv := sg.Attributes["currentVersion"]
		if !cv.IsNull() {
			info.CurrentVersion = cv.Str
			deploymentID, err := r.versionDeploymentID(ctx, cv.Str)
			if err != nil {
				return nil, err
			}
			info.Deployment = deploymentID
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *Registrar) findSubgraphByName(ctx context.Context, name string) (*entity.Entity, error) {
	return r.store.Get(ctx, metaKey(typeSubgraph, name))
}

func (r *Registrar) versionDeploymentID(ctx context.Context, versionID string) (string, error) {
	v, err := r.store.Get(ctx, metaKey(typeVersion, versionID))
	if err != nil {
		return "", fmt.Errorf("load version %s: %w", versionID, err)
	}
	if v == nil {
		return "", nil
	}
	return v.Attributes["deployment"].Str, nil
}

// isOnlyCurrentVersionReferencing reports whether sg is the only Subgraph
// whose currentVersion references a Version pointing at deploymentID
// (spec §4.4 step 5).
func (r *Registrar) isOnlyCurrentVersionReferencing(ctx context.Context, subgraphID, deploymentID string) (bool, error) {
	versions, err := r.store.Find(ctx, entity.EntityQuery{
		Deployment: metaDeployment,
		EntityType: typeVersion,
		Filter:     ptrFilter(entity.Equal("deployment", entity.ID(deploymentID))),
	})
	if err != nil {
		return false, fmt.Errorf("list versions for deployment %s: %w", deploymentID, err)
	}
	if len(versions) == 0 {
		return true, nil
	}
	versionIDs := make([]entity.Value, 0, len(versions))
	for _, v := range versions {
		versionIDs = append(versionIDs, entity.ID(v.Key.ID))
	}

	referencing, err := r.store.Find(ctx, entity.EntityQuery{
		Deployment: metaDeployment,
		EntityType: typeSubgraph,
		Filter:     ptrFilter(entity.In("currentVersion", versionIDs)),
	})
	if err != nil {
		return false, fmt.Errorf("list subgraphs referencing deployment %s: %w", deploymentID, err)
	}
	for _, s := range referencing {
		if s.Key.ID != subgraphID {
			return false, nil
		}
	}
	return true, nil
}

func subgraphByIDAndVersionQuery(subgraphID string, currentVersion entity.Value) entity.EntityQuery {
	return entity.EntityQuery{
		Deployment: metaDeployment,
		EntityType: typeSubgraph,
		Filter: ptrFilter(entity.And(
			entity.Equal("id", entity.ID(subgraphID)),
			entity.Equal("currentVersion", currentVersion),
		)),
	}
}

func ptrFilter(f entity.Filter) *entity.Filter { return &f }
