package registrar

import (
	"context"
	"fmt"

	"github.com/subgraphd/indexnode/internal/entity"
)

// planGC implements the version/deployment/assignment garbage collector
// from spec §4.4, given the set V of versions about to be deleted. It
// returns the AbortUnless guards plus the Deployment/Assignment/Version
// removes, in the order the spec requires (Deployments, then Assignments,
// then Versions) so referential integrity holds at every intermediate step
// of the eventual single apply_operations call.
func (r *Registrar) planGC(ctx context.Context, v []entity.Entity) ([]entity.Op, error) {
	h := dedupeDeployments(v)
	vIDs := idSet(v)

	// R = all versions referencing any hash in H.
	rEntities, err := r.store.Find(ctx, entity.EntityQuery{
		Deployment: metaDeployment,
		EntityType: typeVersion,
		Filter:     ptrFilter(entity.In("deployment", idValues(h))),
	})
	if err != nil {
		return nil, fmt.Errorf("gc: list versions referencing %v: %w", h, err)
	}
	rIDs := entityIDs(rEntities)

	ops := []entity.Op{
		entity.Abort("versions referencing deployments pending removal must not change",
			entity.EntityQuery{
				Deployment: metaDeployment,
				EntityType: typeVersion,
				Filter:     ptrFilter(entity.In("deployment", idValues(h))),
			},
			rIDs,
		),
	}

	// R' = R \ V; deployments to remove = H \ {v.deployment : v in R'}.
	rPrime := excludeByID(rEntities, vIDs)
	keepDeployments := deploymentsOf(rPrime)
	deploymentsToRemove := subtract(h, keepDeployments)

	// C = subgraphs whose currentVersion in R.
	var cEntities []entity.Entity
	if len(rIDs) > 0 {
		cEntities, err = r.store.Find(ctx, entity.EntityQuery{
			Deployment: metaDeployment,
			EntityType: typeSubgraph,
			Filter:     ptrFilter(entity.In("currentVersion", idValues(rIDs))),
		})
		if err != nil {
			return nil, fmt.Errorf("gc: list subgraphs current at %v: %w", rIDs, err)
		}
	}
	cIDs := entityIDs(cEntities)
	ops = append(ops, entity.Abort("subgraphs current at a version pending removal must not change",
		entity.EntityQuery{
			Deployment: metaDeployment,
			EntityType: typeSubgraph,
			Filter:     ptrFilter(entity.In("currentVersion", idValues(rIDs))),
		},
		cIDs,
	))

	// R_current = R ∩ {s.currentVersion : s in C}.
	currentVersionIDs := make(map[string]struct{}, len(cEntities))
	for _, s := range cEntities {
		cv := s.Attributes["currentVersion"]
		if !cv.IsNull() {
			currentVersionIDs[cv.Str] = struct{}{}
		}
	}
	rCurrent := filterByID(rEntities, currentVersionIDs)

	// R_current' = R_current \ V; assignments to remove = H \ {v.deployment : v in R_current'}.
	rCurrentPrime := excludeByID(rCurrent, vIDs)
	keepAssignments := deploymentsOf(rCurrentPrime)
	assignmentsToRemove := subtract(h, keepAssignments)

	for _, d := range deploymentsToRemove {
		ops = append(ops, entity.Remove(metaKey(typeDeployment, d)))
	}
	for _, d := range assignmentsToRemove {
		ops = append(ops, entity.Remove(metaKey(typeAssignment, d)))
	}
	for _, version := range v {
		ops = append(ops, entity.Remove(metaKey(typeVersion, version.Key.ID)))
	}

	return ops, nil
}

func dedupeDeployments(versions []entity.Entity) []string {
	seen := make(map[string]struct{}, len(versions))
	var out []string
	for _, v := range versions {
		d := v.Attributes["deployment"].Str
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

func idSet(entities []entity.Entity) map[string]struct{} {
	set := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		set[e.Key.ID] = struct{}{}
	}
	return set
}

func entityIDs(entities []entity.Entity) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.Key.ID)
	}
	return ids
}

func idValues(ids []string) []entity.Value {
	out := make([]entity.Value, 0, len(ids))
	for _, id := range ids {
		out = append(out, entity.ID(id))
	}
	return out
}

func excludeByID(entities []entity.Entity, exclude map[string]struct{}) []entity.Entity {
	var out []entity.Entity
	for _, e := range entities {
		if _, ok := exclude[e.Key.ID]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func filterByID(entities []entity.Entity, include map[string]struct{}) []entity.Entity {
	var out []entity.Entity
	for _, e := range entities {
		if _, ok := include[e.Key.ID]; ok {
			out = append(out, e)
		}
	}
	return out
}

func deploymentsOf(versions []entity.Entity) map[string]struct{} {
	set := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		set[v.Attributes["deployment"].Str] = struct{}{}
	}
	return set
}

func subtract(all []string, exclude map[string]struct{}) []string {
	var out []string
	for _, a := range all {
		if _, ok := exclude[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}
