package entity

// ChangeOp mirrors OpKind for the purpose of change-bus records: a commit
// can Set or Remove an entity (AbortUnless never produces a change record,
// it only guards the transaction).
type ChangeOp string

const (
	ChangeSet    ChangeOp = "Set"
	ChangeRemove ChangeOp = "Remove"
)

// Change is one row-level change-notification record, enqueued on the
// change bus for every distinct (deployment, type, id, op) touched by a
// successful commit (spec §4.1 "Change bus"). Struct tags let it travel over
// the pg_notify transport without a separate wire type.
type Change struct {
	Deployment string      `json:"deployment"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Op         ChangeOp    `json:"op"`
	Source     EventSource `json:"source"`
}

// TypeKey is the subscription key: one (deployment, entity_type) pair; a
// subscriber passes a set of them.
type TypeKey struct {
	Deployment string
	EntityType string
}

// MatchesAny reports whether the change touches one of the subscribed type keys.
func (c Change) MatchesAny(keys map[TypeKey]struct{}) bool {
	_, ok := keys[TypeKey{Deployment: c.Deployment, EntityType: c.EntityType}]
	return ok
}
