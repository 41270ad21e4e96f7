package entity

// FilterOp enumerates the comparison/combinator kinds a filter node can be.
type FilterOp string

const (
	FilterEqual    FilterOp = "Equal"
	FilterNot      FilterOp = "Not"
	FilterIn       FilterOp = "In"
	FilterContains FilterOp = "Contains"
	FilterLessThan FilterOp = "LessThan"
	FilterGreaterThan FilterOp = "GreaterThan"
	FilterAnd      FilterOp = "And"
	FilterOr       FilterOp = "Or"
)

// Filter is a node in the filter tree. Leaf nodes (Equal, In, Contains,
// LessThan, GreaterThan) carry Attribute/Value(s); combinators (And, Or, Not)
// carry Children.
type Filter struct {
	Op        FilterOp
	Attribute string
	Value     Value
	Values    []Value
	Children  []Filter
}

func Equal(attr string, v Value) Filter       { return Filter{Op: FilterEqual, Attribute: attr, Value: v} }
func In(attr string, vs []Value) Filter       { return Filter{Op: FilterIn, Attribute: attr, Values: vs} }
func Contains(attr string, v Value) Filter     { return Filter{Op: FilterContains, Attribute: attr, Value: v} }
func LessThan(attr string, v Value) Filter     { return Filter{Op: FilterLessThan, Attribute: attr, Value: v} }
func GreaterThan(attr string, v Value) Filter  { return Filter{Op: FilterGreaterThan, Attribute: attr, Value: v} }
func Not(f Filter) Filter                      { return Filter{Op: FilterNot, Children: []Filter{f}} }
func And(fs ...Filter) Filter                  { return Filter{Op: FilterAnd, Children: fs} }
func Or(fs ...Filter) Filter                   { return Filter{Op: FilterOr, Children: fs} }

// SortDirection orders an ordered query.
type SortDirection string

const (
	Asc  SortDirection = "Asc"
	Desc SortDirection = "Desc"
)

// OrderBy names the sort attribute, its declared scalar kind (which decides
// the cast rule during sort: BigInt -> numeric, Int -> 64-bit integer,
// Float -> floating, everything else -> string), and direction. Nulls sort
// last regardless of direction.
type OrderBy struct {
	Attribute string
	ValueKind Kind
	Direction SortDirection
}

// Range paginates a query. First<=0 means "no limit".
type Range struct {
	First int
	Skip  int
}

// EntityQuery selects entities of EntityType within Deployment.
type EntityQuery struct {
	Deployment string
	EntityType string
	Filter     *Filter
	Order      *OrderBy
	Range      *Range
}

// Validate enforces the spec's constraint that a Range without an OrderBy is
// invalid (result ordering would be unspecified, making pagination
// meaningless and AbortUnless comparisons ambiguous).
func (q EntityQuery) Validate() error {
	if q.EntityType == "" {
		return errInvalidQuery("entity_type is required")
	}
	if q.Range != nil && q.Order == nil {
		return errInvalidQuery("range without order_by is not permitted")
	}
	return nil
}

type invalidQueryError string

func (e invalidQueryError) Error() string { return string(e) }

func errInvalidQuery(msg string) error { return invalidQueryError(msg) }

// WithLimitOne returns a copy of q with range first=1 and skip preserved
// (defaulting to 0). Used by find_one to inject the implicit limit.
func (q EntityQuery) WithLimitOne() EntityQuery {
	out := q
	skip := 0
	if q.Range != nil {
		skip = q.Range.Skip
	}
	r := Range{First: 1, Skip: skip}
	out.Range = &r
	return out
}
