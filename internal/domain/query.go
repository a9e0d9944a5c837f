package domain

// FilterOp is a filter comparison operator.
type FilterOp string

// Supported filter operators.
const (
	OpEq        FilterOp = "eq"
	OpNe        FilterOp = "ne"
	OpGt        FilterOp = "gt"
	OpGte       FilterOp = "gte"
	OpLt        FilterOp = "lt"
	OpLte       FilterOp = "lte"
	OpIn        FilterOp = "in"
	OpLike      FilterOp = "like"
	OpILike     FilterOp = "ilike"
	OpIsNull    FilterOp = "is_null"
	OpIsNotNull FilterOp = "is_not_null"
)

// Filter is one predicate of a query. Filters combine with logical AND in
// the order given.
type Filter struct {
	Field string      `json:"field"`
	Op    FilterOp    `json:"op"`
	Value interface{} `json:"value,omitempty"`
}

// Sort is one ordering directive. Sorts apply in the order given.
type Sort struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// QuerySpec describes the scope of a read or bulk operation: filters, sort
// order, and pagination. Built fresh per request and never mutated after
// construction.
type QuerySpec struct {
	Filters []Filter `json:"filters,omitempty"`
	Sorts   []Sort   `json:"sorts,omitempty"`

	// Offset pagination (GetAll). Page is 1-based.
	Page     int `json:"page,omitempty"`
	PageSize int `json:"page_size,omitempty"`

	// Limit caps the total number of records a stream yields. Zero means
	// unbounded.
	Limit int `json:"limit,omitempty"`
}

// Eq is shorthand for an equality filter.
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}
