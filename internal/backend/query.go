package backend

import (
	"fmt"
	"net/url"
	"strings"
)

// Filter operators understood by both client implementations.
const (
	OpEq    = "eq"
	OpNeq   = "neq"
	OpGt    = "gt"
	OpGte   = "gte"
	OpLt    = "lt"
	OpLte   = "lte"
	OpLike  = "like"
	OpILike = "ilike"
	OpIn    = "in"
	OpIs    = "is"
)

// Filter is a single column predicate.
type Filter struct {
	Column string
	Op     string
	Value  any
}

// Query carries filters, ordering, and paging for Select/Update/Delete.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Where appends a predicate and returns the query for chaining.
func (q Query) Where(column, op string, value any) Query {
	q.Filters = append(q.Filters, Filter{Column: column, Op: op, Value: value})
	return q
}

// Eq appends an equality predicate.
func (q Query) Eq(column string, value any) Query {
	return q.Where(column, OpEq, value)
}

// Order sets the ordering column; desc selects descending order.
func (q Query) Order(column string, desc bool) Query {
	q.OrderBy = column
	q.Desc = desc
	return q
}

// Take caps the number of returned rows.
func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// Skip offsets the returned rows.
func (q Query) Skip(n int) Query {
	q.Offset = n
	return q
}

// encode renders the query as PostgREST query parameters.
func (q Query) encode() url.Values {
	values := url.Values{}
	for _, f := range q.Filters {
		values.Add(f.Column, fmt.Sprintf("%s.%s", f.Op, encodeFilterValue(f.Value)))
	}
	if q.OrderBy != "" {
		direction := "asc"
		if q.Desc {
			direction = "desc"
		}
		values.Set("order", q.OrderBy+"."+direction)
	}
	if q.Limit > 0 {
		values.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", fmt.Sprintf("%d", q.Offset))
	}
	return values
}

func encodeFilterValue(value any) string {
	switch v := value.(type) {
	case []string:
		return "(" + strings.Join(v, ",") + ")"
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return "(" + strings.Join(parts, ",") + ")"
	default:
		return fmt.Sprint(v)
	}
}
