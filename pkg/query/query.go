// Package query - statement type definitions
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/expr"
	"github.com/fnuworsu/rdgql/pkg/match"
)

// Query represents a complete MATCH statement
type Query struct {
	ID      string
	Match   []match.Expression
	Not     []match.Expression
	Return  Return
	GroupBy []exec.Expression
	OrderBy []exec.OrderItem
	Skip    int
	Limit   *int

	// UnionAll appends the rows of further statements after this one's
	UnionAll []*Query
}

// Return specifies what a statement emits
type Return struct {
	Mode     match.ReturnMode
	Items    []ReturnItem
	Distinct bool
}

// ReturnItem represents a single return expression
type ReturnItem struct {
	Expr      exec.Expression
	Alias     string             // Optional alias
	Aggregate exec.AggregateKind // count, sum, ...
}

// Name returns the column name of the item
func (r ReturnItem) Name() string {
	if r.Alias != "" {
		return r.Alias
	}
	if r.Aggregate != "" {
		return string(r.Aggregate)
	}
	switch e := r.Expr.(type) {
	case *expr.Property:
		return e.Name
	case *expr.PropertyAccess:
		return e.Variable + "." + e.Property
	}
	return "expr"
}

func (r ReturnItem) projection() exec.ProjectionItem {
	return exec.ProjectionItem{Alias: r.Name(), Expr: r.Expr, Aggregate: r.Aggregate}
}

// Result represents statement execution results
type Result struct {
	Columns []string
	Rows    []*exec.Row
	Plan    string
	Elapsed time.Duration
	Cached  bool
}

// Len returns the number of rows
func (r *Result) Len() int { return len(r.Rows) }

// Records returns each row as a map keyed by column
func (r *Result) Records() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.ToMap()
	}
	return out
}

// NewQuery creates a new query
func NewQuery() *Query {
	return &Query{}
}

// AddMatch adds an expression to the MATCH pattern
func (q *Query) AddMatch(e match.Expression) *Query {
	q.Match = append(q.Match, e)
	return q
}

// AddNot adds a negated pattern expression
func (q *Query) AddNot(e match.Expression) *Query {
	q.Not = append(q.Not, e)
	return q
}

// AddReturnItem adds an item to the RETURN clause
func (q *Query) AddReturnItem(item ReturnItem) *Query {
	q.Return.Items = append(q.Return.Items, item)
	return q
}

// SetReturnMode returns whole bindings shaped by mode
func (q *Query) SetReturnMode(mode match.ReturnMode) *Query {
	q.Return.Mode = mode
	return q
}

// AddOrderBy adds a sort key
func (q *Query) AddOrderBy(e exec.Expression, desc bool) *Query {
	q.OrderBy = append(q.OrderBy, exec.OrderItem{Expr: e, Desc: desc})
	return q
}

// SetLimit sets the LIMIT value
func (q *Query) SetLimit(limit int) *Query {
	q.Limit = &limit
	return q
}

// Union appends a statement whose rows follow this one's
func (q *Query) Union(other *Query) *Query {
	q.UnionAll = append(q.UnionAll, other)
	return q
}

// Columns returns the names of the returned columns, or nil when whole
// bindings are returned
func (q *Query) Columns() []string {
	if len(q.Return.Items) == 0 {
		return nil
	}
	cols := make([]string, len(q.Return.Items))
	for i, item := range q.Return.Items {
		cols[i] = item.Name()
	}
	return cols
}

// hasAggregate reports whether any return item aggregates
func (q *Query) hasAggregate() bool {
	for _, item := range q.Return.Items {
		if item.Aggregate != "" {
			return true
		}
	}
	return false
}

// String renders the statement in a canonical text form; equal statements
// render equally
func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("MATCH ")
	writeExpressions(&b, q.Match)
	if len(q.Not) > 0 {
		b.WriteString(", NOT ")
		writeExpressions(&b, q.Not)
	}
	b.WriteString(" RETURN ")
	if q.Return.Distinct {
		b.WriteString("DISTINCT ")
	}
	switch {
	case q.Return.Mode != match.ReturnProjection:
		b.WriteString(string(q.Return.Mode))
	case len(q.Return.Items) == 0:
		b.WriteString(string(match.ReturnMatches))
	}
	items := make([]string, len(q.Return.Items))
	for i, item := range q.Return.Items {
		items[i] = item.projection().String()
	}
	b.WriteString(strings.Join(items, ", "))
	if len(q.GroupBy) > 0 {
		keys := make([]string, len(q.GroupBy))
		for i, e := range q.GroupBy {
			keys[i] = e.String()
		}
		b.WriteString(" GROUP BY " + strings.Join(keys, ", "))
	}
	if len(q.OrderBy) > 0 {
		keys := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			keys[i] = o.String()
		}
		b.WriteString(" ORDER BY " + strings.Join(keys, ", "))
	}
	if q.Skip > 0 {
		fmt.Fprintf(&b, " SKIP %d", q.Skip)
	}
	if q.Limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *q.Limit)
	}
	for _, u := range q.UnionAll {
		b.WriteString(" UNION ALL ")
		b.WriteString(u.String())
	}
	return b.String()
}

func writeExpressions(b *strings.Builder, list []match.Expression) {
	for i, e := range list {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.String())
	}
}
