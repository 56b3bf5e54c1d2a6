package exec

import "strings"

// Expression is evaluated against a row in an execution context. Concrete
// expressions live in pkg/expr; they are immutable and may be shared by
// copied plans.
type Expression interface {
	// Eval returns the value of the expression for row
	Eval(row *Row, ctx *Context) (any, error)
	// String renders the expression in plan output
	String() string
}

// EvalBool evaluates a predicate. A nil predicate accepts every row and
// anything other than boolean true rejects it.
func EvalBool(e Expression, row *Row, ctx *Context) (bool, error) {
	if e == nil {
		return true, nil
	}
	v, err := e.Eval(row, ctx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	return ok && b, nil
}

// ProjectionItem binds an alias to an expression, or to an aggregate of the
// expression when Aggregate is set. A plain item without an expression
// copies the value already stored under its alias.
type ProjectionItem struct {
	Alias     string
	Expr      Expression
	Aggregate AggregateKind
}

// IsAggregate reports whether the item is computed by an aggregation context
func (p ProjectionItem) IsAggregate() bool { return p.Aggregate != "" }

func (p ProjectionItem) String() string {
	if p.Expr == nil && !p.IsAggregate() {
		return p.Alias
	}
	arg := "*"
	if p.Expr != nil {
		arg = p.Expr.String()
	}
	if p.IsAggregate() {
		arg = string(p.Aggregate) + "(" + arg + ")"
	}
	if p.Alias == "" || p.Alias == arg {
		return arg
	}
	return arg + " AS " + p.Alias
}

func (p ProjectionItem) serialize() (map[string]any, error) {
	e, err := EncodeExpression(p.Expr)
	if err != nil {
		return nil, err
	}
	rec := map[string]any{"alias": p.Alias, "expr": e}
	if p.IsAggregate() {
		rec["aggregate"] = string(p.Aggregate)
	}
	return rec, nil
}

func deserializeProjectionItem(rec map[string]any) (ProjectionItem, error) {
	var item ProjectionItem
	var err error
	if item.Alias, err = StringField(rec, "alias"); err != nil {
		return item, err
	}
	if item.Expr, err = ExpressionField(rec, "expr"); err != nil {
		return item, err
	}
	agg, err := StringField(rec, "aggregate")
	if err != nil {
		return item, err
	}
	if agg != "" {
		kind, ok := ParseAggregateKind(agg)
		if !ok {
			return item, malformed("unknown aggregate %q", agg)
		}
		item.Aggregate = kind
	}
	return item, nil
}

func serializeProjection(items []ProjectionItem) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, it := range items {
		rec, err := it.serialize()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func projectionField(record map[string]any, key string) ([]ProjectionItem, error) {
	recs, err := recordList(record, key)
	if err != nil {
		return nil, err
	}
	items := make([]ProjectionItem, 0, len(recs))
	for _, rec := range recs {
		it, err := deserializeProjectionItem(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func projectionString(items []ProjectionItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return strings.Join(parts, ", ")
}

// OrderItem is one ORDER BY key
type OrderItem struct {
	Expr Expression
	Desc bool
}

func (o OrderItem) String() string {
	if o.Desc {
		return o.Expr.String() + " DESC"
	}
	return o.Expr.String() + " ASC"
}

func expressionsString(list []Expression) string {
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
