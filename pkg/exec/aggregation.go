package exec

// AggregateKind names an aggregate function
type AggregateKind string

// Supported aggregate functions.
const (
	AggregateCount         AggregateKind = "count"          // rows, or non-null values of the argument
	AggregateSum           AggregateKind = "sum"            // numeric total
	AggregateMin           AggregateKind = "min"            // smallest comparable value
	AggregateMax           AggregateKind = "max"            // largest comparable value
	AggregateAvg           AggregateKind = "avg"            // float mean
	AggregateCollect       AggregateKind = "collect"        // values in arrival order
	AggregateCountDistinct AggregateKind = "count_distinct" // distinct non-null values
)

// ParseAggregateKind resolves an aggregate function name
func ParseAggregateKind(name string) (AggregateKind, bool) {
	switch k := AggregateKind(name); k {
	case AggregateCount, AggregateSum, AggregateMin, AggregateMax, AggregateAvg, AggregateCollect, AggregateCountDistinct:
		return k, true
	}
	return "", false
}

// AggregationContext accumulates one aggregate over the rows of one group
type AggregationContext interface {
	// Apply folds one upstream row into the accumulator
	Apply(row *Row, ctx *Context) error
	// FinalValue returns the aggregate. It is idempotent.
	FinalValue(ctx *Context) any
}

// NewAggregationContext returns a fresh accumulator for kind over arg.
// A nil arg means the row itself, which only count accepts.
func NewAggregationContext(kind AggregateKind, arg Expression) (AggregationContext, error) {
	if _, ok := ParseAggregateKind(string(kind)); !ok {
		return nil, NewCommandError(CategoryConfiguration, "", "Unknown aggregate function %q", kind)
	}
	if arg == nil && kind != AggregateCount {
		return nil, NewCommandError(CategoryConfiguration, "", "Aggregate function %s requires an argument", kind)
	}
	a := &accumulator{kind: kind, arg: arg, ints: true}
	if kind == AggregateCountDistinct {
		a.distinct = make(map[uint64][]any)
	}
	return a, nil
}

type accumulator struct {
	kind AggregateKind
	arg  Expression

	n        int64
	intSum   int64
	floatSum float64
	ints     bool
	best     any
	items    []any
	distinct map[uint64][]any
}

func (a *accumulator) Apply(row *Row, ctx *Context) error {
	if a.arg == nil {
		a.n++
		return nil
	}
	v, err := a.arg.Eval(row, ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	switch a.kind {
	case AggregateCount:
		a.n++
	case AggregateSum, AggregateAvg:
		f, ok := ToFloat(v)
		if !ok {
			return nil
		}
		a.n++
		a.floatSum += f
		if i, ok := ToInt64(v); ok && a.ints {
			a.intSum += i
		} else {
			a.ints = false
		}
	case AggregateMin, AggregateMax:
		if a.best == nil {
			a.best = v
			return nil
		}
		c, ok := CompareValues(v, a.best)
		if ok && ((a.kind == AggregateMin && c < 0) || (a.kind == AggregateMax && c > 0)) {
			a.best = v
		}
	case AggregateCollect:
		a.items = append(a.items, v)
	case AggregateCountDistinct:
		h := KeyHash(v)
		for _, seen := range a.distinct[h] {
			if ValuesEqual(seen, v) {
				return nil
			}
		}
		a.distinct[h] = append(a.distinct[h], v)
		a.n++
	}
	return nil
}

func (a *accumulator) FinalValue(*Context) any {
	switch a.kind {
	case AggregateCount, AggregateCountDistinct:
		return a.n
	case AggregateSum:
		if a.n == 0 {
			return nil
		}
		if a.ints {
			return a.intSum
		}
		return a.floatSum
	case AggregateAvg:
		if a.n == 0 {
			return nil
		}
		return a.floatSum / float64(a.n)
	case AggregateMin, AggregateMax:
		return a.best
	case AggregateCollect:
		return append([]any{}, a.items...)
	}
	return nil
}
