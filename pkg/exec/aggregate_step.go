package exec

import (
	"time"
)

// KindAggregateProjection tags AggregateProjectionStep
const KindAggregateProjection Kind = "AggregateProjectionStep"

func init() {
	RegisterStep(KindAggregateProjection, func() Step { return &AggregateProjectionStep{Limit: -1} })
}

// AggregateProjectionStep groups upstream rows and computes aggregate
// projections per group. Non-aggregate items are captured as properties
// from the first row of each group. Aggregate results are left in the
// temporary namespace under the item's alias for the projection step that
// follows.
type AggregateProjectionStep struct {
	BaseStep

	Projection []ProjectionItem
	GroupBy    []Expression
	// Limit caps group creation; -1 means no cap
	Limit   int
	Timeout time.Duration
}

// NewAggregateProjectionStep creates an aggregation step
func NewAggregateProjectionStep(projection []ProjectionItem, groupBy []Expression, limit int, timeout time.Duration) *AggregateProjectionStep {
	return &AggregateProjectionStep{Projection: projection, GroupBy: groupBy, Limit: limit, Timeout: timeout}
}

func (s *AggregateProjectionStep) Kind() Kind { return KindAggregateProjection }

func (s *AggregateProjectionStep) Start(ctx *Context) (Stream, error) {
	if err := s.RequirePrevious(ctx, "aggregate projection"); err != nil {
		return nil, err
	}
	return s.Profile(ctx, LazyStream(func(ctx *Context) (Stream, error) {
		rows, err := s.aggregate(ctx)
		if err != nil {
			return nil, err
		}
		return NewSliceStream(rows), nil
	})), nil
}

// aggregate runs inside the profiled stream and is timed there
func (s *AggregateProjectionStep) aggregate(ctx *Context) ([]*Row, error) {
	upstream, err := s.Previous().Start(ctx)
	if err != nil {
		return nil, err
	}
	defer upstream.Close(ctx)

	started := time.Now()
	groups := newGroupTable()
	for {
		if err := checkDeadline(ctx, s.Timeout, started); err != nil {
			return nil, err
		}
		row, err := pull(ctx, upstream)
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		key, err := s.groupKey(row, ctx)
		if err != nil {
			return nil, err
		}
		group := groups.get(key)
		if group == nil {
			if s.Limit > 0 && groups.len() > s.Limit {
				continue
			}
			if group, err = s.newGroup(row, ctx); err != nil {
				return nil, err
			}
			groups.add(key, group)
		}
		for _, item := range s.Projection {
			if !item.IsAggregate() {
				continue
			}
			ac := group.TemporaryProperty(item.Alias).(AggregationContext)
			if err := ac.Apply(row, ctx); err != nil {
				return nil, err
			}
		}
	}

	rows := groups.rows
	for _, group := range rows {
		for _, name := range group.TemporaryPropertyNames() {
			if ac, ok := group.TemporaryProperty(name).(AggregationContext); ok {
				group.SetTemporaryProperty(name, ac.FinalValue(ctx))
			}
		}
	}
	return rows, nil
}

func (s *AggregateProjectionStep) groupKey(row *Row, ctx *Context) (any, error) {
	switch len(s.GroupBy) {
	case 0:
		return nil, nil
	case 1:
		return s.GroupBy[0].Eval(row, ctx)
	}
	key := make([]any, len(s.GroupBy))
	for i, e := range s.GroupBy {
		v, err := e.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		key[i] = v
	}
	return key, nil
}

func (s *AggregateProjectionStep) newGroup(row *Row, ctx *Context) (*Row, error) {
	group := NewRow()
	for _, item := range s.Projection {
		if item.IsAggregate() {
			ac, err := NewAggregationContext(item.Aggregate, item.Expr)
			if err != nil {
				return nil, err
			}
			group.SetTemporaryProperty(item.Alias, ac)
			continue
		}
		v, err := item.Expr.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		group.SetProperty(item.Alias, v)
	}
	return group, nil
}

func (s *AggregateProjectionStep) Copy(*Context) Step {
	return &AggregateProjectionStep{
		Projection: append([]ProjectionItem(nil), s.Projection...),
		GroupBy:    append([]Expression(nil), s.GroupBy...),
		Limit:      s.Limit,
		Timeout:    s.Timeout,
	}
}

func (s *AggregateProjectionStep) CanBeCached() bool { return true }

func (s *AggregateProjectionStep) PrettyPrint(depth, indent int) string {
	out := s.Header(depth, indent, "CALCULATE AGGREGATE PROJECTIONS")
	if len(s.GroupBy) > 0 {
		out += "\n" + Indent(depth, indent) + "  GROUP BY " + expressionsString(s.GroupBy)
	}
	return out
}

func (s *AggregateProjectionStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	if rec["projection"], err = serializeProjection(s.Projection); err != nil {
		return nil, err
	}
	if len(s.GroupBy) > 0 {
		if rec["groupBy"], err = EncodeExpressions(s.GroupBy); err != nil {
			return nil, err
		}
	}
	rec["limit"] = s.Limit
	if s.Timeout > 0 {
		rec["timeoutMillis"] = s.Timeout.Milliseconds()
	}
	return rec, nil
}

func (s *AggregateProjectionStep) Deserialize(record map[string]any) error {
	var err error
	if s.Projection, err = projectionField(record, "projection"); err != nil {
		return err
	}
	if s.GroupBy, err = ExpressionsField(record, "groupBy"); err != nil {
		return err
	}
	if s.Limit, err = IntField(record, "limit", -1); err != nil {
		return err
	}
	s.Timeout, err = DurationField(record, "timeoutMillis")
	return err
}

// groupTable keeps groups in creation order, bucketed by key hash
type groupTable struct {
	rows    []*Row
	keys    []any
	buckets map[uint64][]int
}

func newGroupTable() *groupTable {
	return &groupTable{buckets: make(map[uint64][]int)}
}

func (t *groupTable) len() int { return len(t.rows) }

func (t *groupTable) get(key any) *Row {
	for _, i := range t.buckets[KeyHash(key)] {
		if ValuesEqual(t.keys[i], key) {
			return t.rows[i]
		}
	}
	return nil
}

func (t *groupTable) add(key any, row *Row) {
	h := KeyHash(key)
	t.buckets[h] = append(t.buckets[h], len(t.rows))
	t.rows = append(t.rows, row)
	t.keys = append(t.keys, key)
}

// checkDeadline reports a timeout once limit has elapsed since started, or
// once the statement itself times out
func checkDeadline(ctx *Context, limit time.Duration, started time.Time) error {
	if limit > 0 {
		if elapsed := time.Since(started); elapsed > limit {
			return &TimeoutError{Limit: limit, Elapsed: elapsed}
		}
	}
	return ctx.CheckTimeout()
}
