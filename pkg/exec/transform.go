package exec

import (
	"sort"
	"strconv"
	"time"
)

// Kinds of the row transformation steps.
const (
	// KindSubQuery runs a nested plan as the row source
	KindSubQuery Kind = "SubQueryStep"
	// KindLet binds per-row variables
	KindLet Kind = "LetStep"
	// KindFilter drops rows failing a predicate
	KindFilter Kind = "FilterStep"
	// KindProjection computes non-aggregate projections
	KindProjection Kind = "ProjectionStep"
	// KindDistinct drops duplicate rows
	KindDistinct Kind = "DistinctStep"
	// KindOrderBy sorts rows
	KindOrderBy Kind = "OrderByStep"
	// KindSkip discards a leading number of rows
	KindSkip Kind = "SkipStep"
	// KindLimit caps the number of rows
	KindLimit Kind = "LimitStep"
	// KindCount replaces its input with a single count row
	KindCount Kind = "CountStep"
	// KindGuaranteeEmptyCount emits a zero count when the input is empty
	KindGuaranteeEmptyCount Kind = "GuaranteeEmptyCountStep"
	// KindTimeout fails the statement once its time budget is spent
	KindTimeout Kind = "TimeoutStep"
)

func init() {
	RegisterStep(KindSubQuery, func() Step { return &SubQueryStep{} })
	RegisterStep(KindLet, func() Step { return &LetStep{} })
	RegisterStep(KindFilter, func() Step { return &FilterStep{} })
	RegisterStep(KindProjection, func() Step { return &ProjectionStep{} })
	RegisterStep(KindDistinct, func() Step { return &DistinctStep{} })
	RegisterStep(KindOrderBy, func() Step { return &OrderByStep{} })
	RegisterStep(KindSkip, func() Step { return &SkipStep{} })
	RegisterStep(KindLimit, func() Step { return &LimitStep{} })
	RegisterStep(KindCount, func() Step { return &CountStep{} })
	RegisterStep(KindGuaranteeEmptyCount, func() Step { return &GuaranteeEmptyCountStep{} })
	RegisterStep(KindTimeout, func() Step { return &TimeoutStep{} })
}

// SubQueryStep is a source step running a nested plan
type SubQueryStep struct {
	BaseStep

	Plan *Plan
}

// NewSubQueryStep wraps plan as a source
func NewSubQueryStep(plan *Plan) *SubQueryStep { return &SubQueryStep{Plan: plan} }

func (s *SubQueryStep) Kind() Kind { return KindSubQuery }

func (s *SubQueryStep) SubPlans() []*Plan { return []*Plan{s.Plan} }

func (s *SubQueryStep) Start(ctx *Context) (Stream, error) {
	if err := s.DrainPrevious(ctx); err != nil {
		return nil, err
	}
	st, err := s.Plan.Start(ctx)
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, st), nil
}

func (s *SubQueryStep) Copy(ctx *Context) Step { return &SubQueryStep{Plan: s.Plan.Copy(ctx)} }

func (s *SubQueryStep) CanBeCached() bool { return s.Plan.CanBeCached() }

func (s *SubQueryStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "FETCH FROM SUBQUERY") + "\n" + BoxedPlans([]*Plan{s.Plan}, depth, indent)
}

func (s *SubQueryStep) Serialize() (map[string]any, error) { return BasicSerialize(s) }

func (s *SubQueryStep) Deserialize(record map[string]any) error {
	plans, err := DeserializeSubPlans(record)
	if err != nil {
		return err
	}
	if len(plans) != 1 {
		return malformed("subquery step needs one sub-plan, got %d", len(plans))
	}
	s.Plan = plans[0]
	return nil
}

// LetStep materializes a sub-plan into a context variable before the first
// row passes through
type LetStep struct {
	BaseStep

	Variable string
	Plan     *Plan
}

// NewLetStep binds the result of plan to variable
func NewLetStep(variable string, plan *Plan) *LetStep {
	return &LetStep{Variable: variable, Plan: plan}
}

func (s *LetStep) Kind() Kind { return KindLet }

func (s *LetStep) SubPlans() []*Plan { return []*Plan{s.Plan} }

func (s *LetStep) Start(ctx *Context) (Stream, error) {
	done := s.Begin(ctx)
	rs, err := s.Plan.Execute(ctx)
	done()
	if err != nil {
		return nil, err
	}
	ctx.SetVariable(s.Variable, rs)
	if s.Previous() == nil {
		return EmptyStream(), nil
	}
	up, err := s.Previous().Start(ctx)
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, up), nil
}

func (s *LetStep) Copy(ctx *Context) Step {
	return &LetStep{Variable: s.Variable, Plan: s.Plan.Copy(ctx)}
}

func (s *LetStep) CanBeCached() bool { return s.Plan.CanBeCached() }

func (s *LetStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "LET "+s.Variable+" =") + "\n" + BoxedPlans([]*Plan{s.Plan}, depth, indent)
}

func (s *LetStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	rec["variableName"] = s.Variable
	return rec, nil
}

func (s *LetStep) Deserialize(record map[string]any) error {
	plans, err := DeserializeSubPlans(record)
	if err != nil {
		return err
	}
	if len(plans) != 1 {
		return malformed("let step needs one sub-plan, got %d", len(plans))
	}
	s.Plan = plans[0]
	s.Variable, err = StringField(record, "variableName")
	return err
}

// FilterStep keeps rows whose predicate is true
type FilterStep struct {
	BaseStep

	Where Expression
}

// NewFilterStep creates a filter on where
func NewFilterStep(where Expression) *FilterStep { return &FilterStep{Where: where} }

func (s *FilterStep) Kind() Kind { return KindFilter }

func (s *FilterStep) Start(ctx *Context) (Stream, error) {
	up, err := s.Upstream(ctx, "filter")
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, FilterStream(up, func(ctx *Context, row *Row) (bool, error) {
		return EvalBool(s.Where, row, ctx)
	})), nil
}

func (s *FilterStep) Copy(*Context) Step { return &FilterStep{Where: s.Where} }

func (s *FilterStep) CanBeCached() bool { return true }

func (s *FilterStep) PrettyPrint(depth, indent int) string {
	where := "true"
	if s.Where != nil {
		where = s.Where.String()
	}
	return s.Header(depth, indent, "FILTER ITEMS WHERE") + "\n" + Indent(depth, indent) + "  " + where
}

func (s *FilterStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	rec["where"], err = EncodeExpression(s.Where)
	return rec, err
}

func (s *FilterStep) Deserialize(record map[string]any) error {
	var err error
	s.Where, err = ExpressionField(record, "where")
	return err
}

// ProjectionStep maps each row to a new row holding the projection items
type ProjectionStep struct {
	BaseStep

	Items []ProjectionItem
}

// NewProjectionStep creates a projection
func NewProjectionStep(items ...ProjectionItem) *ProjectionStep {
	return &ProjectionStep{Items: items}
}

func (s *ProjectionStep) Kind() Kind { return KindProjection }

func (s *ProjectionStep) Start(ctx *Context) (Stream, error) {
	up, err := s.Upstream(ctx, "projection")
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, MapStream(up, s.project)), nil
}

func (s *ProjectionStep) project(ctx *Context, row *Row) (*Row, error) {
	out := NewRow()
	for _, item := range s.Items {
		if item.Expr == nil {
			v := row.Property(item.Alias)
			if v == nil {
				v = row.TemporaryProperty(item.Alias)
			}
			out.SetProperty(item.Alias, v)
			continue
		}
		v, err := item.Expr.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		out.SetProperty(item.Alias, v)
	}
	return out, nil
}

func (s *ProjectionStep) Copy(*Context) Step {
	return &ProjectionStep{Items: append([]ProjectionItem(nil), s.Items...)}
}

func (s *ProjectionStep) CanBeCached() bool { return true }

func (s *ProjectionStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "CALCULATE PROJECTIONS") + "\n" + Indent(depth, indent) + "  " + projectionString(s.Items)
}

func (s *ProjectionStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	rec["items"], err = serializeProjection(s.Items)
	return rec, err
}

func (s *ProjectionStep) Deserialize(record map[string]any) error {
	var err error
	s.Items, err = projectionField(record, "items")
	return err
}

// DistinctStep drops rows equal to a row already emitted
type DistinctStep struct {
	BaseStep
}

func (s *DistinctStep) Kind() Kind { return KindDistinct }

func (s *DistinctStep) Start(ctx *Context) (Stream, error) {
	up, err := s.Upstream(ctx, "distinct")
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64][]*Row)
	return s.Profile(ctx, FilterStream(up, func(_ *Context, row *Row) (bool, error) {
		h := KeyHash(row)
		for _, r := range seen[h] {
			if r.Equal(row) {
				return false, nil
			}
		}
		seen[h] = append(seen[h], row)
		return true, nil
	})), nil
}

func (s *DistinctStep) Copy(*Context) Step { return &DistinctStep{} }

func (s *DistinctStep) CanBeCached() bool { return true }

func (s *DistinctStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "DISTINCT")
}

func (s *DistinctStep) Serialize() (map[string]any, error) { return BasicSerialize(s) }

func (s *DistinctStep) Deserialize(map[string]any) error { return nil }

// OrderByStep materializes upstream and sorts it stably
type OrderByStep struct {
	BaseStep

	Items []OrderItem
}

// NewOrderByStep creates a sort on items
func NewOrderByStep(items ...OrderItem) *OrderByStep { return &OrderByStep{Items: items} }

func (s *OrderByStep) Kind() Kind { return KindOrderBy }

func (s *OrderByStep) Start(ctx *Context) (Stream, error) {
	if err := s.RequirePrevious(ctx, "order by"); err != nil {
		return nil, err
	}
	return s.Profile(ctx, LazyStream(s.sorted)), nil
}

func (s *OrderByStep) sorted(ctx *Context) (Stream, error) {
	up, err := s.Previous().Start(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := Collect(ctx, up)
	if err != nil {
		return nil, err
	}
	type keyed struct {
		row  *Row
		keys []any
	}
	items := make([]keyed, len(rs.Rows))
	for i, row := range rs.Rows {
		keys := make([]any, len(s.Items))
		for j, o := range s.Items {
			if keys[j], err = o.Expr.Eval(row, ctx); err != nil {
				return nil, err
			}
		}
		items[i] = keyed{row: row, keys: keys}
	}
	sort.SliceStable(items, func(a, b int) bool {
		for j, o := range s.Items {
			c, ok := CompareValues(items[a].keys[j], items[b].keys[j])
			if !ok || c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	rows := make([]*Row, len(items))
	for i, it := range items {
		rows[i] = it.row
	}
	return NewSliceStream(rows), nil
}

func (s *OrderByStep) Copy(*Context) Step {
	return &OrderByStep{Items: append([]OrderItem(nil), s.Items...)}
}

func (s *OrderByStep) CanBeCached() bool { return true }

func (s *OrderByStep) PrettyPrint(depth, indent int) string {
	out := s.Header(depth, indent, "ORDER BY")
	for _, o := range s.Items {
		out += "\n" + Indent(depth, indent) + "  " + o.String()
	}
	return out
}

func (s *OrderByStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(s.Items))
	for _, o := range s.Items {
		e, err := EncodeExpression(o.Expr)
		if err != nil {
			return nil, err
		}
		items = append(items, map[string]any{"expr": e, "desc": o.Desc})
	}
	rec["items"] = items
	return rec, nil
}

func (s *OrderByStep) Deserialize(record map[string]any) error {
	recs, err := RecordsField(record, "items")
	if err != nil {
		return err
	}
	s.Items = make([]OrderItem, 0, len(recs))
	for _, r := range recs {
		var o OrderItem
		if o.Expr, err = ExpressionField(r, "expr"); err != nil {
			return err
		}
		if o.Desc, err = BoolField(r, "desc"); err != nil {
			return err
		}
		s.Items = append(s.Items, o)
	}
	return nil
}

// SkipStep discards the first N rows
type SkipStep struct {
	BaseStep

	N int
}

func (s *SkipStep) Kind() Kind { return KindSkip }

func (s *SkipStep) Start(ctx *Context) (Stream, error) {
	up, err := s.Upstream(ctx, "skip")
	if err != nil {
		return nil, err
	}
	skipped := 0
	return s.Profile(ctx, FilterStream(up, func(*Context, *Row) (bool, error) {
		if skipped < s.N {
			skipped++
			return false, nil
		}
		return true, nil
	})), nil
}

func (s *SkipStep) Copy(*Context) Step { return &SkipStep{N: s.N} }

func (s *SkipStep) CanBeCached() bool { return true }

func (s *SkipStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "SKIP ("+strconv.Itoa(s.N)+")")
}

func (s *SkipStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	rec["skip"] = s.N
	return rec, nil
}

func (s *SkipStep) Deserialize(record map[string]any) error {
	var err error
	s.N, err = IntField(record, "skip", 0)
	return err
}

// LimitStep caps the number of rows
type LimitStep struct {
	BaseStep

	N int
}

func (s *LimitStep) Kind() Kind { return KindLimit }

func (s *LimitStep) Start(ctx *Context) (Stream, error) {
	up, err := s.Upstream(ctx, "limit")
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, LimitStream(up, s.N)), nil
}

func (s *LimitStep) Copy(*Context) Step { return &LimitStep{N: s.N} }

func (s *LimitStep) CanBeCached() bool { return true }

func (s *LimitStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "LIMIT ("+strconv.Itoa(s.N)+")")
}

func (s *LimitStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	rec["limit"] = s.N
	return rec, nil
}

func (s *LimitStep) Deserialize(record map[string]any) error {
	var err error
	s.N, err = IntField(record, "limit", 0)
	return err
}

// CountStep consumes upstream and emits a single row {count: n}
type CountStep struct {
	BaseStep
}

func (s *CountStep) Kind() Kind { return KindCount }

func (s *CountStep) Start(ctx *Context) (Stream, error) {
	if err := s.RequirePrevious(ctx, "count"); err != nil {
		return nil, err
	}
	return s.Profile(ctx, LazyStream(func(ctx *Context) (Stream, error) {
		up, err := s.Previous().Start(ctx)
		if err != nil {
			return nil, err
		}
		defer up.Close(ctx)
		var n int64
		for {
			row, err := pull(ctx, up)
			if err != nil {
				return nil, err
			}
			if row == nil {
				break
			}
			n++
		}
		return NewSliceStream([]*Row{RowOf("count", n)}), nil
	})), nil
}

func (s *CountStep) Copy(*Context) Step { return &CountStep{} }

func (s *CountStep) CanBeCached() bool { return true }

func (s *CountStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "COUNT")
}

func (s *CountStep) Serialize() (map[string]any, error) { return BasicSerialize(s) }

func (s *CountStep) Deserialize(map[string]any) error { return nil }

// GuaranteeEmptyCountStep passes rows through, but when upstream is empty
// emits one row with every item set to zero. It gives count-only
// aggregations their single row on empty input.
type GuaranteeEmptyCountStep struct {
	BaseStep

	Items []ProjectionItem
}

// NewGuaranteeEmptyCountStep creates the step for the given count items
func NewGuaranteeEmptyCountStep(items ...ProjectionItem) *GuaranteeEmptyCountStep {
	return &GuaranteeEmptyCountStep{Items: items}
}

func (s *GuaranteeEmptyCountStep) Kind() Kind { return KindGuaranteeEmptyCount }

func (s *GuaranteeEmptyCountStep) Start(ctx *Context) (Stream, error) {
	up, err := s.Upstream(ctx, "guarantee empty count")
	if err != nil {
		return nil, err
	}
	emitted := false
	zeroSent := false
	return s.Profile(ctx, NewProducerStream(func(ctx *Context) (*Row, error) {
		row, err := pull(ctx, up)
		if err != nil {
			return nil, err
		}
		if row != nil {
			emitted = true
			return row, nil
		}
		if emitted || zeroSent {
			return nil, nil
		}
		zeroSent = true
		zero := NewRow()
		for _, item := range s.Items {
			zero.SetProperty(item.Alias, int64(0))
		}
		return zero, nil
	}, up.Close)), nil
}

func (s *GuaranteeEmptyCountStep) Copy(*Context) Step {
	return &GuaranteeEmptyCountStep{Items: append([]ProjectionItem(nil), s.Items...)}
}

func (s *GuaranteeEmptyCountStep) CanBeCached() bool { return true }

func (s *GuaranteeEmptyCountStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "GUARANTEE FOR ZERO COUNT")
}

func (s *GuaranteeEmptyCountStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	rec["items"], err = serializeProjection(s.Items)
	return rec, err
}

func (s *GuaranteeEmptyCountStep) Deserialize(record map[string]any) error {
	var err error
	s.Items, err = projectionField(record, "items")
	return err
}

// TimeoutStep fails the statement once its budget is spent, checking at
// every row boundary
type TimeoutStep struct {
	BaseStep

	Timeout time.Duration
}

// NewTimeoutStep creates a timeout guard
func NewTimeoutStep(d time.Duration) *TimeoutStep { return &TimeoutStep{Timeout: d} }

func (s *TimeoutStep) Kind() Kind { return KindTimeout }

func (s *TimeoutStep) Start(ctx *Context) (Stream, error) {
	up, err := s.Upstream(ctx, "timeout")
	if err != nil {
		return nil, err
	}
	started := time.Now()
	return s.Profile(ctx, NewProducerStream(func(ctx *Context) (*Row, error) {
		if err := checkDeadline(ctx, s.Timeout, started); err != nil {
			return nil, err
		}
		return pull(ctx, up)
	}, up.Close)), nil
}

func (s *TimeoutStep) Copy(*Context) Step { return &TimeoutStep{Timeout: s.Timeout} }

func (s *TimeoutStep) CanBeCached() bool { return true }

func (s *TimeoutStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "TIMEOUT ("+s.Timeout.String()+")")
}

func (s *TimeoutStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	rec["timeoutMillis"] = s.Timeout.Milliseconds()
	return rec, nil
}

func (s *TimeoutStep) Deserialize(record map[string]any) error {
	var err error
	s.Timeout, err = DurationField(record, "timeoutMillis")
	return err
}
