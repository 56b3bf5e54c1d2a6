package exec

import (
	"errors"
	"strconv"
	"strings"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/storage"
)

// Kinds of the source steps.
const (
	// KindFetchFromClass scans the records of a class
	KindFetchFromClass Kind = "FetchFromClassStep"
	// KindFetchFromRIDs loads records by identity
	KindFetchFromRIDs Kind = "FetchFromRIDsStep"
	// KindFetchFromVariable reads rows from a context variable
	KindFetchFromVariable Kind = "FetchFromVariableStep"
	// KindRows emits literal rows
	KindRows Kind = "RowsStep"
	// KindEmpty emits nothing
	KindEmpty Kind = "EmptyStep"
)

func init() {
	RegisterStep(KindFetchFromClass, func() Step { return &FetchFromClassStep{} })
	RegisterStep(KindFetchFromRIDs, func() Step { return &FetchFromRIDsStep{} })
	RegisterStep(KindFetchFromVariable, func() Step { return &FetchFromVariableStep{} })
	RegisterStep(KindEmpty, func() Step { return &EmptyStep{} })
}

func requireSession(ctx *Context, what string) error {
	if ctx.Session == nil {
		return NewCommandError(CategoryConfiguration, "", "Cannot %s without a database session", what)
	}
	return nil
}

// FetchFromClassStep scans every record of a class
type FetchFromClassStep struct {
	BaseStep

	Class string
}

// NewFetchFromClassStep creates a class scan
func NewFetchFromClassStep(class string) *FetchFromClassStep {
	return &FetchFromClassStep{Class: class}
}

func (s *FetchFromClassStep) Kind() Kind { return KindFetchFromClass }

func (s *FetchFromClassStep) Start(ctx *Context) (Stream, error) {
	if err := s.DrainPrevious(ctx); err != nil {
		return nil, err
	}
	if err := requireSession(ctx, "fetch from class "+s.Class); err != nil {
		return nil, err
	}
	var cur storage.Cursor
	produce := func(ctx *Context) (*Row, error) {
		if cur == nil {
			c, err := ctx.Session.Scan(s.Class)
			if err != nil {
				return nil, WrapCommandError(CategoryExecution, ctx.Database(), err, "Cannot scan class %s", s.Class)
			}
			cur = c
		}
		if !cur.Next() {
			return nil, cur.Err()
		}
		return NewElementRow(cur.Element()), nil
	}
	onClose := func(*Context) {
		if cur != nil {
			_ = cur.Close()
		}
	}
	return s.Profile(ctx, NewProducerStream(produce, onClose)), nil
}

func (s *FetchFromClassStep) Copy(*Context) Step { return &FetchFromClassStep{Class: s.Class} }

func (s *FetchFromClassStep) CanBeCached() bool { return true }

func (s *FetchFromClassStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "FETCH FROM CLASS "+s.Class)
}

func (s *FetchFromClassStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	rec["class"] = s.Class
	return rec, nil
}

func (s *FetchFromClassStep) Deserialize(record map[string]any) error {
	var err error
	s.Class, err = StringField(record, "class")
	return err
}

// FetchFromRIDsStep loads records by identity. Missing records are skipped.
type FetchFromRIDsStep struct {
	BaseStep

	RIDs []graph.ID
}

// NewFetchFromRIDsStep creates a fetch over ids
func NewFetchFromRIDsStep(ids ...graph.ID) *FetchFromRIDsStep {
	return &FetchFromRIDsStep{RIDs: ids}
}

func (s *FetchFromRIDsStep) Kind() Kind { return KindFetchFromRIDs }

func (s *FetchFromRIDsStep) Start(ctx *Context) (Stream, error) {
	if err := s.DrainPrevious(ctx); err != nil {
		return nil, err
	}
	if err := requireSession(ctx, "fetch records"); err != nil {
		return nil, err
	}
	pos := 0
	return s.Profile(ctx, NewProducerStream(func(ctx *Context) (*Row, error) {
		for pos < len(s.RIDs) {
			id := s.RIDs[pos]
			pos++
			e, err := ctx.Session.Load(id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, WrapCommandError(CategoryExecution, ctx.Database(), err, "Cannot load record %s", id)
			}
			return NewElementRow(e), nil
		}
		return nil, nil
	}, nil)), nil
}

func (s *FetchFromRIDsStep) Copy(*Context) Step {
	return &FetchFromRIDsStep{RIDs: append([]graph.ID(nil), s.RIDs...)}
}

func (s *FetchFromRIDsStep) CanBeCached() bool { return true }

func (s *FetchFromRIDsStep) PrettyPrint(depth, indent int) string {
	ids := make([]string, len(s.RIDs))
	for i, id := range s.RIDs {
		ids[i] = id.String()
	}
	return s.Header(depth, indent, "FETCH FROM RIDs ["+strings.Join(ids, ", ")+"]")
}

func (s *FetchFromRIDsStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(s.RIDs))
	for i, id := range s.RIDs {
		ids[i] = int64(id)
	}
	rec["rids"] = ids
	return rec, nil
}

func (s *FetchFromRIDsStep) Deserialize(record map[string]any) error {
	raw, ok := record["rids"]
	if !ok || raw == nil {
		s.RIDs = nil
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return malformed("field %q is %T, not a list", "rids", raw)
	}
	s.RIDs = make([]graph.ID, 0, len(list))
	for _, item := range list {
		id, ok := ParseID(item)
		if !ok {
			return malformed("field %q holds %v, not a record id", "rids", item)
		}
		s.RIDs = append(s.RIDs, id)
	}
	return nil
}

// ParseID converts a number or a "#n" string to a record id
func ParseID(v any) (graph.ID, bool) {
	switch x := v.(type) {
	case graph.ID:
		return x, true
	case string:
		n, err := strconv.ParseUint(strings.TrimPrefix(x, "#"), 10, 64)
		return graph.ID(n), err == nil
	}
	if n, ok := ToInt64(v); ok && n >= 0 {
		return graph.ID(n), true
	}
	if f, ok := ToFloat(v); ok && f >= 0 && f == float64(uint64(f)) {
		return graph.ID(uint64(f)), true
	}
	return 0, false
}

// FetchFromVariableStep reads rows from a context variable. The variable's
// value is execution specific, so the step is never cacheable.
type FetchFromVariableStep struct {
	BaseStep

	Variable string
}

// NewFetchFromVariableStep creates a fetch from the named variable
func NewFetchFromVariableStep(name string) *FetchFromVariableStep {
	return &FetchFromVariableStep{Variable: name}
}

func (s *FetchFromVariableStep) Kind() Kind { return KindFetchFromVariable }

func (s *FetchFromVariableStep) Start(ctx *Context) (Stream, error) {
	done := s.Begin(ctx)
	defer done()
	if err := s.DrainPrevious(ctx); err != nil {
		return nil, err
	}
	v, _ := ctx.Variable(s.Variable)
	st, err := s.streamOf(ctx, v)
	if err != nil {
		return nil, err
	}
	return s.Profile(ctx, st), nil
}

func (s *FetchFromVariableStep) streamOf(ctx *Context, v any) (Stream, error) {
	switch x := v.(type) {
	case Stream:
		return x, nil
	case *ResultSet:
		return x.Copy().Stream(), nil
	case *Row:
		return NewSliceStream([]*Row{x}), nil
	case graph.Element:
		return NewSliceStream([]*Row{NewElementRow(x)}), nil
	case graph.ID:
		row, err := s.load(ctx, x)
		if err != nil || row == nil {
			return EmptyStream(), err
		}
		return NewSliceStream([]*Row{row}), nil
	case []*Row:
		return NewSliceStream(append([]*Row(nil), x...)), nil
	case []graph.Element:
		rows := make([]*Row, len(x))
		for i, e := range x {
			rows[i] = NewElementRow(e)
		}
		return NewSliceStream(rows), nil
	case []any:
		rows := make([]*Row, 0, len(x))
		for _, item := range x {
			switch it := item.(type) {
			case *Row:
				rows = append(rows, it)
			case graph.Element:
				rows = append(rows, NewElementRow(it))
			case graph.ID:
				row, err := s.load(ctx, it)
				if err != nil {
					return nil, err
				}
				if row != nil {
					rows = append(rows, row)
				}
			default:
				return nil, s.badTarget(ctx)
			}
		}
		return NewSliceStream(rows), nil
	}
	return nil, s.badTarget(ctx)
}

func (s *FetchFromVariableStep) load(ctx *Context, id graph.ID) (*Row, error) {
	if err := requireSession(ctx, "load "+id.String()); err != nil {
		return nil, err
	}
	e, err := ctx.Session.Load(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapCommandError(CategoryExecution, ctx.Database(), err, "Cannot load record %s", id)
	}
	return NewElementRow(e), nil
}

func (s *FetchFromVariableStep) badTarget(ctx *Context) error {
	return NewCommandError(CategoryDataShape, ctx.Database(), "Cannot use variable as query target: %s", s.Variable)
}

func (s *FetchFromVariableStep) Copy(*Context) Step {
	return &FetchFromVariableStep{Variable: s.Variable}
}

func (s *FetchFromVariableStep) CanBeCached() bool { return false }

func (s *FetchFromVariableStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "FETCH FROM VARIABLE "+s.Variable)
}

func (s *FetchFromVariableStep) Serialize() (map[string]any, error) {
	rec, err := BasicSerialize(s)
	if err != nil {
		return nil, err
	}
	rec["variableName"] = s.Variable
	return rec, nil
}

func (s *FetchFromVariableStep) Deserialize(record map[string]any) error {
	var err error
	s.Variable, err = StringField(record, "variableName")
	return err
}

// RowsStep emits a fixed list of rows. It seeds sub-plans with rows known
// only at execution time, so it is neither cacheable nor serializable.
type RowsStep struct {
	BaseStep

	Rows []*Row
}

// NewRowsStep creates a step emitting rows
func NewRowsStep(rows ...*Row) *RowsStep {
	return &RowsStep{Rows: rows}
}

func (s *RowsStep) Kind() Kind { return KindRows }

func (s *RowsStep) Start(ctx *Context) (Stream, error) {
	if err := s.DrainPrevious(ctx); err != nil {
		return nil, err
	}
	return s.Profile(ctx, NewSliceStream(s.Rows)), nil
}

func (s *RowsStep) Copy(*Context) Step {
	return &RowsStep{Rows: append([]*Row(nil), s.Rows...)}
}

func (s *RowsStep) CanBeCached() bool { return false }

func (s *RowsStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "FETCH FROM ROWS ("+strconv.Itoa(len(s.Rows))+")")
}

// EmptyStep produces no rows
type EmptyStep struct {
	BaseStep
}

func (s *EmptyStep) Kind() Kind { return KindEmpty }

func (s *EmptyStep) Start(ctx *Context) (Stream, error) {
	if err := s.DrainPrevious(ctx); err != nil {
		return nil, err
	}
	return EmptyStream(), nil
}

func (s *EmptyStep) Copy(*Context) Step { return &EmptyStep{} }

func (s *EmptyStep) CanBeCached() bool { return true }

func (s *EmptyStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "EMPTY")
}

func (s *EmptyStep) Serialize() (map[string]any, error) { return BasicSerialize(s) }

func (s *EmptyStep) Deserialize(map[string]any) error { return nil }
