// Package expr provides the expressions evaluated by execution steps:
// literals, property access, context variables, $matched references,
// parameters, comparisons and boolean logic.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fnuworsu/rdgql/pkg/exec"
)

// Context variables set by MATCH steps
const (
	VarMatched      = "$matched"
	VarCurrentMatch = "$currentMatch"
	VarDepth        = "$depth"
)

// Literal represents a constant value
type Literal struct {
	Value interface{}
}

func (l *Literal) Eval(*exec.Row, *exec.Context) (any, error) { return l.Value, nil }

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return exec.FormatValue(v)
	}
}

// Property reads a property of the current row. Values staged in the
// row's temporary namespace are visible when no regular property exists.
type Property struct {
	Name string
}

func (p *Property) Eval(row *exec.Row, _ *exec.Context) (any, error) {
	if row == nil {
		return nil, nil
	}
	if row.HasProperty(p.Name) {
		return row.Property(p.Name), nil
	}
	return row.TemporaryProperty(p.Name), nil
}

func (p *Property) String() string { return p.Name }

// PropertyAccess represents property access like a.name, where a is a
// property of the current row holding a record
type PropertyAccess struct {
	Variable string
	Property string
}

func (p *PropertyAccess) Eval(row *exec.Row, _ *exec.Context) (any, error) {
	if row == nil {
		return nil, nil
	}
	return exec.PropertyOf(row.Property(p.Variable), p.Property), nil
}

func (p *PropertyAccess) String() string { return p.Variable + "." + p.Property }

// Variable reads a context variable such as $depth or $currentMatch,
// optionally followed by a property of the value
type Variable struct {
	Name     string
	Property string
}

func (v *Variable) Eval(_ *exec.Row, ctx *exec.Context) (any, error) {
	val, _ := ctx.Variable(v.Name)
	if v.Property == "" {
		return val, nil
	}
	return exec.PropertyOf(val, v.Property), nil
}

func (v *Variable) String() string {
	if v.Property == "" {
		return v.Name
	}
	return v.Name + "." + v.Property
}

// Matched reads an alias bound earlier in the current MATCH binding,
// optionally followed by a property of the bound record
type Matched struct {
	Alias    string
	Property string
}

func (m *Matched) Eval(_ *exec.Row, ctx *exec.Context) (any, error) {
	val, _ := ctx.Variable(VarMatched)
	binding, ok := val.(*exec.Row)
	if !ok || binding == nil {
		return nil, nil
	}
	bound := binding.Property(m.Alias)
	if m.Property == "" {
		return bound, nil
	}
	return exec.PropertyOf(bound, m.Property), nil
}

func (m *Matched) String() string {
	if m.Property == "" {
		return VarMatched + "." + m.Alias
	}
	return VarMatched + "." + m.Alias + "." + m.Property
}

// MatchedAliases reports the alias this expression depends on
func (m *Matched) MatchedAliases() []string { return []string{m.Alias} }

// Param reads a statement parameter
type Param struct {
	Name string
}

func (p *Param) Eval(_ *exec.Row, ctx *exec.Context) (any, error) {
	v, _ := ctx.Param(p.Name)
	return v, nil
}

func (p *Param) String() string { return ":" + p.Name }

// Operators understood by BinaryExpr
const (
	OpEq  = "="
	OpNe  = "!="
	OpLt  = "<"
	OpLe  = "<="
	OpGt  = ">"
	OpGe  = ">="
	OpAnd = "AND"
	OpOr  = "OR"
)

// BinaryExpr represents binary operations (AND, OR, =, <, >, etc.)
type BinaryExpr struct {
	Left     exec.Expression
	Operator string
	Right    exec.Expression
}

func (b *BinaryExpr) Eval(row *exec.Row, ctx *exec.Context) (any, error) {
	left, err := b.Left.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	switch b.Operator {
	case OpAnd, OpOr:
		l, err := asBool(left, b.Operator)
		if err != nil {
			return nil, err
		}
		if (b.Operator == OpAnd && !l) || (b.Operator == OpOr && l) {
			return l, nil
		}
		right, err := b.Right.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		return asBool(right, b.Operator)
	}
	right, err := b.Right.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	return compareValues(left, b.Operator, right)
}

func (b *BinaryExpr) String() string {
	return operand(b.Left, b.Operator) + " " + b.Operator + " " + operand(b.Right, b.Operator)
}

// MatchedAliases collects the $matched references of both operands
func (b *BinaryExpr) MatchedAliases() []string {
	return append(MatchedAliases(b.Left), MatchedAliases(b.Right)...)
}

func operand(e exec.Expression, parentOp string) string {
	if inner, ok := e.(*BinaryExpr); ok && (inner.Operator == OpAnd || inner.Operator == OpOr) && inner.Operator != parentOp {
		return "(" + inner.String() + ")"
	}
	return e.String()
}

// Not negates a boolean expression
type Not struct {
	Expr exec.Expression
}

func (n *Not) Eval(row *exec.Row, ctx *exec.Context) (any, error) {
	v, err := n.Expr.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	b, err := asBool(v, "NOT")
	if err != nil {
		return nil, err
	}
	return !b, nil
}

func (n *Not) String() string { return "NOT (" + n.Expr.String() + ")" }

// MatchedAliases collects the $matched references of the operand
func (n *Not) MatchedAliases() []string { return MatchedAliases(n.Expr) }

// MatchedAliases returns the aliases referenced through $matched by e
func MatchedAliases(e exec.Expression) []string {
	if r, ok := e.(interface{ MatchedAliases() []string }); ok {
		return r.MatchedAliases()
	}
	return nil
}

// And joins predicates with AND, skipping nils
func And(preds ...exec.Expression) exec.Expression {
	var out exec.Expression
	for _, p := range preds {
		switch {
		case p == nil:
		case out == nil:
			out = p
		default:
			out = &BinaryExpr{Left: out, Operator: OpAnd, Right: p}
		}
	}
	return out
}

// Eq builds left = right
func Eq(left, right exec.Expression) *BinaryExpr {
	return &BinaryExpr{Left: left, Operator: OpEq, Right: right}
}

// Lit builds a literal
func Lit(v any) *Literal { return &Literal{Value: v} }

// Prop builds a property reference. "a.b" becomes an access of b on the
// record held in a.
func Prop(path string) exec.Expression {
	if i := strings.IndexByte(path, '.'); i > 0 {
		return &PropertyAccess{Variable: path[:i], Property: path[i+1:]}
	}
	return &Property{Name: path}
}

func asBool(v any, op string) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("%s requires boolean operands, got %T", op, v)
}

func compareValues(left interface{}, op string, right interface{}) (bool, error) {
	switch op {
	case OpEq:
		return exec.ValuesEqual(left, right), nil
	case OpNe:
		return !exec.ValuesEqual(left, right), nil
	case OpLt, OpLe, OpGt, OpGe:
		if left == nil || right == nil {
			return false, nil
		}
		c, ok := exec.CompareValues(left, right)
		if !ok {
			return false, nil
		}
		switch op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		}
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown operator: %s", op)
}
