package expr

import (
	"fmt"
	"strings"

	"github.com/fnuworsu/rdgql/pkg/exec"
)

func init() {
	exec.RegisterExpressionCodec(exec.ExpressionCodec{Encode: Encode, Decode: Decode})
}

var opNames = map[string]string{
	"eq": OpEq,
	"ne": OpNe,
	"lt": OpLt,
	"le": OpLe,
	"gt": OpGt,
	"ge": OpGe,
}

func opName(op string) (string, bool) {
	for name, o := range opNames {
		if o == op {
			return name, true
		}
	}
	switch op {
	case OpAnd:
		return "and", true
	case OpOr:
		return "or", true
	}
	return "", false
}

// Encode converts an expression into plain maps, lists and scalars
func Encode(e exec.Expression) (any, error) {
	switch x := e.(type) {
	case nil:
		return nil, nil
	case *Literal:
		return map[string]any{"lit": x.Value}, nil
	case *Property:
		return map[string]any{"prop": x.Name}, nil
	case *PropertyAccess:
		return map[string]any{"prop": x.Variable + "." + x.Property}, nil
	case *Variable:
		return map[string]any{"var": x.String()}, nil
	case *Matched:
		path := x.Alias
		if x.Property != "" {
			path += "." + x.Property
		}
		return map[string]any{"matched": path}, nil
	case *Param:
		return map[string]any{"param": x.Name}, nil
	case *Not:
		inner, err := Encode(x.Expr)
		if err != nil {
			return nil, err
		}
		return map[string]any{"not": inner}, nil
	case *BinaryExpr:
		name, ok := opName(x.Operator)
		if !ok {
			return nil, fmt.Errorf("unknown operator: %s", x.Operator)
		}
		l, err := Encode(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := Encode(x.Right)
		if err != nil {
			return nil, err
		}
		return map[string]any{name: []any{l, r}}, nil
	}
	return nil, fmt.Errorf("cannot encode expression %T", e)
}

// Decode builds an expression from the form produced by Encode. Bare
// scalars decode as literals.
func Decode(v any) (exec.Expression, error) {
	m, ok := asMap(v)
	if !ok {
		if _, isList := v.([]any); isList {
			return nil, fmt.Errorf("a list is not an expression")
		}
		return &Literal{Value: v}, nil
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("expression must have exactly one key, got %d", len(m))
	}
	for key, arg := range m {
		return decodeKey(key, arg)
	}
	return nil, nil
}

func decodeKey(key string, arg any) (exec.Expression, error) {
	switch key {
	case "lit":
		return &Literal{Value: arg}, nil
	case "prop":
		s, err := stringArg(key, arg)
		if err != nil {
			return nil, err
		}
		return Prop(s), nil
	case "var":
		s, err := stringArg(key, arg)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(s, "$") {
			s = "$" + s
		}
		name, prop, _ := strings.Cut(s, ".")
		return &Variable{Name: name, Property: prop}, nil
	case "matched":
		s, err := stringArg(key, arg)
		if err != nil {
			return nil, err
		}
		alias, prop, _ := strings.Cut(s, ".")
		if alias == "" {
			return nil, fmt.Errorf("matched reference has no alias")
		}
		return &Matched{Alias: alias, Property: prop}, nil
	case "param":
		s, err := stringArg(key, arg)
		if err != nil {
			return nil, err
		}
		return &Param{Name: s}, nil
	case "not":
		inner, err := Decode(arg)
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	case "and", "or":
		items, err := decodeList(key, arg)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%s needs at least one operand", key)
		}
		op := OpAnd
		if key == "or" {
			op = OpOr
		}
		out := items[0]
		for _, it := range items[1:] {
			out = &BinaryExpr{Left: out, Operator: op, Right: it}
		}
		return out, nil
	}
	op, ok := opNames[key]
	if !ok {
		return nil, fmt.Errorf("unknown expression key %q", key)
	}
	items, err := decodeList(key, arg)
	if err != nil {
		return nil, err
	}
	if len(items) != 2 {
		return nil, fmt.Errorf("%s needs two operands, got %d", key, len(items))
	}
	return &BinaryExpr{Left: items[0], Operator: op, Right: items[1]}, nil
}

func decodeList(key string, arg any) ([]exec.Expression, error) {
	list, ok := arg.([]any)
	if !ok {
		return nil, fmt.Errorf("%s expects a list, got %T", key, arg)
	}
	out := make([]exec.Expression, 0, len(list))
	for _, item := range list {
		e, err := Decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func stringArg(key string, arg any) (string, error) {
	s, ok := arg.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s expects a non-empty string, got %v", key, arg)
	}
	return s, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}
