package exec

import (
	"fmt"
	"sync"
	"time"
)

// Well-known record keys
const (
	KeyType     = "type"
	KeySubSteps = "subSteps"
	KeySubPlans = "subExecutionPlans"

	keyPlanSteps = "steps"
)

// StepConstructor returns a zero-configured step ready for Deserialize
type StepConstructor func() Step

var registry = struct {
	sync.RWMutex
	ctors map[Kind]StepConstructor
}{ctors: make(map[Kind]StepConstructor)}

// RegisterStep makes a step kind reconstructible by DeserializeStep
func RegisterStep(kind Kind, ctor StepConstructor) {
	registry.Lock()
	defer registry.Unlock()
	registry.ctors[kind] = ctor
}

func lookupStep(kind Kind) (StepConstructor, bool) {
	registry.RLock()
	defer registry.RUnlock()
	ctor, ok := registry.ctors[kind]
	return ctor, ok
}

// SerializeStep encodes a step. Steps that do not support serialization
// report an *UnsupportedOperationError naming their kind.
func SerializeStep(s Step) (map[string]any, error) {
	rec, err := s.Serialize()
	if err != nil {
		if u, ok := err.(*UnsupportedOperationError); ok && u.Target == "" {
			return nil, &UnsupportedOperationError{Operation: u.Operation, Target: string(s.Kind())}
		}
		return nil, err
	}
	return rec, nil
}

// DeserializeStep rebuilds a step from its record
func DeserializeStep(record map[string]any) (Step, error) {
	tag, ok := record[KeyType].(string)
	if !ok || tag == "" {
		return nil, malformed("step record has no %q tag", KeyType)
	}
	ctor, ok := lookupStep(Kind(tag))
	if !ok {
		return nil, &UnsupportedOperationError{Operation: "deserialize", Target: tag}
	}
	s := ctor()
	if err := s.Deserialize(record); err != nil {
		return nil, err
	}
	return s, nil
}

// BasicSerialize records the type tag plus the step's sub-steps and
// sub-plans. Empty collections are omitted.
func BasicSerialize(s Step) (map[string]any, error) {
	rec := map[string]any{KeyType: string(s.Kind())}
	if subs := s.SubSteps(); len(subs) > 0 {
		list := make([]any, 0, len(subs))
		for _, sub := range subs {
			r, err := SerializeStep(sub)
			if err != nil {
				return nil, err
			}
			list = append(list, r)
		}
		rec[KeySubSteps] = list
	}
	if plans := s.SubPlans(); len(plans) > 0 {
		list := make([]any, 0, len(plans))
		for _, p := range plans {
			r, err := p.Serialize()
			if err != nil {
				return nil, err
			}
			list = append(list, r)
		}
		rec[KeySubPlans] = list
	}
	return rec, nil
}

// DeserializeSubSteps restores the steps stored under KeySubSteps
func DeserializeSubSteps(record map[string]any) ([]Step, error) {
	list, err := recordList(record, KeySubSteps)
	if err != nil || list == nil {
		return nil, err
	}
	steps := make([]Step, 0, len(list))
	for _, item := range list {
		s, err := DeserializeStep(item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// DeserializeSubPlans restores the plans stored under KeySubPlans
func DeserializeSubPlans(record map[string]any) ([]*Plan, error) {
	list, err := recordList(record, KeySubPlans)
	if err != nil || list == nil {
		return nil, err
	}
	plans := make([]*Plan, 0, len(list))
	for _, item := range list {
		p, err := DeserializePlan(item)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func recordList(record map[string]any, key string) ([]map[string]any, error) {
	raw, ok := record[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, malformed("field %q is %T, not a list", key, raw)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		rec, ok := asRecord(item)
		if !ok {
			return nil, malformed("field %q holds %T, not a record", key, item)
		}
		out = append(out, rec)
	}
	return out, nil
}

func asRecord(v any) (map[string]any, bool) {
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

func malformed(format string, args ...any) error {
	return NewCommandError(CategoryExecution, "", "Cannot deserialize execution step: "+format, args...)
}

// StringField reads an optional string field
func StringField(record map[string]any, key string) (string, error) {
	raw, ok := record[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", malformed("field %q is %T, not a string", key, raw)
	}
	return s, nil
}

// StringsField reads an optional list of strings
func StringsField(record map[string]any, key string) ([]string, error) {
	raw, ok := record[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch l := raw.(type) {
	case []string:
		return append([]string(nil), l...), nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, malformed("field %q holds %T, not a string", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, malformed("field %q is %T, not a list", key, raw)
}

// IntField reads an optional integer field. Decoded JSON and YAML numbers
// of any numeric type are accepted when integral.
func IntField(record map[string]any, key string, def int) (int, error) {
	raw, ok := record[key]
	if !ok || raw == nil {
		return def, nil
	}
	if n, ok := ToInt64(raw); ok {
		return int(n), nil
	}
	if f, ok := ToFloat(raw); ok && f == float64(int64(f)) {
		return int(f), nil
	}
	return def, malformed("field %q is %v, not an integer", key, raw)
}

// BoolField reads an optional boolean field
func BoolField(record map[string]any, key string) (bool, error) {
	raw, ok := record[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, malformed("field %q is %T, not a boolean", key, raw)
	}
	return b, nil
}

// DurationField reads an optional duration stored in milliseconds
func DurationField(record map[string]any, key string) (time.Duration, error) {
	ms, err := IntField(record, key, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ExpressionCodec converts expressions to and from plain records
type ExpressionCodec struct {
	Encode func(e Expression) (any, error)
	Decode func(v any) (Expression, error)
}

var exprCodec struct {
	sync.RWMutex
	codec *ExpressionCodec
}

// RegisterExpressionCodec installs the codec used for expression fields
func RegisterExpressionCodec(c ExpressionCodec) {
	exprCodec.Lock()
	defer exprCodec.Unlock()
	exprCodec.codec = &c
}

func currentCodec() *ExpressionCodec {
	exprCodec.RLock()
	defer exprCodec.RUnlock()
	return exprCodec.codec
}

// EncodeExpression encodes e with the registered codec. A nil expression
// encodes as nil.
func EncodeExpression(e Expression) (any, error) {
	if e == nil {
		return nil, nil
	}
	c := currentCodec()
	if c == nil {
		return nil, &UnsupportedOperationError{Operation: "serialize", Target: fmt.Sprintf("expression %s", e)}
	}
	return c.Encode(e)
}

// DecodeExpression decodes v with the registered codec
func DecodeExpression(v any) (Expression, error) {
	if v == nil {
		return nil, nil
	}
	c := currentCodec()
	if c == nil {
		return nil, &UnsupportedOperationError{Operation: "deserialize", Target: "expression"}
	}
	e, err := c.Decode(v)
	if err != nil {
		return nil, malformed("bad expression: %v", err)
	}
	return e, nil
}

// ExpressionField reads an optional expression field
func ExpressionField(record map[string]any, key string) (Expression, error) {
	return DecodeExpression(record[key])
}

// EncodeExpressions encodes a list of expressions
func EncodeExpressions(list []Expression) ([]any, error) {
	out := make([]any, 0, len(list))
	for _, e := range list {
		v, err := EncodeExpression(e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ExpressionsField reads an optional list of expressions
func ExpressionsField(record map[string]any, key string) ([]Expression, error) {
	raw, ok := record[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, malformed("field %q is %T, not a list", key, raw)
	}
	out := make([]Expression, 0, len(items))
	for _, item := range items {
		e, err := DecodeExpression(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// RecordsField reads an optional list of records
func RecordsField(record map[string]any, key string) ([]map[string]any, error) {
	return recordList(record, key)
}
