package exec

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/fnuworsu/rdgql/internal/graph"
)

// ToFloat converts any numeric value to float64
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case graph.ID:
		return float64(n), true
	default:
		return 0, false
	}
}

// ToInt64 converts integral values to int64
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case graph.ID:
		return int64(n), uint64(n) <= math.MaxInt64
	default:
		return 0, false
	}
}

// number is a numeric value normalized so that equal numbers share one
// form: integers and integral floats in int64 range keep an exact int64
type number struct {
	i     int64
	f     float64
	exact bool
}

func toNumber(v any) (number, bool) {
	if i, ok := ToInt64(v); ok {
		return number{i: i, f: float64(i), exact: true}, true
	}
	f, ok := ToFloat(v)
	if !ok {
		return number{}, false
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return number{i: int64(f), f: f, exact: true}, true
	}
	return number{f: f}, true
}

func (a number) compare(b number) int {
	if a.exact && b.exact {
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	}
	switch {
	case a.f < b.f:
		return -1
	case a.f > b.f:
		return 1
	}
	return 0
}

func (a number) equal(b number) bool {
	if a.exact != b.exact {
		return false
	}
	if a.exact {
		return a.i == b.i
	}
	return a.f == b.f
}

// ValuesEqual compares two values. Numbers compare by value regardless of
// their Go type and elements compare by identity.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		return ok && na.equal(nb)
	}
	if ea, ok := asElement(a); ok {
		eb, ok := asElement(b)
		return ok && ea.Identity() == eb.Identity()
	}
	if ra, ok := a.(*Row); ok {
		rb, ok := b.(*Row)
		return ok && ra.Equal(rb)
	}
	if la, ok := a.([]any); ok {
		lb, ok := b.([]any)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !ValuesEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues orders two values of comparable kinds. nil sorts first.
// The second result is false when the values cannot be ordered.
func CompareValues(a, b any) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, true
	case a == nil:
		return -1, true
	case b == nil:
		return 1, true
	}
	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		return na.compare(nb), true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	if ea, ok := asElement(a); ok {
		eb, ok := asElement(b)
		if !ok {
			return 0, false
		}
		return CompareValues(uint64(ea.Identity()), uint64(eb.Identity()))
	}
	return 0, false
}

func asElement(v any) (graph.Element, bool) {
	switch x := v.(type) {
	case graph.Element:
		return x, x != nil
	case *Row:
		if x != nil && x.element != nil && len(x.names) == 0 {
			return x.element, true
		}
	}
	return nil, false
}

// KeyHash hashes a value consistently with ValuesEqual: equal values
// always hash equal
func KeyHash(v any) uint64 {
	h := xxh3.New()
	hashValue(h, v)
	return h.Sum64()
}

func hashValue(h *xxh3.Hasher, v any) {
	var buf [9]byte
	if n, ok := toNumber(v); ok {
		if n.exact {
			buf[0] = 'i'
			binary.LittleEndian.PutUint64(buf[1:], uint64(n.i))
		} else {
			buf[0] = 'n'
			binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(n.f))
		}
		h.Write(buf[:])
		return
	}
	if e, ok := asElement(v); ok {
		buf[0] = 'e'
		binary.LittleEndian.PutUint64(buf[1:], uint64(e.Identity()))
		h.Write(buf[:])
		return
	}
	switch x := v.(type) {
	case nil:
		h.Write([]byte{0})
	case string:
		h.Write([]byte{'s'})
		h.WriteString(x)
		h.Write([]byte{0})
	case bool:
		if x {
			h.Write([]byte{'t'})
		} else {
			h.Write([]byte{'f'})
		}
	case []any:
		h.Write([]byte{'['})
		for _, item := range x {
			hashValue(h, item)
		}
		h.Write([]byte{']'})
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.Write([]byte{'{'})
		for _, k := range keys {
			h.WriteString(k)
			h.Write([]byte{0})
			hashValue(h, x[k])
		}
		h.Write([]byte{'}'})
	case *Row:
		h.Write([]byte{'r'})
		for _, name := range x.PropertyNames() {
			h.WriteString(name)
			h.Write([]byte{0})
			hashValue(h, x.Property(name))
		}
	default:
		h.WriteString(fmt.Sprintf("%T:%v", v, v))
	}
}

// PropertyOf reads a named property from a row, element or map.
// Missing properties and unsupported targets yield nil.
func PropertyOf(target any, name string) any {
	switch t := target.(type) {
	case *Row:
		if t == nil {
			return nil
		}
		return t.Property(name)
	case graph.Element:
		if t == nil {
			return nil
		}
		v, _ := t.Property(name)
		return v
	case map[string]any:
		return t[name]
	case graph.Properties:
		return t[name]
	default:
		return nil
	}
}

// FormatValue renders a value for tables and pretty-printing
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case graph.Element:
		return x.Identity().String()
	case *Row:
		return x.String()
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}
