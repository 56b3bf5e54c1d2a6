package exec

import (
	"strings"

	"github.com/fnuworsu/rdgql/internal/graph"
)

// Row is one unit of data flowing between steps. Property names are unique
// and keep insertion order. A row may wrap a stored element, in which case
// reads fall back to the element's properties. Temporary properties live in
// a separate namespace and are never listed by PropertyNames.
type Row struct {
	names []string
	props map[string]any

	tempNames []string
	temp      map[string]any

	element graph.Element
}

// NewRow creates an empty projection row
func NewRow() *Row {
	return &Row{props: make(map[string]any)}
}

// NewElementRow creates a row wrapping a stored element
func NewElementRow(e graph.Element) *Row {
	r := NewRow()
	r.element = e
	return r
}

// RowOf builds a row from alternating name/value pairs
func RowOf(pairs ...any) *Row {
	r := NewRow()
	for i := 0; i+1 < len(pairs); i += 2 {
		r.SetProperty(pairs[i].(string), pairs[i+1])
	}
	return r
}

// Element returns the wrapped element, or nil
func (r *Row) Element() graph.Element { return r.element }

// IsElement reports whether the row wraps a stored element
func (r *Row) IsElement() bool { return r.element != nil }

// Identity returns the wrapped element's identity
func (r *Row) Identity() (graph.ID, bool) {
	if r.element == nil {
		return 0, false
	}
	return r.element.Identity(), true
}

// Property returns a property, falling back to the wrapped element
func (r *Row) Property(name string) any {
	if v, ok := r.props[name]; ok {
		return v
	}
	if r.element != nil {
		v, _ := r.element.Property(name)
		return v
	}
	return nil
}

// HasProperty reports whether the row or its element defines name
func (r *Row) HasProperty(name string) bool {
	if _, ok := r.props[name]; ok {
		return true
	}
	if r.element != nil {
		_, ok := r.element.Property(name)
		return ok
	}
	return false
}

// SetProperty sets a property, appending the name if it is new
func (r *Row) SetProperty(name string, value any) {
	if r.props == nil {
		r.props = make(map[string]any)
	}
	if _, ok := r.props[name]; !ok {
		r.names = append(r.names, name)
	}
	r.props[name] = value
}

// RemoveProperty deletes a property set on the row
func (r *Row) RemoveProperty(name string) {
	if _, ok := r.props[name]; !ok {
		return
	}
	delete(r.props, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i:i], r.names[i+1:]...)
			break
		}
	}
}

// PropertyNames lists the element's properties followed by the row's own
func (r *Row) PropertyNames() []string {
	if r.element == nil {
		return append([]string(nil), r.names...)
	}
	names := r.element.PropertyNames()
	for _, n := range r.names {
		if !contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

// TemporaryProperty returns a value from the temporary namespace
func (r *Row) TemporaryProperty(name string) any {
	return r.temp[name]
}

// SetTemporaryProperty stores a value in the temporary namespace
func (r *Row) SetTemporaryProperty(name string, value any) {
	if r.temp == nil {
		r.temp = make(map[string]any)
	}
	if _, ok := r.temp[name]; !ok {
		r.tempNames = append(r.tempNames, name)
	}
	r.temp[name] = value
}

// TemporaryPropertyNames lists the temporary namespace in insertion order
func (r *Row) TemporaryPropertyNames() []string {
	return append([]string(nil), r.tempNames...)
}

// Copy returns a row with independent property tables. The wrapped element
// and property values are shared.
func (r *Row) Copy() *Row {
	c := &Row{
		names:   append([]string(nil), r.names...),
		props:   make(map[string]any, len(r.props)),
		element: r.element,
	}
	for k, v := range r.props {
		c.props[k] = v
	}
	if len(r.temp) > 0 {
		c.tempNames = append([]string(nil), r.tempNames...)
		c.temp = make(map[string]any, len(r.temp))
		for k, v := range r.temp {
			c.temp[k] = v
		}
	}
	return c
}

// Merge copies every property and temporary property of other into r,
// overwriting existing values
func (r *Row) Merge(other *Row) {
	for _, name := range other.PropertyNames() {
		r.SetProperty(name, other.Property(name))
	}
	for _, name := range other.tempNames {
		r.SetTemporaryProperty(name, other.temp[name])
	}
}

// Equal compares two rows by identity when both wrap elements without
// extra properties, otherwise by property names and values
func (r *Row) Equal(other *Row) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.element != nil && other.element != nil && len(r.names) == 0 && len(other.names) == 0 {
		return r.element.Identity() == other.element.Identity()
	}
	a, b := r.PropertyNames(), other.PropertyNames()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] || !ValuesEqual(r.Property(a[i]), other.Property(b[i])) {
			return false
		}
	}
	return true
}

// ToMap returns the visible properties as a map
func (r *Row) ToMap() map[string]any {
	m := make(map[string]any)
	for _, name := range r.PropertyNames() {
		m[name] = r.Property(name)
	}
	return m
}

func (r *Row) String() string {
	var sb strings.Builder
	if r.element != nil {
		sb.WriteString(r.element.Identity().String())
	}
	sb.WriteString("{")
	for i, name := range r.PropertyNames() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(FormatValue(r.Property(name)))
	}
	sb.WriteString("}")
	return sb.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ResultSet is a fully materialized sequence of rows
type ResultSet struct {
	Rows []*Row
}

// Len returns the number of rows
func (rs *ResultSet) Len() int { return len(rs.Rows) }

// Copy returns a result set whose rows can be consumed independently
func (rs *ResultSet) Copy() *ResultSet {
	rows := make([]*Row, len(rs.Rows))
	for i, r := range rs.Rows {
		rows[i] = r.Copy()
	}
	return &ResultSet{Rows: rows}
}

// Stream returns a stream over the rows
func (rs *ResultSet) Stream() Stream {
	return NewSliceStream(rs.Rows)
}

// Columns returns the union of property names in first-seen order
func (rs *ResultSet) Columns() []string {
	var cols []string
	seen := make(map[string]bool)
	for _, r := range rs.Rows {
		for _, n := range r.PropertyNames() {
			if !seen[n] {
				seen[n] = true
				cols = append(cols, n)
			}
		}
	}
	return cols
}

// Collect drains a stream into a ResultSet and closes it
func Collect(ctx *Context, s Stream) (*ResultSet, error) {
	defer s.Close(ctx)
	rs := &ResultSet{Rows: make([]*Row, 0)}
	for {
		ok, err := s.HasNext(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return rs, nil
		}
		row, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, row)
	}
}
