package query

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/match"
)

// Document is the YAML form of a statement. Expressions use the record
// form of the expression codec, e.g. {eq: [{prop: name}, {lit: Alice}]}.
type Document struct {
	ID       string         `yaml:"id"`
	Match    []PatternDoc   `yaml:"match"`
	Not      []PatternDoc   `yaml:"not"`
	Return   ReturnDoc      `yaml:"return"`
	GroupBy  []any          `yaml:"groupBy"`
	OrderBy  []OrderDoc     `yaml:"orderBy"`
	Skip     int            `yaml:"skip"`
	Limit    *int           `yaml:"limit"`
	UnionAll []Document     `yaml:"unionAll"`
	Params   map[string]any `yaml:"params"`
}

// PatternDoc is one match expression
type PatternDoc struct {
	Origin FilterDoc `yaml:"origin"`
	Path   []StepDoc `yaml:"path"`
}

// StepDoc is one traversal of a match expression
type StepDoc struct {
	Method string    `yaml:"method"` // defaults to out
	Edges  []string  `yaml:"edges"`
	Field  string    `yaml:"field"`
	Target FilterDoc `yaml:"target"`
}

// FilterDoc constrains one alias
type FilterDoc struct {
	As         string `yaml:"as"`
	Class      string `yaml:"class"`
	RID        any    `yaml:"rid"`
	Where      any    `yaml:"where"`
	While      any    `yaml:"while"`
	MaxDepth   *int   `yaml:"maxDepth"`
	Optional   bool   `yaml:"optional"`
	DepthAlias string `yaml:"depthAlias"`
	PathAlias  string `yaml:"pathAlias"`
}

// ReturnDoc is the RETURN clause
type ReturnDoc struct {
	Mode     string    `yaml:"mode"`
	Distinct bool      `yaml:"distinct"`
	Items    []ItemDoc `yaml:"items"`
}

// ItemDoc is one returned column
type ItemDoc struct {
	Expr      any    `yaml:"expr"`
	As        string `yaml:"as"`
	Aggregate string `yaml:"aggregate"`
}

// OrderDoc is one sort key
type OrderDoc struct {
	Expr any  `yaml:"expr"`
	Desc bool `yaml:"desc"`
}

// LoadDocument reads and decodes a statement file
func LoadDocument(path string) (*Query, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read statement: %w", err)
	}
	return ParseDocument(data)
}

// ParseDocument decodes a YAML statement into a Query and its parameters
func ParseDocument(data []byte) (*Query, map[string]any, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse statement: %w", err)
	}
	q, err := doc.Query()
	if err != nil {
		return nil, nil, err
	}
	return q, doc.Params, nil
}

// Query converts the document into a statement. A missing id is generated.
func (d *Document) Query() (*Query, error) {
	q := NewQuery()
	q.ID = d.ID
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.Skip = d.Skip
	q.Limit = d.Limit

	var err error
	if q.Match, err = patterns(d.Match); err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	if q.Not, err = patterns(d.Not); err != nil {
		return nil, fmt.Errorf("not: %w", err)
	}

	if q.Return.Mode, err = match.ParseReturnMode(d.Return.Mode); err != nil {
		return nil, err
	}
	q.Return.Distinct = d.Return.Distinct
	for i, it := range d.Return.Items {
		e, err := exec.DecodeExpression(it.Expr)
		if err != nil {
			return nil, fmt.Errorf("return item %d: %w", i, err)
		}
		q.AddReturnItem(ReturnItem{Expr: e, Alias: it.As, Aggregate: exec.AggregateKind(it.Aggregate)})
	}

	for i, g := range d.GroupBy {
		e, err := exec.DecodeExpression(g)
		if err != nil {
			return nil, fmt.Errorf("group by %d: %w", i, err)
		}
		q.GroupBy = append(q.GroupBy, e)
	}
	for i, o := range d.OrderBy {
		e, err := exec.DecodeExpression(o.Expr)
		if err != nil {
			return nil, fmt.Errorf("order by %d: %w", i, err)
		}
		q.AddOrderBy(e, o.Desc)
	}

	for i := range d.UnionAll {
		branch, err := d.UnionAll[i].Query()
		if err != nil {
			return nil, fmt.Errorf("union branch %d: %w", i, err)
		}
		q.Union(branch)
	}
	return q, nil
}

func patterns(docs []PatternDoc) ([]match.Expression, error) {
	out := make([]match.Expression, 0, len(docs))
	for i, p := range docs {
		origin, err := p.Origin.filter()
		if err != nil {
			return nil, fmt.Errorf("expression %d origin: %w", i, err)
		}
		e := match.From(origin)
		for j, step := range p.Path {
			item, err := step.item()
			if err != nil {
				return nil, fmt.Errorf("expression %d step %d: %w", i, j, err)
			}
			e.Items = append(e.Items, item)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s StepDoc) item() (match.PathItem, error) {
	method := match.Out
	switch {
	case s.Method != "":
		m, err := match.ParseMethod(s.Method)
		if err != nil {
			return match.PathItem{}, err
		}
		method = m
	case s.Field != "":
		method = match.FieldMethod
	}
	target, err := s.Target.filter()
	if err != nil {
		return match.PathItem{}, err
	}
	return match.PathItem{Method: method, EdgeClasses: s.Edges, Field: s.Field, Filter: target}, nil
}

func (f FilterDoc) filter() (match.Filter, error) {
	out := match.Filter{
		Alias:      f.As,
		Class:      f.Class,
		MaxDepth:   f.MaxDepth,
		Optional:   f.Optional,
		DepthAlias: f.DepthAlias,
		PathAlias:  f.PathAlias,
	}
	if f.RID != nil {
		id, ok := exec.ParseID(f.RID)
		if !ok {
			return match.Filter{}, fmt.Errorf("invalid rid %v", f.RID)
		}
		out.RID = &id
	}
	var err error
	if out.Where, err = exec.DecodeExpression(f.Where); err != nil {
		return match.Filter{}, fmt.Errorf("where: %w", err)
	}
	if out.While, err = exec.DecodeExpression(f.While); err != nil {
		return match.Filter{}, fmt.Errorf("while: %w", err)
	}
	return out, nil
}
