package match

import (
	"fmt"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/exec"
)

// ReturnMode selects how bindings are shaped into result rows
type ReturnMode string

const (
	// ReturnProjection leaves the bindings to an explicit projection
	ReturnProjection ReturnMode = ""
	// ReturnMatches and ReturnPaths emit every binding unchanged
	ReturnMatches ReturnMode = "$matches"
	// ReturnPatterns drops internal aliases from each binding
	ReturnPatterns ReturnMode = "$patterns"
	ReturnPaths    ReturnMode = "$paths"
	// ReturnElements emits one row per element bound to a user alias
	ReturnElements ReturnMode = "$elements"
	// ReturnPathElements emits one row per bound element, path elements included
	ReturnPathElements ReturnMode = "$pathElements"
)

// ParseReturnMode validates a return mode name
func ParseReturnMode(s string) (ReturnMode, error) {
	switch m := ReturnMode(s); m {
	case ReturnProjection, ReturnMatches, ReturnPatterns, ReturnPaths, ReturnElements, ReturnPathElements:
		return m, nil
	}
	return "", fmt.Errorf("unknown MATCH return mode: %s", s)
}

// ReturnMatchStep shapes complete bindings according to a return mode
type ReturnMatchStep struct {
	exec.BaseStep

	Mode ReturnMode
}

// NewReturnMatchStep creates a result shaping step
func NewReturnMatchStep(mode ReturnMode) *ReturnMatchStep {
	return &ReturnMatchStep{Mode: mode}
}

func (s *ReturnMatchStep) Kind() exec.Kind { return KindReturnMatch }

func (s *ReturnMatchStep) Start(ctx *exec.Context) (exec.Stream, error) {
	upstream, err := s.Upstream(ctx, "RETURN "+string(s.Mode))
	if err != nil {
		return nil, err
	}
	switch s.Mode {
	case ReturnPatterns:
		return s.Profile(ctx, exec.MapStream(upstream, func(_ *exec.Context, row *exec.Row) (*exec.Row, error) {
			out := row.Copy()
			for _, name := range row.PropertyNames() {
				if IsInternalAlias(name) {
					out.RemoveProperty(name)
				}
			}
			return out, nil
		})), nil
	case ReturnElements:
		return s.Profile(ctx, exec.FlatMapStream(upstream, func(_ *exec.Context, row *exec.Row) (exec.Stream, error) {
			return exec.NewSliceStream(boundElements(row, false)), nil
		})), nil
	case ReturnPathElements:
		return s.Profile(ctx, exec.FlatMapStream(upstream, func(_ *exec.Context, row *exec.Row) (exec.Stream, error) {
			return exec.NewSliceStream(boundElements(row, true)), nil
		})), nil
	default:
		return s.Profile(ctx, upstream), nil
	}
}

// boundElements unrolls a binding into one row per bound element. With
// paths it covers every alias, intermediate path elements first; without
// it only user aliases.
func boundElements(row *exec.Row, paths bool) []*exec.Row {
	var out []*exec.Row
	for _, name := range row.PropertyNames() {
		if !paths && IsInternalAlias(name) {
			continue
		}
		if paths {
			if between, ok := row.TemporaryProperty(PathPrefix + name).([]any); ok {
				for _, v := range between {
					if el, ok := v.(graph.Element); ok && el != nil {
						out = append(out, exec.NewElementRow(el))
					}
				}
			}
		}
		if el, ok := row.Property(name).(graph.Element); ok && el != nil {
			out = append(out, exec.NewElementRow(el))
		}
	}
	return out
}

func (s *ReturnMatchStep) Copy(*exec.Context) exec.Step { return NewReturnMatchStep(s.Mode) }

func (s *ReturnMatchStep) CanBeCached() bool { return true }

func (s *ReturnMatchStep) PrettyPrint(depth, indent int) string {
	return s.Header(depth, indent, "RETURN "+string(s.Mode))
}
