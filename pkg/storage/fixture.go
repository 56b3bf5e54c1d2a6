package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fnuworsu/rdgql/internal/graph"
)

// FixtureMetadata describes where a fixture came from
type FixtureMetadata struct {
	Database string    `yaml:"database,omitempty"`
	Created  time.Time `yaml:"created,omitempty"`
	Vertices int       `yaml:"vertices,omitempty"`
	Edges    int       `yaml:"edges,omitempty"`
}

// Fixture is a portable YAML image of a graph. Edges refer to vertices by
// key, so a fixture can be loaded into any session.
type Fixture struct {
	Metadata FixtureMetadata `yaml:"metadata,omitempty"`
	Vertices []FixtureVertex `yaml:"vertices"`
	Edges    []FixtureEdge   `yaml:"edges"`
}

// FixtureVertex is one vertex of a fixture
type FixtureVertex struct {
	Key        string           `yaml:"key"`
	Class      string           `yaml:"class"`
	Properties graph.Properties `yaml:"properties,omitempty"`
}

// FixtureEdge is one edge of a fixture
type FixtureEdge struct {
	From       string           `yaml:"from"`
	To         string           `yaml:"to"`
	Class      string           `yaml:"class"`
	Properties graph.Properties `yaml:"properties,omitempty"`
}

// ReadFixture loads a fixture file
func ReadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a YAML fixture
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	return &f, nil
}

// Load writes the fixture into s inside one transaction and returns the
// identity assigned to every vertex key. Nothing is written on error.
func (f *Fixture) Load(s Session) (map[string]graph.ID, error) {
	if err := s.Begin(); err != nil {
		return nil, fmt.Errorf("failed to begin fixture load: %w", err)
	}
	ids, err := f.load(s)
	if err != nil {
		if rerr := s.Rollback(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, err
	}
	if err := s.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit fixture load: %w", err)
	}
	return ids, nil
}

func (f *Fixture) load(s Session) (map[string]graph.ID, error) {
	ids := make(map[string]graph.ID, len(f.Vertices))
	for i, v := range f.Vertices {
		if v.Key == "" {
			return nil, fmt.Errorf("vertex %d has no key", i)
		}
		if _, dup := ids[v.Key]; dup {
			return nil, fmt.Errorf("duplicate vertex key %q", v.Key)
		}
		n, err := s.AddVertex(v.Class, v.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to add vertex %q: %w", v.Key, err)
		}
		ids[v.Key] = n.ID
	}
	for i, e := range f.Edges {
		from, ok := ids[e.From]
		if !ok {
			return nil, fmt.Errorf("edge %d: unknown vertex key %q", i, e.From)
		}
		to, ok := ids[e.To]
		if !ok {
			return nil, fmt.Errorf("edge %d: unknown vertex key %q", i, e.To)
		}
		if _, err := s.AddEdge(from, to, e.Class, e.Properties); err != nil {
			return nil, fmt.Errorf("failed to add edge %d: %w", i, err)
		}
	}
	return ids, nil
}

// Dump captures every vertex and edge of s. Vertex keys are the record
// identities.
func Dump(s Session) (*Fixture, error) {
	f := &Fixture{Metadata: FixtureMetadata{Database: s.Name(), Created: time.Now().UTC()}}

	err := scanAll(s, "", func(el graph.Element) {
		f.Vertices = append(f.Vertices, FixtureVertex{
			Key:        el.Identity().String(),
			Class:      el.ClassName(),
			Properties: propertiesOf(el),
		})
	})
	if err != nil {
		return nil, err
	}
	err = scanAll(s, graph.EdgeClass, func(el graph.Element) {
		e, ok := el.(*graph.Edge)
		if !ok {
			return
		}
		f.Edges = append(f.Edges, FixtureEdge{
			From:       e.Source.String(),
			To:         e.Target.String(),
			Class:      e.Class,
			Properties: propertiesOf(e),
		})
	})
	if err != nil {
		return nil, err
	}

	f.Metadata.Vertices = len(f.Vertices)
	f.Metadata.Edges = len(f.Edges)
	return f, nil
}

func scanAll(s Session, class string, fn func(graph.Element)) error {
	c, err := s.Scan(class)
	if err != nil {
		return fmt.Errorf("failed to scan %q: %w", class, err)
	}
	defer c.Close()
	for c.Next() {
		fn(c.Element())
	}
	return c.Err()
}

func propertiesOf(el graph.Element) graph.Properties {
	names := el.PropertyNames()
	if len(names) == 0 {
		return nil
	}
	props := make(graph.Properties, len(names))
	for _, name := range names {
		props[name], _ = el.Property(name)
	}
	return props
}

// WriteFile stores the fixture at path, replacing any previous file
func (f *Fixture) WriteFile(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode fixture: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create fixture directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write fixture: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace fixture: %w", err)
	}
	return nil
}
