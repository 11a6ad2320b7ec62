package repository

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Dictionary answers schema questions about types and aspects
type Dictionary interface {
	Type(name string) (*ClassDef, bool)
	Aspect(name string) (*ClassDef, bool)
	// Properties returns the property definitions of a class including
	// those inherited from its parents
	Properties(class string) []PropertyDef
	// DefaultAspects returns the aspects a type carries implicitly,
	// including those of its parents
	DefaultAspects(nodeType string) []string
}

// ClassDef defines a type or aspect
type ClassDef struct {
	Name           string        `yaml:"name"`
	Parent         string        `yaml:"parent,omitempty"`
	DefaultAspects []string      `yaml:"default_aspects,omitempty"`
	Properties     []PropertyDef `yaml:"properties,omitempty"`
}

// PropertyDef defines a property of a class
type PropertyDef struct {
	Name        string        `yaml:"name"`
	Mandatory   bool          `yaml:"mandatory,omitempty"`
	Constraints []*Constraint `yaml:"constraints,omitempty"`
}

// Constraint restricts property values. Kind is one of regex, list,
// length or minmax.
type Constraint struct {
	Name    string   `yaml:"name,omitempty"`
	Kind    string   `yaml:"kind"`
	Pattern string   `yaml:"pattern,omitempty"`
	Values  []string `yaml:"values,omitempty"`
	Min     *float64 `yaml:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty"`

	once sync.Once
	re   *regexp.Regexp
	err  error
}

// Check returns an error describing why value violates the constraint
func (c *Constraint) Check(value string) error {
	switch c.Kind {
	case "regex":
		c.once.Do(func() {
			c.re, c.err = regexp.Compile("^(?:" + c.Pattern + ")$")
		})
		if c.err != nil {
			return fmt.Errorf("constraint %s: invalid pattern: %w", c.label(), c.err)
		}
		if !c.re.MatchString(value) {
			return fmt.Errorf("value %q does not match pattern %q", value, c.Pattern)
		}
	case "list":
		for _, allowed := range c.Values {
			if value == allowed {
				return nil
			}
		}
		return fmt.Errorf("value %q is not one of [%s]", value, strings.Join(c.Values, ", "))
	case "length":
		n := float64(len([]rune(value)))
		if (c.Min != nil && n < *c.Min) || (c.Max != nil && n > *c.Max) {
			return fmt.Errorf("length of %q is outside %s", value, c.bounds())
		}
	case "minmax":
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("value %q is not numeric", value)
		}
		if (c.Min != nil && f < *c.Min) || (c.Max != nil && f > *c.Max) {
			return fmt.Errorf("value %q is outside %s", value, c.bounds())
		}
	default:
		return fmt.Errorf("constraint %s: unknown kind %q", c.label(), c.Kind)
	}
	return nil
}

func (c *Constraint) label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Kind
}

func (c *Constraint) bounds() string {
	lo, hi := "-inf", "+inf"
	if c.Min != nil {
		lo = strconv.FormatFloat(*c.Min, 'g', -1, 64)
	}
	if c.Max != nil {
		hi = strconv.FormatFloat(*c.Max, 'g', -1, 64)
	}
	return "[" + lo + ", " + hi + "]"
}

// Model is a content model loadable from YAML
type Model struct {
	Types   []*ClassDef `yaml:"types"`
	Aspects []*ClassDef `yaml:"aspects"`

	types   map[string]*ClassDef
	aspects map[string]*ClassDef
}

// LoadModel reads a YAML content model and merges it over the default model
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var extra Model
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	m := DefaultModel()
	m.Types = append(m.Types, extra.Types...)
	m.Aspects = append(m.Aspects, extra.Aspects...)
	if err := m.index(); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

// NewModel indexes the given classes
func NewModel(types, aspects []*ClassDef) (*Model, error) {
	m := &Model{Types: types, Aspects: aspects}
	if err := m.index(); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultModel returns the built-in cm: model
func DefaultModel() *Model {
	m := &Model{
		Types: []*ClassDef{
			{Name: "sys:base"},
			{Name: TypeObject, Parent: "sys:base", DefaultAspects: []string{AspectAuditable}, Properties: []PropertyDef{
				{Name: PropName, Mandatory: true, Constraints: []*Constraint{
					{Name: "cm:filename", Kind: "regex", Pattern: `[^"*\\><?/:|]*[^"*\\><?/:|. ]`},
				}},
			}},
			{Name: TypeFolder, Parent: TypeObject},
			{Name: TypeContent, Parent: TypeObject, Properties: []PropertyDef{{Name: "cm:content"}}},
		},
		Aspects: []*ClassDef{
			{Name: AspectAuditable, Properties: []PropertyDef{
				{Name: PropCreated}, {Name: PropCreator}, {Name: PropModified}, {Name: PropModifier},
			}},
			{Name: AspectVersionable, Properties: []PropertyDef{{Name: "cm:versionLabel"}}},
			{Name: "cm:titled", Properties: []PropertyDef{{Name: "cm:title"}, {Name: "cm:description"}}},
			{Name: "cm:author", Properties: []PropertyDef{{Name: "cm:author"}}},
		},
	}
	if err := m.index(); err != nil {
		panic(err)
	}
	return m
}

func (m *Model) index() error {
	m.types = make(map[string]*ClassDef, len(m.Types))
	m.aspects = make(map[string]*ClassDef, len(m.Aspects))
	for _, t := range m.Types {
		if t.Name == "" {
			return fmt.Errorf("type without name")
		}
		m.types[t.Name] = t
	}
	for _, a := range m.Aspects {
		if a.Name == "" {
			return fmt.Errorf("aspect without name")
		}
		m.aspects[a.Name] = a
	}
	for _, t := range m.types {
		if t.Parent != "" {
			if _, ok := m.types[t.Parent]; !ok {
				return fmt.Errorf("type %s: unknown parent %s", t.Name, t.Parent)
			}
		}
	}
	return nil
}

// Type looks up a type definition
func (m *Model) Type(name string) (*ClassDef, bool) {
	t, ok := m.types[name]
	return t, ok
}

// Aspect looks up an aspect definition
func (m *Model) Aspect(name string) (*ClassDef, bool) {
	a, ok := m.aspects[name]
	return a, ok
}

// Properties returns a class's own and inherited property definitions
func (m *Model) Properties(class string) []PropertyDef {
	var out []PropertyDef
	seen := make(map[string]bool)
	for name := class; name != "" && !seen[name]; {
		seen[name] = true
		def, ok := m.types[name]
		if !ok {
			def, ok = m.aspects[name]
		}
		if !ok {
			break
		}
		out = append(out, def.Properties...)
		name = def.Parent
	}
	return out
}

// DefaultAspects returns the aspects a type carries implicitly
func (m *Model) DefaultAspects(nodeType string) []string {
	var out []string
	seen := make(map[string]bool)
	for name := nodeType; name != "" && !seen[name]; {
		seen[name] = true
		def, ok := m.types[name]
		if !ok {
			break
		}
		out = append(out, def.DefaultAspects...)
		name = def.Parent
	}
	return out
}
