package model

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-openapi/inflect"
	"gopkg.in/yaml.v3"
)

// Catalog is the set of entity types known to a mapper. It is immutable once
// built.
type Catalog struct {
	types map[string]*EntityType
	order []*EntityType
}

// catalogFile is the YAML layout of a catalog document.
type catalogFile struct {
	Entities []entityDef `yaml:"entities"`
}

type entityDef struct {
	Name       string         `yaml:"name"`
	Table      string         `yaml:"table"`
	Attributes []attributeDef `yaml:"attributes"`
	Relations  []relationDef  `yaml:"relations"`
}

type attributeDef struct {
	Name   string `yaml:"name"`
	Type   Kind   `yaml:"type"`
	Target string `yaml:"target"`
}

// UnmarshalYAML accepts either a bare attribute name (a text attribute) or
// a full mapping.
func (a *attributeDef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		a.Name = node.Value
		a.Type = KindText
		return nil
	case yaml.MappingNode:
		type plain attributeDef
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*a = attributeDef(p)
		return nil
	default:
		return fmt.Errorf("line %d: expected attribute name or mapping", node.Line)
	}
}

type relationDef struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
}

// LoadCatalogFile reads and parses a YAML catalog file.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	types := make([]*EntityType, 0, len(cf.Entities))
	for _, def := range cf.Entities {
		t := &EntityType{Name: def.Name, Table: def.Table}
		for _, ad := range def.Attributes {
			kind := ad.Type
			if kind == "" {
				kind = KindText
			}
			t.Attributes = append(t.Attributes, &Attribute{Name: ad.Name, Kind: kind, Target: ad.Target})
		}
		for _, rd := range def.Relations {
			t.Relations = append(t.Relations, &Relation{Name: rd.Name, Target: rd.Target})
		}
		types = append(types, t)
	}

	return NewCatalog(types...)
}

// NewCatalog links the given entity types into a catalog. Ref attributes and
// relations must target types in the same catalog.
func NewCatalog(types ...*EntityType) (*Catalog, error) {
	c := &Catalog{types: make(map[string]*EntityType, len(types))}

	for _, t := range types {
		if t.Name == "" {
			return nil, fmt.Errorf("catalog: entity type without name")
		}
		if _, dup := c.types[t.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate entity type %q", t.Name)
		}
		if t.Table == "" {
			t.Table = TableName(t.Name)
		}
		c.types[t.Name] = t
		c.order = append(c.order, t)
	}

	for _, t := range c.order {
		if err := c.link(t); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Catalog) link(t *EntityType) error {
	t.attrs = make(map[string]*Attribute, len(t.Attributes))
	for _, a := range t.Attributes {
		if a.Name == "" {
			return fmt.Errorf("catalog: %s: attribute without name", t.Name)
		}
		if a.Name == "id" {
			return fmt.Errorf("catalog: %s: attribute name %q is reserved", t.Name, a.Name)
		}
		if _, dup := t.attrs[a.Name]; dup {
			return fmt.Errorf("catalog: %s: duplicate attribute %q", t.Name, a.Name)
		}
		if !a.Kind.Valid() {
			return fmt.Errorf("catalog: %s.%s: unknown attribute type %q", t.Name, a.Name, a.Kind)
		}
		if a.Kind == KindRef {
			target, ok := c.types[a.Target]
			if !ok {
				return fmt.Errorf("catalog: %s.%s: %w %q", t.Name, a.Name, ErrUnknownType, a.Target)
			}
			a.target = target
		}
		t.attrs[a.Name] = a
	}

	t.rels = make(map[string]*Relation, len(t.Relations))
	for _, r := range t.Relations {
		if _, dup := t.rels[r.Name]; dup {
			return fmt.Errorf("catalog: %s: duplicate relation %q", t.Name, r.Name)
		}
		if _, clash := t.attrs[r.Name]; clash {
			return fmt.Errorf("catalog: %s: relation %q shadows an attribute", t.Name, r.Name)
		}
		target, ok := c.types[r.Target]
		if !ok {
			return fmt.Errorf("catalog: %s.%s: %w %q", t.Name, r.Name, ErrUnknownType, r.Target)
		}
		r.target = target
		t.rels[r.Name] = r
	}

	return nil
}

// Lookup returns the entity type registered under name.
func (c *Catalog) Lookup(name string) (*EntityType, error) {
	if t, ok := c.types[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// Types returns all entity types in declaration order.
func (c *Catalog) Types() []*EntityType {
	out := make([]*EntityType, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of entity types.
func (c *Catalog) Len() int {
	return len(c.order)
}

// TableName derives a table name from an entity-type name:
// "NewsThroughPlace" becomes "news_through_places".
func TableName(entity string) string {
	return strings.ToLower(inflect.Underscore(inflect.Pluralize(entity)))
}
