// Package model defines the typed entity catalog the mapper writes into and
// the persistence capability it depends on.
//
// Entity types are declared once in a Catalog and handed out as *EntityType
// handles. Schemas resolve their entity-type names to handles during
// validation, so nothing is looked up by name while documents are parsed.
package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrUnknownType is returned when an entity-type name is not in the catalog.
	ErrUnknownType = errors.New("unknown entity type")

	// ErrUnknownAttribute is returned when an attribute name is not declared
	// on an entity type.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrUnknownRelation is returned when a relation name is not declared on
	// an entity type.
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrInvalidValue is returned when a value cannot be stored in an attribute.
	ErrInvalidValue = errors.New("invalid value")
)

// Kind is the storage kind of an attribute.
type Kind string

const (
	KindText  Kind = "text"
	KindInt   Kind = "int"
	KindFloat Kind = "float"
	KindBool  Kind = "bool"
	KindTime  Kind = "time"
	KindRef   Kind = "ref"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindInt, KindFloat, KindBool, KindTime, KindRef:
		return true
	}
	return false
}

// Attribute is a named, typed column of an entity type. Ref attributes hold
// a reference to an entity of Target.
type Attribute struct {
	Name   string
	Kind   Kind
	Target string

	target *EntityType
}

// TargetType returns the referenced entity type of a ref attribute.
func (a *Attribute) TargetType() *EntityType {
	return a.target
}

// IsRef reports whether the attribute references another entity.
func (a *Attribute) IsRef() bool {
	return a.Kind == KindRef
}

// Relation is a named many-to-many collection without a join entity.
type Relation struct {
	Name   string
	Target string

	target *EntityType
}

// TargetType returns the entity type collected by the relation.
func (r *Relation) TargetType() *EntityType {
	return r.target
}

// EntityType is a handle for one kind of persisted record.
type EntityType struct {
	Name       string
	Table      string
	Attributes []*Attribute
	Relations  []*Relation

	attrs map[string]*Attribute
	rels  map[string]*Relation
}

// Attribute returns the attribute declared under name.
func (t *EntityType) Attribute(name string) (*Attribute, error) {
	if a, ok := t.attrs[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, t.Name, name)
}

// Relation returns the relation declared under name.
func (t *EntityType) Relation(name string) (*Relation, error) {
	if r, ok := t.rels[name]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, t.Name, name)
}

// AttributeNames returns the names of the attributes in values ordered as
// declared on t. Names not declared on t are appended in sorted order.
func (t *EntityType) AttributeNames(values Values) []string {
	names := make([]string, 0, len(values))
	for _, a := range t.Attributes {
		if _, ok := values[a.Name]; ok {
			names = append(names, a.Name)
		}
	}
	if len(names) == len(values) {
		return names
	}

	var extra []string
	for name := range values {
		if _, ok := t.attrs[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func (t *EntityType) String() string {
	return t.Name
}

// Values holds attribute values keyed by attribute name.
type Values map[string]any

// Clone returns a shallow copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Entity is one record of an entity type. ID is zero until the entity has
// been persisted.
type Entity struct {
	Type   *EntityType
	ID     int64
	Values Values
}

// NewEntity returns an unsaved entity of type t.
func NewEntity(t *EntityType) *Entity {
	return &Entity{Type: t, Values: make(Values)}
}

// Persisted reports whether the entity has been stored.
func (e *Entity) Persisted() bool {
	return e.ID != 0
}

// Get returns the value of an attribute, or nil.
func (e *Entity) Get(name string) any {
	return e.Values[name]
}

// Set assigns an attribute value.
func (e *Entity) Set(name string, value any) {
	if e.Values == nil {
		e.Values = make(Values)
	}
	e.Values[name] = value
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s#%d", e.Type.Name, e.ID)
}

// Matches reports whether every value in key equals the entity's value.
func (e *Entity) Matches(key Values) bool {
	for name, want := range key {
		if !Equal(e.Values[name], want) {
			return false
		}
	}
	return true
}

// Equal compares two attribute values. Entities compare by type and ID,
// times by instant.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case *Entity:
		y, ok := b.(*Entity)
		if !ok || x == nil || y == nil {
			return ok && x == y
		}
		if x == y {
			return true
		}
		return x.Type == y.Type && x.ID != 0 && x.ID == y.ID
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	default:
		return a == b
	}
}
