package schema

import (
	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/hook"
	"github.com/JonMunkholm/docmapper/internal/model"
)

// FieldDescriptor says how to extract one value from a source node.
// EntityType and LookupField are both set or both nil; when set, the
// extracted value is resolved to an entity of EntityType whose LookupField
// equals it.
type FieldDescriptor struct {
	Name        string
	Query       backend.Query
	EntityType  *model.EntityType
	LookupField *model.Attribute
	Hook        *hook.Hook
	Optional    bool
}

// IsReference reports whether the field resolves to an entity.
func (d *FieldDescriptor) IsReference() bool {
	return d.EntityType != nil
}

// Raw returns the descriptor as a schema fragment. Validating the fragment
// again yields an equal descriptor.
func (d *FieldDescriptor) Raw() *Map {
	m := NewMap().Set(keyQuery, d.Query)
	if d.EntityType != nil {
		m.Set(keyModel, d.EntityType)
		m.Set(keyField, d.LookupField)
	}
	if d.Hook != nil {
		m.Set(keyHook, d.Hook)
	}
	if d.Optional {
		m.Set(keyOptional, true)
	}
	return m
}

// RelationDescriptor describes a many-to-many edge. JoinEntityType,
// LeftField and RightField are set together; JoinFields requires a join
// entity type.
type RelationDescriptor struct {
	FieldDescriptor

	JoinEntityType *model.EntityType
	LeftField      *model.Attribute
	RightField     *model.Attribute
	JoinFields     []*FieldDescriptor
}

// HasJoin reports whether the relation is stored through a join entity.
func (d *RelationDescriptor) HasJoin() bool {
	return d.JoinEntityType != nil
}

// Raw returns the descriptor as a schema fragment.
func (d *RelationDescriptor) Raw() *Map {
	m := d.FieldDescriptor.Raw()
	if d.JoinEntityType != nil {
		m.Set(keyThrough, d.JoinEntityType)
		m.Set(keyLeftField, d.LeftField)
		m.Set(keyRightField, d.RightField)
	}
	if len(d.JoinFields) > 0 {
		fields := NewMap()
		for _, f := range d.JoinFields {
			fields.Set(f.Name, f)
		}
		m.Set(keyFields, fields)
	}
	return m
}

// EntityDescriptor describes one entity type: where its nodes are and how
// each attribute and relation is extracted from a node.
type EntityDescriptor struct {
	Name       string
	EntityType *model.EntityType
	Query      backend.Query
	Fields     []*FieldDescriptor
	Relations  []*RelationDescriptor
}

// Raw returns the descriptor as a schema fragment.
func (d *EntityDescriptor) Raw() *Map {
	fields := NewMap()
	for _, f := range d.Fields {
		fields.Set(f.Name, f)
	}
	m := NewMap().Set(keyQuery, d.Query).Set(keyFields, fields)
	if len(d.Relations) > 0 {
		rels := NewMap()
		for _, r := range d.Relations {
			rels.Set(r.Name, r)
		}
		m.Set(keyRels, rels)
	}
	return m
}

// Schema is a validated schema: one descriptor per entity type in
// declaration order.
type Schema struct {
	Entities []*EntityDescriptor
	Warnings []Warning
}

// Raw returns the schema as a document.
func (s *Schema) Raw() *Map {
	m := NewMap()
	for _, e := range s.Entities {
		m.Set(e.Name, e)
	}
	return m
}

// Entity returns the descriptor registered under name.
func (s *Schema) Entity(name string) (*EntityDescriptor, bool) {
	for _, e := range s.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}
