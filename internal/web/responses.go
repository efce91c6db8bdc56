package web

import (
	"github.com/JonMunkholm/docmapper/internal/core"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/schema"
)

// MappingSummary is one entry of GET /api/mappings.
type MappingSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Backend     string   `json:"backend"`
	Source      string   `json:"source,omitempty"`
	Entities    []string `json:"entities"`
}

// MappingDetail is the body of GET /api/mappings/{name}.
type MappingDetail struct {
	MappingSummary
	File     string           `json:"file,omitempty"`
	Schema   []EntitySchema   `json:"schema"`
	Warnings []schema.Warning `json:"warnings,omitempty"`
}

// EntitySchema describes how one entity type is extracted.
type EntitySchema struct {
	Name      string           `json:"name"`
	Query     string           `json:"query"`
	Fields    []FieldSchema    `json:"fields"`
	Relations []RelationSchema `json:"relations,omitempty"`
}

// FieldSchema describes one extracted field.
type FieldSchema struct {
	Name     string `json:"name"`
	Query    string `json:"query"`
	Model    string `json:"model,omitempty"`
	Field    string `json:"field,omitempty"`
	Hook     string `json:"hook,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// RelationSchema describes one relation.
type RelationSchema struct {
	FieldSchema
	Through    string        `json:"through,omitempty"`
	LeftField  string        `json:"left_field,omitempty"`
	RightField string        `json:"right_field,omitempty"`
	Fields     []FieldSchema `json:"fields,omitempty"`
}

// EntityTypeInfo is one entry of GET /api/entities.
type EntityTypeInfo struct {
	Name       string          `json:"name"`
	Table      string          `json:"table"`
	Attributes []AttributeInfo `json:"attributes"`
	Relations  []RelationInfo  `json:"relations,omitempty"`
}

// AttributeInfo describes a catalog attribute.
type AttributeInfo struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
}

// RelationInfo describes a catalog relation.
type RelationInfo struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

func toMappingSummary(m *core.Mapping) MappingSummary {
	entities := m.Entities()
	if entities == nil {
		entities = []string{}
	}
	return MappingSummary{
		Name:        m.Name,
		Description: m.Description,
		Backend:     m.Backend,
		Source:      m.Source,
		Entities:    entities,
	}
}

func toMappingDetail(m *core.Mapping) MappingDetail {
	d := MappingDetail{
		MappingSummary: toMappingSummary(m),
		File:           m.File,
		Schema:         []EntitySchema{},
	}
	if m.Schema == nil {
		return d
	}

	d.Warnings = m.Schema.Warnings
	for _, e := range m.Schema.Entities {
		es := EntitySchema{Name: e.Name, Query: e.Query.Path(), Fields: make([]FieldSchema, 0, len(e.Fields))}
		for _, f := range e.Fields {
			es.Fields = append(es.Fields, toFieldSchema(f))
		}
		for _, r := range e.Relations {
			rs := RelationSchema{FieldSchema: toFieldSchema(&r.FieldDescriptor)}
			if r.HasJoin() {
				rs.Through = r.JoinEntityType.Name
				rs.LeftField = r.LeftField.Name
				rs.RightField = r.RightField.Name
			}
			for _, jf := range r.JoinFields {
				rs.Fields = append(rs.Fields, toFieldSchema(jf))
			}
			es.Relations = append(es.Relations, rs)
		}
		d.Schema = append(d.Schema, es)
	}
	return d
}

func toFieldSchema(f *schema.FieldDescriptor) FieldSchema {
	fs := FieldSchema{Name: f.Name, Query: f.Query.Path(), Optional: f.Optional}
	if f.IsReference() {
		fs.Model = f.EntityType.Name
		fs.Field = f.LookupField.Name
	}
	if f.Hook != nil {
		fs.Hook = f.Hook.Name
	}
	return fs
}

func toEntityTypeInfo(t *model.EntityType) EntityTypeInfo {
	info := EntityTypeInfo{Name: t.Name, Table: t.Table, Attributes: make([]AttributeInfo, 0, len(t.Attributes))}
	for _, a := range t.Attributes {
		info.Attributes = append(info.Attributes, AttributeInfo{Name: a.Name, Kind: string(a.Kind), Target: a.Target})
	}
	for _, r := range t.Relations {
		info.Relations = append(info.Relations, RelationInfo{Name: r.Name, Target: r.Target})
	}
	return info
}
