package schema

import (
	"fmt"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/hook"
	"github.com/JonMunkholm/docmapper/internal/model"
)

// Validator checks raw schemas against a backend, a catalog of entity types
// and a hook registry. A Validator is safe for concurrent use as long as the
// catalog and registry are not mutated during validation.
type Validator struct {
	backend backend.Backend
	catalog *model.Catalog
	hooks   *hook.Registry
}

// NewValidator returns a Validator. A nil registry means the default one.
func NewValidator(b backend.Backend, catalog *model.Catalog, hooks *hook.Registry) *Validator {
	if hooks == nil {
		hooks = hook.Default()
	}
	return &Validator{backend: b, catalog: catalog, hooks: hooks}
}

func (v *Validator) scope(path string, owner *model.EntityType, name string, warnings *[]Warning) *scope {
	return &scope{v: v, path: path, owner: owner, name: name, warnings: warnings}
}

// Validate turns a raw schema into a Schema. Top-level keys are entity type
// names. raw may be a *Map, a map[string]any or a previously validated
// *Schema.
func (v *Validator) Validate(raw any) (*Schema, error) {
	var m *Map
	switch r := raw.(type) {
	case *Schema:
		m = r.Raw()
	case *Map:
		m = r
	case map[string]any:
		m = FromMap(r)
	default:
		return nil, &Error{Kind: KindInvalidValue, Detail: fmt.Sprintf("schema must be a mapping, got %T", raw)}
	}
	if m.Len() == 0 {
		return nil, &Error{Kind: KindInvalidValue, Detail: "schema declares no entity types"}
	}

	out := &Schema{}
	for _, name := range m.Keys() {
		t, err := v.catalog.Lookup(name)
		if err != nil {
			return nil, &Error{Kind: KindUnresolvedType, Path: name, Err: err}
		}

		fragment, _ := m.Get(name)
		ed, err := validateEntity(v.scope(name, t, name, &out.Warnings), fragment)
		if err != nil {
			return nil, err
		}
		out.Entities = append(out.Entities, ed)
	}
	return out, nil
}

// ValidateField validates a single field fragment declared as name on owner.
// A nil owner skips the checks against the owning entity type.
func (v *Validator) ValidateField(owner *model.EntityType, name string, raw any) (*FieldDescriptor, []Warning, error) {
	var warnings []Warning
	s := v.scope(fragmentPath(owner, keyFields, name), owner, name, &warnings)

	if owner != nil {
		attr, err := owner.Attribute(name)
		if err != nil {
			return nil, warnings, &Error{Kind: KindUnresolvedField, Path: s.path, Err: err}
		}
		fd, err := validateField(s, raw)
		if err != nil {
			return nil, warnings, err
		}
		if err := checkKind(s, attr, fd.EntityType); err != nil {
			return nil, warnings, err
		}
		return fd, warnings, nil
	}

	fd, err := validateField(s, raw)
	return fd, warnings, err
}

// ValidateRelation validates a single relation fragment declared as name on
// owner. A nil owner skips the checks against the owning entity type.
func (v *Validator) ValidateRelation(owner *model.EntityType, name string, raw any) (*RelationDescriptor, []Warning, error) {
	var warnings []Warning
	rd, err := validateRelation(v.scope(fragmentPath(owner, keyRels, name), owner, name, &warnings), raw)
	return rd, warnings, err
}

// ValidateEntity validates the fragment of one entity type.
func (v *Validator) ValidateEntity(t *model.EntityType, raw any) (*EntityDescriptor, []Warning, error) {
	if t == nil {
		return nil, nil, &Error{Kind: KindInvalidValue, Detail: "entity type is required"}
	}
	var warnings []Warning
	ed, err := validateEntity(v.scope(t.Name, t, t.Name, &warnings), raw)
	return ed, warnings, err
}

func fragmentPath(owner *model.EntityType, section, name string) string {
	if owner == nil {
		return name
	}
	return owner.Name + "." + section + "." + name
}
