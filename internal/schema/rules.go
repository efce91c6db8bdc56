package schema

import (
	"fmt"
	"strings"
)

// Schema keys.
const (
	keyQuery      = "query"
	keyModel      = "model"
	keyField      = "field"
	keyHook       = "hook"
	keyOptional   = "optional"
	keyThrough    = "through"
	keyLeftField  = "left_field"
	keyRightField = "right_field"
	keyFields     = "fields"
	keyRels       = "rels"
)

// dependency requires every companion to be present whenever key is.
type dependency struct {
	key      string
	requires []string
}

// resolver turns a present, non-null raw value into its resolved form.
type resolver func(s *scope, value any) (any, error)

// rules is the declarative table for one fragment kind. keys lists the
// allowed keys in resolution order.
type rules struct {
	kind         string
	keys         []string
	required     []string
	dependencies []dependency
	shorthand    string
	resolvers    map[string]resolver
}

var fieldRules, relationRules, entityRules *rules

func init() {
	fieldRules = &rules{
		kind:     "field",
		keys:     []string{keyQuery, keyModel, keyField, keyHook, keyOptional},
		required: []string{keyQuery},
		dependencies: []dependency{
			{key: keyModel, requires: []string{keyField}},
			{key: keyField, requires: []string{keyModel}},
		},
		shorthand: keyQuery,
		resolvers: map[string]resolver{
			keyQuery:    resolveQuery,
			keyModel:    resolveEntityType,
			keyField:    resolveLookupField,
			keyHook:     resolveHook,
			keyOptional: resolveBool,
		},
	}

	relationRules = &rules{
		kind: "relation",
		keys: []string{
			keyQuery, keyModel, keyField, keyThrough, keyLeftField, keyRightField,
			keyHook, keyFields, keyOptional,
		},
		required: []string{keyQuery, keyModel, keyField},
		dependencies: []dependency{
			{key: keyModel, requires: []string{keyField}},
			{key: keyField, requires: []string{keyModel}},
			{key: keyLeftField, requires: []string{keyThrough}},
			{key: keyRightField, requires: []string{keyThrough}},
			{key: keyThrough, requires: []string{keyLeftField, keyRightField}},
			{key: keyFields, requires: []string{keyThrough}},
		},
		resolvers: map[string]resolver{
			keyQuery:      resolveQuery,
			keyModel:      resolveEntityType,
			keyField:      resolveLookupField,
			keyThrough:    resolveEntityType,
			keyLeftField:  resolveLeftField,
			keyRightField: resolveRightField,
			keyHook:       resolveHook,
			keyFields:     resolveJoinFields,
			keyOptional:   resolveBool,
		},
	}

	entityRules = &rules{
		kind:     "entity",
		keys:     []string{keyQuery, keyFields, keyRels},
		required: []string{keyQuery, keyFields},
		resolvers: map[string]resolver{
			keyQuery:  resolveQuery,
			keyFields: resolveEntityFields,
			keyRels:   resolveRelations,
		},
	}
}

func (r *rules) allows(key string) bool {
	for _, k := range r.keys {
		if k == key {
			return true
		}
	}
	return false
}

// apply runs the interpreter over one fragment:
//  1. a bare string becomes {shorthand: value}
//  2. unknown keys are reported as a warning and dropped
//  3. broken dependencies fail
//  4. missing required keys fail
//  5. present keys are resolved in declaration order
//  6. absent keys are filled with nil
func (r *rules) apply(s *scope, raw any) (map[string]any, error) {
	m, err := r.normalize(s, raw)
	if err != nil {
		return nil, err
	}

	var unknown []string
	for _, k := range m.Keys() {
		if !r.allows(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		s.warn(unknown)
	}

	for _, d := range r.dependencies {
		if !present(m, d.key) {
			continue
		}
		var missing []string
		for _, c := range d.requires {
			if !present(m, c) {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			return nil, &Error{Kind: KindDependency, Path: s.path, Key: d.key, Requires: missing}
		}
	}

	for _, k := range r.required {
		if !present(m, k) {
			return nil, &Error{Kind: KindMissingRequired, Path: s.path, Key: k}
		}
	}

	s.resolved = make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		if !present(m, k) {
			s.resolved[k] = nil
			continue
		}
		v, _ := m.Get(k)
		res, err := r.resolvers[k](s, v)
		if err != nil {
			return nil, err
		}
		s.resolved[k] = res
	}

	return s.resolved, nil
}

func (r *rules) normalize(s *scope, raw any) (*Map, error) {
	switch v := raw.(type) {
	case string:
		if r.shorthand == "" {
			return nil, s.invalid("", fmt.Sprintf("%s must be a mapping, got string %q", r.kind, v))
		}
		return NewMap().Set(r.shorthand, v), nil
	case *Map:
		return v.Clone(), nil
	case map[string]any:
		return FromMap(v), nil
	case *FieldDescriptor:
		return v.Raw(), nil
	case *RelationDescriptor:
		return v.Raw(), nil
	case *EntityDescriptor:
		return v.Raw(), nil
	case nil:
		return nil, s.invalid("", fmt.Sprintf("%s is empty", r.kind))
	}
	return nil, s.invalid("", fmt.Sprintf("%s must be a mapping, got %T", r.kind, raw))
}

// present reports whether key holds a usable value: not nil, not an empty
// string and not an empty mapping.
func present(m *Map, key string) bool {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return false
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) != ""
	case *Map:
		return x.Len() > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
