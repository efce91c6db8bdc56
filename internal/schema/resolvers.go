package schema

import (
	"fmt"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/hook"
	"github.com/JonMunkholm/docmapper/internal/model"
)

// scope carries the context of one fragment through the interpreter.
type scope struct {
	v    *Validator
	path string
	// owner is the entity type the fragment belongs to; nil when a field is
	// validated on its own.
	owner *model.EntityType
	// name is the attribute or relation name the fragment is declared under.
	name     string
	resolved map[string]any
	warnings *[]Warning
}

func (s *scope) child(segment string, owner *model.EntityType, name string) *scope {
	path := segment
	if s.path != "" {
		path = s.path + "." + segment
	}
	return &scope{v: s.v, path: path, owner: owner, name: name, warnings: s.warnings}
}

func (s *scope) warn(keys []string) {
	*s.warnings = append(*s.warnings, Warning{Path: s.path, Keys: keys})
}

func (s *scope) invalid(key, detail string) *Error {
	return &Error{Kind: KindInvalidValue, Path: s.path, Key: key, Detail: detail}
}

func (s *scope) entityType(key string) *model.EntityType {
	t, _ := s.resolved[key].(*model.EntityType)
	return t
}

func (s *scope) attribute(key string) *model.Attribute {
	a, _ := s.resolved[key].(*model.Attribute)
	return a
}

func resolveQuery(s *scope, value any) (any, error) {
	switch v := value.(type) {
	case backend.Query:
		return v, nil
	case string:
		q, err := s.v.backend.Compile(v)
		if err != nil {
			return nil, &Error{Kind: KindInvalidQuery, Path: s.path, Key: keyQuery, Err: err}
		}
		return q, nil
	}
	return nil, s.invalid(keyQuery, fmt.Sprintf("expected path string, got %T", value))
}

// resolveEntityType serves both "model" and "through".
func resolveEntityType(s *scope, value any) (any, error) {
	var name string
	switch v := value.(type) {
	case *model.EntityType:
		name = v.Name
	case string:
		name = v
	default:
		return nil, s.invalid("", fmt.Sprintf("expected entity type name, got %T", value))
	}

	t, err := s.v.catalog.Lookup(name)
	if err != nil {
		return nil, &Error{Kind: KindUnresolvedType, Path: s.path, Err: err}
	}
	if h, ok := value.(*model.EntityType); ok && h != t {
		return nil, s.invalid("", fmt.Sprintf("entity type %q belongs to another catalog", name))
	}
	return t, nil
}

func lookupAttribute(s *scope, t *model.EntityType, key string, value any) (*model.Attribute, error) {
	var name string
	switch v := value.(type) {
	case *model.Attribute:
		name = v.Name
	case string:
		name = v
	default:
		return nil, s.invalid(key, fmt.Sprintf("expected attribute name, got %T", value))
	}

	a, err := t.Attribute(name)
	if err != nil {
		return nil, &Error{Kind: KindUnresolvedField, Path: s.path, Key: key, Err: err}
	}
	if h, ok := value.(*model.Attribute); ok && h != a {
		return nil, s.invalid(key, fmt.Sprintf("attribute %q belongs to another catalog", name))
	}
	return a, nil
}

func resolveLookupField(s *scope, value any) (any, error) {
	a, err := lookupAttribute(s, s.entityType(keyModel), keyField, value)
	if err != nil {
		return nil, err
	}
	if a.IsRef() {
		return nil, s.invalid(keyField, fmt.Sprintf("lookup field %q is a reference", a.Name))
	}
	return a, nil
}

func resolveHook(s *scope, value any) (any, error) {
	switch v := value.(type) {
	case *hook.Hook:
		return v, nil
	case hook.Func:
		return &hook.Hook{Name: s.name, Fn: v}, nil
	case func(any) (any, error):
		return &hook.Hook{Name: s.name, Fn: v}, nil
	case string:
		h, err := s.v.hooks.Resolve(v)
		if err != nil {
			return nil, &Error{Kind: KindUnresolvedHook, Path: s.path, Key: keyHook, Err: err}
		}
		return h, nil
	}
	return nil, s.invalid(keyHook, fmt.Sprintf("expected hook name, got %T", value))
}

func resolveBool(s *scope, value any) (any, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, s.invalid(keyOptional, fmt.Sprintf("expected boolean, got %v", value))
	}
	return b, nil
}

// resolveEndpoint checks that an endpoint of a join entity is a reference to
// the expected entity type.
func resolveEndpoint(s *scope, key string, value any, want *model.EntityType) (any, error) {
	a, err := lookupAttribute(s, s.entityType(keyThrough), key, value)
	if err != nil {
		return nil, err
	}
	if !a.IsRef() {
		return nil, s.invalid(key, fmt.Sprintf("%q is not a reference", a.Name))
	}
	if want != nil && a.TargetType() != want {
		return nil, s.invalid(key, fmt.Sprintf("%q references %s, expected %s", a.Name, a.Target, want.Name))
	}
	return a, nil
}

func resolveLeftField(s *scope, value any) (any, error) {
	return resolveEndpoint(s, keyLeftField, value, s.owner)
}

func resolveRightField(s *scope, value any) (any, error) {
	return resolveEndpoint(s, keyRightField, value, s.entityType(keyModel))
}

func resolveJoinFields(s *scope, value any) (any, error) {
	through := s.entityType(keyThrough)
	left, right := s.attribute(keyLeftField), s.attribute(keyRightField)

	return validateFieldMap(s, keyFields, value, through, func(name string) error {
		if (left != nil && name == left.Name) || (right != nil && name == right.Name) {
			return s.invalid(keyFields, fmt.Sprintf("%q is a join endpoint", name))
		}
		return nil
	})
}

func resolveEntityFields(s *scope, value any) (any, error) {
	return validateFieldMap(s, keyFields, value, s.owner, nil)
}

// validateFieldMap validates each attrName -> field fragment of a mapping
// against the attributes of owner.
func validateFieldMap(s *scope, key string, value any, owner *model.EntityType, check func(string) error) ([]*FieldDescriptor, error) {
	m, err := asMap(s, key, value)
	if err != nil {
		return nil, err
	}

	out := make([]*FieldDescriptor, 0, m.Len())
	for _, name := range m.Keys() {
		fs := s.child(key+"."+name, owner, name)

		var attr *model.Attribute
		if owner != nil {
			a, err := owner.Attribute(name)
			if err != nil {
				return nil, &Error{Kind: KindUnresolvedField, Path: fs.path, Err: err}
			}
			attr = a
		}
		if check != nil {
			if err := check(name); err != nil {
				return nil, err
			}
		}

		raw, _ := m.Get(name)
		fd, err := validateField(fs, raw)
		if err != nil {
			return nil, err
		}
		if attr != nil {
			if err := checkKind(fs, attr, fd.EntityType); err != nil {
				return nil, err
			}
		}
		out = append(out, fd)
	}
	return out, nil
}

func resolveRelations(s *scope, value any) (any, error) {
	m, err := asMap(s, keyRels, value)
	if err != nil {
		return nil, err
	}

	out := make([]*RelationDescriptor, 0, m.Len())
	for _, name := range m.Keys() {
		rs := s.child(keyRels+"."+name, s.owner, name)
		raw, _ := m.Get(name)
		rd, err := validateRelation(rs, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, nil
}

// checkKind keeps reference attributes and referencing fields in step: a
// ref attribute needs a field resolving to its target type, any other
// attribute needs a plain value.
func checkKind(s *scope, attr *model.Attribute, resolvedType *model.EntityType) error {
	if attr.IsRef() {
		if resolvedType == nil {
			return s.invalid("", fmt.Sprintf("attribute %q references %s and needs model/field", attr.Name, attr.Target))
		}
		if resolvedType != attr.TargetType() {
			return s.invalid(keyModel, fmt.Sprintf("attribute %q references %s, not %s", attr.Name, attr.Target, resolvedType.Name))
		}
		return nil
	}
	if resolvedType != nil {
		return s.invalid(keyModel, fmt.Sprintf("attribute %q is not a reference", attr.Name))
	}
	return nil
}

func asMap(s *scope, key string, value any) (*Map, error) {
	switch v := value.(type) {
	case *Map:
		return v, nil
	case map[string]any:
		return FromMap(v), nil
	}
	return nil, s.invalid(key, fmt.Sprintf("expected mapping, got %T", value))
}

func validateField(s *scope, raw any) (*FieldDescriptor, error) {
	res, err := fieldRules.apply(s, raw)
	if err != nil {
		return nil, err
	}
	return fieldFrom(s.name, res), nil
}

func fieldFrom(name string, res map[string]any) *FieldDescriptor {
	fd := &FieldDescriptor{Name: name}
	fd.Query, _ = res[keyQuery].(backend.Query)
	fd.EntityType, _ = res[keyModel].(*model.EntityType)
	fd.LookupField, _ = res[keyField].(*model.Attribute)
	fd.Hook, _ = res[keyHook].(*hook.Hook)
	fd.Optional, _ = res[keyOptional].(bool)
	return fd
}

func validateRelation(s *scope, raw any) (*RelationDescriptor, error) {
	res, err := relationRules.apply(s, raw)
	if err != nil {
		return nil, err
	}

	rd := &RelationDescriptor{FieldDescriptor: *fieldFrom(s.name, res)}
	rd.JoinEntityType, _ = res[keyThrough].(*model.EntityType)
	rd.LeftField, _ = res[keyLeftField].(*model.Attribute)
	rd.RightField, _ = res[keyRightField].(*model.Attribute)
	rd.JoinFields, _ = res[keyFields].([]*FieldDescriptor)

	if rd.JoinEntityType == nil && s.owner != nil {
		rel, err := s.owner.Relation(s.name)
		if err != nil {
			return nil, &Error{Kind: KindUnresolvedField, Path: s.path, Err: err}
		}
		if rel.TargetType() != rd.EntityType {
			return nil, s.invalid(keyModel, fmt.Sprintf("relation %q holds %s, not %s", s.name, rel.Target, rd.EntityType.Name))
		}
	}
	return rd, nil
}

func validateEntity(s *scope, raw any) (*EntityDescriptor, error) {
	res, err := entityRules.apply(s, raw)
	if err != nil {
		return nil, err
	}

	ed := &EntityDescriptor{Name: s.name, EntityType: s.owner}
	ed.Query, _ = res[keyQuery].(backend.Query)
	ed.Fields, _ = res[keyFields].([]*FieldDescriptor)
	ed.Relations, _ = res[keyRels].([]*RelationDescriptor)
	return ed, nil
}
