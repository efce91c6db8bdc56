package mapper

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/schema"
)

// FieldResolver extracts one value from a source node.
type FieldResolver struct {
	entity string
	desc   *schema.FieldDescriptor
	store  model.Store
}

// NewFieldResolver returns a resolver for a field of entity. store is only
// used when the field is a reference.
func NewFieldResolver(entity string, d *schema.FieldDescriptor, store model.Store) *FieldResolver {
	return &FieldResolver{entity: entity, desc: d, store: store}
}

// Name returns the attribute the resolver fills.
func (r *FieldResolver) Name() string { return r.desc.Name }

// Resolve evaluates the field's query against node. Exactly one match is
// required unless the field is optional, in which case no match yields nil.
// The match's text goes through the hook, and a reference field is then
// resolved to the entity whose lookup field equals it, creating that entity
// when missing.
func (r *FieldResolver) Resolve(ctx context.Context, node backend.Node) (any, error) {
	matches, err := node.FindAll(r.desc.Query)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", r.entity, r.desc.Name, err)
	}

	switch len(matches) {
	case 0:
		if r.desc.Optional {
			return nil, nil
		}
		return nil, r.queryError(ErrQueryNotFound, node, 0)
	case 1:
	default:
		return nil, r.queryError(ErrQueryMultiple, node, len(matches))
	}

	var value any = matches[0].Text()
	if r.desc.Hook != nil {
		hooked, err := r.desc.Hook.Apply(value)
		if err != nil {
			return nil, &HookError{
				EntityType: r.entity,
				Field:      r.desc.Name,
				Hook:       r.desc.Hook.Name,
				Value:      value,
				Err:        err,
			}
		}
		value = hooked
	}

	if !r.desc.IsReference() || value == nil {
		return value, nil
	}

	key := model.Values{r.desc.LookupField.Name: value}
	e, _, err := r.store.FindOrCreate(ctx, r.desc.EntityType, key)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: resolve %s by %s: %w",
			r.entity, r.desc.Name, r.desc.EntityType.Name, r.desc.LookupField.Name, err)
	}
	return e, nil
}

func (r *FieldResolver) queryError(err error, node backend.Node, count int) *QueryError {
	return &QueryError{
		Err:        err,
		EntityType: r.entity,
		Field:      r.desc.Name,
		Query:      r.desc.Query.Path(),
		Count:      count,
		Source:     snippet(node.Text()),
	}
}
