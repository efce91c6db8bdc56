package mapper

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/schema"
)

// RelationResolver resolves a many-to-many edge from a source node. The
// related entity is always looked up by value; a relation stored through a
// join entity also extracts the join entity's own attributes from the same
// node.
type RelationResolver struct {
	field *FieldResolver
	desc  *schema.RelationDescriptor
	join  []*FieldResolver
	store model.Store
}

// NewRelationResolver returns a resolver for a relation declared on entity.
func NewRelationResolver(entity string, d *schema.RelationDescriptor, store model.Store) *RelationResolver {
	r := &RelationResolver{
		field: NewFieldResolver(entity, &d.FieldDescriptor, store),
		desc:  d,
		store: store,
	}
	if d.HasJoin() {
		for _, jf := range d.JoinFields {
			r.join = append(r.join, NewFieldResolver(d.JoinEntityType.Name, jf, store))
		}
	}
	return r
}

// Name returns the relation name.
func (r *RelationResolver) Name() string { return r.desc.Name }

// Resolve returns the related entity, or nil when an optional relation has
// no match.
func (r *RelationResolver) Resolve(ctx context.Context, node backend.Node) (*model.Entity, error) {
	v, err := r.field.Resolve(ctx, node)
	if err != nil || v == nil {
		return nil, err
	}
	e, ok := v.(*model.Entity)
	if !ok {
		return nil, fmt.Errorf("%s: related value %v is not an entity: %w", r.desc.Name, v, model.ErrInvalidValue)
	}
	return e, nil
}

// ResolveJoin builds an unsaved join entity from the join fields. It returns
// nil when the relation has no join entity type. The endpoints are left for
// Attach to set.
func (r *RelationResolver) ResolveJoin(ctx context.Context, node backend.Node) (*model.Entity, error) {
	if !r.desc.HasJoin() {
		return nil, nil
	}

	join := model.NewEntity(r.desc.JoinEntityType)
	for _, f := range r.join {
		v, err := f.Resolve(ctx, node)
		if err != nil {
			return nil, err
		}
		join.Set(f.Name(), v)
	}
	return join, nil
}

// Attach links owner and related. With a join entity the endpoints are set
// and the join entity is saved; otherwise related is added to the owner's
// relation collection.
func (r *RelationResolver) Attach(ctx context.Context, owner, related, join *model.Entity) error {
	if !r.desc.HasJoin() {
		if err := r.store.AddToRelation(ctx, owner, r.desc.Name, related); err != nil {
			return fmt.Errorf("%s: add %s to %s: %w", r.desc.Name, related, owner, err)
		}
		return nil
	}

	if join == nil {
		join = model.NewEntity(r.desc.JoinEntityType)
	}
	join.Set(r.desc.LeftField.Name, owner)
	join.Set(r.desc.RightField.Name, related)
	if err := r.store.Save(ctx, join); err != nil {
		return fmt.Errorf("%s: save %s for %s: %w", r.desc.Name, r.desc.JoinEntityType.Name, owner, err)
	}
	return nil
}
