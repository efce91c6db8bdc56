package model

import "context"

// Store is the persistence capability the mapper writes through.
//
// FindOrCreate must be idempotent for a given (type, key): two calls with the
// same key never produce two distinct entities.
type Store interface {
	// FindOrCreate returns the entity of type t whose attributes equal key,
	// creating it when none exists. created reports whether it was inserted.
	FindOrCreate(ctx context.Context, t *EntityType, key Values) (e *Entity, created bool, err error)

	// Filter returns all entities of type t whose attributes equal key, in
	// insertion order.
	Filter(ctx context.Context, t *EntityType, key Values) ([]*Entity, error)

	// AddToRelation adds related to owner's relation collection. Adding an
	// entity that is already present is a no-op.
	AddToRelation(ctx context.Context, owner *Entity, relation string, related *Entity) error

	// Save persists e. An unsaved entity is matched against existing rows by
	// its full value set and inserted only when none matches; a persisted
	// entity is updated in place.
	Save(ctx context.Context, e *Entity) error
}

// RelationReader is implemented by stores that can list a relation
// collection. It is used by tests and the HTTP API.
type RelationReader interface {
	Related(ctx context.Context, owner *Entity, relation string) ([]*Entity, error)
}
