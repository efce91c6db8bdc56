// Package memstore is an in-memory model.Store. It backs tests and dry runs
// where nothing should reach a database.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/JonMunkholm/docmapper/internal/model"
)

// Store keeps entities in insertion order per entity type.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	entities map[*model.EntityType][]*model.Entity
	links    map[linkKey][]*model.Entity
}

type linkKey struct {
	owner    *model.EntityType
	ownerID  int64
	relation string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entities: make(map[*model.EntityType][]*model.Entity),
		links:    make(map[linkKey][]*model.Entity),
	}
}

// FindOrCreate implements model.Store.
func (s *Store) FindOrCreate(ctx context.Context, t *model.EntityType, key model.Values) (*model.Entity, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key, err := model.CoerceValues(t, key)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.first(t, key); e != nil {
		return e, false, nil
	}
	return s.insert(t, key), true, nil
}

// Filter implements model.Store.
func (s *Store) Filter(ctx context.Context, t *model.EntityType, key model.Values) ([]*model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := model.CoerceValues(t, key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Entity
	for _, e := range s.entities[t] {
		if e.Matches(key) {
			out = append(out, e)
		}
	}
	return out, nil
}

// AddToRelation implements model.Store.
func (s *Store) AddToRelation(ctx context.Context, owner *model.Entity, relation string, related *model.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := owner.Type.Relation(relation)
	if err != nil {
		return err
	}
	if !owner.Persisted() || !related.Persisted() {
		return fmt.Errorf("memstore: add %s to %s.%s: entities must be saved first", related, owner, relation)
	}
	if related.Type != rel.TargetType() {
		return fmt.Errorf("memstore: %s.%s holds %s, got %s", owner.Type.Name, relation, rel.Target, related.Type.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := linkKey{owner: owner.Type, ownerID: owner.ID, relation: relation}
	for _, e := range s.links[k] {
		if e.ID == related.ID {
			return nil
		}
	}
	s.links[k] = append(s.links[k], related)
	return nil
}

// Save implements model.Store.
func (s *Store) Save(ctx context.Context, e *model.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	values, err := model.CoerceValues(e.Type, e.Values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Persisted() {
		for _, stored := range s.entities[e.Type] {
			if stored.ID == e.ID {
				stored.Values = values
				e.Values = values.Clone()
				return nil
			}
		}
		return fmt.Errorf("memstore: save %s: not found", e)
	}

	stored := s.first(e.Type, values)
	if stored == nil {
		stored = s.insert(e.Type, values)
	}
	e.ID = stored.ID
	e.Values = stored.Values.Clone()
	return nil
}

// Related implements model.RelationReader.
func (s *Store) Related(ctx context.Context, owner *model.Entity, relation string) ([]*model.Entity, error) {
	if _, err := owner.Type.Relation(relation); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	k := linkKey{owner: owner.Type, ownerID: owner.ID, relation: relation}
	out := make([]*model.Entity, len(s.links[k]))
	copy(out, s.links[k])
	return out, nil
}

// All returns every entity of type t in insertion order.
func (s *Store) All(t *model.EntityType) []*model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Entity, len(s.entities[t]))
	copy(out, s.entities[t])
	return out
}

// Count returns the number of entities of type t.
func (s *Store) Count(t *model.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[t])
}

func (s *Store) first(t *model.EntityType, key model.Values) *model.Entity {
	for _, e := range s.entities[t] {
		if e.Matches(key) {
			return e
		}
	}
	return nil
}

func (s *Store) insert(t *model.EntityType, values model.Values) *model.Entity {
	s.nextID++
	e := &model.Entity{Type: t, ID: s.nextID, Values: values.Clone()}
	s.entities[t] = append(s.entities[t], e)
	return e
}
