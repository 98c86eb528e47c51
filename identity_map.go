package gem

import (
	"maps"
	"slices"
)

// =====================================
// Identity Map
// =====================================

// IdentityMap caches at most one entity instance per id for one entity type.
// It is not safe for concurrent use; scope it to a single unit of work and
// Purge it between units.
type IdentityMap struct {
	name      string
	entries   map[int64]*Entity
	highestID int64
}

// NewIdentityMap creates an empty identity map for the named entity type
func NewIdentityMap(name string) *IdentityMap {
	return &IdentityMap{
		name:    name,
		entries: make(map[int64]*Entity),
	}
}

// Name returns the entity type the map serves
func (m *IdentityMap) Name() string { return m.name }

// Insert registers an entity under its id. Re-inserting the same instance is a no-op;
// a different instance under a taken id is rejected.
func (m *IdentityMap) Insert(e *Entity) error {
	if e == nil || !e.HasID() {
		return errorf(ErrorTypeInvalidArgument, "%s: only entities with an id can be registered", m.name)
	}
	id := e.ID()
	if existing, ok := m.entries[id]; ok {
		if existing == e {
			return nil
		}
		return errorf(ErrorTypeDuplicate, "%s: id %d is already registered", m.name, id)
	}
	m.entries[id] = e
	if id > m.highestID {
		m.highestID = id
	}
	return nil
}

// Get returns the registered instance for id
func (m *IdentityMap) Get(id int64) (*Entity, error) {
	if id <= 0 {
		return nil, errorf(ErrorTypeInvalidArgument, "%s: id must be positive, got %d", m.name, id)
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, errorf(ErrorTypeNotFound, "%s: no entity registered for id %d", m.name, id)
	}
	return e, nil
}

// Has reports whether an instance is registered for id
func (m *IdentityMap) Has(id int64) bool {
	_, ok := m.entries[id]
	return ok
}

// NextID returns an id above every id ever inserted
func (m *IdentityMap) NextID() int64 {
	return m.highestID + 1
}

// HighestID returns the greatest id ever inserted
func (m *IdentityMap) HighestID() int64 { return m.highestID }

// Len returns the number of registered entities
func (m *IdentityMap) Len() int { return len(m.entries) }

// IDs returns the registered ids in ascending order
func (m *IdentityMap) IDs() []int64 {
	return slices.Sorted(maps.Keys(m.entries))
}

// Remove drops the entry for id. The highest id is kept so ids are never reissued.
func (m *IdentityMap) Remove(id int64) bool {
	if _, ok := m.entries[id]; !ok {
		return false
	}
	delete(m.entries, id)
	return true
}

// Purge drops every cached entity and forgets the highest id
func (m *IdentityMap) Purge() {
	clear(m.entries)
	m.highestID = 0
}
