package gem

import (
	"cmp"
	"iter"
	"slices"
	"strconv"
	"strings"
	"weak"
)

// =====================================
// Collection
// =====================================

// Collection is an ordered set of entities, unique by identity, with an index of
// member ids. A collection can be owned by a parent entity; membership changes
// then mark the parent dirty. The owner is held weakly.
//
// Iteration follows insertion order unless Sort has been called.
type Collection struct {
	members []*Entity
	present map[*Entity]struct{}

	ids   map[int64]struct{}
	stale bool

	cursor  int
	removed bool

	owner         weak.Pointer[Entity]
	ownedByParent bool
}

// NewCollection creates a collection holding the given entities; nil entries are skipped
func NewCollection(members ...*Entity) *Collection {
	c := &Collection{
		present: make(map[*Entity]struct{}),
		ids:     make(map[int64]struct{}),
	}
	for _, e := range members {
		if e != nil {
			c.add(e)
		}
	}
	return c
}

// Add appends an entity unless the same instance is already a member
func (c *Collection) Add(e *Entity) error {
	if e == nil {
		return NewError(ErrorTypeInvalidArgument, "cannot add a nil entity to a collection")
	}
	if c.add(e) {
		c.touchOwner()
	}
	return nil
}

func (c *Collection) add(e *Entity) bool {
	if c.present == nil {
		c.present = make(map[*Entity]struct{})
		c.ids = make(map[int64]struct{})
	}
	if _, ok := c.present[e]; ok {
		return false
	}
	c.members = append(c.members, e)
	c.present[e] = struct{}{}
	if e.HasID() {
		c.ids[e.ID()] = struct{}{}
	} else {
		c.stale = true
	}
	return true
}

// Append adds every member of other
func (c *Collection) Append(other *Collection) error {
	if other == nil {
		return nil
	}
	for _, e := range slices.Clone(other.members) {
		if err := c.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops the given instance. It reports whether it was a member.
func (c *Collection) Remove(e *Entity) bool {
	i := slices.Index(c.members, e)
	if i < 0 {
		return false
	}
	c.removeAt(i)
	switch {
	case i < c.cursor:
		c.cursor--
	case i == c.cursor:
		// the following member now sits under the cursor
		c.removed = true
	}
	c.touchOwner()
	return true
}

func (c *Collection) removeAt(i int) {
	e := c.members[i]
	c.members = slices.Delete(c.members, i, i+1)
	delete(c.present, e)
	// another member may share the removed id
	c.stale = true
}

// Contains reports whether the instance is a member
func (c *Collection) Contains(e *Entity) bool {
	_, ok := c.present[e]
	return ok
}

// Len returns the number of members
func (c *Collection) Len() int { return len(c.members) }

// checkIDCache rebuilds the id index when a member without an id, or a removal,
// may have invalidated it
func (c *Collection) checkIDCache() {
	if !c.stale {
		return
	}
	c.ids = make(map[int64]struct{}, len(c.members))
	c.stale = false
	for _, e := range c.members {
		if e.HasID() {
			c.ids[e.ID()] = struct{}{}
		} else {
			c.stale = true
		}
	}
}

// HasID reports whether a member carries id
func (c *Collection) HasID(id int64) bool {
	c.checkIDCache()
	_, ok := c.ids[id]
	return ok
}

// IDList returns member ids in iteration order without duplicates
func (c *Collection) IDList() []int64 {
	c.checkIDCache()
	seen := make(map[int64]struct{}, len(c.ids))
	out := make([]int64, 0, len(c.ids))
	for _, e := range c.members {
		if !e.HasID() {
			continue
		}
		if _, ok := seen[e.ID()]; ok {
			continue
		}
		seen[e.ID()] = struct{}{}
		out = append(out, e.ID())
	}
	return out
}

// IDs returns member ids comma-joined in iteration order
func (c *Collection) IDs() string {
	ids := c.IDList()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// =====================================
// Cursor
// =====================================

// Rewind moves the cursor to the first member
func (c *Collection) Rewind() {
	c.cursor = 0
	c.removed = false
}

// Valid reports whether the cursor is on a member
func (c *Collection) Valid() bool {
	return c.cursor >= 0 && c.cursor < len(c.members)
}

// Current returns the member under the cursor, or nil
func (c *Collection) Current() *Entity {
	if !c.Valid() {
		return nil
	}
	return c.members[c.cursor]
}

// Key returns the cursor position
func (c *Collection) Key() int { return c.cursor }

// Next advances the cursor. After RemoveCurrent the cursor already rests on the
// following member, so the first Next after a removal stays put.
func (c *Collection) Next() {
	if c.removed {
		c.removed = false
		return
	}
	c.cursor++
}

// RemoveCurrent drops the member under the cursor; a no-op when the cursor is invalid
func (c *Collection) RemoveCurrent() {
	if !c.Valid() {
		return
	}
	c.removeAt(c.cursor)
	c.removed = true
	c.touchOwner()
}

// All iterates over a snapshot of the members with their positions
func (c *Collection) All() iter.Seq2[int, *Entity] {
	snapshot := slices.Clone(c.members)
	return func(yield func(int, *Entity) bool) {
		for i, e := range snapshot {
			if !yield(i, e) {
				return
			}
		}
	}
}

// ToList returns the members as an ordered snapshot
func (c *Collection) ToList() []*Entity {
	return slices.Clone(c.members)
}

// =====================================
// Ordering and Slicing
// =====================================

// Sort reorders members stably by compare. The owner is only marked dirty
// when the order changes.
func (c *Collection) Sort(compare func(a, b *Entity) int) {
	before := slices.Clone(c.members)
	slices.SortStableFunc(c.members, compare)
	if !slices.Equal(before, c.members) {
		c.touchOwner()
	}
}

// SortByOrderField sorts members ascending by their "order" field. Ties keep
// insertion order. Every member must be able to report its order.
func (c *Collection) SortByOrderField() error {
	type keyed struct {
		e     *Entity
		order int64
	}
	items := make([]keyed, len(c.members))
	for i, e := range c.members {
		var o Orderable = e
		order, err := o.Order()
		if err != nil {
			return err
		}
		items[i] = keyed{e: e, order: order}
	}
	slices.SortStableFunc(items, func(a, b keyed) int {
		return cmp.Compare(a.order, b.order)
	})
	changed := false
	for i, it := range items {
		if c.members[i] != it.e {
			c.members[i] = it.e
			changed = true
		}
	}
	if changed {
		c.touchOwner()
	}
	return nil
}

// Range returns a new collection with the members in [start, start+length),
// clipped to the available length
func (c *Collection) Range(start, length int) (*Collection, error) {
	if start < 0 || length < 0 {
		return nil, errorf(ErrorTypeInvalidArgument, "invalid range start=%d length=%d", start, length)
	}
	out := NewCollection()
	if start >= len(c.members) {
		return out, nil
	}
	end := min(start+length, len(c.members))
	for _, e := range c.members[start:end] {
		out.add(e)
	}
	return out, nil
}

// At returns the member at position, or nil when out of range
func (c *Collection) At(position int) (*Entity, error) {
	r, err := c.Range(position, 1)
	if err != nil {
		return nil, err
	}
	if r.Len() == 0 {
		return nil, nil
	}
	return r.members[0], nil
}

// =====================================
// Ownership
// =====================================

// MarkOwnedByParent makes membership changes mark the owner entity dirty
func (c *Collection) MarkOwnedByParent() { c.ownedByParent = true }

// IsOwnedByParent reports whether the collection propagates changes to its owner
func (c *Collection) IsOwnedByParent() bool { return c.ownedByParent }

// SetOwnerEntity records the owning entity without keeping it alive
func (c *Collection) SetOwnerEntity(e *Entity) {
	if e == nil {
		c.owner = weak.Pointer[Entity]{}
		return
	}
	c.owner = weak.Make(e)
}

// OwnerEntity returns the owner, or nil when unset or already collected
func (c *Collection) OwnerEntity() *Entity {
	return c.owner.Value()
}

func (c *Collection) touchOwner() {
	if !c.ownedByParent {
		return
	}
	if owner := c.owner.Value(); owner != nil {
		owner.markDirtyByChild()
	}
}
