package gem

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
)

// =====================================
// Entity
// =====================================

// loadHook is the deferred loader of a ghost: the mapper that owns it and the id to fetch.
// The zero value means no loader is attached.
type loadHook struct {
	mapper *Mapper
	id     int64
}

func (h loadHook) attached() bool { return h.mapper != nil }

// Entity is a mutable record with a lifecycle state machine.
//
// An entity with neither id nor data is virgin; an id alone makes it a ghost;
// data makes it loaded. Field access on a ghost with a load hook fetches its data
// first. Entities may reference each other freely, including themselves.
type Entity struct {
	id       int64
	status   Status
	fields   map[string]Value
	dirty    bool
	readOnly bool
	deleted  bool
	assigned bool
	hook     loadHook
}

// NewEntity returns a virgin entity, typically a record not yet persisted
func NewEntity() *Entity {
	return &Entity{}
}

// NewReadOnlyEntity returns a virgin entity that rejects writes
func NewReadOnlyEntity() *Entity {
	return &Entity{readOnly: true}
}

// ID returns the surrogate id, or 0 when none is assigned. Always legal.
func (e *Entity) ID() int64 { return e.id }

// HasID reports whether an id is assigned
func (e *Entity) HasID() bool { return e.id > 0 }

// Status returns the lifecycle state
func (e *Entity) Status() Status { return e.status }

func (e *Entity) IsVirgin() bool   { return e.status == StatusVirgin }
func (e *Entity) IsGhost() bool    { return e.status == StatusGhost }
func (e *Entity) IsLoaded() bool   { return e.status == StatusLoaded }
func (e *Entity) IsDead() bool     { return e.status == StatusDead }
func (e *Entity) IsDirty() bool    { return e.dirty }
func (e *Entity) IsDeleted() bool  { return e.deleted }
func (e *Entity) IsReadOnly() bool { return e.readOnly }

// SetID assigns the surrogate id. A virgin entity becomes a ghost.
func (e *Entity) SetID(id int64) error {
	if id <= 0 {
		return errorf(ErrorTypeInvalidArgument, "entity id must be positive, got %d", id)
	}
	if e.status == StatusDead {
		return errorf(ErrorTypePrecondition, "cannot assign id %d to a dead entity", id)
	}
	if e.HasID() {
		return errorf(ErrorTypePrecondition, "entity already has id %d", e.id)
	}
	e.id = id
	if e.status == StatusVirgin {
		e.status = StatusGhost
	}
	return nil
}

// SetData assigns the entity's fields. It may run once per instance;
// use ResetData to re-materialize. An "id" key assigns the id as well.
func (e *Entity) SetData(data map[string]interface{}) error {
	values, err := toValues(data)
	if err != nil {
		return err
	}
	return e.assign(values, false)
}

// ResetData replaces the entity's fields with a persisted snapshot.
// It may be called repeatedly and leaves the entity loaded and clean.
func (e *Entity) ResetData(data map[string]interface{}) error {
	values, err := toValues(data)
	if err != nil {
		return err
	}
	return e.assign(values, true)
}

func (e *Entity) assign(values map[string]Value, reset bool) error {
	if e.status == StatusDead {
		return errorf(ErrorTypePrecondition, "cannot assign data to dead entity %d", e.id)
	}
	if e.assigned && !reset {
		return errorf(ErrorTypePrecondition, "data of entity %d already assigned, use ResetData", e.id)
	}
	if raw, ok := values[idKey]; ok {
		delete(values, idKey)
		if id := raw.AsInt(); id > 0 {
			switch {
			case !e.HasID():
				e.id = id
			case e.id != id:
				return errorf(ErrorTypePrecondition, "data carries id %d but entity has id %d", id, e.id)
			}
		}
	}
	e.fields = values
	e.status = StatusLoaded
	e.assigned = true
	e.hook = loadHook{}
	if reset {
		e.dirty = false
		e.deleted = false
	} else {
		e.dirty = !e.HasID()
	}
	return nil
}

// MarkDead records that the backing record is absent. Dead is terminal.
// The dirty flag is left as it was.
func (e *Entity) MarkDead() {
	e.status = StatusDead
	e.fields = nil
	e.hook = loadHook{}
}

// SetToDeleted marks the entity for deletion. A loaded entity becomes deleted and
// dirty; a virgin or ghost entity, having nothing loaded, simply dies.
func (e *Entity) SetToDeleted() error {
	if e.readOnly {
		return errorf(ErrorTypePrecondition, "entity %d is read-only", e.id)
	}
	switch e.status {
	case StatusVirgin, StatusGhost:
		e.MarkDead()
	case StatusLoaded:
		e.deleted = true
		e.dirty = true
	case StatusLoading:
		return errorf(ErrorTypePrecondition, "entity %d is loading", e.id)
	}
	return nil
}

// MarkClean clears the dirty flag once the in-memory state has been persisted
func (e *Entity) MarkClean() {
	e.dirty = false
}

func (e *Entity) markDirtyByChild() {
	if e.status == StatusLoaded && !e.readOnly {
		e.dirty = true
	}
}

// ensureReady makes the fields accessible, running the load hook of a ghost
func (e *Entity) ensureReady() error {
	switch e.status {
	case StatusLoading, StatusLoaded:
		return nil
	case StatusDead:
		return errorf(ErrorTypeNotFound, "entity %d not found", e.id)
	}
	if !e.hook.attached() {
		return errorf(ErrorTypePrecondition, "entity %d is not ready: no data and no loader", e.id)
	}
	if err := e.runHook(e.hook.mapper.loadContext()); err != nil {
		return err
	}
	if e.status == StatusDead {
		return errorf(ErrorTypeNotFound, "entity %d not found", e.id)
	}
	return nil
}

// runHook invokes the load hook once. On failure the entity returns to its
// previous state with the hook still attached.
func (e *Entity) runHook(ctx context.Context) error {
	h := e.hook
	prev := e.status
	e.hook = loadHook{}
	e.status = StatusLoading
	if err := h.mapper.loadInto(ctx, h.id, e); err != nil {
		if e.status == StatusLoading {
			e.status = prev
			e.hook = h
		}
		return err
	}
	return nil
}

const idKey = "id"

// Get returns the value stored under key; a missing key yields the null Value.
// Reading "id" is always legal.
func (e *Entity) Get(key string) (Value, error) {
	if key == "" {
		return Value{}, NewError(ErrorTypeInvalidArgument, "field key must not be empty")
	}
	if key == idKey {
		if e.HasID() {
			return IntValue(e.id), nil
		}
		return Value{}, nil
	}
	if err := e.ensureReady(); err != nil {
		return Value{}, err
	}
	return e.fields[key], nil
}

// Has reports whether key holds a non-null value
func (e *Entity) Has(key string) (bool, error) {
	v, err := e.Get(key)
	if err != nil {
		return false, err
	}
	return !v.IsNull(), nil
}

// Set stores value under key. Writing a loaded entity makes it dirty.
func (e *Entity) Set(key string, value interface{}) error {
	v, err := ValueOf(value)
	if err != nil {
		return err
	}
	return e.SetValue(key, v)
}

// SetValue stores an already converted Value under key
func (e *Entity) SetValue(key string, v Value) error {
	if key == "" {
		return NewError(ErrorTypeInvalidArgument, "field key must not be empty")
	}
	if e.readOnly {
		return errorf(ErrorTypePrecondition, "entity %d is read-only", e.id)
	}
	if key == idKey {
		return e.SetID(v.AsInt())
	}
	if err := e.ensureReady(); err != nil {
		return err
	}
	if e.fields == nil {
		e.fields = make(map[string]Value)
	}
	if v.IsNull() {
		delete(e.fields, key)
	} else {
		e.fields[key] = v
	}
	if e.status == StatusLoaded {
		e.dirty = true
	}
	return nil
}

// Unset removes key
func (e *Entity) Unset(key string) error {
	return e.SetValue(key, Value{})
}

// Values returns a copy of the fields, including the id when assigned
func (e *Entity) Values() (map[string]Value, error) {
	if err := e.ensureReady(); err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(e.fields)+1)
	maps.Copy(out, e.fields)
	if e.HasID() {
		out[idKey] = IntValue(e.id)
	}
	return out, nil
}

// Record returns the raw field mapping written back to a data source
func (e *Entity) Record() (Record, error) {
	values, err := e.Values()
	if err != nil {
		return nil, err
	}
	rec := make(Record, len(values))
	for k, v := range values {
		rec[k] = v.Interface()
	}
	return rec, nil
}

// Clone returns an unsaved copy: no id, no loader, fields copied shallowly so
// nested entities and collections stay shared.
func (e *Entity) Clone() (*Entity, error) {
	if e.readOnly {
		return nil, errorf(ErrorTypePrecondition, "cannot clone read-only entity %d", e.id)
	}
	switch e.status {
	case StatusLoading:
		return nil, errorf(ErrorTypePrecondition, "cannot clone entity %d while loading", e.id)
	case StatusDead:
		return nil, errorf(ErrorTypePrecondition, "cannot clone dead entity %d", e.id)
	case StatusGhost:
		if e.hook.attached() {
			if err := e.ensureReady(); err != nil {
				return nil, err
			}
		}
	}
	c := &Entity{}
	if e.status == StatusLoaded {
		c.fields = maps.Clone(e.fields)
		if c.fields == nil {
			c.fields = make(map[string]Value)
		}
		c.status = StatusLoaded
		c.assigned = true
		c.dirty = true
	}
	return c, nil
}

// String identifies the entity without walking its fields
func (e *Entity) String() string {
	return fmt.Sprintf("entity(id=%d, status=%s)", e.id, e.status)
}

// LogValue implements slog.LogValuer
func (e *Entity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("id", e.id),
		slog.String("status", e.status.String()),
		slog.Bool("dirty", e.dirty),
	)
}

func toValues(data map[string]interface{}) (map[string]Value, error) {
	values := make(map[string]Value, len(data))
	for k, raw := range data {
		if k == "" {
			return nil, NewError(ErrorTypeInvalidArgument, "field key must not be empty")
		}
		v, err := ValueOf(raw)
		if err != nil {
			return nil, NewErrorWithCause(ErrorTypeTypeMismatch, fmt.Sprintf("field %q", k), err)
		}
		if !v.IsNull() || k == idKey {
			values[k] = v
		}
	}
	return values, nil
}
