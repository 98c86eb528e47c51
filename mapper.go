package gem

import (
	"context"
	"log/slog"
)

// =====================================
// Mapper
// =====================================

// Mapper resolves ids and raw records of one entity subtype to entities,
// guaranteeing a single instance per id through its identity map. Ghosts it
// hands out load themselves from the data source on first field access.
type Mapper struct {
	schema  Schema
	source  DataSource
	idMap   *IdentityMap
	session *Session
	ctx     context.Context
	logger  *slog.Logger
	metrics *Metrics
	hooks   []interface{}

	ownLogger  bool
	ownMetrics bool
}

// MapperOption configures a Mapper
type MapperOption func(*Mapper)

// WithContext sets the context lazy loads run under. Defaults to context.Background().
func WithContext(ctx context.Context) MapperOption {
	return func(m *Mapper) { m.ctx = ctx }
}

// WithLogger sets the mapper's logger
func WithLogger(logger *slog.Logger) MapperOption {
	return func(m *Mapper) {
		m.logger = logger
		m.ownLogger = true
	}
}

// WithMetrics sets the counters the mapper reports to
func WithMetrics(metrics *Metrics) MapperOption {
	return func(m *Mapper) {
		m.metrics = metrics
		m.ownMetrics = true
	}
}

// WithHooks registers lifecycle hooks, see AfterLoadHook and friends
func WithHooks(hooks ...interface{}) MapperOption {
	return func(m *Mapper) { m.hooks = append(m.hooks, hooks...) }
}

// NewMapper creates a mapper for schema backed by source
func NewMapper(schema Schema, source DataSource, opts ...MapperOption) *Mapper {
	m := &Mapper{
		schema: schema,
		source: source,
		idMap:  NewIdentityMap(schema.Name),
		ctx:    context.Background(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the schema name
func (m *Mapper) Name() string { return m.schema.Name }

// Schema returns the subtype description
func (m *Mapper) Schema() Schema { return m.schema }

// IdentityMap returns the mapper's identity map
func (m *Mapper) IdentityMap() *IdentityMap { return m.idMap }

// Source returns the data source
func (m *Mapper) Source() DataSource { return m.source }

func (m *Mapper) loadContext() context.Context {
	return m.ctx
}

func (m *Mapper) newEntity() *Entity {
	return &Entity{readOnly: m.schema.ReadOnly}
}

// New returns a virgin entity of this subtype
func (m *Mapper) New() *Entity {
	return m.newEntity()
}

// Find returns the entity for id. A cached instance is returned as is; otherwise
// a ghost is registered and returned without touching the data source.
func (m *Mapper) Find(id int64) (*Entity, error) {
	if id <= 0 {
		return nil, errorf(ErrorTypeInvalidArgument, "%s: id must be positive, got %d", m.schema.Name, id)
	}
	if e, ok := m.idMap.entries[id]; ok {
		m.metrics.hit(m.schema.Name)
		return e, nil
	}
	m.metrics.miss(m.schema.Name)

	e := m.newEntity()
	e.id = id
	e.status = StatusGhost
	e.hook = loadHook{mapper: m, id: id}
	if err := m.idMap.Insert(e); err != nil {
		return nil, err
	}
	m.logger.Debug("ghost created", slog.String("entity", m.schema.Name), slog.Int64("id", id))
	return e, nil
}

// Load fills e from the data source. Ghosts are loaded through their hook;
// a loaded entity is refreshed. An absent record leaves e dead without an error.
func (m *Mapper) Load(ctx context.Context, e *Entity) error {
	if e == nil || !e.HasID() {
		return errorf(ErrorTypeInvalidArgument, "%s: only entities with an id can be loaded", m.schema.Name)
	}
	switch e.status {
	case StatusDead:
		return errorf(ErrorTypeNotFound, "%s: entity %d not found", m.schema.Name, e.id)
	case StatusLoading:
		return errorf(ErrorTypePrecondition, "%s: entity %d is already loading", m.schema.Name, e.id)
	case StatusLoaded:
		return m.reload(ctx, e)
	}
	if !e.hook.attached() {
		e.hook = loadHook{mapper: m, id: e.id}
	}
	return e.runHook(ctx)
}

// loadInto is the body of a load hook
func (m *Mapper) loadInto(ctx context.Context, id int64, e *Entity) error {
	rec, found, err := m.source.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		e.MarkDead()
		m.metrics.dead(m.schema.Name)
		m.logger.Debug("record absent", slog.String("entity", m.schema.Name), slog.Int64("id", id))
		return nil
	}
	values, err := m.materialize(rec, e)
	if err != nil {
		return err
	}
	if err := e.assign(values, false); err != nil {
		return err
	}
	m.metrics.loaded(m.schema.Name)
	m.logger.Debug("entity loaded", slog.String("entity", m.schema.Name), slog.Int64("id", id))
	return m.afterLoad(ctx, e)
}

func (m *Mapper) reload(ctx context.Context, e *Entity) error {
	rec, found, err := m.source.Fetch(ctx, e.id)
	if err != nil {
		return err
	}
	if !found {
		e.MarkDead()
		m.metrics.dead(m.schema.Name)
		return nil
	}
	values, err := m.materialize(rec, e)
	if err != nil {
		return err
	}
	if err := e.assign(values, true); err != nil {
		return err
	}
	m.metrics.loaded(m.schema.Name)
	return m.afterLoad(ctx, e)
}

// Materialize resolves a raw record to an entity, consulting the identity map
// first. A cached ghost is filled from rec; a cached loaded entity wins over rec.
func (m *Mapper) Materialize(rec Record) (*Entity, error) {
	id := IDFromRecord(rec)
	if id == 0 {
		return nil, errorf(ErrorTypeInvalidArgument, "%s: record carries no id", m.schema.Name)
	}
	if e, ok := m.idMap.entries[id]; ok {
		m.metrics.hit(m.schema.Name)
		if e.status != StatusVirgin && e.status != StatusGhost {
			return e, nil
		}
		values, err := m.materialize(rec, e)
		if err != nil {
			return nil, err
		}
		return e, e.assign(values, true)
	}
	m.metrics.miss(m.schema.Name)

	// registered before relations resolve so a self reference finds e
	e := m.newEntity()
	e.id = id
	e.status = StatusGhost
	if err := m.idMap.Insert(e); err != nil {
		return nil, err
	}
	values, err := m.materialize(rec, e)
	if err == nil {
		err = e.assign(values, false)
	}
	if err != nil {
		m.idMap.Remove(id)
		return nil, err
	}
	return e, nil
}

// NewGhost registers a ghost under a fresh id. It has no load hook and
// serves as a placeholder or test double.
func (m *Mapper) NewGhost() (*Entity, error) {
	e := m.newEntity()
	e.id = m.idMap.NextID()
	e.status = StatusGhost
	if err := m.idMap.Insert(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Set installs e under id, bypassing Find. A virgin e receives the id.
func (m *Mapper) Set(id int64, e *Entity) error {
	if e == nil {
		return errorf(ErrorTypeInvalidArgument, "%s: cannot register a nil entity", m.schema.Name)
	}
	if id <= 0 {
		return errorf(ErrorTypeInvalidArgument, "%s: id must be positive, got %d", m.schema.Name, id)
	}
	if m.idMap.Has(id) {
		return errorf(ErrorTypeDuplicate, "%s: id %d is already registered", m.schema.Name, id)
	}
	if !e.HasID() {
		if err := e.SetID(id); err != nil {
			return err
		}
	} else if e.ID() != id {
		return errorf(ErrorTypeInvalidArgument, "%s: entity carries id %d, not %d", m.schema.Name, e.ID(), id)
	}
	return m.idMap.Insert(e)
}

// Purge drops every cached entity
func (m *Mapper) Purge() {
	n := m.idMap.Len()
	m.idMap.Purge()
	m.logger.Debug("identity map purged", slog.String("entity", m.schema.Name), slog.Int("entries", n))
}

// materialize converts a raw record into field values, turning relation fields
// into ghosts of their target subtype. owner receives owned collections.
func (m *Mapper) materialize(rec Record, owner *Entity) (map[string]Value, error) {
	values := make(map[string]Value, len(rec))
	for key, raw := range rec {
		rel, isRelation := m.schema.Relations[key]
		if !isRelation {
			v, err := ValueOf(raw)
			if err != nil {
				return nil, NewErrorWithCause(ErrorTypeTypeMismatch, m.schema.Name+": field "+key, err)
			}
			if !v.IsNull() || key == idKey {
				values[key] = v
			}
			continue
		}

		target, err := m.related(rel.Target)
		if err != nil {
			return nil, err
		}
		ids, err := relatedIDs(raw)
		if err != nil {
			return nil, relationError(m.schema.Name, key, err)
		}
		switch rel.Kind {
		case RelationOne:
			if len(ids) == 0 || ids[0] <= 0 {
				continue
			}
			e, err := target.Find(ids[0])
			if err != nil {
				return nil, err
			}
			values[key] = EntityValue(e)
		case RelationMany:
			list := NewCollection()
			list.SetOwnerEntity(owner)
			list.MarkOwnedByParent()
			for _, id := range ids {
				if id <= 0 {
					continue
				}
				e, err := target.Find(id)
				if err != nil {
					return nil, err
				}
				list.add(e)
			}
			values[key] = CollectionValue(list)
		}
	}
	return values, nil
}

func (m *Mapper) related(name string) (*Mapper, error) {
	if name == m.schema.Name {
		return m, nil
	}
	if m.session == nil {
		return nil, errorf(ErrorTypePrecondition, "%s: relation to %q needs a session", m.schema.Name, name)
	}
	return m.session.Mapper(name)
}

func (m *Mapper) afterLoad(ctx context.Context, e *Entity) error {
	for _, h := range m.hooks {
		if hook, ok := h.(AfterLoadHook); ok {
			if err := hook.AfterLoad(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}
