package gem

import (
	"context"
	"log/slog"
)

// =====================================
// Persistence
// =====================================

func (m *Mapper) writer() (Writer, error) {
	w, ok := m.source.(Writer)
	if !ok {
		return nil, errorf(ErrorTypeUnsupported, "%s: data source %T cannot persist entities", m.schema.Name, m.source)
	}
	return w, nil
}

// Save writes e back to the data source. A deleted entity is removed from the
// source and the identity map and dies; an entity without an id is inserted and
// registered; a dirty entity is updated. Clean entities are left alone.
func (m *Mapper) Save(ctx context.Context, e *Entity) error {
	if e == nil {
		return errorf(ErrorTypeInvalidArgument, "%s: cannot save a nil entity", m.schema.Name)
	}
	if e.readOnly {
		return errorf(ErrorTypePrecondition, "%s: entity %d is read-only", m.schema.Name, e.id)
	}
	w, err := m.writer()
	if err != nil {
		return err
	}

	switch {
	case e.deleted:
		return m.delete(ctx, w, e)
	case e.status == StatusDead:
		return errorf(ErrorTypePrecondition, "%s: cannot save dead entity %d", m.schema.Name, e.id)
	case e.status != StatusLoaded:
		return nil
	case !e.HasID():
		return m.insert(ctx, w, e)
	case e.dirty:
		return m.update(ctx, w, e)
	}
	return nil
}

func (m *Mapper) insert(ctx context.Context, w Writer, e *Entity) error {
	if err := m.beforeSave(ctx, e); err != nil {
		return err
	}
	rec, err := e.Record()
	if err != nil {
		return err
	}
	id, err := w.Insert(ctx, rec)
	if err != nil {
		return err
	}
	if err := e.SetID(id); err != nil {
		return err
	}
	if err := m.idMap.Insert(e); err != nil {
		return err
	}
	e.MarkClean()
	m.metrics.saved(m.schema.Name)
	m.logger.Debug("entity inserted", slog.String("entity", m.schema.Name), slog.Int64("id", id))
	return m.afterSave(ctx, e)
}

func (m *Mapper) update(ctx context.Context, w Writer, e *Entity) error {
	if err := m.beforeSave(ctx, e); err != nil {
		return err
	}
	rec, err := e.Record()
	if err != nil {
		return err
	}
	err = w.Update(ctx, e.id, rec)
	if IsNotFound(err) {
		// the id was provisioned locally and never stored
		_, err = w.Insert(ctx, rec)
	}
	if err != nil {
		return err
	}
	if err := m.idMap.Insert(e); err != nil {
		return err
	}
	e.MarkClean()
	m.metrics.saved(m.schema.Name)
	m.logger.Debug("entity updated", slog.String("entity", m.schema.Name), slog.Int64("id", e.id))
	return m.afterSave(ctx, e)
}

// delete removes a deleted entity. The entity stays dirty once dead.
func (m *Mapper) delete(ctx context.Context, w Writer, e *Entity) error {
	if !e.HasID() {
		e.MarkDead()
		return nil
	}
	for _, h := range m.hooks {
		if hook, ok := h.(BeforeDeleteHook); ok {
			if err := hook.BeforeDelete(ctx, e); err != nil {
				return err
			}
		}
	}
	if err := w.Delete(ctx, e.id); err != nil && !IsNotFound(err) {
		return err
	}
	if cached, ok := m.idMap.entries[e.id]; ok && cached == e {
		m.idMap.Remove(e.id)
	}
	e.MarkDead()
	m.metrics.saved(m.schema.Name)
	m.logger.Debug("entity deleted", slog.String("entity", m.schema.Name), slog.Int64("id", e.id))
	return nil
}

// Flush saves every dirty entity in the identity map in ascending id order.
// It stops at the first error.
func (m *Mapper) Flush(ctx context.Context) error {
	for _, id := range m.idMap.IDs() {
		e := m.idMap.entries[id]
		if !e.dirty || e.status != StatusLoaded {
			continue
		}
		if err := m.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) beforeSave(ctx context.Context, e *Entity) error {
	for _, h := range m.hooks {
		if hook, ok := h.(BeforeSaveHook); ok {
			if err := hook.BeforeSave(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Mapper) afterSave(ctx context.Context, e *Entity) error {
	for _, h := range m.hooks {
		if hook, ok := h.(AfterSaveHook); ok {
			if err := hook.AfterSave(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}
