package gem

import "context"

// =====================================
// Mapper Hook Interfaces
// =====================================

// Hooks are registered on a mapper with WithHooks. A hook value may implement any
// subset of these interfaces; they run synchronously in registration order and
// the first error aborts the operation.

// AfterLoadHook is called once a ghost has been filled from the data source
type AfterLoadHook interface {
	AfterLoad(ctx context.Context, e *Entity) error
}

// BeforeSaveHook is called before an entity is inserted or updated
type BeforeSaveHook interface {
	BeforeSave(ctx context.Context, e *Entity) error
}

// AfterSaveHook is called after an entity has been inserted or updated
type AfterSaveHook interface {
	AfterSave(ctx context.Context, e *Entity) error
}

// BeforeDeleteHook is called before a deleted entity is removed from the data source
type BeforeDeleteHook interface {
	BeforeDelete(ctx context.Context, e *Entity) error
}
