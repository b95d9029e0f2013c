package rdo

import "context"

// =====================================
// Mapper Hooks
// =====================================

// Hooks are optional callbacks a Definition can register. A hook returning an
// error aborts the operation before the adapter is called.
type Hooks struct {
	// AfterMap is called after an entity has been populated from a row.
	AfterMap func(e *Entity)

	// BeforeCreate may adjust the field values of a new row.
	BeforeCreate func(ctx context.Context, fields map[string]interface{}) error

	// AfterCreate is called with the freshly created entity.
	AfterCreate func(ctx context.Context, e *Entity) error

	// BeforeUpdate may adjust the field values written to the row with key.
	BeforeUpdate func(ctx context.Context, key interface{}, fields map[string]interface{}) error

	// BeforeDelete is called with the predicate that is about to be deleted.
	BeforeDelete func(ctx context.Context, q *Query) error
}

func (h Hooks) afterMap(e *Entity) {
	if h.AfterMap != nil {
		h.AfterMap(e)
	}
}

func (h Hooks) beforeCreate(ctx context.Context, fields map[string]interface{}) error {
	if h.BeforeCreate == nil {
		return nil
	}
	return h.BeforeCreate(ctx, fields)
}

func (h Hooks) afterCreate(ctx context.Context, e *Entity) error {
	if h.AfterCreate == nil {
		return nil
	}
	return h.AfterCreate(ctx, e)
}

func (h Hooks) beforeUpdate(ctx context.Context, key interface{}, fields map[string]interface{}) error {
	if h.BeforeUpdate == nil {
		return nil
	}
	return h.BeforeUpdate(ctx, key, fields)
}

func (h Hooks) beforeDelete(ctx context.Context, q *Query) error {
	if h.BeforeDelete == nil {
		return nil
	}
	return h.BeforeDelete(ctx, q)
}
