package rdo

import (
	"context"
	"fmt"
)

// =====================================
// Entity
// =====================================

// Getter computes a field value in place of the stored one.
type Getter func(ctx context.Context, e *Entity) (interface{}, error)

// Setter stores a field value in place of the default assignment.
type Setter func(e *Entity, value interface{})

// Entity is a mutable record of field values backed by a Mapper. Fields and
// relationships that were not part of the initial row are resolved on first
// access and cached. An Entity is not safe for concurrent use.
type Entity struct {
	mapper    *Mapper
	fields    map[string]interface{}
	relations map[string]interface{}
	getters   map[string]Getter
	setters   map[string]Setter
}

// NewEntity creates an unsaved entity managed by mapper.
func NewEntity(mapper *Mapper, fields map[string]interface{}) *Entity {
	e := &Entity{
		mapper:    mapper,
		fields:    make(map[string]interface{}, len(fields)),
		relations: make(map[string]interface{}),
	}
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// Mapper returns the mapper managing the entity.
func (e *Entity) Mapper() *Mapper {
	return e.mapper
}

// Override registers a getter and/or setter for name. Either may be nil.
func (e *Entity) Override(name string, getter Getter, setter Setter) {
	if getter != nil {
		if e.getters == nil {
			e.getters = make(map[string]Getter)
		}
		e.getters[name] = getter
	}
	if setter != nil {
		if e.setters == nil {
			e.setters = make(map[string]Setter)
		}
		e.setters[name] = setter
	}
}

// Get returns the value of a field or relationship. A registered getter wins,
// then the loaded fields and cached relations; otherwise lazy fields and
// relationships are fetched through the mapper. found is false for names
// that are neither fields nor relationships.
//
// To-one relationships resolve to *Entity (nil when unset), to-many
// relationships to *List.
func (e *Entity) Get(ctx context.Context, name string) (value interface{}, found bool, err error) {
	if getter, ok := e.getters[name]; ok {
		v, err := getter(ctx, e)
		return v, err == nil, err
	}
	if v, ok := e.fields[name]; ok {
		return v, true, nil
	}
	if v, ok := e.relations[name]; ok {
		return v, true, nil
	}
	if e.mapper == nil {
		return nil, false, nil
	}

	if e.mapper.isLazyField(name) {
		v, err := e.mapper.loadLazyField(ctx, e, name)
		if err != nil {
			return nil, false, err
		}
		e.fields[name] = v
		return v, true, nil
	}

	if _, ok := e.mapper.Relationship(name); ok {
		v, err := e.mapper.resolveRelation(ctx, e, name)
		if err != nil {
			return nil, false, err
		}
		e.relations[name] = v
		return v, true, nil
	}

	return nil, false, nil
}

// Value returns a loaded field value without triggering any fetch.
func (e *Entity) Value(name string) interface{} {
	return e.fields[name]
}

// One resolves a to-one relationship.
func (e *Entity) One(ctx context.Context, name string) (*Entity, error) {
	if err := e.expect(name, true); err != nil {
		return nil, err
	}
	v, _, err := e.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	related, _ := v.(*Entity)
	return related, nil
}

// Many resolves a to-many relationship.
func (e *Entity) Many(ctx context.Context, name string) (*List, error) {
	if err := e.expect(name, false); err != nil {
		return nil, err
	}
	v, _, err := e.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	list, ok := v.(*List)
	if !ok {
		return nil, NewError(ErrorTypeIntegrity, fmt.Sprintf("relationship %q did not resolve to a list", name))
	}
	return list, nil
}

func (e *Entity) expect(name string, toOne bool) error {
	if e.mapper == nil {
		return configErrorf("entity has no mapper")
	}
	rel, ok := e.mapper.Relationship(name)
	if !ok {
		return configErrorf("%s: no relationship %q", e.mapper.Name(), name)
	}
	if rel.Type().IsToOne() != toOne {
		return requestErrorf("%s: relationship %q is %s", e.mapper.Name(), name, rel.Type())
	}
	return nil
}

// Set assigns a field value. Cached to-one relations keyed by the field are
// dropped so they resolve again.
func (e *Entity) Set(name string, value interface{}) {
	if setter, ok := e.setters[name]; ok {
		setter(e, value)
		return
	}
	e.fields[name] = value
	e.dropRelationsOn(name)
}

func (e *Entity) dropRelationsOn(field string) {
	if e.mapper == nil {
		return
	}
	for rel := range e.relations {
		r, ok := e.mapper.Relationship(rel)
		if !ok {
			continue
		}
		if fk, template, ok := toOne(r); ok {
			if fk == field || templateUses(template, field) {
				delete(e.relations, rel)
			}
		}
	}
}

func templateUses(template JoinTemplate, field string) bool {
	for _, term := range template {
		if s, ok := term.Value.(string); ok {
			for _, p := range placeholders(s) {
				if p == field {
					return true
				}
			}
		}
	}
	return false
}

// SetFields assigns several fields at once.
func (e *Entity) SetFields(fields map[string]interface{}) {
	for _, k := range sortedKeys(fields) {
		e.Set(k, fields[k])
	}
}

// Fields returns a copy of the loaded field values.
func (e *Entity) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// Key returns the primary key value, nil for an unsaved entity.
func (e *Entity) Key(ctx context.Context) (interface{}, error) {
	if e.mapper == nil {
		return nil, configErrorf("entity has no mapper")
	}
	pk, err := e.mapper.PrimaryKey(ctx)
	if err != nil {
		return nil, err
	}
	return e.fields[pk], nil
}

// IsNew reports whether the entity has no primary key value yet.
func (e *Entity) IsNew(ctx context.Context) (bool, error) {
	key, err := e.Key(ctx)
	if err != nil {
		return false, err
	}
	return key == nil, nil
}

// AsNew returns a copy of the entity without its primary key, so saving it
// inserts a new row. Cached relations are not copied.
func (e *Entity) AsNew(ctx context.Context) (*Entity, error) {
	if e.mapper == nil {
		return nil, configErrorf("entity has no mapper")
	}
	pk, err := e.mapper.PrimaryKey(ctx)
	if err != nil {
		return nil, err
	}
	c := NewEntity(e.mapper, e.fields)
	delete(c.fields, pk)
	for name, g := range e.getters {
		c.Override(name, g, nil)
	}
	for name, s := range e.setters {
		c.Override(name, nil, s)
	}
	return c, nil
}

// =====================================
// Persistence
// =====================================

// Save writes the entity through its mapper, inserting it when it has no
// primary key yet.
func (e *Entity) Save(ctx context.Context) (int64, error) {
	if e.mapper == nil {
		return 0, configErrorf("entity has no mapper")
	}
	return e.mapper.Update(ctx, e, nil)
}

// Delete removes the entity's row.
func (e *Entity) Delete(ctx context.Context) (int64, error) {
	if e.mapper == nil {
		return 0, configErrorf("entity has no mapper")
	}
	return e.mapper.Delete(ctx, e)
}

// HasRelation reports whether the entity is related to peer through the
// named relationship. A nil peer checks for any related entity. The cached
// relation is dropped first so the answer reflects the database.
func (e *Entity) HasRelation(ctx context.Context, name string, peer *Entity) (bool, error) {
	if e.mapper == nil {
		return false, configErrorf("entity has no mapper")
	}
	rel, ok := e.mapper.Relationship(name)
	if !ok {
		return false, configErrorf("%s: no relationship %q", e.mapper.Name(), name)
	}
	delete(e.relations, name)

	if fk, template, ok := toOne(rel); ok && len(template) == 0 {
		value := e.fields[fk]
		if peer == nil {
			return value != nil, nil
		}
		peerKey, err := peer.Key(ctx)
		if err != nil {
			return false, err
		}
		return value != nil && sameValue(value, peerKey), nil
	}

	v, _, err := e.Get(ctx, name)
	if err != nil {
		return false, err
	}

	var peerKey interface{}
	if peer != nil {
		if peerKey, err = peer.Key(ctx); err != nil {
			return false, err
		}
	}

	switch r := v.(type) {
	case nil:
		return false, nil
	case *Entity:
		if peer == nil {
			return r != nil, nil
		}
		if r == nil {
			return false, nil
		}
		key, err := r.Key(ctx)
		if err != nil {
			return false, err
		}
		return sameValue(key, peerKey), nil
	case *List:
		defer r.Close()
		for r.Next() {
			if peer == nil {
				return true, nil
			}
			key, err := r.Current().Key(ctx)
			if err != nil {
				return false, err
			}
			if sameValue(key, peerKey) {
				return true, nil
			}
		}
		return false, r.Err()
	}
	return false, nil
}

// sameValue compares keys that may have been decoded into different Go
// types (int64 from one driver, string from another).
func sameValue(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return toString(a) == toString(b)
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}
