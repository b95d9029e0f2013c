package rdo

import (
	"sync"
)

// =====================================
// Mapper Factory
// =====================================

type factoryKey struct {
	name    string
	adapter Adapter
}

// Factory caches mappers per definition and adapter, so table metadata is
// introspected once per unit of work. It holds no per-request state and can
// be discarded and recreated at will.
type Factory struct {
	mutex          sync.RWMutex
	schema         *Schema
	defaultAdapter Adapter
	options        []Option
	mappers        map[factoryKey]*Mapper
}

// NewFactory creates a factory building mappers from schema. Mappers
// requested without an adapter are bound to defaultAdapter. opts are applied
// to every mapper the factory builds.
func NewFactory(schema *Schema, defaultAdapter Adapter, opts ...Option) *Factory {
	return &Factory{
		schema:         schema,
		defaultAdapter: defaultAdapter,
		options:        opts,
		mappers:        make(map[factoryKey]*Mapper),
	}
}

// Schema returns the schema mappers are built from.
func (f *Factory) Schema() *Schema {
	return f.schema
}

// Create returns the cached mapper for name, building and registering it on
// first request. name may be a definition name or a table name.
func (f *Factory) Create(name string, adapter ...Adapter) (*Mapper, error) {
	a := f.defaultAdapter
	if len(adapter) > 0 && adapter[0] != nil {
		a = adapter[0]
	}
	if a == nil {
		return nil, configErrorf("no adapter for mapper %q", name)
	}

	def, ok := f.schema.Lookup(name)
	if !ok {
		return nil, configErrorf("no definition found for %q", name)
	}
	key := factoryKey{name: def.Name, adapter: a}

	f.mutex.RLock()
	m, exists := f.mappers[key]
	f.mutex.RUnlock()
	if exists {
		return m, nil
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if m, exists := f.mappers[key]; exists {
		return m, nil
	}
	opts := append(append([]Option(nil), f.options...), WithFactory(f))
	m = NewMapper(a, f.schema, def, opts...)
	f.mappers[key] = m
	return m, nil
}

// MustCreate is like Create but panics on error.
func (f *Factory) MustCreate(name string, adapter ...Adapter) *Mapper {
	m, err := f.Create(name, adapter...)
	if err != nil {
		panic(err)
	}
	return m
}

// Count returns the number of cached mappers.
func (f *Factory) Count() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.mappers)
}

// Reset drops every cached mapper.
func (f *Factory) Reset() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.mappers = make(map[factoryKey]*Mapper)
}
