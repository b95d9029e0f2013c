package rdo

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/jinzhu/inflection"
)

// =====================================
// Entity Definitions
// =====================================

// Definition declares one entity type: where its rows live, which fields are
// loaded on access only, and how it relates to other types.
type Definition struct {
	// Name identifies the entity type, e.g. "User". Required.
	Name string

	// Table overrides the table name derived from Name ("User" -> "users").
	Table string

	// PrimaryKey overrides the primary key reported by the adapter.
	PrimaryKey string

	// LazyFields are only read from the database when accessed.
	LazyFields []string

	// Relationships are joined into every query for to-one cardinalities.
	Relationships map[string]Relationship

	// LazyRelationships are only resolved when accessed.
	LazyRelationships map[string]Relationship

	// DefaultSort is an ORDER BY fragment applied to every query.
	DefaultSort string

	// DisableTimestamps stops Create and Update from maintaining the
	// created_at and updated_at columns.
	DisableTimestamps bool

	Hooks Hooks
}

// TableName returns the explicit table or the one derived from Name.
func (d Definition) TableName() string {
	if d.Table != "" {
		return d.Table
	}
	return tableForName(d.Name)
}

// relationship looks a relationship up among eager and lazy ones.
func (d Definition) relationship(name string) (Relationship, bool, bool) {
	if rel, ok := d.Relationships[name]; ok {
		return rel, false, true
	}
	if rel, ok := d.LazyRelationships[name]; ok {
		return rel, true, true
	}
	return nil, false, false
}

// tableForName turns a definition name into a table name: an optional
// "Mapper" suffix is dropped, the rest is snake-cased and pluralized.
func tableForName(name string) string {
	name = strings.TrimSuffix(name, "Mapper")
	return inflection.Plural(toSnakeCase(name))
}

func toSnakeCase(str string) string {
	var result strings.Builder
	runes := []rune(str)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				result.WriteRune('_')
			}
			result.WriteRune(unicode.ToLower(r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// =====================================
// Schema
// =====================================

// Schema holds the definitions a set of mappers is built from. It is an
// explicit value: create one per application (or per test) and pass it to
// NewMapper or NewFactory.
type Schema struct {
	mutex       sync.RWMutex
	definitions map[string]Definition
}

// NewSchema creates a schema holding defs. It panics on an invalid or
// duplicate definition, as schemas are normally declared at start-up.
func NewSchema(defs ...Definition) *Schema {
	s := &Schema{definitions: make(map[string]Definition)}
	for _, def := range defs {
		if err := s.Define(def); err != nil {
			panic(err)
		}
	}
	return s
}

// Define registers a definition.
func (s *Schema) Define(def Definition) error {
	if def.Name == "" {
		return configErrorf("definition requires a name")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.definitions[def.Name]; exists {
		return configErrorf("definition %q is already registered", def.Name)
	}
	for name := range def.Relationships {
		if _, lazy := def.LazyRelationships[name]; lazy {
			return configErrorf("%s: relationship %q is declared both eager and lazy", def.Name, name)
		}
	}
	s.definitions[def.Name] = def
	return nil
}

// Lookup finds a definition by name, falling back to a match on table name.
func (s *Schema) Lookup(name string) (Definition, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if def, ok := s.definitions[name]; ok {
		return def, true
	}
	for _, def := range s.definitions {
		if def.TableName() == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Names returns the registered definition names, sorted.
func (s *Schema) Names() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.definitions))
	for name := range s.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewMapper builds a fresh, uncached mapper for the named definition.
func (s *Schema) NewMapper(name string, adapter Adapter, opts ...Option) (*Mapper, error) {
	def, ok := s.Lookup(name)
	if !ok {
		return nil, configErrorf("no definition found for %q", name)
	}
	return NewMapper(adapter, s, def, opts...), nil
}
