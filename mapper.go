package rdo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// =====================================
// Mapper
// =====================================

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger statements and redirects are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithFactory attaches a caching factory used to resolve related mappers.
func WithFactory(f *Factory) Option {
	return func(m *Mapper) {
		m.factory = f
	}
}

// WithClock sets the clock used for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) {
		if now != nil {
			m.now = now
		}
	}
}

// Mapper translates between the rows of one table and Entities. Table
// metadata is introspected once and memoized, so a Mapper can be shared by
// every entity of its type for the lifetime of its adapter.
type Mapper struct {
	definition Definition
	schema     *Schema
	adapter    Adapter
	factory    *Factory
	logger     *slog.Logger
	now        func() time.Time

	mutex       sync.Mutex
	info        *TableInfo
	defaultSort string
	related     map[string]*Mapper
}

// NewMapper creates a mapper for def on adapter. schema resolves related
// definitions and may be nil when def declares no relationships.
func NewMapper(adapter Adapter, schema *Schema, def Definition, opts ...Option) *Mapper {
	m := &Mapper{
		definition:  def,
		schema:      schema,
		adapter:     adapter,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		defaultSort: def.DefaultSort,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the definition name.
func (m *Mapper) Name() string {
	return m.definition.Name
}

// Table returns the backing table name.
func (m *Mapper) Table() string {
	return m.definition.TableName()
}

// Adapter returns the database adapter.
func (m *Mapper) Adapter() Adapter {
	return m.adapter
}

// Definition returns the definition the mapper was built from.
func (m *Mapper) Definition() Definition {
	return m.definition
}

// SetFactory attaches a caching factory; nil detaches it.
func (m *Mapper) SetFactory(f *Factory) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.factory = f
	m.related = nil
}

// Factory returns the attached factory, if any.
func (m *Mapper) Factory() *Factory {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.factory
}

// SortBy sets the default sort of every query the mapper builds.
func (m *Mapper) SortBy(sort string) *Mapper {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.defaultSort = sort
	return m
}

// DefaultSort returns the current default sort.
func (m *Mapper) DefaultSort() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.defaultSort
}

// TableInfo returns the introspected table description.
func (m *Mapper) TableInfo(ctx context.Context) (*TableInfo, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.info != nil {
		return m.info, nil
	}

	table := m.Table()
	columns, err := m.adapter.Columns(ctx, table)
	if err != nil {
		return nil, wrapAdapterError(table+": columns", err)
	}
	if len(columns) == 0 {
		return nil, configErrorf("table %q has no columns", table)
	}

	pk := m.definition.PrimaryKey
	if pk == "" {
		if pk, err = m.adapter.PrimaryKey(ctx, table); err != nil {
			return nil, wrapAdapterError(table+": primary key", err)
		}
	}
	if pk == "" {
		return nil, configErrorf("table %q has no primary key", table)
	}

	m.info = &TableInfo{Name: table, PrimaryKey: pk, Columns: columns}
	return m.info, nil
}

// PrimaryKey returns the primary key column.
func (m *Mapper) PrimaryKey(ctx context.Context) (string, error) {
	info, err := m.TableInfo(ctx)
	if err != nil {
		return "", err
	}
	return info.PrimaryKey, nil
}

// Fields returns the eager fields: every column except the lazy ones.
func (m *Mapper) Fields(ctx context.Context) ([]string, error) {
	info, err := m.TableInfo(ctx)
	if err != nil {
		return nil, err
	}
	fields := make([]string, 0, len(info.Columns))
	for _, c := range info.Columns {
		if !m.isLazyField(c.Name) {
			fields = append(fields, c.Name)
		}
	}
	return fields, nil
}

// LazyFields returns the fields loaded on access only.
func (m *Mapper) LazyFields() []string {
	return append([]string(nil), m.definition.LazyFields...)
}

func (m *Mapper) isLazyField(name string) bool {
	for _, f := range m.definition.LazyFields {
		if f == name {
			return true
		}
	}
	return false
}

// Relationship looks up an eager or lazy relationship.
func (m *Mapper) Relationship(name string) (Relationship, bool) {
	rel, _, ok := m.definition.relationship(name)
	return rel, ok
}

// relatedMapper returns the mapper of a relationship's target, from the
// factory when one is attached.
func (m *Mapper) relatedMapper(name string, rel Relationship) (*Mapper, error) {
	target := rel.Target()
	if target == "" {
		target = name
	}

	m.mutex.Lock()
	factory := m.factory
	if cached, ok := m.related[target]; ok {
		m.mutex.Unlock()
		return cached, nil
	}
	m.mutex.Unlock()

	var (
		related *Mapper
		err     error
	)
	switch {
	case factory != nil:
		related, err = factory.Create(target, m.adapter)
	case m.schema != nil:
		related, err = m.schema.NewMapper(target, m.adapter, WithLogger(m.logger), WithClock(m.now))
	default:
		err = configErrorf("%s: cannot resolve mapper %q without a schema", m.Name(), target)
	}
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	if m.related == nil {
		m.related = make(map[string]*Mapper)
	}
	m.related[target] = related
	m.mutex.Unlock()
	return related, nil
}

// NewQuery returns an empty query bound to the mapper.
func (m *Mapper) NewQuery(ctx context.Context) (*Query, error) {
	q := NewQuery()
	if err := q.SetMapper(ctx, m); err != nil {
		return nil, err
	}
	return q, nil
}

// =====================================
// Finders
// =====================================

// Find returns a list of the entities matching criterion: nil for every row,
// Keys for a set of primary keys, a Filter for equality tests, a *Query, or a
// single primary key value.
func (m *Mapper) Find(ctx context.Context, criterion interface{}) (*List, error) {
	if err := checkCriterion(criterion); err != nil {
		return nil, err
	}
	q, err := CreateQuery(ctx, criterion, m)
	if err != nil {
		return nil, err
	}
	return NewList(ctx, m, q)
}

// FindOne returns the first entity matching criterion. A missing row is an
// error for which IsNotFound reports true.
func (m *Mapper) FindOne(ctx context.Context, criterion interface{}) (*Entity, error) {
	if err := checkCriterion(criterion); err != nil {
		return nil, err
	}
	q, err := CreateQuery(ctx, criterion, m)
	if err != nil {
		return nil, err
	}
	q.Limit(1)

	sql, params, err := q.Build()
	if err != nil {
		return nil, err
	}
	m.debug("select one", sql, params)
	row, err := m.adapter.SelectOne(ctx, sql, params)
	if err != nil {
		return nil, wrapAdapterError(m.Table()+": select one", err)
	}
	if row == nil {
		return nil, NewError(ErrorTypeNotFound, fmt.Sprintf("%s: no matching row", m.Table()))
	}
	return m.Map(ctx, row)
}

// Count returns the number of rows matching criterion.
func (m *Mapper) Count(ctx context.Context, criterion interface{}) (int64, error) {
	if err := checkCriterion(criterion); err != nil {
		return 0, err
	}
	q, err := CreateQuery(ctx, criterion, m)
	if err != nil {
		return 0, err
	}
	q.SetFields("", "COUNT(*)").ClearSort()

	sql, params, err := q.Build()
	if err != nil {
		return 0, err
	}
	m.debug("count", sql, params)
	v, err := m.adapter.SelectValue(ctx, sql, params)
	if err != nil {
		return 0, wrapAdapterError(m.Table()+": count", err)
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, NewError(ErrorTypeDatabase, fmt.Sprintf("%s: count returned %T", m.Table(), v))
	}
	return n, nil
}

// Exists reports whether any row matches criterion. Adapter failures are
// logged and reported as false; invalid criteria are still returned.
func (m *Mapper) Exists(ctx context.Context, criterion interface{}) (bool, error) {
	if err := checkCriterion(criterion); err != nil {
		return false, err
	}
	q, err := CreateQuery(ctx, criterion, m)
	if err != nil {
		if IsDatabase(err) || IsConnection(err) {
			m.logger.Warn("rdo: exists probe failed", "table", m.Table(), "error", err)
			return false, nil
		}
		return false, err
	}
	q.SetFields("", "1").ClearSort().Limit(1)

	sql, params, err := q.Build()
	if err != nil {
		return false, err
	}
	m.debug("exists", sql, params)
	v, err := m.adapter.SelectValue(ctx, sql, params)
	if err != nil {
		m.logger.Warn("rdo: exists probe failed", "table", m.Table(), "error", err)
		return false, nil
	}
	return v != nil, nil
}

// checkCriterion rejects empty key sets and filters, which would otherwise
// select every row.
func checkCriterion(criterion interface{}) error {
	empty := false
	switch c := criterion.(type) {
	case Filter:
		empty = len(c) == 0
	case map[string]interface{}:
		empty = len(c) == 0
	case Keys:
		empty = len(c) == 0
	case []interface{}:
		empty = len(c) == 0
	}
	if empty {
		return requestErrorf("no criteria found")
	}
	return nil
}

// =====================================
// Persistence
// =====================================

// Create inserts a row and returns the mapped entity including its
// generated primary key. Fields that are not columns of the table are
// dropped; created_at and updated_at are filled in unless disabled.
func (m *Mapper) Create(ctx context.Context, fields map[string]interface{}) (*Entity, error) {
	info, err := m.TableInfo(ctx)
	if err != nil {
		return nil, err
	}

	values := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		values[k] = v
	}
	if !m.definition.DisableTimestamps {
		now := m.now().UTC().Unix()
		for _, f := range []string{CreatedAtField, UpdatedAtField} {
			if _, set := values[f]; !set && info.HasColumn(f) {
				values[f] = now
			}
		}
	}
	if err := m.definition.Hooks.beforeCreate(ctx, values); err != nil {
		return nil, err
	}

	values = intersectColumns(info, values)
	if v, ok := values[info.PrimaryKey]; ok && v == nil {
		delete(values, info.PrimaryKey)
	}
	if len(values) == 0 {
		return nil, requestErrorf("%s: no fields to create", m.Table())
	}

	columns := sortedKeys(values)
	quoted := make([]string, len(columns))
	params := make([]interface{}, len(columns))
	for i, c := range columns {
		quoted[i] = m.adapter.QuoteColumnName(c)
		params[i] = values[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		m.adapter.QuoteTableName(m.Table()),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))

	m.debug("insert", sql, params)
	key, err := m.adapter.Insert(ctx, sql, params)
	if err != nil {
		return nil, wrapAdapterError(m.Table()+": insert", err)
	}
	if _, explicit := values[info.PrimaryKey]; !explicit {
		values[info.PrimaryKey] = key
	}

	e, err := m.Map(ctx, Row(values))
	if err != nil {
		return nil, err
	}
	if err := m.definition.Hooks.afterCreate(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Update writes fields to the row identified by target, either an *Entity
// (its loaded fields are written, merged with fields) or a primary key value.
// updated_at is set unless timestamps are disabled. Fields that are not
// columns are dropped; with nothing left to write Update returns 0 without
// touching the database.
//
// An entity without a primary key is created instead; its fields are then
// replaced by the created row and Update returns 1.
func (m *Mapper) Update(ctx context.Context, target interface{}, fields map[string]interface{}) (int64, error) {
	info, err := m.TableInfo(ctx)
	if err != nil {
		return 0, err
	}

	var (
		key    interface{}
		entity *Entity
	)
	switch t := target.(type) {
	case *Entity:
		if t == nil {
			return 0, requestErrorf("%s: update requires a target", m.Table())
		}
		entity = t
		key = t.fields[info.PrimaryKey]
		merged := t.Fields()
		for k, v := range fields {
			merged[k] = v
		}
		fields = merged

		if key == nil {
			m.logger.Debug("rdo: update of an entity without a key, creating it", "table", m.Table())
			created, err := m.Create(ctx, fields)
			if err != nil {
				return 0, err
			}
			t.SetFields(created.fields)
			return 1, nil
		}
	case nil:
		return 0, requestErrorf("%s: update requires a target", m.Table())
	default:
		key = target
	}

	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	delete(values, info.PrimaryKey)
	if err := m.definition.Hooks.beforeUpdate(ctx, key, values); err != nil {
		return 0, err
	}
	if !m.definition.DisableTimestamps {
		values[UpdatedAtField] = m.now().UTC().Unix()
	}
	values = intersectColumns(info, values)
	if len(values) == 0 {
		return 0, nil
	}

	columns := sortedKeys(values)
	sets := make([]string, len(columns))
	params := make([]interface{}, 0, len(columns)+1)
	for i, c := range columns {
		sets[i] = m.adapter.QuoteColumnName(c) + " = ?"
		params = append(params, values[c])
	}
	params = append(params, key)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		m.adapter.QuoteTableName(m.Table()),
		strings.Join(sets, ", "),
		m.adapter.QuoteColumnName(info.PrimaryKey))

	m.debug("update", sql, params)
	n, err := m.adapter.Update(ctx, sql, params)
	if err != nil {
		return 0, wrapAdapterError(m.Table()+": update", err)
	}
	if entity != nil {
		if v, ok := values[UpdatedAtField]; ok {
			entity.fields[UpdatedAtField] = v
		}
	}
	return n, nil
}

// Delete removes the rows identified by target: an *Entity, a *Query whose
// tests form the predicate, a Filter, or a primary key value. A predicate
// without tests is refused.
func (m *Mapper) Delete(ctx context.Context, target interface{}) (int64, error) {
	pk, err := m.PrimaryKey(ctx)
	if err != nil {
		return 0, err
	}

	var q *Query
	switch t := target.(type) {
	case *Entity:
		if t == nil || t.fields[pk] == nil {
			return 0, requestErrorf("%s: cannot delete an entity without a primary key", m.Table())
		}
		q = NewQuery().AddTest(pk, OpEqual, t.fields[pk])
	case *Query:
		if t != nil {
			q = t.Clone()
		} else {
			q = NewQuery()
		}
	case nil:
		q = NewQuery()
	default:
		if q, err = CreateQuery(ctx, target, m); err != nil {
			return 0, err
		}
	}

	if len(q.tests) == 0 {
		return 0, requestErrorf("%s: refusing to delete the entire table", m.Table())
	}
	if err := m.definition.Hooks.beforeDelete(ctx, q); err != nil {
		return 0, err
	}

	where, params := renderTests(m.adapter, q.tests, q.conjunction, "")
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", m.adapter.QuoteTableName(m.Table()), where)

	m.debug("delete", sql, params)
	n, err := m.adapter.Delete(ctx, sql, params)
	if err != nil {
		return 0, wrapAdapterError(m.Table()+": delete", err)
	}
	return n, nil
}

// =====================================
// Relationship Mutation
// =====================================

// AddRelation relates ours to theirs through the named relationship. It does
// nothing when they are already related. To-one relationships store the
// foreign key on ours, one-to-many on theirs, and many-to-many insert a
// through row.
func (m *Mapper) AddRelation(ctx context.Context, name string, ours, theirs *Entity) error {
	rel, ok := m.Relationship(name)
	if !ok {
		return configErrorf("%s: no relationship %q", m.Name(), name)
	}
	if ours == nil || theirs == nil {
		return requestErrorf("%s: add relation %q requires both entities", m.Name(), name)
	}

	related, err := ours.HasRelation(ctx, name, theirs)
	if err != nil {
		return err
	}
	if related {
		return nil
	}
	defer delete(ours.relations, name)

	switch r := rel.(type) {
	case OneToOne, ManyToOne:
		fk, _, _ := toOne(r)
		if fk == "" {
			return configErrorf("%s: relationship %q has no foreign key", m.Name(), name)
		}
		theirKey, err := savedKey(ctx, theirs)
		if err != nil {
			return err
		}
		ours.Set(fk, theirKey)
		_, err = ours.Save(ctx)
		return err

	case OneToMany:
		ourKey, err := savedKey(ctx, ours)
		if err != nil {
			return err
		}
		theirs.Set(r.ForeignKey, ourKey)
		_, err = theirs.Save(ctx)
		return err

	case ManyToMany:
		left, right, err := m.throughKeys(ctx, name, r)
		if err != nil {
			return err
		}
		ourKey, err := savedKey(ctx, ours)
		if err != nil {
			return err
		}
		theirKey, err := savedKey(ctx, theirs)
		if err != nil {
			return err
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)",
			m.adapter.QuoteTableName(r.Through),
			m.adapter.QuoteColumnName(left),
			m.adapter.QuoteColumnName(right))
		params := []interface{}{ourKey, theirKey}
		m.debug("relate", sql, params)
		// Through tables have no generated key; the insert is issued as a
		// plain statement.
		if _, err := m.adapter.Update(ctx, sql, params); err != nil {
			return wrapAdapterError(r.Through+": insert", err)
		}
		return nil
	}
	return NewError(ErrorTypeUnsupported, fmt.Sprintf("relationship %q of type %s", name, rel.Type()))
}

// RemoveRelation unrelates ours from theirs and returns the number of
// relations removed, 0 when they were not related. theirs may be nil to
// remove every related entity.
func (m *Mapper) RemoveRelation(ctx context.Context, name string, ours, theirs *Entity) (int64, error) {
	rel, ok := m.Relationship(name)
	if !ok {
		return 0, configErrorf("%s: no relationship %q", m.Name(), name)
	}
	if ours == nil {
		return 0, requestErrorf("%s: remove relation %q requires an entity", m.Name(), name)
	}

	related, err := ours.HasRelation(ctx, name, theirs)
	if err != nil {
		return 0, err
	}
	if !related {
		return 0, nil
	}
	defer delete(ours.relations, name)

	switch r := rel.(type) {
	case OneToOne, ManyToOne:
		fk, _, _ := toOne(r)
		if fk == "" {
			return 0, configErrorf("%s: relationship %q has no foreign key", m.Name(), name)
		}
		ours.Set(fk, nil)
		if _, err := ours.Save(ctx); err != nil {
			return 0, err
		}
		return 1, nil

	case OneToMany:
		if theirs != nil {
			theirs.Set(r.ForeignKey, nil)
			if _, err := theirs.Save(ctx); err != nil {
				return 0, err
			}
			return 1, nil
		}
		target, err := m.relatedMapper(name, rel)
		if err != nil {
			return 0, err
		}
		ourKey, err := savedKey(ctx, ours)
		if err != nil {
			return 0, err
		}
		sql := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = ?",
			m.adapter.QuoteTableName(target.Table()),
			m.adapter.QuoteColumnName(r.ForeignKey),
			m.adapter.QuoteColumnName(r.ForeignKey))
		params := []interface{}{ourKey}
		m.debug("unrelate", sql, params)
		n, err := m.adapter.Update(ctx, sql, params)
		if err != nil {
			return 0, wrapAdapterError(target.Table()+": update", err)
		}
		return n, nil

	case ManyToMany:
		left, right, err := m.throughKeys(ctx, name, r)
		if err != nil {
			return 0, err
		}
		ourKey, err := savedKey(ctx, ours)
		if err != nil {
			return 0, err
		}
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
			m.adapter.QuoteTableName(r.Through), m.adapter.QuoteColumnName(left))
		params := []interface{}{ourKey}
		if theirs != nil {
			theirKey, err := savedKey(ctx, theirs)
			if err != nil {
				return 0, err
			}
			sql += fmt.Sprintf(" AND %s = ?", m.adapter.QuoteColumnName(right))
			params = append(params, theirKey)
		}
		m.debug("unrelate", sql, params)
		n, err := m.adapter.Delete(ctx, sql, params)
		if err != nil {
			return 0, wrapAdapterError(r.Through+": delete", err)
		}
		return n, nil
	}
	return 0, NewError(ErrorTypeUnsupported, fmt.Sprintf("relationship %q of type %s", name, rel.Type()))
}

// throughKeys resolves the through table columns of a many-to-many
// relationship, defaulting to the primary key names of both sides.
func (m *Mapper) throughKeys(ctx context.Context, name string, r ManyToMany) (string, string, error) {
	if r.Through == "" {
		return "", "", configErrorf("%s: relationship %q has no through table", m.Name(), name)
	}
	left, right := r.LeftKey, r.RightKey
	if left == "" {
		pk, err := m.PrimaryKey(ctx)
		if err != nil {
			return "", "", err
		}
		left = pk
	}
	if right == "" {
		target, err := m.relatedMapper(name, r)
		if err != nil {
			return "", "", err
		}
		pk, err := target.PrimaryKey(ctx)
		if err != nil {
			return "", "", err
		}
		right = pk
	}
	return left, right, nil
}

func savedKey(ctx context.Context, e *Entity) (interface{}, error) {
	key, err := e.Key(ctx)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, requestErrorf("%s: entity has not been saved", e.mapper.Name())
	}
	return key, nil
}

// =====================================
// Mapping
// =====================================

// Map builds an entity from a row.
func (m *Mapper) Map(ctx context.Context, row Row) (*Entity, error) {
	e := NewEntity(m, nil)
	if err := m.MapFields(ctx, e, row); err != nil {
		return nil, err
	}
	return e, nil
}

// MapFields assigns a row to an existing entity. Values are cast to the
// column types; "relationship@field" keys are grouped and mapped through the
// related mapper, a group of nil values meaning no related entity.
func (m *Mapper) MapFields(ctx context.Context, e *Entity, row Row) error {
	info, err := m.TableInfo(ctx)
	if err != nil {
		return err
	}
	if e.mapper == nil {
		e.mapper = m
	}

	groups := make(map[string]Row)
	for k, v := range row {
		if rel, field, ok := strings.Cut(k, "@"); ok {
			if groups[rel] == nil {
				groups[rel] = make(Row)
			}
			groups[rel][field] = v
			continue
		}
		if col, ok := info.Column(k); ok {
			v = col.Cast(v)
		} else if b, ok := v.([]byte); ok {
			v = string(b)
		}
		e.fields[k] = v
		e.dropRelationsOn(k)
	}

	for _, name := range sortedKeys(groups) {
		rel, ok := m.Relationship(name)
		if !ok {
			return configErrorf("%s: row carries fields of unknown relationship %q", m.Name(), name)
		}
		group := groups[name]
		if allNil(group) {
			e.relations[name] = nil
			continue
		}
		related, err := m.relatedMapper(name, rel)
		if err != nil {
			return err
		}
		nested, err := related.Map(ctx, group)
		if err != nil {
			return err
		}
		e.relations[name] = nested
	}

	m.definition.Hooks.afterMap(e)
	return nil
}

// =====================================
// Lazy Resolution
// =====================================

func (m *Mapper) loadLazyField(ctx context.Context, e *Entity, name string) (interface{}, error) {
	info, err := m.TableInfo(ctx)
	if err != nil {
		return nil, err
	}
	key := e.fields[info.PrimaryKey]
	if key == nil {
		return nil, nil
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		m.adapter.QuoteColumnName(name),
		m.adapter.QuoteTableName(m.Table()),
		m.adapter.QuoteColumnName(info.PrimaryKey))
	params := []interface{}{key}
	m.debug("lazy field", sql, params)
	v, err := m.adapter.SelectValue(ctx, sql, params)
	if err != nil {
		return nil, wrapAdapterError(m.Table()+": lazy field "+name, err)
	}
	if col, ok := info.Column(name); ok {
		v = col.Cast(v)
	}
	return v, nil
}

// resolveRelation fetches a relationship of e. To-one relationships return
// *Entity or nil, to-many relationships a *List.
func (m *Mapper) resolveRelation(ctx context.Context, e *Entity, name string) (interface{}, error) {
	rel, ok := m.Relationship(name)
	if !ok {
		return nil, configErrorf("%s: no relationship %q", m.Name(), name)
	}
	related, err := m.relatedMapper(name, rel)
	if err != nil {
		return nil, err
	}

	switch r := rel.(type) {
	case OneToOne, ManyToOne:
		fk, template, _ := toOne(r)
		if len(template) > 0 {
			q, err := related.NewQuery(ctx)
			if err != nil {
				return nil, err
			}
			for _, term := range template {
				q.AddTest(term.Column, OpEqual, fillPlaceholders(term.Value, e.Value))
			}
			found, err := related.FindOne(ctx, q)
			if IsNotFound(err) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return found, nil
		}

		value, _, err := e.Get(ctx, fk)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, nil
		}
		found, err := related.FindOne(ctx, value)
		if IsNotFound(err) {
			return nil, NewErrorWithCause(ErrorTypeIntegrity,
				fmt.Sprintf("%s: %s = %v does not resolve to a %s row", m.Table(), fk, value, related.Table()), err)
		}
		if err != nil {
			return nil, err
		}
		return found, nil

	case OneToMany:
		key, err := e.Key(ctx)
		if err != nil {
			return nil, err
		}
		q, err := related.NewQuery(ctx)
		if err != nil {
			return nil, err
		}
		if key == nil {
			q.AddTest(r.ForeignKey, OpIn, Keys{})
		} else {
			q.AddTest(r.ForeignKey, OpEqual, key)
		}
		return NewList(ctx, related, q)

	case ManyToMany:
		left, right, err := m.throughKeys(ctx, name, r)
		if err != nil {
			return nil, err
		}
		relatedPK, err := related.PrimaryKey(ctx)
		if err != nil {
			return nil, err
		}
		key, err := e.Key(ctx)
		if err != nil {
			return nil, err
		}

		q, err := related.NewQuery(ctx)
		if err != nil {
			return nil, err
		}
		err = q.AddRelationship(r.Through, Join{
			Table:    r.Through,
			Type:     RelationManyToMany,
			JoinType: JoinInner,
			On:       JoinTemplate{{Column: r.Through + "." + right, Value: Literal(related.Table() + "." + relatedPK)}},
		})
		if err != nil {
			return nil, err
		}
		if key == nil {
			q.AddTest(r.Through+"."+left, OpIn, Keys{})
		} else {
			q.AddTest(r.Through+"."+left, OpEqual, key)
		}
		return NewList(ctx, related, q)
	}
	return nil, NewError(ErrorTypeUnsupported, fmt.Sprintf("relationship %q of type %s", name, rel.Type()))
}

// =====================================
// Helpers
// =====================================

func (m *Mapper) debug(op, sql string, params []interface{}) {
	m.logger.Debug("rdo: "+op, "table", m.Table(), "sql", sql, "params", len(params))
}

func intersectColumns(info *TableInfo, values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if info.HasColumn(k) {
			out[k] = v
		}
	}
	return out
}

func allNil(row Row) bool {
	for _, v := range row {
		if v != nil {
			return false
		}
	}
	return true
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
