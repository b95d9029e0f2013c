package rdo

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// =====================================
// Query Building
// =====================================

// Test is a single "field operator value" predicate.
type Test struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Join describes a table joined into a query for a relationship.
type Join struct {
	// Mapper manages the joined table. Required unless Table is set.
	Mapper *Mapper

	// Type is the relationship cardinality. Defaults to many-to-many.
	Type RelationType

	// Table defaults to the mapper's table.
	Table string

	// Alias defaults to the relationship name.
	Alias string

	// JoinType defaults to INNER JOIN for to-one relationships and LEFT JOIN
	// otherwise.
	JoinType JoinType

	// On is the join condition. Literal values are rendered verbatim, any
	// other value is bound.
	On JoinTemplate
}

type namedJoin struct {
	name string
	join Join
}

// Query is an abstract, mutable description of a single select.
type Query struct {
	mapper      *Mapper
	fields      []string
	conjunction LogicOperator
	distinct    bool
	tests       []Test
	joins       []namedJoin
	sortBy      string
	limit       int
	offset      int
}

// NewQuery creates an empty query selecting every column. Bind it to a mapper
// with SetMapper before building it.
func NewQuery() *Query {
	return &Query{
		fields:      []string{"*"},
		conjunction: LogicAnd,
	}
}

// CreateQuery normalizes criterion into a mapper-bound query. criterion may be
// nil (every row), a *Query (cloned, never shared), a Filter or
// map[string]interface{} (AND-combined equality tests), Keys or []interface{}
// (OR-combined primary key tests) or a scalar primary key.
func CreateQuery(ctx context.Context, criterion interface{}, mapper *Mapper) (*Query, error) {
	if q, ok := criterion.(*Query); ok {
		if q == nil {
			criterion = nil
		} else {
			clone := q.Clone()
			if mapper != nil {
				if err := clone.SetMapper(ctx, mapper); err != nil {
					return nil, err
				}
			}
			return clone, nil
		}
	}

	q := NewQuery()
	if mapper != nil {
		if err := q.SetMapper(ctx, mapper); err != nil {
			return nil, err
		}
	}

	switch c := criterion.(type) {
	case nil:
	case Filter:
		q.addFilter(c)
	case map[string]interface{}:
		q.addFilter(c)
	case Keys:
		if err := q.addKeys(ctx, c); err != nil {
			return nil, err
		}
	case []interface{}:
		if err := q.addKeys(ctx, c); err != nil {
			return nil, err
		}
	default:
		if mapper == nil {
			return nil, requestErrorf("a primary key criterion requires a mapper")
		}
		pk, err := mapper.PrimaryKey(ctx)
		if err != nil {
			return nil, err
		}
		q.AddTest(pk, OpEqual, criterion)
	}
	return q, nil
}

func (q *Query) addFilter(filter map[string]interface{}) {
	q.CombineWith(LogicAnd)
	for _, field := range sortedKeys(filter) {
		q.AddTest(field, OpEqual, filter[field])
	}
}

func (q *Query) addKeys(ctx context.Context, keys []interface{}) error {
	if q.mapper == nil {
		return requestErrorf("a primary key criterion requires a mapper")
	}
	pk, err := q.mapper.PrimaryKey(ctx)
	if err != nil {
		return err
	}
	q.CombineWith(LogicOr)
	for _, key := range keys {
		q.AddTest(pk, OpEqual, key)
	}
	return nil
}

// Mapper returns the mapper the query is bound to, or nil.
func (q *Query) Mapper() *Mapper {
	return q.mapper
}

// SetMapper binds the query to a mapper. The field list is replaced by the
// mapper's eager fields, the mapper's default sort is applied unless the
// query already has a sort, and every
// eager to-one relationship is joined with its fields selected as
// "relationship@field". Binding the same mapper again is a no-op.
func (q *Query) SetMapper(ctx context.Context, mapper *Mapper) error {
	if mapper == q.mapper {
		return nil
	}
	q.mapper = mapper

	fields, err := mapper.Fields(ctx)
	if err != nil {
		return err
	}
	table := mapper.Table()
	q.SetFields(table+".", fields...)
	if sort := mapper.DefaultSort(); sort != "" && q.sortBy == "" {
		q.SortBy(sort)
	}

	for _, name := range sortedKeys(mapper.definition.Relationships) {
		rel := mapper.definition.Relationships[name]
		fk, template, ok := toOne(rel)
		if !ok {
			// To-many relationships would multiply the parent rows; they are
			// resolved on access instead.
			continue
		}

		related, err := mapper.relatedMapper(name, rel)
		if err != nil {
			return err
		}
		relatedFields, err := related.Fields(ctx)
		if err != nil {
			return err
		}
		q.AddFields(name+".@", relatedFields...)

		var on JoinTemplate
		if len(template) > 0 {
			on = joinPlaceholders(name, table, template)
		} else {
			relatedPK, err := related.PrimaryKey(ctx)
			if err != nil {
				return err
			}
			on = JoinTemplate{{Column: name + "." + relatedPK, Value: Literal(table + "." + fk)}}
		}

		// A nullable foreign key must not drop the owning rows.
		joinType := JoinInner
		if fk != "" {
			info, err := mapper.TableInfo(ctx)
			if err != nil {
				return err
			}
			if col, ok := info.Column(fk); ok && col.IsNullable {
				joinType = JoinLeft
			}
		}

		join := Join{Mapper: related, Type: rel.Type(), JoinType: joinType, On: on}
		if err := q.AddRelationship(name, join); err != nil {
			return err
		}
	}
	return nil
}

// joinPlaceholders turns a relationship's join template into a join
// condition: columns are qualified with the join alias and @field@
// placeholders become references to the owning table's columns.
func joinPlaceholders(alias, ownerTable string, template JoinTemplate) JoinTemplate {
	on := make(JoinTemplate, 0, len(template))
	for _, term := range template {
		column := term.Column
		if !strings.Contains(column, ".") {
			column = alias + "." + column
		}
		value := term.Value
		if s, ok := value.(string); ok && len(placeholders(s)) > 0 {
			value = Literal(placeholderPattern.ReplaceAllString(s, ownerTable+".$1"))
		}
		on = append(on, JoinTerm{Column: column, Value: value})
	}
	return on
}

// SetFields replaces the selected fields. prefix, if not empty, is prepended
// to every field. A prefix ending in ".@" selects the fields of a joined
// relationship under "alias@field" names.
func (q *Query) SetFields(prefix string, fields ...string) *Query {
	q.fields = prefixFields(prefix, fields)
	return q
}

// AddFields appends to the selected fields, see SetFields.
func (q *Query) AddFields(prefix string, fields ...string) *Query {
	q.fields = append(q.fields, prefixFields(prefix, fields)...)
	return q
}

func prefixFields(prefix string, fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, prefix+f)
	}
	return out
}

// Fields returns a copy of the selected fields.
func (q *Query) Fields() []string {
	return append([]string(nil), q.fields...)
}

// CombineWith sets the conjunction used between tests.
func (q *Query) CombineWith(conjunction LogicOperator) *Query {
	q.conjunction = conjunction
	return q
}

// Conjunction returns the conjunction used between tests.
func (q *Query) Conjunction() LogicOperator {
	return q.conjunction
}

// AddTest appends a predicate.
func (q *Query) AddTest(field string, operator Operator, value interface{}) *Query {
	q.tests = append(q.tests, Test{Field: field, Operator: operator, Value: value})
	return q
}

// Tests returns a copy of the predicates.
func (q *Query) Tests() []Test {
	return append([]Test(nil), q.tests...)
}

// AddRelationship joins a related table into the query under name.
func (q *Query) AddRelationship(name string, join Join) error {
	if join.Table == "" {
		if join.Mapper == nil {
			return configErrorf("relationship %q must have a mapper or a table", name)
		}
		join.Table = join.Mapper.Table()
	}
	if join.Type == "" {
		join.Type = RelationManyToMany
	}
	if join.Alias == "" {
		join.Alias = name
	}
	if join.JoinType == "" {
		if join.Type.IsToOne() {
			join.JoinType = JoinInner
		} else {
			join.JoinType = JoinLeft
		}
	}
	join.On = append(JoinTemplate(nil), join.On...)

	for i := range q.joins {
		if q.joins[i].name == name {
			q.joins[i].join = join
			return nil
		}
	}
	q.joins = append(q.joins, namedJoin{name: name, join: join})
	return nil
}

// Relationship returns the join registered under name.
func (q *Query) Relationship(name string) (Join, bool) {
	for _, j := range q.joins {
		if j.name == name {
			return j.join, true
		}
	}
	return Join{}, false
}

// SetDistinct toggles SELECT DISTINCT.
func (q *Query) SetDistinct(distinct bool) *Query {
	q.distinct = distinct
	return q
}

// SortBy sets the ORDER BY fragment (without "ORDER BY").
func (q *Query) SortBy(sort string) *Query {
	q.sortBy = sort
	return q
}

// ClearSort removes any ORDER BY.
func (q *Query) ClearSort() *Query {
	q.sortBy = ""
	return q
}

// Limit restricts the number of rows, optionally skipping offset rows.
// A limit of zero removes the restriction along with any offset.
func (q *Query) Limit(limit int, offset ...int) *Query {
	q.limit = limit
	q.offset = 0
	if limit > 0 && len(offset) > 0 {
		q.offset = offset[0]
	}
	return q
}

// Clone returns a deep copy. The copy shares the mapper but no mutable lists.
func (q *Query) Clone() *Query {
	c := *q
	c.fields = append([]string(nil), q.fields...)
	c.tests = append([]Test(nil), q.tests...)
	c.joins = make([]namedJoin, 0, len(q.joins))
	for _, j := range q.joins {
		j.join.On = append(JoinTemplate(nil), j.join.On...)
		c.joins = append(c.joins, j)
	}
	return &c
}

// =====================================
// SQL Rendering
// =====================================

// Build renders the query into SQL text with positional "?" parameters.
func (q *Query) Build() (string, []interface{}, error) {
	if q.mapper == nil {
		return "", nil, configErrorf("query is not bound to a mapper")
	}
	adapter := q.mapper.Adapter()
	var sb strings.Builder
	params := make([]interface{}, 0, len(q.tests))

	sb.WriteString("SELECT ")
	if q.distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(q.renderFields(adapter))

	sb.WriteString(" FROM ")
	sb.WriteString(adapter.QuoteTableName(q.mapper.Table()))

	for _, j := range q.joins {
		clause, args := renderJoin(adapter, j.join)
		sb.WriteString(clause)
		params = append(params, args...)
	}

	if len(q.tests) > 0 {
		where, args := renderTests(adapter, q.tests, q.conjunction, q.mapper.Table())
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		params = append(params, args...)
	}

	if q.sortBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.sortBy)
	}

	if q.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.limit))
		if q.offset > 0 {
			sb.WriteString(" OFFSET ")
			sb.WriteString(strconv.Itoa(q.offset))
		}
	}

	return sb.String(), params, nil
}

func (q *Query) renderFields(adapter Adapter) string {
	if len(q.fields) == 0 {
		return "*"
	}
	parts := make([]string, 0, len(q.fields))
	for _, f := range q.fields {
		if alias, field, ok := strings.Cut(f, ".@"); ok {
			parts = append(parts, quoteIdentifier(adapter, alias+"."+field)+
				" AS "+adapter.QuoteColumnName(alias+"@"+field))
			continue
		}
		parts = append(parts, quoteIdentifier(adapter, f))
	}
	return strings.Join(parts, ", ")
}

func renderJoin(adapter Adapter, join Join) (string, []interface{}) {
	terms := make([]string, 0, len(join.On))
	var params []interface{}
	for _, term := range join.On {
		column := quoteIdentifier(adapter, term.Column)
		switch v := term.Value.(type) {
		case Literal:
			terms = append(terms, column+" = "+quoteIdentifier(adapter, string(v)))
		case nil:
			terms = append(terms, column+" IS NULL")
		default:
			terms = append(terms, column+" = ?")
			params = append(params, v)
		}
	}
	clause := fmt.Sprintf(" %s %s AS %s", join.JoinType,
		adapter.QuoteTableName(join.Table), adapter.QuoteTableName(join.Alias))
	if len(terms) > 0 {
		clause += " ON " + strings.Join(terms, " AND ")
	}
	return clause, params
}

// renderTests renders predicates joined by conjunction. Unqualified fields
// are qualified with table when it is not empty.
func renderTests(adapter Adapter, tests []Test, conjunction LogicOperator, table string) (string, []interface{}) {
	clauses := make([]string, 0, len(tests))
	var params []interface{}

	for _, t := range tests {
		field := t.Field
		if table != "" && isSafeIdentifier(field) && !strings.Contains(field, ".") {
			field = table + "." + field
		}
		column := quoteIdentifier(adapter, field)
		op := t.Operator
		if op == "" {
			op = OpEqual
		}

		switch v := t.Value.(type) {
		case Literal:
			clauses = append(clauses, fmt.Sprintf("%s %s %s", column, op, quoteIdentifier(adapter, string(v))))
			continue
		case nil:
			if op == OpNotEqual {
				clauses = append(clauses, column+" IS NOT NULL")
			} else {
				clauses = append(clauses, column+" IS NULL")
			}
			continue
		}

		if op == OpIn || op == OpNotIn {
			values, ok := listValues(t.Value)
			if ok {
				if len(values) == 0 {
					if op == OpIn {
						clauses = append(clauses, "1 = 0")
					} else {
						clauses = append(clauses, "1 = 1")
					}
					continue
				}
				marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
				clauses = append(clauses, fmt.Sprintf("%s %s (%s)", column, op, marks))
				params = append(params, values...)
				continue
			}
		}

		clauses = append(clauses, fmt.Sprintf("%s %s ?", column, op))
		params = append(params, t.Value)
	}

	return strings.Join(clauses, " "+string(conjunction)+" "), params
}

// listValues flattens a slice value for IN tests.
func listValues(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case Keys:
		return v, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// quoteIdentifier quotes plain or dotted identifiers and leaves any other
// expression ("COUNT(*)", "1", "*") untouched.
func quoteIdentifier(adapter Adapter, expr string) string {
	if strings.HasSuffix(expr, ".*") && isSafeIdentifier(strings.TrimSuffix(expr, ".*")) {
		return adapter.QuoteTableName(strings.TrimSuffix(expr, ".*")) + ".*"
	}
	if !isSafeIdentifier(expr) {
		return expr
	}
	return adapter.QuoteColumnName(expr)
}

// isSafeIdentifier reports whether name is a plain identifier or a dotted
// qualified name made of identifiers.
func isSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			letter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
			if i == 0 && !letter {
				return false
			}
			if !letter && !(ch >= '0' && ch <= '9') {
				return false
			}
		}
	}
	return true
}
