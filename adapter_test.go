package rdo

import (
	"context"
	"errors"
	"strings"
)

// =====================================
// Scripted Test Adapter
// =====================================

type statement struct {
	method string
	sql    string
	args   []interface{}
}

// fakeAdapter records every statement and answers from per-method queues.
// An empty queue answers with a zero value.
type fakeAdapter struct {
	tables map[string][]Column
	pks    map[string]string

	selects  [][]Row
	ones     []Row
	values   []interface{}
	keys     []interface{}
	affected []int64
	errs     map[string]error

	introspections int
	statements     []statement
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		tables: make(map[string][]Column),
		pks:    make(map[string]string),
		errs:   make(map[string]error),
	}
}

func (f *fakeAdapter) table(name, pk string, columns ...Column) *fakeAdapter {
	for i := range columns {
		if columns[i].Name == pk {
			columns[i].IsPrimaryKey = true
		}
	}
	f.tables[name] = columns
	f.pks[name] = pk
	return f
}

func (f *fakeAdapter) record(method, sql string, args []interface{}) error {
	f.statements = append(f.statements, statement{method: method, sql: sql, args: args})
	return f.errs[method]
}

func (f *fakeAdapter) last() statement {
	if len(f.statements) == 0 {
		return statement{}
	}
	return f.statements[len(f.statements)-1]
}

func (f *fakeAdapter) count(method string) int {
	n := 0
	for _, s := range f.statements {
		if s.method == method {
			n++
		}
	}
	return n
}

func (f *fakeAdapter) Select(ctx context.Context, sql string, args []interface{}) (Cursor, error) {
	if err := f.record("select", sql, args); err != nil {
		return nil, err
	}
	var rows []Row
	if len(f.selects) > 0 {
		rows, f.selects = f.selects[0], f.selects[1:]
	}
	return &sliceCursor{rows: rows, pos: -1}, nil
}

func (f *fakeAdapter) SelectOne(ctx context.Context, sql string, args []interface{}) (Row, error) {
	if err := f.record("selectOne", sql, args); err != nil {
		return nil, err
	}
	var row Row
	if len(f.ones) > 0 {
		row, f.ones = f.ones[0], f.ones[1:]
	}
	return row, nil
}

func (f *fakeAdapter) SelectAll(ctx context.Context, sql string, args []interface{}) ([]Row, error) {
	if err := f.record("selectAll", sql, args); err != nil {
		return nil, err
	}
	var rows []Row
	if len(f.selects) > 0 {
		rows, f.selects = f.selects[0], f.selects[1:]
	}
	return rows, nil
}

func (f *fakeAdapter) SelectValue(ctx context.Context, sql string, args []interface{}) (interface{}, error) {
	if err := f.record("selectValue", sql, args); err != nil {
		return nil, err
	}
	var v interface{}
	if len(f.values) > 0 {
		v, f.values = f.values[0], f.values[1:]
	}
	return v, nil
}

func (f *fakeAdapter) SelectValues(ctx context.Context, sql string, args []interface{}) ([]interface{}, error) {
	if err := f.record("selectValues", sql, args); err != nil {
		return nil, err
	}
	return f.values, nil
}

func (f *fakeAdapter) Insert(ctx context.Context, sql string, args []interface{}) (interface{}, error) {
	if err := f.record("insert", sql, args); err != nil {
		return nil, err
	}
	var key interface{}
	if len(f.keys) > 0 {
		key, f.keys = f.keys[0], f.keys[1:]
	}
	return key, nil
}

func (f *fakeAdapter) Update(ctx context.Context, sql string, args []interface{}) (int64, error) {
	if err := f.record("update", sql, args); err != nil {
		return 0, err
	}
	return f.nextAffected(), nil
}

func (f *fakeAdapter) Delete(ctx context.Context, sql string, args []interface{}) (int64, error) {
	if err := f.record("delete", sql, args); err != nil {
		return 0, err
	}
	return f.nextAffected(), nil
}

func (f *fakeAdapter) nextAffected() int64 {
	if len(f.affected) == 0 {
		return 1
	}
	n := f.affected[0]
	f.affected = f.affected[1:]
	return n
}

func (f *fakeAdapter) Columns(ctx context.Context, table string) ([]Column, error) {
	f.introspections++
	if err := f.errs["columns"]; err != nil {
		return nil, err
	}
	columns, ok := f.tables[table]
	if !ok {
		return nil, errors.New("no such table: " + table)
	}
	return columns, nil
}

func (f *fakeAdapter) PrimaryKey(ctx context.Context, table string) (string, error) {
	return f.pks[table], nil
}

func (f *fakeAdapter) QuoteTableName(name string) string {
	return f.QuoteColumnName(name)
}

func (f *fakeAdapter) QuoteColumnName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ".")
}

type sliceCursor struct {
	rows   []Row
	pos    int
	closed bool
}

func (c *sliceCursor) Next() bool {
	if c.closed || c.pos+1 >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Row() (Row, error) {
	return c.rows[c.pos], nil
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close() error {
	c.closed = true
	return nil
}

// =====================================
// Test Schema
// =====================================

func testAdapter() *fakeAdapter {
	return newFakeAdapter().
		table("users", "id",
			Column{Name: "id", Type: "INTEGER"},
			Column{Name: "name", Type: "VARCHAR(255)"},
			Column{Name: "email", Type: "VARCHAR(255)"},
			Column{Name: "bio", Type: "TEXT", IsNullable: true},
			Column{Name: "created_at", Type: "INTEGER"},
			Column{Name: "updated_at", Type: "INTEGER"},
		).
		table("posts", "id",
			Column{Name: "id", Type: "INTEGER"},
			Column{Name: "user_id", Type: "INTEGER", IsNullable: true},
			Column{Name: "title", Type: "TEXT"},
		).
		table("tags", "id",
			Column{Name: "id", Type: "INTEGER"},
			Column{Name: "name", Type: "TEXT"},
		)
}

func testSchema() *Schema {
	return NewSchema(
		Definition{
			Name:       "User",
			LazyFields: []string{"bio"},
			LazyRelationships: map[string]Relationship{
				"posts": OneToMany{Mapper: "Post", ForeignKey: "user_id"},
				"tags":  ManyToMany{Mapper: "Tag", Through: "user_tags", LeftKey: "user_id", RightKey: "tag_id"},
			},
		},
		Definition{
			Name: "Post",
			Relationships: map[string]Relationship{
				"author": ManyToOne{Mapper: "User", ForeignKey: "user_id"},
			},
		},
		Definition{
			Name:              "Tag",
			DisableTimestamps: true,
		},
	)
}

func testMapper(adapter *fakeAdapter, name string, opts ...Option) *Mapper {
	m, err := testSchema().NewMapper(name, adapter, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

const (
	selectUsers = `SELECT "users"."id", "users"."name", "users"."email", "users"."created_at", "users"."updated_at" FROM "users"`
	selectPosts = `SELECT "posts"."id", "posts"."user_id", "posts"."title", ` +
		`"author"."id" AS "author@id", "author"."name" AS "author@name", "author"."email" AS "author@email", ` +
		`"author"."created_at" AS "author@created_at", "author"."updated_at" AS "author@updated_at" ` +
		`FROM "posts" LEFT JOIN "users" AS "author" ON "author"."id" = "posts"."user_id"`
	selectTags = `SELECT "tags"."id", "tags"."name" FROM "tags"`
)
