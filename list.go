package rdo

import (
	"context"
	"iter"
)

// =====================================
// Entity List
// =====================================

// List is a lazy, forward-only sequence of entities produced by executing a
// query. Rows are mapped one at a time as the list advances. Rewind
// re-executes the query, so a second pass may observe different rows.
//
// Like sql.Rows, a List keeps the context it was created with for every
// fetch it issues. A List is not safe for concurrent use.
type List struct {
	ctx    context.Context
	mapper *Mapper
	sql    string
	params []interface{}

	cursor  Cursor
	current *Entity
	index   int
	started bool
	primed  bool
	done    bool
	err     error
}

// NewList renders query and returns a list over its results. Nothing is
// executed until the list is first iterated.
func NewList(ctx context.Context, mapper *Mapper, query *Query) (*List, error) {
	if err := query.SetMapper(ctx, mapper); err != nil {
		return nil, err
	}
	sql, params, err := query.Build()
	if err != nil {
		return nil, err
	}
	return NewListSQL(ctx, mapper, sql, params...), nil
}

// NewListSQL returns a list over the results of a raw select.
func NewListSQL(ctx context.Context, mapper *Mapper, sql string, params ...interface{}) *List {
	return &List{
		ctx:    ctx,
		mapper: mapper,
		sql:    sql,
		params: params,
		index:  -1,
	}
}

// SQL returns the select the list executes and its parameters.
func (l *List) SQL() (string, []interface{}) {
	return l.sql, append([]interface{}(nil), l.params...)
}

// Rewind discards any open cursor, re-executes the select and positions the
// list on its first row. The following Next reports that row.
func (l *List) Rewind() error {
	l.closeCursor()
	l.started = true
	l.done = false
	l.err = nil
	l.current = nil
	l.index = -1

	l.mapper.logger.Debug("rdo: select", "table", l.mapper.Table(), "sql", l.sql)
	cursor, err := l.mapper.adapter.Select(l.ctx, l.sql, l.params)
	if err != nil {
		l.err = wrapAdapterError(l.mapper.Table()+": select", err)
		l.done = true
		return l.err
	}
	l.cursor = cursor
	l.fetch()
	l.primed = true
	return l.err
}

// Next advances to the next entity. It returns false when the rows are
// exhausted or an error occurred; check Err afterwards.
func (l *List) Next() bool {
	if !l.started {
		if err := l.Rewind(); err != nil {
			return false
		}
	}
	if l.primed {
		l.primed = false
		return !l.done
	}
	if l.done {
		return false
	}
	l.fetch()
	return !l.done
}

// fetch reads and maps the next row.
func (l *List) fetch() {
	if l.cursor == nil || !l.cursor.Next() {
		if l.cursor != nil {
			if err := l.cursor.Err(); err != nil {
				l.err = wrapAdapterError(l.mapper.Table()+": select", err)
			}
		}
		l.finish()
		return
	}
	row, err := l.cursor.Row()
	if err != nil {
		l.err = wrapAdapterError(l.mapper.Table()+": select", err)
		l.finish()
		return
	}
	entity, err := l.mapper.Map(l.ctx, row)
	if err != nil {
		l.err = err
		l.finish()
		return
	}
	l.current = entity
	l.index++
}

func (l *List) finish() {
	l.done = true
	l.current = nil
	l.closeCursor()
}

func (l *List) closeCursor() {
	if l.cursor != nil {
		_ = l.cursor.Close()
		l.cursor = nil
	}
}

// Current returns the entity at the current position, or nil past the end.
func (l *List) Current() *Entity {
	l.ensureStarted()
	return l.current
}

// Key returns the zero-based position of the current entity.
func (l *List) Key() int {
	l.ensureStarted()
	return l.index
}

// Valid reports whether the list is positioned on an entity.
func (l *List) Valid() bool {
	l.ensureStarted()
	return !l.done && l.current != nil
}

func (l *List) ensureStarted() {
	if !l.started {
		_ = l.Rewind()
	}
}

// Err returns the error, if any, that stopped the iteration.
func (l *List) Err() error {
	return l.err
}

// Close releases the cursor. The list can still be rewound afterwards.
func (l *List) Close() error {
	l.closeCursor()
	l.started = false
	l.primed = false
	l.done = false
	l.current = nil
	l.index = -1
	return nil
}

// All rewinds the list and collects every entity.
func (l *List) All() ([]*Entity, error) {
	if err := l.Rewind(); err != nil {
		return nil, err
	}
	var out []*Entity
	for l.Next() {
		out = append(out, l.current)
	}
	return out, l.err
}

// Entities returns an iterator over a fresh pass of the list. Errors stop the
// iteration and are reported by Err.
func (l *List) Entities() iter.Seq2[int, *Entity] {
	return func(yield func(int, *Entity) bool) {
		if err := l.Rewind(); err != nil {
			return
		}
		defer l.closeCursor()
		for l.Next() {
			if !yield(l.index, l.current) {
				return
			}
		}
	}
}
