package rdo

import "database/sql"

// =====================================
// database/sql Cursor
// =====================================

// RowsCursor adapts *sql.Rows to Cursor for adapters built on database/sql.
type RowsCursor struct {
	rows    *sql.Rows
	columns []string
	closed  bool
}

var _ Cursor = (*RowsCursor)(nil)

// NewRowsCursor wraps rows. The rows are closed if their columns cannot be read.
func NewRowsCursor(rows *sql.Rows) (*RowsCursor, error) {
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &RowsCursor{rows: rows, columns: columns}, nil
}

// Columns returns the result column names in select order.
func (c *RowsCursor) Columns() []string {
	return c.columns
}

// Next advances to the next row.
func (c *RowsCursor) Next() bool {
	if c.closed {
		return false
	}
	return c.rows.Next()
}

// Values scans the current row in column order. Byte slices are copied
// into strings since the driver reuses them on the next scan.
func (c *RowsCursor) Values() ([]interface{}, error) {
	values := make([]interface{}, len(c.columns))
	ptrs := make([]interface{}, len(c.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}

// Row scans the current row keyed by column name.
func (c *RowsCursor) Row() (Row, error) {
	values, err := c.Values()
	if err != nil {
		return nil, err
	}
	row := make(Row, len(c.columns))
	for i, name := range c.columns {
		row[name] = values[i]
	}
	return row, nil
}

// Err returns the error encountered during iteration.
func (c *RowsCursor) Err() error {
	return c.rows.Err()
}

// Close releases the rows. It is safe to call more than once.
func (c *RowsCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

// FirstRow reads the first row of c and closes it. It returns nil when the
// result is empty.
func FirstRow(c *RowsCursor) (Row, error) {
	defer c.Close()
	if !c.Next() {
		return nil, c.Err()
	}
	return c.Row()
}

// AllRows reads every row of c and closes it.
func AllRows(c *RowsCursor) ([]Row, error) {
	defer c.Close()
	var rows []Row
	for c.Next() {
		row, err := c.Row()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, c.Err()
}

// FirstValue reads the first column of the first row of c and closes it.
func FirstValue(c *RowsCursor) (interface{}, error) {
	defer c.Close()
	if !c.Next() {
		return nil, c.Err()
	}
	values, err := c.Values()
	if err != nil || len(values) == 0 {
		return nil, err
	}
	return values[0], nil
}

// FirstValues reads the first column of every row of c and closes it.
func FirstValues(c *RowsCursor) ([]interface{}, error) {
	defer c.Close()
	var result []interface{}
	for c.Next() {
		values, err := c.Values()
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			result = append(result, values[0])
		}
	}
	return result, c.Err()
}
