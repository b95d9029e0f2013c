package rdo

import "context"

// =====================================
// Database Adapter Interface
// =====================================

// Adapter is the database capability the mapper consumes. Implementations
// execute SQL text with positional "?" parameters and own the dialect,
// connection handling and pooling. See the rdobun and rdogorm packages.
type Adapter interface {
	// ===============================
	// Read Operations
	// ===============================

	// Select executes a query and returns a forward-only cursor over its rows.
	// The caller must Close the cursor.
	Select(ctx context.Context, sql string, args []interface{}) (Cursor, error)

	// SelectOne returns the first row of the result, or nil when there is none.
	SelectOne(ctx context.Context, sql string, args []interface{}) (Row, error)

	// SelectAll returns every row of the result.
	SelectAll(ctx context.Context, sql string, args []interface{}) ([]Row, error)

	// SelectValue returns the first column of the first row, or nil.
	SelectValue(ctx context.Context, sql string, args []interface{}) (interface{}, error)

	// SelectValues returns the first column of every row.
	SelectValues(ctx context.Context, sql string, args []interface{}) ([]interface{}, error)

	// ===============================
	// Write Operations
	// ===============================

	// Insert executes an INSERT and returns the generated key.
	Insert(ctx context.Context, sql string, args []interface{}) (interface{}, error)

	// Update executes an UPDATE and returns the number of rows affected.
	Update(ctx context.Context, sql string, args []interface{}) (int64, error)

	// Delete executes a DELETE and returns the number of rows affected.
	Delete(ctx context.Context, sql string, args []interface{}) (int64, error)

	// ===============================
	// Introspection and Quoting
	// ===============================

	// Columns describes the columns of a table in declaration order.
	Columns(ctx context.Context, table string) ([]Column, error)

	// PrimaryKey returns the primary key column of a table.
	PrimaryKey(ctx context.Context, table string) (string, error)

	// QuoteTableName quotes a table identifier for the adapter's dialect.
	QuoteTableName(name string) string

	// QuoteColumnName quotes a column identifier for the adapter's dialect.
	// Qualified names ("table.column") are quoted per segment.
	QuoteColumnName(name string) string
}

// Cursor is a forward-only result cursor returned by Adapter.Select.
type Cursor interface {
	// Next advances to the next row. It returns false when the rows are
	// exhausted or an error occurred.
	Next() bool

	// Row returns the current row.
	Row() (Row, error)

	// Err returns the error, if any, that was encountered during iteration.
	Err() error

	// Close releases the cursor.
	Close() error
}
