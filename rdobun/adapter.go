// Package rdobun provides a Bun adapter for the rdo data mapper
package rdobun

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/lemmego/rdo"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// =====================================
// Adapter Implementation
// =====================================

// Adapter implements rdo.Adapter on top of a bun database handle. Statements
// are passed through bun's formatter, which binds the "?" placeholders for
// every dialect.
type Adapter struct {
	db   bun.IDB
	root *bun.DB
	keys *keyCache
}

var _ rdo.Adapter = (*Adapter)(nil)

// keyCache memoizes primary key lookups and is shared with transactions.
type keyCache struct {
	mutex sync.RWMutex
	pks   map[string]string
}

// Open connects to the database described by config.
func Open(config rdo.Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var sqlDB *sql.DB
	var err error

	switch config.Dialect() {
	case rdo.DialectPgSQL:
		if driverName, _ := config.OptionString("bun", "pg_driver"); driverName == "pgdriver" {
			sqlDB = createPgDriverConnection(config)
		} else {
			sqlDB, err = createPostgresConnection(config)
		}
	case rdo.DialectMySQL:
		sqlDB, err = createMySQLConnection(config)
	case rdo.DialectSQLite:
		sqlDB, err = createSQLiteConnection(config)
	default:
		return nil, rdo.NewError(rdo.ErrorTypeUnsupported, fmt.Sprintf("unsupported driver for bun: %s", config.Driver))
	}
	if err != nil {
		return nil, rdo.NewErrorWithCause(rdo.ErrorTypeConnection, "failed to connect to database", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	var bunDB *bun.DB
	switch config.Dialect() {
	case rdo.DialectPgSQL:
		bunDB = bun.NewDB(sqlDB, pgdialect.New())
	case rdo.DialectMySQL:
		bunDB = bun.NewDB(sqlDB, mysqldialect.New())
	case rdo.DialectSQLite:
		bunDB = bun.NewDB(sqlDB, sqlitedialect.New())
	}

	if logLevel, ok := config.OptionString("bun", "log_level"); ok && logLevel != "silent" {
		bunDB.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(logLevel == "debug"),
		))
	}

	return New(bunDB), nil
}

// New wraps an existing bun database.
func New(db *bun.DB) *Adapter {
	return &Adapter{
		db:   db,
		root: db,
		keys: &keyCache{pks: make(map[string]string)},
	}
}

// DB returns the underlying bun handle, which is a bun.Tx inside Transaction.
func (a *Adapter) DB() bun.IDB {
	return a.db
}

// Dialect returns the rdo dialect name of the connection.
func (a *Adapter) Dialect() string {
	switch a.db.Dialect().Name() {
	case dialect.PG:
		return rdo.DialectPgSQL
	case dialect.MySQL:
		return rdo.DialectMySQL
	case dialect.SQLite:
		return rdo.DialectSQLite
	case dialect.MSSQL:
		return rdo.DialectMsSQL
	}
	return ""
}

// Health pings the database.
func (a *Adapter) Health(ctx context.Context) error {
	if a.root == nil {
		return nil
	}
	return convertBunError(a.root.PingContext(ctx))
}

// Close closes the connection pool. Closing a transaction adapter is a no-op.
func (a *Adapter) Close() error {
	if a.root == nil {
		return nil
	}
	return a.root.Close()
}

// Transaction runs fn with an adapter bound to a single transaction. The
// transaction is committed when fn returns nil and rolled back otherwise.
// Nested calls reuse the running transaction.
func (a *Adapter) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Adapter) error) error {
	var bunDB *bun.DB
	switch db := a.db.(type) {
	case *bun.DB:
		bunDB = db
	case bun.Tx:
		return fn(ctx, a)
	default:
		return rdo.NewError(rdo.ErrorTypeUnsupported, "unable to start transaction: invalid database type")
	}

	return bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Adapter{db: tx, keys: a.keys})
	})
}

// =====================================
// Read Operations
// =====================================

// Select executes a query and returns a cursor over its rows.
func (a *Adapter) Select(ctx context.Context, query string, args []interface{}) (rdo.Cursor, error) {
	cursor, err := a.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (a *Adapter) query(ctx context.Context, query string, args []interface{}) (*rdo.RowsCursor, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, convertBunError(err)
	}
	cursor, err := rdo.NewRowsCursor(rows)
	if err != nil {
		return nil, convertBunError(err)
	}
	return cursor, nil
}

// SelectOne returns the first row, or nil when there is none.
func (a *Adapter) SelectOne(ctx context.Context, query string, args []interface{}) (rdo.Row, error) {
	cursor, err := a.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	row, err := rdo.FirstRow(cursor)
	return row, convertBunError(err)
}

// SelectAll returns every row of the result.
func (a *Adapter) SelectAll(ctx context.Context, query string, args []interface{}) ([]rdo.Row, error) {
	cursor, err := a.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	rows, err := rdo.AllRows(cursor)
	return rows, convertBunError(err)
}

// SelectValue returns the first column of the first row, or nil.
func (a *Adapter) SelectValue(ctx context.Context, query string, args []interface{}) (interface{}, error) {
	cursor, err := a.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	value, err := rdo.FirstValue(cursor)
	return value, convertBunError(err)
}

// SelectValues returns the first column of every row.
func (a *Adapter) SelectValues(ctx context.Context, query string, args []interface{}) ([]interface{}, error) {
	cursor, err := a.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	values, err := rdo.FirstValues(cursor)
	return values, convertBunError(err)
}

// =====================================
// Write Operations
// =====================================

var insertTable = regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+([^\s(]+)`)

// Insert executes an INSERT and returns the generated key. On PostgreSQL the
// key is read back with a RETURNING clause on the table's primary key.
func (a *Adapter) Insert(ctx context.Context, query string, args []interface{}) (interface{}, error) {
	if a.db.Dialect().Name() == dialect.PG && !strings.Contains(strings.ToUpper(query), "RETURNING") {
		m := insertTable.FindStringSubmatch(query)
		if m == nil {
			return nil, rdo.NewError(rdo.ErrorTypeInvalidArgument, "not an INSERT statement")
		}
		pk, err := a.PrimaryKey(ctx, unquoteIdent(m[1]))
		if err != nil {
			return nil, err
		}
		return a.SelectValue(ctx, query+" RETURNING "+a.QuoteColumnName(pk), args)
	}

	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, convertBunError(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, nil
	}
	return id, nil
}

// Update executes an UPDATE and returns the number of rows affected.
func (a *Adapter) Update(ctx context.Context, query string, args []interface{}) (int64, error) {
	return a.exec(ctx, query, args)
}

// Delete executes a DELETE and returns the number of rows affected.
func (a *Adapter) Delete(ctx context.Context, query string, args []interface{}) (int64, error) {
	return a.exec(ctx, query, args)
}

func (a *Adapter) exec(ctx context.Context, query string, args []interface{}) (int64, error) {
	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, convertBunError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, convertBunError(err)
	}
	return n, nil
}

// =====================================
// Introspection and Quoting
// =====================================

type columnInfo struct {
	Name       string  `bun:"column_name"`
	Type       string  `bun:"data_type"`
	IsNullable string  `bun:"is_nullable"`
	Default    *string `bun:"column_default"`
	Key        string  `bun:"column_key"`
}

type pragmaColumn struct {
	CID     int     `bun:"cid"`
	Name    string  `bun:"name"`
	Type    string  `bun:"type"`
	NotNull int     `bun:"column:notnull"`
	Default *string `bun:"dflt_value"`
	PK      int     `bun:"pk"`
}

// Columns describes the columns of a table in declaration order.
func (a *Adapter) Columns(ctx context.Context, table string) ([]rdo.Column, error) {
	var columns []rdo.Column

	switch a.db.Dialect().Name() {
	case dialect.SQLite:
		var pragma []pragmaColumn
		if err := a.db.NewRaw("PRAGMA table_info(?)", table).Scan(ctx, &pragma); err != nil {
			return nil, convertBunError(err)
		}
		for _, p := range pragma {
			columns = append(columns, rdo.Column{
				Name:         p.Name,
				Type:         p.Type,
				IsNullable:   p.NotNull == 0 && p.PK == 0,
				IsPrimaryKey: p.PK == 1,
				DefaultValue: defaultValue(p.Default),
			})
		}

	case dialect.PG:
		var info []columnInfo
		err := a.db.NewRaw(`
			SELECT
				c.column_name,
				c.data_type,
				c.is_nullable,
				c.column_default,
				CASE WHEN k.column_name IS NULL THEN '' ELSE 'PRI' END AS column_key
			FROM information_schema.columns c
			LEFT JOIN information_schema.table_constraints t
				ON t.table_schema = c.table_schema AND t.table_name = c.table_name AND t.constraint_type = 'PRIMARY KEY'
			LEFT JOIN information_schema.key_column_usage k
				ON k.constraint_name = t.constraint_name AND k.table_schema = c.table_schema AND k.column_name = c.column_name
			WHERE c.table_schema = current_schema() AND c.table_name = ?
			ORDER BY c.ordinal_position
		`, table).Scan(ctx, &info)
		if err != nil {
			return nil, convertBunError(err)
		}
		columns = fromColumnInfo(info)

	case dialect.MySQL:
		var info []columnInfo
		err := a.db.NewRaw(`
			SELECT
				column_name AS column_name,
				column_type AS data_type,
				is_nullable AS is_nullable,
				column_default AS column_default,
				column_key AS column_key
			FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ?
			ORDER BY ordinal_position
		`, table).Scan(ctx, &info)
		if err != nil {
			return nil, convertBunError(err)
		}
		columns = fromColumnInfo(info)

	default:
		return nil, rdo.NewError(rdo.ErrorTypeUnsupported, fmt.Sprintf("column introspection is not supported for %s", a.db.Dialect().Name()))
	}

	for _, c := range columns {
		if c.IsPrimaryKey {
			a.keys.store(table, c.Name)
			break
		}
	}
	return columns, nil
}

func fromColumnInfo(info []columnInfo) []rdo.Column {
	columns := make([]rdo.Column, 0, len(info))
	for _, c := range info {
		columns = append(columns, rdo.Column{
			Name:         c.Name,
			Type:         c.Type,
			IsNullable:   strings.EqualFold(c.IsNullable, "YES"),
			IsPrimaryKey: c.Key == "PRI",
			DefaultValue: defaultValue(c.Default),
		})
	}
	return columns
}

func defaultValue(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// PrimaryKey returns the primary key column of a table. Composite keys
// report their first column.
func (a *Adapter) PrimaryKey(ctx context.Context, table string) (string, error) {
	if pk, ok := a.keys.load(table); ok {
		return pk, nil
	}
	columns, err := a.Columns(ctx, table)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", rdo.NewError(rdo.ErrorTypeNotFound, fmt.Sprintf("table %s has no columns", table))
	}
	if pk, ok := a.keys.load(table); ok {
		return pk, nil
	}
	return "", nil
}

// QuoteTableName quotes a table identifier.
func (a *Adapter) QuoteTableName(name string) string {
	return a.quote(name)
}

// QuoteColumnName quotes a column identifier, segment by segment.
func (a *Adapter) QuoteColumnName(name string) string {
	return a.quote(name)
}

func (a *Adapter) quote(name string) string {
	q := string(a.db.Dialect().IdentQuote())
	parts := strings.Split(name, ".")
	for i, part := range parts {
		if part == "*" {
			continue
		}
		parts[i] = q + strings.ReplaceAll(part, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

func unquoteIdent(name string) string {
	parts := strings.Split(name, ".")
	last := parts[len(parts)-1]
	return strings.Trim(last, "\"`[]")
}

func (c *keyCache) load(table string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	pk, ok := c.pks[table]
	return pk, ok
}

func (c *keyCache) store(table, pk string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.pks[table] = pk
}

// =====================================
// Connection Helpers
// =====================================

// createPostgresConnection creates a PostgreSQL connection through lib/pq
func createPostgresConnection(config rdo.Config) (*sql.DB, error) {
	return sql.Open("postgres", buildPostgresDSN(config))
}

// createPgDriverConnection creates a PostgreSQL connection using pgdriver
func createPgDriverConnection(config rdo.Config) *sql.DB {
	connector := pgdriver.NewConnector(pgdriver.WithDSN(buildPostgresDSN(config)))
	return sql.OpenDB(connector)
}

// createMySQLConnection creates a MySQL connection
func createMySQLConnection(config rdo.Config) (*sql.DB, error) {
	if config.ConnectionURL != "" {
		return sql.Open("mysql", config.ConnectionURL)
	}

	mysqlConfig := mysql.NewConfig()
	mysqlConfig.User = config.Username
	mysqlConfig.Passwd = config.Password
	mysqlConfig.Net = "tcp"
	mysqlConfig.Addr = fmt.Sprintf("%s:%d", config.Host, port(config, 3306))
	mysqlConfig.DBName = config.Database
	if config.SSL.Enabled {
		mysqlConfig.TLSConfig = config.SSL.Mode
	}

	return sql.Open("mysql", mysqlConfig.FormatDSN())
}

// createSQLiteConnection creates a SQLite connection. An in-memory database
// exists per connection, so the pool is pinned to one.
func createSQLiteConnection(config rdo.Config) (*sql.DB, error) {
	dsn := config.Database
	if config.ConnectionURL != "" {
		dsn = config.ConnectionURL
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// buildPostgresDSN builds a PostgreSQL DSN string
func buildPostgresDSN(config rdo.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		config.Username, config.Password, config.Host, port(config, 5432), config.Database)

	params := []string{}
	if config.SSL.Enabled {
		params = append(params, "sslmode="+config.SSL.Mode)
		if config.SSL.CertFile != "" {
			params = append(params, "sslcert="+config.SSL.CertFile)
		}
		if config.SSL.KeyFile != "" {
			params = append(params, "sslkey="+config.SSL.KeyFile)
		}
		if config.SSL.CAFile != "" {
			params = append(params, "sslrootcert="+config.SSL.CAFile)
		}
	} else {
		params = append(params, "sslmode=disable")
	}

	return dsn + "?" + strings.Join(params, "&")
}

func port(config rdo.Config, fallback int) int {
	if config.Port > 0 {
		return config.Port
	}
	return fallback
}

// =====================================
// Error Conversion
// =====================================

// convertBunError converts driver errors to rdo errors
func convertBunError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return rdo.NewErrorWithCause(rdo.ErrorTypeNotFound, "record not found", err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone),
		strings.Contains(msg, "connection refused"), strings.Contains(msg, "timeout"):
		return rdo.NewErrorWithCause(rdo.ErrorTypeConnection, "connection error", err)
	case strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique"):
		return rdo.NewErrorWithCause(rdo.ErrorTypeDatabase, "duplicate key violation", err)
	case strings.Contains(msg, "foreign key") || strings.Contains(msg, "constraint"):
		return rdo.NewErrorWithCause(rdo.ErrorTypeDatabase, "constraint violation", err)
	default:
		return rdo.NewErrorWithCause(rdo.ErrorTypeDatabase, "database operation failed", err)
	}
}
