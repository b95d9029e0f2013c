// Package rdogorm provides a GORM adapter for the rdo data mapper
package rdogorm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/lemmego/rdo"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// =====================================
// Adapter Implementation
// =====================================

// Adapter implements rdo.Adapter using GORM's raw SQL surface. GORM
// rewrites the "?" placeholders into the bind variables of its dialector.
type Adapter struct {
	db   *gorm.DB
	keys *keyCache
}

var _ rdo.Adapter = (*Adapter)(nil)

type keyCache struct {
	mutex sync.RWMutex
	pks   map[string]string
}

// Open connects to the database described by config.
func Open(config rdo.Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}
	if logLevel, ok := config.OptionString("gorm", "log_level"); ok {
		switch logLevel {
		case "silent":
			gormConfig.Logger = logger.Default.LogMode(logger.Silent)
		case "error":
			gormConfig.Logger = logger.Default.LogMode(logger.Error)
		case "warn":
			gormConfig.Logger = logger.Default.LogMode(logger.Warn)
		case "info":
			gormConfig.Logger = logger.Default.LogMode(logger.Info)
		}
	}
	if prepare, ok := config.OptionBool("gorm", "prepare_stmt"); ok {
		gormConfig.PrepareStmt = prepare
	}

	var dialector gorm.Dialector
	switch config.Dialect() {
	case rdo.DialectPgSQL:
		dialector = postgres.Open(buildPostgresDSN(config))
	case rdo.DialectMySQL:
		dialector = mysql.Open(buildMySQLDSN(config))
	case rdo.DialectSQLite:
		dialector = sqlite.Open(buildSQLiteDSN(config))
	case rdo.DialectMsSQL:
		dialector = sqlserver.Open(buildSQLServerDSN(config))
	default:
		return nil, rdo.NewError(rdo.ErrorTypeUnsupported, fmt.Sprintf("unsupported driver for gorm: %s", config.Driver))
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, rdo.NewErrorWithCause(rdo.ErrorTypeConnection, "failed to connect to database", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, rdo.NewErrorWithCause(rdo.ErrorTypeConnection, "failed to get underlying sql.DB", err)
	}
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
	// An in-memory database exists per connection.
	if buildSQLiteDSN(config) == ":memory:" && config.Dialect() == rdo.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db), nil
}

// New wraps an existing GORM handle.
func New(db *gorm.DB) *Adapter {
	return &Adapter{db: db, keys: &keyCache{pks: make(map[string]string)}}
}

// DB returns the underlying GORM handle.
func (a *Adapter) DB() *gorm.DB {
	return a.db
}

// Dialect returns the rdo dialect name of the dialector.
func (a *Adapter) Dialect() string {
	return rdo.NormalizeDialect(a.db.Dialector.Name())
}

// Health checks the database connection health
func (a *Adapter) Health(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return rdo.NewErrorWithCause(rdo.ErrorTypeConnection, "failed to get underlying sql.DB", err)
	}
	return convertGormError(sqlDB.PingContext(ctx))
}

// Close closes the database connection
func (a *Adapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn with an adapter bound to a transaction. Nested calls
// use savepoints.
func (a *Adapter) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Adapter) error) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
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
	rows, err := a.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, convertGormError(err)
	}
	cursor, err := rdo.NewRowsCursor(rows)
	if err != nil {
		return nil, convertGormError(err)
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
	return row, convertGormError(err)
}

// SelectAll returns every row of the result.
func (a *Adapter) SelectAll(ctx context.Context, query string, args []interface{}) ([]rdo.Row, error) {
	cursor, err := a.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	rows, err := rdo.AllRows(cursor)
	return rows, convertGormError(err)
}

// SelectValue returns the first column of the first row, or nil.
func (a *Adapter) SelectValue(ctx context.Context, query string, args []interface{}) (interface{}, error) {
	cursor, err := a.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	value, err := rdo.FirstValue(cursor)
	return value, convertGormError(err)
}

// SelectValues returns the first column of every row.
func (a *Adapter) SelectValues(ctx context.Context, query string, args []interface{}) ([]interface{}, error) {
	cursor, err := a.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	values, err := rdo.FirstValues(cursor)
	return values, convertGormError(err)
}

// =====================================
// Write Operations
// =====================================

var (
	insertTable  = regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+([^\s(]+)`)
	insertValues = regexp.MustCompile(`(?i)\)\s*VALUES\s*\(`)
)

// Insert executes an INSERT and returns the generated key. PostgreSQL reads
// it back with RETURNING and SQL Server with OUTPUT; the other dialects use
// the driver's last insert id.
func (a *Adapter) Insert(ctx context.Context, query string, args []interface{}) (interface{}, error) {
	switch a.Dialect() {
	case rdo.DialectPgSQL, rdo.DialectMsSQL:
		pk, err := a.insertKey(ctx, query)
		if err != nil {
			return nil, err
		}
		if a.Dialect() == rdo.DialectPgSQL {
			return a.SelectValue(ctx, query+" RETURNING "+a.QuoteColumnName(pk), args)
		}
		loc := insertValues.FindStringIndex(query)
		if loc == nil {
			return nil, rdo.NewError(rdo.ErrorTypeInvalidArgument, "INSERT without a VALUES clause")
		}
		output := query[:loc[0]+1] + " OUTPUT INSERTED." + a.QuoteColumnName(pk) + query[loc[0]+1:]
		return a.SelectValue(ctx, output, args)
	}

	// A dry run renders the statement with the dialector's bind variables so
	// it can run on the connection pool directly and expose sql.Result.
	dry := a.db.WithContext(ctx).Session(&gorm.Session{DryRun: true}).Exec(query, args...)
	if dry.Error != nil {
		return nil, convertGormError(dry.Error)
	}
	stmt := dry.Statement
	result, err := stmt.ConnPool.ExecContext(ctx, stmt.SQL.String(), stmt.Vars...)
	if err != nil {
		return nil, convertGormError(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, nil
	}
	return id, nil
}

func (a *Adapter) insertKey(ctx context.Context, query string) (string, error) {
	m := insertTable.FindStringSubmatch(query)
	if m == nil {
		return "", rdo.NewError(rdo.ErrorTypeInvalidArgument, "not an INSERT statement")
	}
	return a.PrimaryKey(ctx, unquoteIdent(m[1]))
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
	result := a.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, convertGormError(result.Error)
	}
	return result.RowsAffected, nil
}

// =====================================
// Introspection and Quoting
// =====================================

// Columns describes the columns of a table through the GORM migrator. A
// missing table has no columns.
func (a *Adapter) Columns(ctx context.Context, table string) ([]rdo.Column, error) {
	migrator := a.db.WithContext(ctx).Migrator()
	if !migrator.HasTable(table) {
		return nil, nil
	}
	types, err := migrator.ColumnTypes(table)
	if err != nil {
		return nil, convertGormError(err)
	}

	columns := make([]rdo.Column, 0, len(types))
	for _, ct := range types {
		column := rdo.Column{
			Name: ct.Name(),
			Type: ct.DatabaseTypeName(),
		}
		if nullable, ok := ct.Nullable(); ok {
			column.IsNullable = nullable
		}
		if pk, ok := ct.PrimaryKey(); ok {
			column.IsPrimaryKey = pk
		}
		if def, ok := ct.DefaultValue(); ok {
			column.DefaultValue = def
		}
		if column.IsPrimaryKey {
			column.IsNullable = false
		}
		columns = append(columns, column)
	}

	for _, c := range columns {
		if c.IsPrimaryKey {
			a.keys.store(table, c.Name)
			break
		}
	}
	return columns, nil
}

// PrimaryKey returns the primary key column of a table.
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
	pk, _ := a.keys.load(table)
	return pk, nil
}

// QuoteTableName quotes a table identifier with the dialector.
func (a *Adapter) QuoteTableName(name string) string {
	return a.quote(name)
}

// QuoteColumnName quotes a column identifier with the dialector.
func (a *Adapter) QuoteColumnName(name string) string {
	return a.quote(name)
}

func (a *Adapter) quote(name string) string {
	var builder strings.Builder
	for i, part := range strings.Split(name, ".") {
		if i > 0 {
			builder.WriteByte('.')
		}
		if part == "*" {
			builder.WriteString(part)
			continue
		}
		a.db.Dialector.QuoteTo(&builder, part)
	}
	return builder.String()
}

func unquoteIdent(name string) string {
	parts := strings.Split(name, ".")
	return strings.Trim(parts[len(parts)-1], "\"`[]")
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
// Error Conversion
// =====================================

// convertGormError converts GORM errors to rdo errors
func convertGormError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return rdo.NewErrorWithCause(rdo.ErrorTypeNotFound, "record not found", err)
	case errors.Is(err, gorm.ErrInvalidTransaction):
		return rdo.NewErrorWithCause(rdo.ErrorTypeDatabase, "invalid transaction", err)
	case errors.Is(err, gorm.ErrNotImplemented):
		return rdo.NewErrorWithCause(rdo.ErrorTypeUnsupported, "operation not implemented", err)
	case errors.Is(err, gorm.ErrMissingWhereClause):
		return rdo.NewErrorWithCause(rdo.ErrorTypeInvalidArgument, "missing where clause", err)
	case errors.Is(err, gorm.ErrInvalidData):
		return rdo.NewErrorWithCause(rdo.ErrorTypeInvalidArgument, "invalid data", err)
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "duplicate") || strings.Contains(errStr, "unique"):
		return rdo.NewErrorWithCause(rdo.ErrorTypeDatabase, "duplicate key violation", err)
	case strings.Contains(errStr, "foreign key") || strings.Contains(errStr, "constraint"):
		return rdo.NewErrorWithCause(rdo.ErrorTypeDatabase, "constraint violation", err)
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection refused"):
		return rdo.NewErrorWithCause(rdo.ErrorTypeConnection, "connection error", err)
	default:
		return rdo.NewErrorWithCause(rdo.ErrorTypeDatabase, "database operation failed", err)
	}
}

// =====================================
// DSN Builders
// =====================================

// buildPostgresDSN builds a PostgreSQL DSN
func buildPostgresDSN(config rdo.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		config.Host, port(config, 5432), config.Username, config.Password, config.Database)

	if config.SSL.Enabled {
		dsn += " sslmode=" + config.SSL.Mode
		if config.SSL.CertFile != "" {
			dsn += " sslcert=" + config.SSL.CertFile
		}
		if config.SSL.KeyFile != "" {
			dsn += " sslkey=" + config.SSL.KeyFile
		}
		if config.SSL.CAFile != "" {
			dsn += " sslrootcert=" + config.SSL.CAFile
		}
	} else {
		dsn += " sslmode=disable"
	}

	return dsn
}

// buildMySQLDSN builds a MySQL DSN
func buildMySQLDSN(config rdo.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		config.Username, config.Password, config.Host, port(config, 3306), config.Database)

	if config.SSL.Enabled {
		dsn += "&tls=" + config.SSL.Mode
	}

	return dsn
}

// buildSQLServerDSN builds a SQL Server DSN
func buildSQLServerDSN(config rdo.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
		config.Username, config.Password, config.Host, port(config, 1433), config.Database)
}

// buildSQLiteDSN returns the database file, or the connection URL when set
func buildSQLiteDSN(config rdo.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}
	return config.Database
}

func port(config rdo.Config, fallback int) int {
	if config.Port > 0 {
		return config.Port
	}
	return fallback
}
