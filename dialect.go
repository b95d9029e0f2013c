package rdo

// Dialect constants
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
	DialectPgSQL  = "pgsql"
	DialectMsSQL  = "mssql"
)

// SupportedDialects is a list of all supported database dialects
var SupportedDialects = []string{
	DialectSQLite,
	DialectMySQL,
	DialectPgSQL,
	DialectMsSQL,
}

// dialectAliases maps driver names accepted in configuration to dialects.
var dialectAliases = map[string]string{
	"sqlite":     DialectSQLite,
	"sqlite3":    DialectSQLite,
	"mysql":      DialectMySQL,
	"postgres":   DialectPgSQL,
	"postgresql": DialectPgSQL,
	"pgsql":      DialectPgSQL,
	"mssql":      DialectMsSQL,
	"sqlserver":  DialectMsSQL,
}

// IsDialectSupported checks if the given dialect is supported
func IsDialectSupported(dialect string) bool {
	for _, d := range SupportedDialects {
		if d == dialect {
			return true
		}
	}
	return false
}

// NormalizeDialect maps a driver name to its dialect, or "" if unknown.
func NormalizeDialect(driver string) string {
	return dialectAliases[driver]
}
