package rdo

import (
	"strconv"
	"strings"
)

// =====================================
// Table Metadata
// =====================================

// Column describes a single table column as reported by the adapter.
type Column struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	IsNullable   bool        `json:"nullable"`
	IsPrimaryKey bool        `json:"primary_key"`
	DefaultValue interface{} `json:"default,omitempty"`
}

// TableInfo is the memoized description of a mapper's table.
type TableInfo struct {
	Name       string
	PrimaryKey string
	Columns    []Column
}

// ColumnNames returns the column names in declaration order.
func (t *TableInfo) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Column looks up a column by name.
func (t *TableInfo) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table has the named column.
func (t *TableInfo) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Cast converts a raw driver value into the Go type matching the column's
// declared type. Values that cannot be converted are returned unchanged.
func (c Column) Cast(value interface{}) interface{} {
	if value == nil {
		return nil
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}

	switch c.kind() {
	case "integer":
		switch v := value.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case uint:
			return int64(v)
		case uint32:
			return int64(v)
		case uint64:
			return int64(v)
		case float64:
			return int64(v)
		case bool:
			if v {
				return int64(1)
			}
			return int64(0)
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		}
	case "float":
		switch v := value.(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int64:
			return float64(v)
		case int:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		case int:
			return v != 0
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
	}

	return value
}

// kind folds a dialect-specific column type into a small set of Go kinds.
func (c Column) kind() string {
	t := strings.ToLower(c.Type)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)

	switch {
	case t == "bool" || t == "boolean" || t == "bit":
		return "boolean"
	case strings.Contains(t, "int") || t == "serial" || t == "bigserial":
		return "integer"
	case strings.Contains(t, "real") || strings.Contains(t, "float") ||
		strings.Contains(t, "double") || t == "numeric" || t == "decimal":
		return "float"
	case strings.Contains(t, "char") || strings.Contains(t, "text") || strings.Contains(t, "clob"):
		return "string"
	default:
		return ""
	}
}
