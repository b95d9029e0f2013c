package rdo

// =====================================
// Core Types and Constants
// =====================================

// Row is a single database row keyed by column name (or column alias).
type Row map[string]interface{}

// Filter is an associative equality filter. Every entry becomes a
// "field = value" test and the tests are combined with AND.
type Filter map[string]interface{}

// Keys is an ordered set of primary key values. Every key becomes a
// "pk = value" test and the tests are combined with OR.
type Keys []interface{}

// Literal is a SQL fragment that is rendered verbatim instead of being
// bound as a parameter. Used for column-to-column comparisons in joins.
type Literal string

// Operator represents query test operators
type Operator string

const (
	OpEqual              Operator = "="
	OpNotEqual           Operator = "!="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpLike               Operator = "LIKE"
	OpNotLike            Operator = "NOT LIKE"
	OpIn                 Operator = "IN"
	OpNotIn              Operator = "NOT IN"
)

// LogicOperator represents the conjunction used to combine tests
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// JoinType represents types of table joins
type JoinType string

const (
	JoinInner JoinType = "INNER JOIN"
	JoinLeft  JoinType = "LEFT JOIN"
)

// RelationType represents the cardinality of a relationship
type RelationType string

const (
	RelationOneToOne   RelationType = "one_to_one"
	RelationManyToOne  RelationType = "many_to_one"
	RelationOneToMany  RelationType = "one_to_many"
	RelationManyToMany RelationType = "many_to_many"
)

// IsToOne reports whether the relation resolves to at most one entity.
func (t RelationType) IsToOne() bool {
	return t == RelationOneToOne || t == RelationManyToOne
}

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeConfiguration   ErrorType = "configuration"
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	ErrorTypeIntegrity       ErrorType = "integrity"
	ErrorTypeDatabase        ErrorType = "database"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConnection      ErrorType = "connection"
	ErrorTypeUnsupported     ErrorType = "unsupported"
)

// Timestamp columns maintained by Create and Update.
const (
	CreatedAtField = "created_at"
	UpdatedAtField = "updated_at"
)
