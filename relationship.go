package rdo

import (
	"regexp"
	"strings"
)

// =====================================
// Relationship Descriptors
// =====================================

// Relationship describes how an entity type relates to another one. The set of
// implementations is closed: OneToOne, ManyToOne, OneToMany and ManyToMany.
// Each variant carries exactly what its resolution needs.
type Relationship interface {
	// Type returns the cardinality of the relationship.
	Type() RelationType

	// Target returns the name of the related definition. Empty means the
	// relationship name itself is used to look the definition up.
	Target() string

	relationship()
}

// JoinTerm is one "column = value" term of a join template. Value may be a
// bound value, a Literal, or a string containing @field@ placeholders that
// refer to fields of the owning entity.
type JoinTerm struct {
	Column string
	Value  interface{}
}

// JoinTemplate is an ordered join condition used instead of a plain foreign
// key for to-one relationships.
type JoinTemplate []JoinTerm

// OneToOne relates this entity to at most one other entity. ForeignKey is a
// field of this entity holding the related primary key.
type OneToOne struct {
	Mapper     string
	ForeignKey string
	Query      JoinTemplate
}

// ManyToOne relates many entities of this type to one other entity.
// ForeignKey is a field of this entity holding the related primary key.
type ManyToOne struct {
	Mapper     string
	ForeignKey string
	Query      JoinTemplate
}

// OneToMany relates this entity to many entities. ForeignKey is a field of
// the related entity holding this entity's primary key.
type OneToMany struct {
	Mapper     string
	ForeignKey string
}

// ManyToMany relates entities through a join table. LeftKey is the through
// column holding this entity's key and RightKey the one holding the related
// key. Both default to the respective primary key names.
type ManyToMany struct {
	Mapper   string
	Through  string
	LeftKey  string
	RightKey string
}

func (OneToOne) Type() RelationType   { return RelationOneToOne }
func (ManyToOne) Type() RelationType  { return RelationManyToOne }
func (OneToMany) Type() RelationType  { return RelationOneToMany }
func (ManyToMany) Type() RelationType { return RelationManyToMany }

func (r OneToOne) Target() string   { return r.Mapper }
func (r ManyToOne) Target() string  { return r.Mapper }
func (r OneToMany) Target() string  { return r.Mapper }
func (r ManyToMany) Target() string { return r.Mapper }

func (OneToOne) relationship()   {}
func (ManyToOne) relationship()  {}
func (OneToMany) relationship()  {}
func (ManyToMany) relationship() {}

// toOne returns the owning-side foreign key and join template of a to-one
// relationship.
func toOne(rel Relationship) (foreignKey string, template JoinTemplate, ok bool) {
	switch r := rel.(type) {
	case OneToOne:
		return r.ForeignKey, r.Query, true
	case ManyToOne:
		return r.ForeignKey, r.Query, true
	}
	return "", nil, false
}

// =====================================
// Placeholders
// =====================================

var placeholderPattern = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)@`)

// placeholders returns the field names referenced by @field@ in s.
func placeholders(s string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	fields := make([]string, 0, len(matches))
	for _, m := range matches {
		fields = append(fields, m[1])
	}
	return fields
}

// fillPlaceholders resolves every @field@ in a template value. A value that
// is exactly one placeholder is replaced by the field value itself so its
// type survives binding; placeholders embedded in longer text are replaced
// by their string form.
func fillPlaceholders(value interface{}, lookup func(field string) interface{}) interface{} {
	s, ok := value.(string)
	if !ok {
		return value
	}
	fields := placeholders(s)
	if len(fields) == 0 {
		return value
	}
	if len(fields) == 1 && s == "@"+fields[0]+"@" {
		return lookup(fields[0])
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		v := lookup(strings.Trim(m, "@"))
		if v == nil {
			return ""
		}
		return toString(v)
	})
}
