package rdo

import (
	"context"
	"reflect"
	"testing"
)

func buildQuery(t *testing.T, q *Query) (string, []interface{}) {
	t.Helper()
	sql, params, err := q.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return sql, params
}

func TestQuerySetMapperSeedsEagerFields(t *testing.T) {
	ctx := context.Background()
	users := testMapper(testAdapter(), "User")

	q, err := users.NewQuery(ctx)
	if err != nil {
		t.Fatalf("NewQuery failed: %v", err)
	}

	sql, params := buildQuery(t, q)
	if sql != selectUsers {
		t.Errorf("Expected %q, got %q", selectUsers, sql)
	}
	if len(params) != 0 {
		t.Errorf("Expected no params, got %v", params)
	}
	for _, f := range q.Fields() {
		if f == "users.bio" {
			t.Error("Lazy field bio must not be selected")
		}
	}
}

func TestQuerySetMapperJoinsEagerToOne(t *testing.T) {
	ctx := context.Background()
	posts := testMapper(testAdapter(), "Post")

	q, err := posts.NewQuery(ctx)
	if err != nil {
		t.Fatalf("NewQuery failed: %v", err)
	}

	sql, _ := buildQuery(t, q)
	if sql != selectPosts {
		t.Errorf("Expected %q, got %q", selectPosts, sql)
	}

	join, ok := q.Relationship("author")
	if !ok {
		t.Fatal("Expected author join")
	}
	if join.JoinType != JoinLeft {
		t.Errorf("Expected LEFT JOIN for a nullable foreign key, got %s", join.JoinType)
	}
}

func TestQueryAddRelationshipDerivesJoinType(t *testing.T) {
	users := testMapper(testAdapter(), "User")

	tests := []struct {
		relType  RelationType
		expected JoinType
	}{
		{RelationOneToOne, JoinInner},
		{RelationManyToOne, JoinInner},
		{RelationOneToMany, JoinLeft},
		{RelationManyToMany, JoinLeft},
	}

	for _, tt := range tests {
		q := NewQuery()
		if err := q.AddRelationship("rel", Join{Mapper: users, Type: tt.relType}); err != nil {
			t.Fatalf("AddRelationship failed: %v", err)
		}
		join, _ := q.Relationship("rel")
		if join.JoinType != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.relType, tt.expected, join.JoinType)
		}
		if join.Table != "users" || join.Alias != "rel" {
			t.Errorf("%s: expected table users aliased rel, got %s AS %s", tt.relType, join.Table, join.Alias)
		}
	}

	if err := NewQuery().AddRelationship("rel", Join{}); !IsConfiguration(err) {
		t.Errorf("Expected configuration error for a join without mapper or table, got %v", err)
	}
}

func TestQueryTemplateJoin(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	schema := NewSchema(
		Definition{Name: "User"},
		Definition{
			Name: "Post",
			Relationships: map[string]Relationship{
				"author": OneToOne{Mapper: "User", Query: JoinTemplate{
					{Column: "id", Value: "@user_id@"},
					{Column: "name", Value: "anonymous"},
				}},
			},
		},
	)
	posts, err := schema.NewMapper("Post", adapter)
	if err != nil {
		t.Fatalf("NewMapper failed: %v", err)
	}

	q, err := posts.NewQuery(ctx)
	if err != nil {
		t.Fatalf("NewQuery failed: %v", err)
	}
	q.SetFields("posts.", "id")

	sql, params := buildQuery(t, q)
	expected := `SELECT "posts"."id" FROM "posts" INNER JOIN "users" AS "author" ON "author"."id" = "posts"."user_id" AND "author"."name" = ?`
	if sql != expected {
		t.Errorf("Expected %q, got %q", expected, sql)
	}
	if !reflect.DeepEqual(params, []interface{}{"anonymous"}) {
		t.Errorf("Expected [anonymous], got %v", params)
	}
}

func TestQueryTests(t *testing.T) {
	users := testMapper(testAdapter(), "User")
	ctx := context.Background()

	tests := []struct {
		name     string
		build    func(q *Query)
		where    string
		expected []interface{}
	}{
		{
			name:     "equality",
			build:    func(q *Query) { q.AddTest("name", OpEqual, "Ann") },
			where:    ` WHERE "users"."name" = ?`,
			expected: []interface{}{"Ann"},
		},
		{
			name: "or conjunction",
			build: func(q *Query) {
				q.CombineWith(LogicOr).AddTest("id", OpEqual, 1).AddTest("id", OpEqual, 2)
			},
			where:    ` WHERE "users"."id" = ? OR "users"."id" = ?`,
			expected: []interface{}{1, 2},
		},
		{
			name:  "is null",
			build: func(q *Query) { q.AddTest("email", OpEqual, nil) },
			where: ` WHERE "users"."email" IS NULL`,
		},
		{
			name:  "is not null",
			build: func(q *Query) { q.AddTest("email", OpNotEqual, nil) },
			where: ` WHERE "users"."email" IS NOT NULL`,
		},
		{
			name:     "in list",
			build:    func(q *Query) { q.AddTest("id", OpIn, []int{1, 2, 3}) },
			where:    ` WHERE "users"."id" IN (?, ?, ?)`,
			expected: []interface{}{1, 2, 3},
		},
		{
			name:  "empty in list",
			build: func(q *Query) { q.AddTest("id", OpIn, Keys{}) },
			where: ` WHERE 1 = 0`,
		},
		{
			name:  "literal",
			build: func(q *Query) { q.AddTest("updated_at", OpGreaterThan, Literal("users.created_at")) },
			where: ` WHERE "users"."updated_at" > "users"."created_at"`,
		},
		{
			name:     "qualified field",
			build:    func(q *Query) { q.AddTest("user_tags.user_id", OpEqual, 7) },
			where:    ` WHERE "user_tags"."user_id" = ?`,
			expected: []interface{}{7},
		},
		{
			name:     "like",
			build:    func(q *Query) { q.AddTest("email", OpLike, "%@x.com") },
			where:    ` WHERE "users"."email" LIKE ?`,
			expected: []interface{}{"%@x.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := users.NewQuery(ctx)
			if err != nil {
				t.Fatalf("NewQuery failed: %v", err)
			}
			tt.build(q)
			sql, params := buildQuery(t, q)
			if sql != selectUsers+tt.where {
				t.Errorf("Expected %q, got %q", selectUsers+tt.where, sql)
			}
			if len(params) != len(tt.expected) || (len(params) > 0 && !reflect.DeepEqual(params, tt.expected)) {
				t.Errorf("Expected params %v, got %v", tt.expected, params)
			}
		})
	}
}

func TestQuerySortLimitDistinct(t *testing.T) {
	users := testMapper(testAdapter(), "User")
	users.SortBy("name DESC")

	q, err := users.NewQuery(context.Background())
	if err != nil {
		t.Fatalf("NewQuery failed: %v", err)
	}
	q.SetDistinct(true).Limit(10, 20)

	sql, _ := buildQuery(t, q)
	expected := `SELECT DISTINCT` + selectUsers[len("SELECT"):] + ` ORDER BY name DESC LIMIT 10 OFFSET 20`
	if sql != expected {
		t.Errorf("Expected %q, got %q", expected, sql)
	}

	q.ClearSort().Limit(0)
	q.SetDistinct(false)
	sql, _ = buildQuery(t, q)
	if sql != selectUsers {
		t.Errorf("Expected %q, got %q", selectUsers, sql)
	}
}

func TestQueryKeepsExplicitSort(t *testing.T) {
	ctx := context.Background()
	tags := testMapper(testAdapter(), "Tag")
	tags.SortBy("name ASC")

	q, err := CreateQuery(ctx, NewQuery().SortBy("name DESC"), tags)
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	sql, _ := buildQuery(t, q)
	if expected := selectTags + ` ORDER BY name DESC`; sql != expected {
		t.Errorf("Expected %q, got %q", expected, sql)
	}

	q, err = CreateQuery(ctx, nil, tags)
	if err != nil {
		t.Fatalf("CreateQuery failed: %v", err)
	}
	sql, _ = buildQuery(t, q)
	if expected := selectTags + ` ORDER BY name ASC`; sql != expected {
		t.Errorf("Expected default sort %q, got %q", expected, sql)
	}
}

func TestQueryOffsetRequiresLimit(t *testing.T) {
	tags := testMapper(testAdapter(), "Tag")
	q, err := tags.NewQuery(context.Background())
	if err != nil {
		t.Fatalf("NewQuery failed: %v", err)
	}

	q.Limit(0, 20)
	if sql, _ := buildQuery(t, q); sql != selectTags {
		t.Errorf("Expected no LIMIT or OFFSET, got %q", sql)
	}

	q.Limit(5, 20)
	if sql, _ := buildQuery(t, q); sql != selectTags+` LIMIT 5 OFFSET 20` {
		t.Errorf("Expected LIMIT 5 OFFSET 20, got %q", sql)
	}
}

func TestQueryCountFields(t *testing.T) {
	users := testMapper(testAdapter(), "User")
	q, _ := users.NewQuery(context.Background())
	q.SetFields("", "COUNT(*)")

	sql, _ := buildQuery(t, q)
	if sql != `SELECT COUNT(*) FROM "users"` {
		t.Errorf("Expected COUNT(*) select, got %q", sql)
	}
}

func TestQueryCloneIsDeep(t *testing.T) {
	posts := testMapper(testAdapter(), "Post")
	original, err := posts.NewQuery(context.Background())
	if err != nil {
		t.Fatalf("NewQuery failed: %v", err)
	}
	original.AddTest("title", OpEqual, "a")
	before, beforeParams := buildQuery(t, original)

	clone := original.Clone()
	clone.AddTest("id", OpEqual, 1).AddFields("", "extra").SortBy("id")
	_ = clone.AddRelationship("other", Join{Table: "tags", On: JoinTemplate{{Column: "tags.id", Value: 1}}})

	after, afterParams := buildQuery(t, original)
	if before != after || !reflect.DeepEqual(beforeParams, afterParams) {
		t.Errorf("Mutating a clone changed the original:\n%s\n%s", before, after)
	}
	if clone.Mapper() != original.Mapper() {
		t.Error("Clone must share the mapper")
	}
}

func TestCreateQueryNormalizesCriteria(t *testing.T) {
	ctx := context.Background()
	users := testMapper(testAdapter(), "User")

	t.Run("nil", func(t *testing.T) {
		q, err := CreateQuery(ctx, nil, users)
		if err != nil {
			t.Fatal(err)
		}
		if len(q.Tests()) != 0 {
			t.Errorf("Expected no tests, got %v", q.Tests())
		}
	})

	t.Run("scalar key", func(t *testing.T) {
		q, err := CreateQuery(ctx, 5, users)
		if err != nil {
			t.Fatal(err)
		}
		expected := []Test{{Field: "id", Operator: OpEqual, Value: 5}}
		if !reflect.DeepEqual(q.Tests(), expected) {
			t.Errorf("Expected %v, got %v", expected, q.Tests())
		}
	})

	t.Run("filter", func(t *testing.T) {
		q, err := CreateQuery(ctx, Filter{"name": "Ann", "email": "a@x.com"}, users)
		if err != nil {
			t.Fatal(err)
		}
		if q.Conjunction() != LogicAnd {
			t.Errorf("Expected AND, got %s", q.Conjunction())
		}
		expected := []Test{
			{Field: "email", Operator: OpEqual, Value: "a@x.com"},
			{Field: "name", Operator: OpEqual, Value: "Ann"},
		}
		if !reflect.DeepEqual(q.Tests(), expected) {
			t.Errorf("Expected %v, got %v", expected, q.Tests())
		}
	})

	t.Run("keys", func(t *testing.T) {
		q, err := CreateQuery(ctx, Keys{1, 2}, users)
		if err != nil {
			t.Fatal(err)
		}
		if q.Conjunction() != LogicOr || len(q.Tests()) != 2 {
			t.Errorf("Expected two OR-combined tests, got %s %v", q.Conjunction(), q.Tests())
		}
	})

	t.Run("query is cloned", func(t *testing.T) {
		original, _ := users.NewQuery(ctx)
		original.AddTest("name", OpEqual, "Ann")

		q, err := CreateQuery(ctx, original, users)
		if err != nil {
			t.Fatal(err)
		}
		if q == original {
			t.Fatal("Expected a clone, got the same query")
		}
		q.AddTest("email", OpEqual, "x")
		if len(original.Tests()) != 1 {
			t.Errorf("Original query was mutated: %v", original.Tests())
		}
	})

	t.Run("scalar without mapper", func(t *testing.T) {
		if _, err := CreateQuery(ctx, 5, nil); !IsRequest(err) {
			t.Errorf("Expected request error, got %v", err)
		}
	})
}

func TestQueryBuildRequiresMapper(t *testing.T) {
	_, _, err := NewQuery().Build()
	if !IsConfiguration(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestIsSafeIdentifier(t *testing.T) {
	tests := map[string]bool{
		"id":         true,
		"users.id":   true,
		"_private":   true,
		"COUNT(*)":   false,
		"1":          false,
		"*":          false,
		"users.":     false,
		"a b":        false,
		"t1.col_2":   true,
		"name DESC":  false,
		"":           false,
		"users.*.id": false,
	}
	for name, expected := range tests {
		if got := isSafeIdentifier(name); got != expected {
			t.Errorf("isSafeIdentifier(%q) = %v, expected %v", name, got, expected)
		}
	}
}
