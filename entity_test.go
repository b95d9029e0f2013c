package rdo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityGetSet(t *testing.T) {
	ctx := context.Background()
	users := testMapper(testAdapter(), "User")
	e := NewEntity(users, map[string]interface{}{"id": int64(1), "name": "Ann"})

	v, found, err := e.Get(ctx, "name")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Ann", v)

	e.Set("name", "Anna")
	assert.Equal(t, "Anna", e.Value("name"))

	_, found, err = e.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEntityOverride(t *testing.T) {
	ctx := context.Background()
	users := testMapper(testAdapter(), "User")
	e := NewEntity(users, map[string]interface{}{"name": "ann"})

	e.Override("display",
		func(ctx context.Context, e *Entity) (interface{}, error) {
			return "User " + toString(e.Value("name")), nil
		},
		nil,
	)
	e.Override("email", nil, func(e *Entity, value interface{}) {
		e.fields["email"] = "<" + toString(value) + ">"
	})

	v, found, err := e.Get(ctx, "display")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "User ann", v)

	e.Set("email", "a@x.com")
	assert.Equal(t, "<a@x.com>", e.Value("email"))
}

func TestEntityFieldsIsACopy(t *testing.T) {
	e := NewEntity(nil, map[string]interface{}{"name": "Ann"})
	fields := e.Fields()
	fields["name"] = "changed"
	assert.Equal(t, "Ann", e.Value("name"))
}

func TestEntityAsNew(t *testing.T) {
	ctx := context.Background()
	users := testMapper(testAdapter(), "User")
	e := NewEntity(users, map[string]interface{}{"id": int64(1), "name": "Ann", "email": "a@x.com"})

	c, err := e.AsNew(ctx)
	require.NoError(t, err)

	isNew, err := c.IsNew(ctx)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "Ann", c.Value("name"))
	assert.Equal(t, "a@x.com", c.Value("email"))

	key, err := e.Key(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), key, "the original keeps its key")

	c.Set("name", "Copy")
	assert.Equal(t, "Ann", e.Value("name"))
}

func TestEntityWithoutMapper(t *testing.T) {
	ctx := context.Background()
	e := NewEntity(nil, nil)

	_, found, err := e.Get(ctx, "anything")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = e.Key(ctx)
	assert.True(t, IsConfiguration(err))
	_, err = e.Save(ctx)
	assert.True(t, IsConfiguration(err))
	_, err = e.Delete(ctx)
	assert.True(t, IsConfiguration(err))
}

func TestEntitySetForeignKeyDropsCachedRelation(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	posts := testMapper(adapter, "Post")
	adapter.ones = []Row{{"id": int64(2), "name": "Ann"}, {"id": int64(3), "name": "Bob"}}

	e, err := posts.Map(ctx, Row{"id": 1, "user_id": 2})
	require.NoError(t, err)

	author, err := e.One(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, "Ann", author.Value("name"))

	e.Set("user_id", int64(3))
	author, err = e.One(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, "Bob", author.Value("name"))
	assert.Equal(t, 2, adapter.count("selectOne"))
}

func TestLazyEquivalence(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	posts := testMapper(adapter, "Post")

	joined, err := posts.Map(ctx, Row{
		"id": int64(1), "user_id": int64(2), "title": "Hello",
		"author@id": int64(2), "author@name": "Ann", "author@email": "a@x.com",
		"author@created_at": int64(10), "author@updated_at": int64(10),
	})
	require.NoError(t, err)

	adapter.ones = []Row{{"id": int64(2), "name": "Ann", "email": "a@x.com", "created_at": int64(10), "updated_at": int64(10)}}
	lazy, err := posts.Map(ctx, Row{"id": int64(1), "user_id": int64(2), "title": "Hello"})
	require.NoError(t, err)

	eager, err := joined.One(ctx, "author")
	require.NoError(t, err)
	resolved, err := lazy.One(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, eager.Fields(), resolved.Fields())
}

func TestSameValue(t *testing.T) {
	assert.True(t, sameValue(int64(1), int64(1)))
	assert.True(t, sameValue(int64(1), "1"))
	assert.True(t, sameValue(nil, nil))
	assert.False(t, sameValue(nil, 0))
	assert.False(t, sameValue(int64(1), int64(2)))
}
