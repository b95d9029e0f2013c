package rdo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userRows(names ...string) []Row {
	rows := make([]Row, 0, len(names))
	for i, name := range names {
		rows = append(rows, Row{"id": int64(i + 1), "name": name})
	}
	return rows
}

func TestListIteration(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	users := testMapper(adapter, "User")
	adapter.selects = [][]Row{userRows("Ann", "Bob", "Cid")}

	list, err := users.Find(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, adapter.statements, "a list executes on first use")

	var names []string
	var keys []int
	for list.Next() {
		names = append(names, list.Current().Value("name").(string))
		keys = append(keys, list.Key())
	}
	require.NoError(t, list.Err())
	assert.Equal(t, []string{"Ann", "Bob", "Cid"}, names)
	assert.Equal(t, []int{0, 1, 2}, keys)
	assert.False(t, list.Valid())
	assert.Nil(t, list.Current())
	assert.False(t, list.Next())
}

func TestListAccessorsRewind(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	users := testMapper(adapter, "User")
	adapter.selects = [][]Row{userRows("Ann", "Bob")}

	list, err := users.Find(ctx, nil)
	require.NoError(t, err)

	assert.True(t, list.Valid())
	assert.Equal(t, 0, list.Key())
	assert.Equal(t, "Ann", list.Current().Value("name"))
	assert.Equal(t, 1, adapter.count("select"))

	// The current row stays the first one reported by Next.
	require.True(t, list.Next())
	assert.Equal(t, "Ann", list.Current().Value("name"))
	require.True(t, list.Next())
	assert.Equal(t, "Bob", list.Current().Value("name"))
	assert.Equal(t, 1, list.Key())
}

func TestListRewindReExecutes(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	users := testMapper(adapter, "User")
	adapter.selects = [][]Row{userRows("Ann", "Bob"), userRows("Ann", "Bob", "Cid")}

	list, err := users.Find(ctx, nil)
	require.NoError(t, err)

	first, err := list.All()
	require.NoError(t, err)
	second, err := list.All()
	require.NoError(t, err)

	assert.Len(t, first, 2)
	assert.Len(t, second, 3, "a second pass observes the current rows")
	assert.Equal(t, 2, adapter.count("select"))
}

func TestListEntitiesIterator(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	users := testMapper(adapter, "User")
	adapter.selects = [][]Row{userRows("Ann", "Bob", "Cid")}

	list, err := users.Find(ctx, nil)
	require.NoError(t, err)

	seen := map[int]string{}
	for i, e := range list.Entities() {
		seen[i] = e.Value("name").(string)
		if i == 1 {
			break
		}
	}
	assert.Equal(t, map[int]string{0: "Ann", 1: "Bob"}, seen)
}

func TestListSelectError(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	users := testMapper(adapter, "User")
	adapter.errs["select"] = errors.New("syntax error")

	list, err := users.Find(ctx, nil)
	require.NoError(t, err)

	assert.False(t, list.Next())
	require.Error(t, list.Err())
	assert.True(t, IsDatabase(list.Err()))

	_, err = list.All()
	assert.True(t, IsDatabase(err))
}

func TestListSQL(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	users := testMapper(adapter, "User")
	adapter.selects = [][]Row{userRows("Ann")}

	list := NewListSQL(ctx, users, `SELECT * FROM "users" WHERE "name" = ?`, "Ann")
	sql, params := list.SQL()
	assert.Equal(t, `SELECT * FROM "users" WHERE "name" = ?`, sql)
	assert.Equal(t, []interface{}{"Ann"}, params)

	all, err := list.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []interface{}{"Ann"}, adapter.last().args)
}

func TestListClose(t *testing.T) {
	ctx := context.Background()
	adapter := testAdapter()
	users := testMapper(adapter, "User")
	adapter.selects = [][]Row{userRows("Ann", "Bob"), userRows("Cid")}

	list, err := users.Find(ctx, nil)
	require.NoError(t, err)
	require.True(t, list.Next())
	require.NoError(t, list.Close())

	require.True(t, list.Next())
	assert.Equal(t, "Cid", list.Current().Value("name"))
}
