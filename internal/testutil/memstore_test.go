package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savepipe/internal/model"
)

func TestMemoryStore_InsertAssignsGeneratedKeys(t *testing.T) {
	reg := StoreRegistry()
	store, _ := reg.Describe("Store")
	item, _ := reg.Describe("Item")
	m := NewMemoryStore()

	placeholder := model.Int(-2147482647)
	ops := []model.Operation{
		{
			Kind:      model.Insert,
			Entity:    store,
			Key:       model.Key{{Name: "StoreId", Value: placeholder}},
			Values:    Row("Name", "Books", "CreatedAt", "2023-01-01"),
			Generated: "StoreId",
			Temporary: []string{"StoreId"},
		},
		{
			Kind:      model.Insert,
			Entity:    item,
			Key:       model.Key{{Name: "StoreId", Value: placeholder}, {Name: "ItemCode", Value: model.String("lotr")}},
			Values:    Row("ItemCode", "lotr", "StoreId", placeholder, "Name", "The Fellowship of the Ring", "CreatedAt", "2023-01-01"),
			Temporary: []string{"StoreId"},
		},
	}

	results, err := m.ExecuteBatch(context.Background(), ops)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, model.Int(1), results[0].Assigned.Get("StoreId"))

	row, ok := m.Row(item, Row("StoreId", 1, "ItemCode", "lotr"))
	require.True(t, ok)
	assert.Equal(t, model.String("The Fellowship of the Ring"), row.Get("Name"))
	assert.True(t, model.IsNull(row.Get("UpdatedAt")))
}

func TestMemoryStore_FailedBatchLeavesNoTrace(t *testing.T) {
	reg := StoreRegistry()
	store, _ := reg.Describe("Store")
	m := NewMemoryStore()
	m.Seed(store, Row("StoreId", 1, "Name", "Books", "CreatedAt", "2023-01-01"))

	_, err := m.ExecuteBatch(context.Background(), []model.Operation{
		{Kind: model.Update, Entity: store, Key: Row("StoreId", 1), Values: Row("Name", "New Books")},
		{Kind: model.Delete, Entity: store, Key: Row("StoreId", 99)},
	})
	require.Error(t, err)

	row, ok := m.Row(store, Row("StoreId", 1))
	require.True(t, ok)
	assert.Equal(t, model.String("Books"), row.Get("Name"))
	assert.Empty(t, m.Batches)
}

func TestMemoryStore_FailWith(t *testing.T) {
	m := NewMemoryStore()
	m.FailWith = errors.New("disk full")
	_, err := m.ExecuteBatch(context.Background(), nil)
	assert.EqualError(t, err, "disk full")
}

func TestMemoryStore_RowsFiltersByEquality(t *testing.T) {
	reg := StoreRegistry()
	item, _ := reg.Describe("Item")
	m := NewMemoryStore()
	m.Seed(item, Row("ItemCode", "lotr", "StoreId", 1, "Name", "A", "CreatedAt", "x"))
	m.Seed(item, Row("ItemCode", "hobbit", "StoreId", 2, "Name", "B", "CreatedAt", "x"))

	rows, err := m.Rows(context.Background(), item, Row("StoreId", 2))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.String("hobbit"), rows[0].Get("ItemCode"))
	assert.Equal(t, 2, m.Count(item))
}
