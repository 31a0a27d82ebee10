package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/testutil"
)

func TestDebugView_FollowsStagingOrder(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	_, err := s.Track(newItem("lotr", 1, "The Fellowship of the Ring", "2023-01-01"), Added)
	require.NoError(t, err)
	_, err = s.Track(newStore(0, "Books", "2023-01-01"), Added)
	require.NoError(t, err)

	view := s.DebugView()
	itemAt := strings.Index(view, "Item {StoreId: 1, ItemCode: lotr} Added")
	storeAt := strings.Index(view, "Store {StoreId: -2147482647} Added")
	require.GreaterOrEqual(t, itemAt, 0, view)
	require.GreaterOrEqual(t, storeAt, 0, view)
	assert.Less(t, itemAt, storeAt, "child staged first is rendered first")
}

func TestDebugView_ModifiedEntry(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	store, _ := attachedStore(t, s)
	store.Set("Name", model.String("New Books"))
	require.NoError(t, s.DetectChanges())

	want := `Item {StoreId: 1, ItemCode: lotr} Unchanged
    StoreId: 1 PK FK
    ItemCode: 'lotr' PK
    CreatedAt: '2023-01-01'
    Name: 'The Fellowship of the Ring'
    UpdatedAt: <null>
Store {StoreId: 1} Modified
    StoreId: 1 PK
    CreatedAt: '2023-01-01'
    Name: 'New Books' Modified Originally 'Books'
    UpdatedAt: <null>
    Items: [{StoreId: 1, ItemCode: lotr}]
`
	assert.Equal(t, want, s.DebugView())
}

func TestDebugView_Empty(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	assert.Empty(t, s.DebugView())
}
