package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/testutil"
)

func TestDetectChanges_UntouchedEntriesStayUnchanged(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	attachedStore(t, s)

	require.NoError(t, s.DetectChanges())
	for _, e := range s.Entries() {
		assert.Equal(t, Unchanged, e.State(), e.String())
		assert.Empty(t, e.Changed())
	}

	batch, err := s.Plan()
	require.NoError(t, err)
	assert.Empty(t, batch.Operations)
	assert.Empty(t, batch.Skipped)
}

func TestDetectChanges_RecordsChangedProperties(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(alwaysCreatedAt), nil)
	store, _ := attachedStore(t, s)

	store.Set("CreatedAt", model.String("2024-02-02"))
	require.NoError(t, s.DetectChanges())

	e := s.Entry(store)
	assert.Equal(t, Modified, e.State())
	assert.Equal(t, []string{"CreatedAt"}, e.Changed())
	assert.Equal(t, model.String("2023-01-01"), e.Original("CreatedAt"))
	assert.Equal(t, model.String("2024-02-02"), e.Current("CreatedAt"))
}

func TestDetectChanges_RevertedChangeReturnsToUnchanged(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	store, _ := attachedStore(t, s)

	store.Set("Name", model.String("New Books"))
	require.NoError(t, s.DetectChanges())
	require.Equal(t, Modified, s.Entry(store).State())

	store.Set("Name", model.String("Books"))
	require.NoError(t, s.DetectChanges())
	assert.Equal(t, Unchanged, s.Entry(store).State())
	assert.Empty(t, s.Entry(store).Changed())
}

func TestDetectChanges_CollectionReplacementIsDeletePlusAdd(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	store, old := attachedStore(t, s)

	replacement := newItem("lotr", 1, "The Two Towers", "2024-02-02")
	store.SetCollection("Items", replacement)
	require.NoError(t, s.DetectChanges())

	assert.Equal(t, Deleted, s.Entry(old).State())
	assert.Equal(t, Added, s.Entry(replacement).State())
	assert.Equal(t, Unchanged, s.Entry(store).State())
	assert.Less(t, s.Entry(old).Staged(), s.Entry(replacement).Staged())

	live := s.Lookup("Item", testutil.Row("StoreId", 1, "ItemCode", "lotr"))
	require.NotNil(t, live)
	assert.Same(t, replacement, live.Object())
}

func TestDetectChanges_AppendedChildIsAdded(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	store, old := attachedStore(t, s)

	hobbit := NewObject("Item").
		Set("ItemCode", model.String("hobbit")).
		Set("Name", model.String("The Hobbit")).
		Set("CreatedAt", model.String("2024-02-02"))
	store.Append("Items", hobbit)
	require.NoError(t, s.DetectChanges())

	assert.Equal(t, Unchanged, s.Entry(old).State())
	e := s.Entry(hobbit)
	require.NotNil(t, e)
	assert.Equal(t, Added, e.State())
	assert.Equal(t, model.Int(1), hobbit.Get("StoreId"))
	assert.False(t, e.IsTemporary("StoreId"))
}

func TestDetectChanges_OrphanIsRestoredWhenPutBack(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	store, item := attachedStore(t, s)

	store.SetCollection("Items")
	require.NoError(t, s.DetectChanges())
	require.Equal(t, Deleted, s.Entry(item).State())

	store.SetCollection("Items", item)
	require.NoError(t, s.DetectChanges())
	assert.Equal(t, Unchanged, s.Entry(item).State())

	batch, err := s.Plan()
	require.NoError(t, err)
	assert.Empty(t, batch.Operations)
}

func TestDetectChanges_OptionalOrphanKeepsRow(t *testing.T) {
	s := newTestSession(t, testutil.EmployeeRegistry(), nil)
	report := newEmployee(2, "Sam").Set("ManagerId", model.Int(1))
	manager := newEmployee(1, "Frodo").SetCollection("Reports", report)
	_, err := s.Attach(manager)
	require.NoError(t, err)

	manager.RemoveFrom("Reports", report)
	require.NoError(t, s.DetectChanges())

	e := s.Entry(report)
	assert.Equal(t, Modified, e.State())
	assert.Equal(t, []string{"ManagerId"}, e.Changed())
	assert.True(t, model.IsNull(report.Get("ManagerId")))
}

func TestDetectChanges_KeyModification(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	store, _ := attachedStore(t, s)

	store.Set("StoreId", model.Int(2))
	err := s.DetectChanges()
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeKeyModified))
}

func TestDetectChanges_DuplicateMemberLeavesSessionUnmodified(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	a := newItem("a", 1, "A", "2023-01-01")
	b := newItem("b", 1, "B", "2023-01-01")
	store := newStore(1, "Books", "2023-01-01").SetCollection("Items", a, b)
	_, err := s.Attach(store)
	require.NoError(t, err)
	before := s.DebugView()

	// a leaves the collection and gets orphaned before the duplicate of b
	// is found.
	dup := newItem("b", 0, "B again", "2024-02-02")
	store.SetCollection("Items", b, dup)
	err = s.DetectChanges()
	require.Error(t, err)
	assert.True(t, IsDuplicateTracking(err))

	assert.Equal(t, Unchanged, s.Entry(a).State())
	assert.Equal(t, Unchanged, s.Entry(b).State())
	assert.Nil(t, s.Entry(dup))
	assert.Equal(t, model.Int(0), dup.Get("StoreId"), "foreign key fixup undone")
	assert.Len(t, s.Entries(), 3)
	assert.Same(t, a, s.Lookup("Item", testutil.Row("StoreId", 1, "ItemCode", "a")).Object())
	assert.Equal(t, before, s.DebugView())

	// Fixing the graph lets detection go through.
	store.SetCollection("Items", b)
	require.NoError(t, s.DetectChanges())
	assert.Equal(t, Deleted, s.Entry(a).State())
}

func TestDetectChanges_WrongMemberType(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	store, _ := attachedStore(t, s)

	store.Append("Items", newStore(2, "Games", "2023-01-01"))
	err := s.DetectChanges()
	assert.True(t, HasCode(err, ErrCodeInvalidGraph))
}

func TestDetectChanges_AddedKeyChangeIsReindexed(t *testing.T) {
	s := newTestSession(t, testutil.StoreRegistry(), nil)
	item := newItem("lotr", 1, "A", "2023-01-01")
	_, err := s.Track(item, Added)
	require.NoError(t, err)

	item.Set("ItemCode", model.String("hobbit"))
	require.NoError(t, s.DetectChanges())
	assert.Nil(t, s.Lookup("Item", testutil.Row("StoreId", 1, "ItemCode", "lotr")))
	assert.NotNil(t, s.Lookup("Item", testutil.Row("StoreId", 1, "ItemCode", "hobbit")))
}
