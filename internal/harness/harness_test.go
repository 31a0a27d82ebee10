package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savepipe/internal/engine"
	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/store"
)

const metadataDir = "../../testdata/metadata"

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

// storeScenario wraps steps in a one-session scenario over the repository
// metadata.
func storeScenario(steps []Step, assertions ...Assertion) *Scenario {
	return &Scenario{
		Name:        "inline",
		Description: "inline scenario",
		Metadata:    metadataDir,
		Sessions:    []SessionSpec{{Name: "only", Steps: steps}},
		Assertions:  assertions,
	}
}

func addBooks() Step {
	return Step{Add: &ObjectSpec{
		As:     "books",
		Type:   "Store",
		Values: map[string]any{"Name": "Books", "CreatedAt": "2023-01-01"},
		Children: map[string][]ObjectSpec{
			"Items": {{Type: "Item", Values: map[string]any{"ItemCode": "lotr", "Name": "The Fellowship of the Ring", "CreatedAt": "2023-01-01"}}},
		},
	}}
}

func TestRun_RepositoryScenarios(t *testing.T) {
	for _, name := range []string{"collection_replace", "collection_replace_in_place"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("../../testdata/scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass)
			assert.Empty(t, result.Errors)

			require.Len(t, result.Trace, 4)
			assert.Equal(t, EventDebugView, result.Trace[0].Type)
			assert.Equal(t, EventSave, result.Trace[1].Type)
			assert.Equal(t, 2, result.Trace[1].Count)
			assert.Equal(t, "replace", result.Trace[3].Session)
		})
	}
}

func TestRun_RecordsPlaceholderKeys(t *testing.T) {
	result, err := Run(storeScenario([]Step{addBooks(), {Save: &SaveStep{}}}))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	ops := result.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, "only", ops[0].Session)
	assert.Equal(t, model.Insert, ops[0].Op.Kind)
	assert.Equal(t, "Store", ops[0].Op.Entity.Name)
	assert.Equal(t, "StoreId", ops[0].Op.Generated)
	assert.Equal(t, model.Int(-2147482647), ops[0].Op.Key.Get("StoreId"), "recorded ops keep the planned placeholder")
	assert.Equal(t, model.Int(-2147482647), ops[1].Op.Values.Get("StoreId"))
	assert.Equal(t, []string{"StoreId"}, ops[1].Op.Temporary)
}

func TestRun_ExpectationMismatchContinues(t *testing.T) {
	result, err := Run(storeScenario([]Step{
		addBooks(),
		{Expect: &ExpectStep{Object: "books", State: "Unchanged"}},
		{Save: &SaveStep{Inserts: intPtr(1)}},
		{Expect: &ExpectStep{Object: "books", Values: map[string]any{"StoreId": 1, "Name": "Other"}}},
	}, Assertion{Type: AssertRowCount, Entity: "Item", Count: intPtr(1)}))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"session only step 1: books is Added, expected Unchanged",
		"session only step 2: save wrote 2 inserts, expected 1",
		"session only step 3: books.Name = 'Books', expected 'Other'",
	}, result.Errors)
}

func TestRun_ExpectedStorageFailure(t *testing.T) {
	orphan := Step{Add: &ObjectSpec{
		Type:   "Item",
		Values: map[string]any{"StoreId": 99, "ItemCode": "x", "Name": "Orphan", "CreatedAt": "2023-01-01"},
	}}
	result, err := Run(storeScenario([]Step{orphan, {Save: &SaveStep{Error: "STORAGE_FAILURE"}}},
		Assertion{Type: AssertRowCount, Entity: "Item", Count: intPtr(0)}))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Trace, 1)
	assert.Equal(t, "STORAGE_FAILURE", result.Trace[0].Error)
	assert.Len(t, result.Trace[0].Operations, 1)
}

func TestRun_UnexpectedSaveErrorStopsSessions(t *testing.T) {
	orphan := Step{Add: &ObjectSpec{
		Type:   "Item",
		Values: map[string]any{"StoreId": 99, "ItemCode": "x", "Name": "Orphan", "CreatedAt": "2023-01-01"},
	}}
	scenario := storeScenario([]Step{orphan, {Save: &SaveStep{}}})
	scenario.Sessions = append(scenario.Sessions, SessionSpec{Name: "never", Steps: []Step{addBooks()}})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "session only step 1: save: STORAGE_FAILURE")
	for _, e := range result.Trace {
		assert.NotEqual(t, "never", e.Session)
	}
}

func TestRun_DebugViewMismatch(t *testing.T) {
	result, err := Run(storeScenario([]Step{
		{Add: &ObjectSpec{Type: "Store", Values: map[string]any{"Name": "Books", "CreatedAt": "2023-01-01"}}},
		{DebugView: strPtr("Store {StoreId: 1} Added\n")},
	}))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "debug view mismatch")
	require.Len(t, result.Trace, 1)
	assert.Contains(t, result.Trace[0].View, "Store {StoreId: -2147482647} Added")
}

func TestRun_DebugViewIgnoresIndentation(t *testing.T) {
	result, err := Run(storeScenario([]Step{
		{Add: &ObjectSpec{Type: "Store", Values: map[string]any{"Name": "Books", "CreatedAt": "2023-01-01"}}},
		{DebugView: strPtr(`
			Store {StoreId: -2147482647} Added
			StoreId: -2147482647 PK Temporary
			CreatedAt: '2023-01-01'
			Name: 'Books'
			UpdatedAt: <null>
			Items: []
		`)},
	}))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_ExecutionErrors(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		want  string
	}{
		{
			name:  "unknown object",
			steps: []Step{{Remove: "ghost"}},
			want:  `unknown object "ghost"`,
		},
		{
			name:  "unknown property",
			steps: []Step{{Add: &ObjectSpec{Type: "Store", Values: map[string]any{"Title": "x"}}}},
			want:  `Store has no property "Title"`,
		},
		{
			name:  "value of the wrong kind",
			steps: []Step{{Add: &ObjectSpec{Type: "Store", Values: map[string]any{"Name": 5}}}},
			want:  "Store.Name: cannot use 5 as string",
		},
		{
			name:  "unknown navigation",
			steps: []Step{addBooks(), {Replace: &CollectionStep{Object: "books", Navigation: "Shelves"}}},
			want:  `Store has no navigation "Shelves"`,
		},
		{
			name:  "index out of range",
			steps: []Step{addBooks(), {Expect: &ExpectStep{Object: "books.Items[3]"}}},
			want:  "Items has 1 members",
		},
		{
			name:  "malformed path",
			steps: []Step{addBooks(), {Expect: &ExpectStep{Object: "books.Items"}}},
			want:  "malformed navigation",
		},
		{
			name:  "name reused",
			steps: []Step{addBooks(), {Add: &ObjectSpec{As: "books", Type: "Store", Values: map[string]any{"Name": "B", "CreatedAt": "c"}}}},
			want:  `object name "books" already used`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(storeScenario(tt.steps))
			require.NoError(t, err)
			assert.False(t, result.Pass)
			require.NotEmpty(t, result.Errors)
			assert.Contains(t, result.Errors[0], tt.want)
		})
	}
}

func TestRun_AppendAndLoadByWhere(t *testing.T) {
	scenario := storeScenario([]Step{addBooks(), {Save: &SaveStep{}}})
	scenario.Sessions = append(scenario.Sessions, SessionSpec{Name: "append", Steps: []Step{
		{Load: &LoadStep{Type: "Store", Where: map[string]any{"Name": "Books"}, As: []string{"books"}, Count: intPtr(1)}},
		{Append: &CollectionStep{Object: "books", Navigation: "Items", With: []ObjectSpec{
			{As: "hobbit", Type: "Item", Values: map[string]any{"ItemCode": "hobbit", "Name": "The Hobbit", "CreatedAt": "2024-02-02"}},
		}}},
		{Save: &SaveStep{Operations: intPtr(1), Inserts: intPtr(1)}},
		{Expect: &ExpectStep{Object: "hobbit", State: "Unchanged", Values: map[string]any{"StoreId": 1}}},
		{Remove: "hobbit"},
		{Expect: &ExpectStep{Object: "hobbit", State: "Deleted"}},
		{Save: &SaveStep{Deletes: intPtr(1)}},
		{Expect: &ExpectStep{Object: "hobbit", State: "Detached"}},
	}})

	result, err := Run(scenario, WithDatabase(filepath.Join(t.TempDir(), "run.db")))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_DefaultPolicy(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/collection_replace_in_place.yaml")
	require.NoError(t, err)
	scenario.Policy = ""

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass, "delete_insert is the default")
	assert.Equal(t, "delete_insert", result.Policy)

	result, err = Run(scenario,
		WithDefaultPolicy(engine.ReplaceUpdateInPlace),
		WithSessionOptions(engine.WithAutoDetectChanges(true)))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "update_in_place", result.Policy)
}

func TestRun_MetadataErrors(t *testing.T) {
	scenario := storeScenario([]Step{{Detect: true}})
	scenario.Metadata = t.TempDir()

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile metadata")
}

func TestRun_UnknownPolicy(t *testing.T) {
	scenario := storeScenario([]Step{{Detect: true}})
	scenario.Policy = "merge"

	_, err := Run(scenario)
	require.Error(t, err)
}

func TestParseIndex(t *testing.T) {
	nav, idx, err := parseIndex("Items[12]")
	require.NoError(t, err)
	assert.Equal(t, "Items", nav)
	assert.Equal(t, 12, idx)

	for _, bad := range []string{"Items", "Items[", "Items[x]", "Items[-1]"} {
		_, _, err := parseIndex(bad)
		assert.Error(t, err, bad)
	}
}

var _ Backend = (*store.Store)(nil)
