package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/testutil"
)

const goldenDir = "../../testdata/scenarios/golden"

func TestRunWithGolden_RepositoryScenarios(t *testing.T) {
	// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
	paths, err := filepath.Glob("../../testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err)
		t.Run(scenario.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, scenario, goldenDir))
		})
	}
}

func TestSnapshot_Format(t *testing.T) {
	reg := testutil.StoreRegistry()
	store, err := reg.Describe("Store")
	require.NoError(t, err)

	scenario := &Scenario{Name: "snap"}
	result := NewResult()
	result.Trace = append(result.Trace,
		TraceEvent{Type: EventDebugView, Session: "a", Step: 0, View: "<view> & more\n"},
		TraceEvent{Type: EventSave, Session: "a", Step: 1, Count: 1, Operations: []model.Operation{{
			Kind:      model.Insert,
			Entity:    store,
			Key:       testutil.Row("StoreId", -2147482647),
			Values:    testutil.Row("Name", "Books", "CreatedAt", "2023-01-01"),
			Generated: "StoreId",
			Temporary: []string{"StoreId"},
		}}},
		TraceEvent{Type: EventSave, Session: "a", Step: 2, Error: "STORAGE_FAILURE", Operations: []model.Operation{{
			Kind:   model.Delete,
			Entity: store,
			Key:    testutil.Row("StoreId", 1),
		}}},
	)

	data, err := Snapshot(scenario, result)
	require.NoError(t, err)
	assert.Equal(t, `{"policy":"delete_insert","scenario":"snap","trace":[`+
		`{"session":"a","step":0,"type":"debug_view","view":"<view> & more\n"},`+
		`{"count":1,"operations":[{"entity":"Store","generated":"StoreId","key":{"StoreId":-2147482647},"kind":"insert","temporary":["StoreId"],"values":{"CreatedAt":"2023-01-01","Name":"Books"}}],"session":"a","step":1,"type":"save"},`+
		`{"count":0,"error":"STORAGE_FAILURE","operations":[{"entity":"Store","key":{"StoreId":1},"kind":"delete","values":{}}],"session":"a","step":2,"type":"save"}`+
		`]}`, string(data))
}

func TestSnapshot_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/collection_replace.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestAssertGolden_ExistingResult(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/collection_replace_in_place.yaml")
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	require.NoError(t, AssertGolden(t, scenario, result, goldenDir))
}
