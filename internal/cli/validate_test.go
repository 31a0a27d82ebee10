package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savepipe/internal/registry"
)

const selfReferencingMetadata = `
package savepipe

entity: Employee: {
	key: ["EmployeeId"]
	properties: {
		EmployeeId: int @generated()
		Name:       string
		ManagerId:  int | null
	}
	relationships: Reports: {
		target:      "Employee"
		foreign_key: ["ManagerId"]
	}
}
`

const unknownTargetMetadata = `
package savepipe

entity: Order: {
	key: ["OrderId"]
	properties: {
		OrderId: int @generated()
	}
	relationships: Lines: {
		target:      "OrderLine"
		foreign_key: ["OrderId"]
	}
}
`

func TestValidate_Valid(t *testing.T) {
	out, err := execute(t, "validate", metadataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 entities valid")
	assert.NotContains(t, out, "warning:")
}

func TestValidate_ValidJSON(t *testing.T) {
	out, err := execute(t, "validate", metadataDir, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Files)

	names := make(map[string]EntitySummary)
	for _, e := range resp.Data.Entities {
		names[e.Name] = e
	}
	require.Contains(t, names, "Store")
	assert.Equal(t, "Stores", names["Store"].Table)
	assert.Equal(t, []string{"StoreId"}, names["Store"].Key)
	assert.Equal(t, []string{"Items -> Item"}, names["Store"].Relationships)
	assert.Equal(t, []string{"Item"}, names["Store"].Dependents)
	require.Contains(t, names, "Item")
	assert.Equal(t, []string{"StoreId", "ItemCode"}, names["Item"].Key)
}

func TestValidate_SelfReferenceWarns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "employee.cue", selfReferencingMetadata)

	out, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "warning: Self-referencing entity: Employee")
	assert.Contains(t, out, "✓ 1 entities valid")
}

func TestValidate_RegistryProblems(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "order.cue", unknownTargetMetadata)

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "["+registry.ErrUnknownTarget+"] Order")
}

func TestValidate_RegistryProblemsJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "order.cue", unknownTargetMetadata)

	out, err := execute(t, "validate", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRegistry, resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	cfgErr := &registry.ConfigurationError{Problems: resp.Data.Problems}
	assert.True(t, cfgErr.HasCode(registry.ErrUnknownTarget), "problems: %v", resp.Data.Problems)
}

func TestValidate_CompileError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.cue", "package savepipe\n\nentity: Store: {\n")

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
}

func TestValidate_MissingPackageClause(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "store.cue", "entity: Store: { key: [\"Id\"], properties: Id: int }\n")

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "store.cue has no package clause")
}

func TestValidate_CommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		dir     func(t *testing.T) string
		code    string
		message string
	}{
		{
			name:    "missing directory",
			dir:     func(t *testing.T) string { return "/nonexistent/metadata" },
			code:    ErrCodeNotFound,
			message: "metadata directory not found",
		},
		{
			name:    "empty directory",
			dir:     func(t *testing.T) string { return t.TempDir() },
			code:    ErrCodeNoFiles,
			message: "no CUE files found",
		},
		{
			name: "file instead of directory",
			dir: func(t *testing.T) string {
				return writeFile(t, t.TempDir(), "store.cue", selfReferencingMetadata)
			},
			code:    ErrCodeNotFound,
			message: "not a directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "validate", tt.dir(t))
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.code)
			assert.Contains(t, out, tt.message)
		})
	}
}

func TestLoadMetadata(t *testing.T) {
	loaded, errs := LoadMetadata(metadataDir)
	require.Empty(t, errs)
	require.NotNil(t, loaded.Registry)
	assert.Equal(t, 1, loaded.FileCount)
	assert.Empty(t, loaded.Warnings)

	_, err := loaded.Registry.Describe("Item")
	assert.NoError(t, err)
}
