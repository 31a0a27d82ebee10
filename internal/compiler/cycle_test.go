package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savepipe/internal/model"
)

func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(nil))
}

func TestAnalyzeCycles_DAG(t *testing.T) {
	entities := []model.EntityMetadata{
		{Name: "Store", Relationships: []model.Relationship{{Navigation: "Items", Target: "Item"}}},
		{Name: "Item"},
	}
	assert.Empty(t, AnalyzeCycles(entities), "Store -> Item has no cycle")
}

func TestAnalyzeCycles_SelfReference(t *testing.T) {
	entities := []model.EntityMetadata{
		{Name: "Employee", Relationships: []model.Relationship{{Navigation: "Reports", Target: "Employee"}}},
	}

	warnings := AnalyzeCycles(entities)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"Employee", "Employee"}, warnings[0].Path)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "Self-referencing entity")
}

func TestAnalyzeCycles_MutualReference(t *testing.T) {
	entities := []model.EntityMetadata{
		{Name: "Author", Relationships: []model.Relationship{{Navigation: "Books", Target: "Book"}}},
		{Name: "Book", Relationships: []model.Relationship{{Navigation: "Editors", Target: "Author"}}},
	}

	warnings := AnalyzeCycles(entities)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"Author", "Book", "Author"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "Author → Book → Author")
}
