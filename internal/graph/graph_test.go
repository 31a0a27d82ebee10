package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func byValue(a, b int) bool { return a < b }

func TestTopoSortRespectsEdges(t *testing.T) {
	g := New[int]()
	g.AddNode(3)
	g.AddNode(1)
	g.AddNode(2)
	g.AddEdge(2, 1) // 2 before 1

	order, err := g.TopoSort(byValue)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 3}, order)
}

func TestTopoSortTieBreakIsStable(t *testing.T) {
	g := New[int]()
	for _, n := range []int{5, 4, 3, 2, 1} {
		g.AddNode(n)
	}
	order, err := g.TopoSort(byValue)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestTopoSortReportsCycle(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")
	g.AddNode("c")

	order, err := g.TopoSort(func(a, b string) bool { return a < b })
	require.Error(t, err)
	assert.Equal(t, []string{"c"}, order)

	var cycleErr *CycleError[string]
	require.True(t, errors.As(err, &cycleErr))
	require.Len(t, cycleErr.Cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Cycles[0])
	assert.Contains(t, err.Error(), "graph has cycles")
}

func TestCyclesIncludesSelfLoops(t *testing.T) {
	g := New[string]()
	g.AddEdge("Employee", "Employee")
	g.AddEdge("Store", "Item")

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"Employee"}, cycles[0])
	assert.Equal(t, []string{"Employee", "Employee"}, g.CyclePath(cycles[0]))
}

func TestCyclePathFollowsEdges(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b", "c"}, cycles[0])
	assert.Equal(t, []string{"a", "b", "c", "a"}, g.CyclePath(cycles[0]))
}

func TestAcyclicGraphHasNoCycles(t *testing.T) {
	g := New[string]()
	g.AddEdge("Store", "Item")
	g.AddEdge("Store", "Shelf")
	assert.Empty(t, g.Cycles())
}
