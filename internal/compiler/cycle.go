package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/savepipe/internal/graph"
	"github.com/roach88/savepipe/internal/model"
)

// CycleWarning reports entity types whose relationships form a loop.
//
// Type-level cycles are warnings, not errors: a self-referencing type
// (Employee.ManagerId) is legal, and only a loop among the rows of one batch
// makes a save impossible. The planner reports that case as an error.
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeCycles builds the principal -> dependent graph of all relationships
// and reports every strongly connected component as a warning.
func AnalyzeCycles(entities []model.EntityMetadata) []CycleWarning {
	g := graph.New[string]()
	for _, e := range entities {
		g.AddNode(e.Name)
		for _, rel := range e.Relationships {
			g.AddEdge(e.Name, rel.Target)
		}
	}

	warnings := []CycleWarning{}
	for _, scc := range g.Cycles() {
		path := g.CyclePath(scc)
		msg := fmt.Sprintf("Relationship cycle: %s", strings.Join(path, " → "))
		if len(scc) == 1 {
			msg = fmt.Sprintf("Self-referencing entity: %s", scc[0])
		}
		warnings = append(warnings, CycleWarning{
			Path:    path,
			Message: msg,
			Level:   "warning",
		})
	}
	return warnings
}
