package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/savepipe/internal/engine"
	"github.com/roach88/savepipe/internal/model"
)

// Snapshot renders a scenario result as canonical JSON. Debug views and
// saves appear in execution order; each save lists the operations it sent
// to storage with the placeholder keys the engine planned, so snapshots do
// not depend on the keys a database assigns.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		m := map[string]any{
			"type":    event.Type,
			"session": event.Session,
			"step":    event.Step,
		}
		switch event.Type {
		case EventDebugView:
			m["view"] = event.View
		case EventSave:
			m["count"] = event.Count
			ops := make([]any, len(event.Operations))
			for j, op := range event.Operations {
				ops[j] = snapshotOp(op)
			}
			m["operations"] = ops
			if event.Error != "" {
				m["error"] = event.Error
			}
		}
		trace[i] = m
	}

	policy := result.Policy
	if policy == "" {
		policy = scenario.Policy
	}
	if policy == "" {
		policy = engine.ReplaceDeleteInsert.String()
	}
	return model.MarshalCanonical(map[string]any{
		"scenario": scenario.Name,
		"policy":   policy,
		"trace":    trace,
	})
}

func snapshotOp(op model.Operation) map[string]any {
	m := map[string]any{
		"kind":   op.Kind.String(),
		"entity": op.Entity.Name,
		"key":    op.Key,
		"values": op.Values,
	}
	if op.Values == nil {
		m["values"] = model.Fields{}
	}
	if op.Generated != "" {
		m["generated"] = op.Generated
	}
	if len(op.Temporary) > 0 {
		temp := make([]any, len(op.Temporary))
		for i, name := range op.Temporary {
			temp[i] = name
		}
		m["temporary"] = temp
	}
	return m
}

// RunWithGolden executes a scenario and compares its snapshot against
// dir/{scenario.Name}.golden. It fails the test if any expectation in the
// scenario failed.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, dir string) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario, result, dir)
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result, dir string) error {
	t.Helper()

	data, err := Snapshot(scenario, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
