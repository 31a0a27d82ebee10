package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/savepipe/internal/engine"
	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/registry"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // assertion type for categorization
	Expected string
	Actual   string
	// Ops is the recorded operation log, printed for context.
	Ops []RecordedOp
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Ops) > 0 {
		fmt.Fprintf(&buf, "\nOperations:\n")
		for i, op := range e.Ops {
			fmt.Fprintf(&buf, "  [%d] %s: %s\n", i+1, op.Session, op.Op)
		}
	}
	return buf.String()
}

// AssertionContext carries what row assertions read from.
type AssertionContext struct {
	Ctx      context.Context
	Rows     engine.RowSource
	Registry *registry.Registry
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	ops := result.Operations()
	var failures []string
	for i, a := range assertions {
		if err := evaluate(ops, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(ops []RecordedOp, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertRow:
		return assertRow(actx, a)
	case AssertRowCount:
		return assertRowCount(actx, a)
	case AssertOpContains:
		return assertOpContains(ops, a)
	case AssertOpCount:
		return assertOpCount(ops, a)
	case AssertOpOrder:
		return assertOpOrder(ops, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertRow checks that exactly one stored row matches Where and that it
// holds every Expect value. Columns not named in Expect are ignored.
func assertRow(actx *AssertionContext, a Assertion) error {
	meta, where, err := describeRows(actx, a)
	if err != nil {
		return err
	}
	rows, err := actx.Rows.Rows(actx.Ctx, meta, where)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("query %s", meta.Name), Actual: err.Error()}
	}
	switch len(rows) {
	case 0:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("row in %s where %s", meta.Name, where), Actual: "row not found"}
	case 1:
	default:
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("exactly one row in %s where %s", meta.Name, where),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(rows)),
		}
	}

	expect, err := fieldsFor(meta, a.Expect)
	if err != nil {
		return err
	}
	row := rows[0]
	for _, f := range expect {
		if got := row.Get(f.Name); !model.Equal(got, f.Value) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s.%s = %s", meta.Name, f.Name, model.Format(f.Value)),
				Actual:   fmt.Sprintf("%s.%s = %s", meta.Name, f.Name, model.Format(got)),
			}
		}
	}
	return nil
}

func assertRowCount(actx *AssertionContext, a Assertion) error {
	meta, where, err := describeRows(actx, a)
	if err != nil {
		return err
	}
	rows, err := actx.Rows.Rows(actx.Ctx, meta, where)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("query %s", meta.Name), Actual: err.Error()}
	}
	if len(rows) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s rows", *a.Count, meta.Name),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	return nil
}

func describeRows(actx *AssertionContext, a Assertion) (*model.EntityMetadata, model.Fields, error) {
	meta, err := actx.Registry.Describe(a.Entity)
	if err != nil {
		return nil, nil, err
	}
	where, err := fieldsFor(meta, a.Where)
	if err != nil {
		return nil, nil, err
	}
	return meta, where, nil
}

// assertOpContains checks that some recorded operation has the given kind
// and entity, and that its key and values include every listed field.
func assertOpContains(ops []RecordedOp, a Assertion) error {
	kind, _ := parseKind(a.Kind)
	for _, rec := range filterOps(ops, a) {
		op := rec.Op
		if op.Kind != kind {
			continue
		}
		if matchFields(op.Entity, op.Key, a.Key) && matchFields(op.Entity, op.Values, a.Values) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s %s with key %v and values %v", a.Kind, a.Entity, a.Key, a.Values),
		Actual:   "no matching operation",
		Ops:      ops,
	}
}

// assertOpCount counts operations, optionally narrowed by session, entity
// and kind.
func assertOpCount(ops []RecordedOp, a Assertion) error {
	count := 0
	kind, _ := parseKind(a.Kind)
	for _, rec := range filterOps(ops, a) {
		if a.Kind == "" || rec.Op.Kind == kind {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d operations", *a.Count),
			Actual:   fmt.Sprintf("%d operations", count),
			Ops:      ops,
		}
	}
	return nil
}

// assertOpOrder checks that operations labelled "kind Entity" occur in the
// listed order. Other operations may occur in between.
func assertOpOrder(ops []RecordedOp, a Assertion) error {
	scoped := filterOps(ops, Assertion{Session: a.Session})
	pos := 0
	for _, want := range a.Ops {
		found := false
		for pos < len(scoped) {
			label := opLabel(scoped[pos].Op)
			pos++
			if label == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("operations in order: %v", a.Ops),
				Actual:   fmt.Sprintf("%q not found after the preceding operations", want),
				Ops:      ops,
			}
		}
	}
	return nil
}

func filterOps(ops []RecordedOp, a Assertion) []RecordedOp {
	var out []RecordedOp
	for _, rec := range ops {
		if a.Session != "" && rec.Session != a.Session {
			continue
		}
		if a.Entity != "" && rec.Op.Entity.Name != a.Entity {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// matchFields reports whether actual holds every field of expected, after
// converting expected values to the declared property kinds.
func matchFields(meta *model.EntityMetadata, actual model.Fields, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	want, err := fieldsFor(meta, expected)
	if err != nil {
		return false
	}
	for _, f := range want {
		if !actual.Has(f.Name) || !model.Equal(actual.Get(f.Name), f.Value) {
			return false
		}
	}
	return true
}

func opLabel(op model.Operation) string {
	return op.Kind.String() + " " + op.Entity.Name
}

func parseKind(s string) (model.OperationKind, error) {
	switch s {
	case "insert":
		return model.Insert, nil
	case "update":
		return model.Update, nil
	case "delete":
		return model.Delete, nil
	}
	return 0, fmt.Errorf("unknown operation kind %q (want insert, update, or delete)", s)
}
