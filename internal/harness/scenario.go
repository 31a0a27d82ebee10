package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/roach88/savepipe/internal/engine"
)

// Scenario describes a reproduction: units of work run one after another
// against the same database, followed by assertions on the stored rows and
// the operations the sessions sent to storage.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Metadata is the directory of CUE entity declarations, relative to
	// the scenario file.
	Metadata string `yaml:"metadata"`

	// Policy is the collection replacement policy of every session:
	// delete_insert (default) or update_in_place.
	Policy string `yaml:"policy,omitempty"`

	// Sessions run in order. Each one is a fresh tracking session; objects
	// named in one session are not visible in the next.
	Sessions []SessionSpec `yaml:"sessions"`

	// Assertions are evaluated after all sessions.
	Assertions []Assertion `yaml:"assertions"`
}

// SessionSpec is one unit of work.
type SessionSpec struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one action inside a session. Exactly one field is set.
type Step struct {
	Add       *ObjectSpec     `yaml:"add,omitempty"`
	Load      *LoadStep       `yaml:"load,omitempty"`
	Set       *SetStep        `yaml:"set,omitempty"`
	Replace   *CollectionStep `yaml:"replace,omitempty"`
	Append    *CollectionStep `yaml:"append,omitempty"`
	Remove    string          `yaml:"remove,omitempty"`
	Detect    bool            `yaml:"detect,omitempty"`
	DebugView *string         `yaml:"debug_view,omitempty"`
	Expect    *ExpectStep     `yaml:"expect,omitempty"`
	Save      *SaveStep       `yaml:"save,omitempty"`
}

// ObjectSpec builds a new object graph.
type ObjectSpec struct {
	// As names the object for later steps.
	As       string                  `yaml:"as,omitempty"`
	Type     string                  `yaml:"type"`
	Values   map[string]any          `yaml:"values,omitempty"`
	Children map[string][]ObjectSpec `yaml:"children,omitempty"`
}

// LoadStep materializes stored rows into the session.
type LoadStep struct {
	Type          string         `yaml:"type"`
	Where         map[string]any `yaml:"where,omitempty"`
	Include       []string       `yaml:"include,omitempty"`
	NoAutoInclude bool           `yaml:"no_auto_include,omitempty"`
	// As names the loaded roots in order.
	As []string `yaml:"as,omitempty"`
	// Count is the expected number of roots, when set.
	Count *int `yaml:"count,omitempty"`
}

// SetStep assigns property values on an object.
type SetStep struct {
	Object string         `yaml:"object"`
	Values map[string]any `yaml:"values"`
}

// CollectionStep replaces or extends a navigation collection.
type CollectionStep struct {
	Object     string       `yaml:"object"`
	Navigation string       `yaml:"navigation"`
	With       []ObjectSpec `yaml:"with,omitempty"`
	// Refs adds already named objects.
	Refs []string `yaml:"refs,omitempty"`
}

// ExpectStep checks an object's tracking state and values.
type ExpectStep struct {
	Object string         `yaml:"object"`
	State  string         `yaml:"state,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`
}

// SaveStep saves the session and checks the outcome.
type SaveStep struct {
	// Operations is the expected number of written rows.
	Operations *int `yaml:"operations,omitempty"`
	Inserts    *int `yaml:"inserts,omitempty"`
	Updates    *int `yaml:"updates,omitempty"`
	Deletes    *int `yaml:"deletes,omitempty"`
	// Error is the expected engine error code, e.g. CYCLIC_DEPENDENCY.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates final rows or recorded operations.
type Assertion struct {
	// Type is one of row, row_count, op_contains, op_count, op_order.
	Type string `yaml:"type"`

	// Entity names the entity type (row, row_count, op_*).
	Entity string `yaml:"entity,omitempty"`

	// Where filters rows (row, row_count). All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected column values (row). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of rows or operations.
	Count *int `yaml:"count,omitempty"`

	// Session restricts operation assertions to one session.
	Session string `yaml:"session,omitempty"`

	// Kind is insert, update or delete (op_contains, op_count).
	Kind string `yaml:"kind,omitempty"`

	// Key and Values are subset matches against an operation (op_contains).
	Key    map[string]any `yaml:"key,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`

	// Ops is the expected order of "kind Entity" labels (op_order).
	Ops []string `yaml:"ops,omitempty"`
}

// Assertion type constants.
const (
	AssertRow        = "row"
	AssertRowCount   = "row_count"
	AssertOpContains = "op_contains"
	AssertOpCount    = "op_count"
	AssertOpOrder    = "op_order"
)

// ScenarioError reports a malformed scenario.
type ScenarioError struct {
	Path    string // file, empty for in-memory scenarios
	Field   string // e.g. sessions[1].steps[0]
	Message string
}

func (e *ScenarioError) Error() string {
	loc := e.Field
	if e.Path != "" {
		loc = e.Path + ": " + loc
	}
	return fmt.Sprintf("invalid scenario: %s: %s", loc, e.Message)
}

// validIdentifier matches property and entity names referenced by
// assertions. Only alphanumeric and underscore, starting with a letter or
// underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected. A relative metadata path is resolved against the scenario
// file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		var serr *ScenarioError
		if errors.As(err, &serr) {
			serr.Path = path
		}
		return nil, err
	}

	if scenario.Metadata != "" && !filepath.IsAbs(scenario.Metadata) {
		scenario.Metadata = filepath.Join(filepath.Dir(path), scenario.Metadata)
	}
	if _, err := os.Stat(scenario.Metadata); err != nil {
		return nil, &ScenarioError{Path: path, Field: "metadata", Message: fmt.Sprintf("directory not found: %s", scenario.Metadata)}
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. The metadata path is
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, err
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	fail := func(field, format string, args ...any) error {
		return &ScenarioError{Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if s.Name == "" {
		return fail("name", "name is required")
	}
	if s.Description == "" {
		return fail("description", "description is required")
	}
	if s.Metadata == "" {
		return fail("metadata", "metadata directory is required")
	}
	if _, err := engine.ParseReplacementPolicy(s.Policy); err != nil {
		return fail("policy", "%v", err)
	}
	if len(s.Sessions) == 0 {
		return fail("sessions", "sessions list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Sessions))
	for i, sess := range s.Sessions {
		field := fmt.Sprintf("sessions[%d]", i)
		if sess.Name == "" {
			return fail(field, "name is required")
		}
		if names[sess.Name] {
			return fail(field, "duplicate session name %q", sess.Name)
		}
		names[sess.Name] = true
		if len(sess.Steps) == 0 {
			return fail(field, "steps list is required and must be non-empty")
		}
		for j, step := range sess.Steps {
			if err := validateStep(step); err != nil {
				return fail(fmt.Sprintf("%s.steps[%d]", field, j), "%v", err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, names); err != nil {
			return fail(fmt.Sprintf("assertions[%d]", i), "%v", err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	for _, present := range []bool{
		step.Add != nil, step.Load != nil, step.Set != nil, step.Replace != nil,
		step.Append != nil, step.Remove != "", step.Detect, step.DebugView != nil,
		step.Expect != nil, step.Save != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one action is required, got %d", set)
	}

	switch {
	case step.Add != nil:
		return validateObjectSpec(*step.Add)
	case step.Load != nil:
		if step.Load.Type == "" {
			return fmt.Errorf("load: type is required")
		}
	case step.Set != nil:
		if step.Set.Object == "" || len(step.Set.Values) == 0 {
			return fmt.Errorf("set: object and values are required")
		}
	case step.Replace != nil:
		return validateCollectionStep("replace", *step.Replace)
	case step.Append != nil:
		return validateCollectionStep("append", *step.Append)
	case step.Expect != nil:
		if step.Expect.Object == "" {
			return fmt.Errorf("expect: object is required")
		}
	}
	return nil
}

func validateObjectSpec(o ObjectSpec) error {
	if o.Type == "" {
		return fmt.Errorf("object type is required")
	}
	for nav, children := range o.Children {
		for _, child := range children {
			if err := validateObjectSpec(child); err != nil {
				return fmt.Errorf("children.%s: %w", nav, err)
			}
		}
	}
	return nil
}

func validateCollectionStep(name string, c CollectionStep) error {
	if c.Object == "" || c.Navigation == "" {
		return fmt.Errorf("%s: object and navigation are required", name)
	}
	for _, o := range c.With {
		if err := validateObjectSpec(o); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion, sessions map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("type is required")
	}
	if a.Session != "" && !sessions[a.Session] {
		return fmt.Errorf("unknown session %q", a.Session)
	}
	if a.Entity != "" && !validIdentifier.MatchString(a.Entity) {
		return fmt.Errorf("invalid entity name %q", a.Entity)
	}
	for _, m := range []map[string]any{a.Where, a.Expect, a.Key, a.Values} {
		for name := range m {
			if !validIdentifier.MatchString(name) {
				return fmt.Errorf("invalid property name %q", name)
			}
		}
	}

	switch a.Type {
	case AssertRow:
		if a.Entity == "" {
			return fmt.Errorf("entity is required for row")
		}
		if len(a.Where) == 0 {
			return fmt.Errorf("where is required for row")
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("expect is required for row")
		}
	case AssertRowCount:
		if a.Entity == "" {
			return fmt.Errorf("entity is required for row_count")
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("non-negative count is required for row_count")
		}
	case AssertOpContains:
		if a.Kind == "" || a.Entity == "" {
			return fmt.Errorf("kind and entity are required for op_contains")
		}
	case AssertOpCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("non-negative count is required for op_count")
		}
	case AssertOpOrder:
		if len(a.Ops) < 2 {
			return fmt.Errorf("at least two ops are required for op_order")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}

	if a.Kind != "" {
		if _, err := parseKind(a.Kind); err != nil {
			return err
		}
	}
	return nil
}
