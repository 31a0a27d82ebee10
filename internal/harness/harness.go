package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/savepipe/internal/compiler"
	"github.com/roach88/savepipe/internal/engine"
	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/registry"
	"github.com/roach88/savepipe/internal/store"
)

// Option configures Run.
type Option func(*options)

// Backend is the storage a scenario runs against.
type Backend interface {
	engine.BatchExecutor
	engine.RowSource
	EnsureSchema(ctx context.Context, reg *registry.Registry) error
}

type options struct {
	logger      *slog.Logger
	database    string
	backend     Backend
	policy      engine.ReplacementPolicy
	sessionOpts []engine.Option
}

// WithLogger routes engine and harness logs to logger. Logs are discarded
// by default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDatabase runs the scenario against a SQLite file instead of a fresh
// in-memory database. Ignored when a backend is given.
func WithDatabase(path string) Option {
	return func(o *options) {
		o.database = path
	}
}

// WithBackend runs the scenario against b instead of SQLite. The caller
// owns b and closes it.
func WithBackend(b Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithDefaultPolicy sets the replacement policy of scenarios that do not
// name one.
func WithDefaultPolicy(p engine.ReplacementPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithSessionOptions adds engine options to every session. The scenario's
// policy and session ID generator are applied after them.
func WithSessionOptions(opts ...engine.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Compile the metadata directory and build the registry
// 2. Open the database and create one table per entity
// 3. Run each session's steps in a fresh tracking session
// 4. Evaluate assertions against stored rows and recorded operations
//
// A returned error means the scenario could not be run at all. Failed
// expectations are reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		database: ":memory:",
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.Background()

	reg, err := loadRegistry(scenario.Metadata)
	if err != nil {
		return nil, err
	}
	policy := o.policy
	if scenario.Policy != "" {
		if policy, err = engine.ParseReplacementPolicy(scenario.Policy); err != nil {
			return nil, err
		}
	}

	backend := o.backend
	if backend == nil {
		st, err := store.Open(o.database)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()
		backend = st
	}
	if err := backend.EnsureSchema(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	result := NewResult()
	result.Policy = policy.String()
	for _, spec := range scenario.Sessions {
		rec := &recorder{exec: backend}
		sessionOpts := append([]engine.Option{engine.WithLogger(o.logger)}, o.sessionOpts...)
		sessionOpts = append(sessionOpts,
			engine.WithReplacementPolicy(policy),
			engine.WithSessionIDGenerator(engine.NewFixedGenerator(spec.Name)))
		r := &runner{
			name:    spec.Name,
			session: engine.NewSession(reg, rec, sessionOpts...),
			reg:     reg,
			source:  backend,
			rec:     rec,
			objects: make(map[string]*engine.Object),
			result:  result,
			logger:  o.logger.With("scenario", scenario.Name, "session", spec.Name),
		}
		if err := r.run(ctx, spec.Steps); err != nil {
			result.AddError(err.Error())
			break
		}
	}

	actx := &AssertionContext{Ctx: ctx, Rows: backend, Registry: reg}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func loadRegistry(dir string) (*registry.Registry, error) {
	loaded, errs := compiler.LoadDir(dir)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to compile metadata: %w", errors.Join(errs...))
	}
	reg, err := registry.Build(loaded.Entities...)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}
	return reg, nil
}

// recorder passes batches through to storage and keeps a copy of every
// operation it was handed.
type recorder struct {
	exec engine.BatchExecutor
	ops  []model.Operation
}

func (r *recorder) ExecuteBatch(ctx context.Context, ops []model.Operation) ([]model.OperationResult, error) {
	r.ops = append(r.ops, ops...)
	return r.exec.ExecuteBatch(ctx, ops)
}

// runner executes the steps of one session.
type runner struct {
	name    string
	session *engine.Session
	reg     *registry.Registry
	source  engine.RowSource
	rec     *recorder
	objects map[string]*engine.Object
	result  *Result
	logger  *slog.Logger
}

func (r *runner) run(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		if err := r.step(ctx, i, step); err != nil {
			return fmt.Errorf("session %s step %d: %w", r.name, i, err)
		}
		r.logger.Debug("step completed", "step", i)
	}
	return nil
}

// fail records a failed expectation without stopping the session.
func (r *runner) fail(i int, format string, args ...any) {
	r.result.AddError(fmt.Sprintf("session %s step %d: %s", r.name, i, fmt.Sprintf(format, args...)))
}

func (r *runner) step(ctx context.Context, i int, step Step) error {
	switch {
	case step.Add != nil:
		obj, err := r.build(*step.Add)
		if err != nil {
			return err
		}
		_, err = r.session.Add(obj)
		return err

	case step.Load != nil:
		return r.load(ctx, i, *step.Load)

	case step.Set != nil:
		obj, meta, err := r.lookup(step.Set.Object)
		if err != nil {
			return err
		}
		return r.assign(obj, meta, step.Set.Values)

	case step.Replace != nil:
		obj, children, err := r.collection(*step.Replace)
		if err != nil {
			return err
		}
		obj.SetCollection(step.Replace.Navigation, children...)
		return nil

	case step.Append != nil:
		obj, children, err := r.collection(*step.Append)
		if err != nil {
			return err
		}
		obj.Append(step.Append.Navigation, children...)
		return nil

	case step.Remove != "":
		obj, _, err := r.lookup(step.Remove)
		if err != nil {
			return err
		}
		return r.session.Remove(obj)

	case step.Detect:
		return r.session.DetectChanges()

	case step.DebugView != nil:
		view := r.session.DebugView()
		r.result.Trace = append(r.result.Trace, TraceEvent{Type: EventDebugView, Session: r.name, Step: i, View: view})
		if normalizeView(view) != normalizeView(*step.DebugView) {
			r.fail(i, "debug view mismatch\nexpected:\n%s\nactual:\n%s", *step.DebugView, view)
		}
		return nil

	case step.Expect != nil:
		return r.expect(i, *step.Expect)

	case step.Save != nil:
		return r.save(ctx, i, *step.Save)
	}
	return fmt.Errorf("empty step")
}

func (r *runner) load(ctx context.Context, i int, step LoadStep) error {
	meta, err := r.reg.Describe(step.Type)
	if err != nil {
		return err
	}
	where, err := fieldsFor(meta, step.Where)
	if err != nil {
		return fmt.Errorf("load where: %w", err)
	}
	roots, err := r.session.Load(ctx, r.source, step.Type, engine.LoadOptions{
		Where:         where,
		Include:       step.Include,
		NoAutoInclude: step.NoAutoInclude,
	})
	if err != nil {
		return err
	}
	if step.Count != nil && len(roots) != *step.Count {
		r.fail(i, "loaded %d %s rows, expected %d", len(roots), step.Type, *step.Count)
	}
	if len(step.As) > len(roots) {
		return fmt.Errorf("load: %d names for %d rows", len(step.As), len(roots))
	}
	for j, name := range step.As {
		if err := r.bind(name, roots[j]); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) expect(i int, step ExpectStep) error {
	obj, meta, err := r.lookup(step.Object)
	if err != nil {
		return err
	}
	if step.State != "" {
		state := engine.Detached.String()
		if e := r.session.Entry(obj); e != nil {
			state = e.State().String()
		}
		if state != step.State {
			r.fail(i, "%s is %s, expected %s", step.Object, state, step.State)
		}
	}
	want, err := fieldsFor(meta, step.Values)
	if err != nil {
		return fmt.Errorf("expect values: %w", err)
	}
	for _, f := range want {
		if got := obj.Get(f.Name); !model.Equal(got, f.Value) {
			r.fail(i, "%s.%s = %s, expected %s", step.Object, f.Name, model.Format(got), model.Format(f.Value))
		}
	}
	return nil
}

func (r *runner) save(ctx context.Context, i int, step SaveStep) error {
	r.rec.ops = nil
	n, err := r.session.SaveChanges(ctx)
	event := TraceEvent{Type: EventSave, Session: r.name, Step: i, Count: n, Operations: r.rec.ops}

	if err != nil {
		var engineErr *engine.Error
		if !errors.As(err, &engineErr) {
			return fmt.Errorf("save: %w", err)
		}
		event.Error = string(engineErr.Code)
		r.result.Trace = append(r.result.Trace, event)
		if step.Error == "" {
			return fmt.Errorf("save: %w", err)
		}
		if step.Error != event.Error {
			r.fail(i, "save failed with %s, expected %s", event.Error, step.Error)
		}
		return nil
	}

	r.result.Trace = append(r.result.Trace, event)
	if step.Error != "" {
		r.fail(i, "save succeeded, expected %s", step.Error)
	}
	check := func(label string, want *int, got int) {
		if want != nil && *want != got {
			r.fail(i, "save wrote %d %s, expected %d", got, label, *want)
		}
	}
	check("operations", step.Operations, n)
	check("inserts", step.Inserts, countKind(event.Operations, model.Insert))
	check("updates", step.Updates, countKind(event.Operations, model.Update))
	check("deletes", step.Deletes, countKind(event.Operations, model.Delete))
	return nil
}

// build creates the object graph described by spec, naming objects along
// the way.
func (r *runner) build(spec ObjectSpec) (*engine.Object, error) {
	meta, err := r.reg.Describe(spec.Type)
	if err != nil {
		return nil, err
	}
	obj := engine.NewObject(spec.Type)
	if err := r.assign(obj, meta, spec.Values); err != nil {
		return nil, err
	}
	for _, nav := range sortedKeys(spec.Children) {
		if _, ok := meta.Relationship(nav); !ok {
			return nil, fmt.Errorf("%s has no navigation %q", spec.Type, nav)
		}
		for _, childSpec := range spec.Children[nav] {
			child, err := r.build(childSpec)
			if err != nil {
				return nil, err
			}
			obj.Append(nav, child)
		}
	}
	if spec.As != "" {
		if err := r.bind(spec.As, obj); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (r *runner) collection(step CollectionStep) (*engine.Object, []*engine.Object, error) {
	obj, meta, err := r.lookup(step.Object)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := meta.Relationship(step.Navigation); !ok {
		return nil, nil, fmt.Errorf("%s has no navigation %q", meta.Name, step.Navigation)
	}
	var children []*engine.Object
	for _, name := range step.Refs {
		child, _, err := r.lookup(name)
		if err != nil {
			return nil, nil, err
		}
		children = append(children, child)
	}
	for _, spec := range step.With {
		child, err := r.build(spec)
		if err != nil {
			return nil, nil, err
		}
		children = append(children, child)
	}
	return obj, children, nil
}

func (r *runner) assign(obj *engine.Object, meta *model.EntityMetadata, values map[string]any) error {
	fields, err := fieldsFor(meta, values)
	if err != nil {
		return err
	}
	for _, f := range fields {
		obj.Set(f.Name, f.Value)
	}
	return nil
}

func (r *runner) bind(name string, obj *engine.Object) error {
	if _, dup := r.objects[name]; dup {
		return fmt.Errorf("object name %q already used in this session", name)
	}
	r.objects[name] = obj
	return nil
}

// lookup resolves an object reference: a name bound by add or load,
// optionally followed by navigation steps, e.g. books.Items[0].
func (r *runner) lookup(ref string) (*engine.Object, *model.EntityMetadata, error) {
	parts := strings.Split(ref, ".")
	obj, ok := r.objects[parts[0]]
	if !ok {
		return nil, nil, fmt.Errorf("unknown object %q", parts[0])
	}
	for _, part := range parts[1:] {
		nav, idx, err := parseIndex(part)
		if err != nil {
			return nil, nil, fmt.Errorf("object %q: %w", ref, err)
		}
		children := obj.Collection(nav)
		if idx >= len(children) {
			return nil, nil, fmt.Errorf("object %q: %s has %d members", ref, nav, len(children))
		}
		obj = children[idx]
	}
	meta, err := r.reg.Describe(obj.Type())
	if err != nil {
		return nil, nil, err
	}
	return obj, meta, nil
}

// parseIndex splits "Items[2]" into ("Items", 2).
func parseIndex(part string) (string, int, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 || !strings.HasSuffix(part, "]") {
		return "", 0, fmt.Errorf("malformed navigation %q (want Name[index])", part)
	}
	var idx int
	if _, err := fmt.Sscanf(part[open+1:len(part)-1], "%d", &idx); err != nil || idx < 0 {
		return "", 0, fmt.Errorf("malformed index in %q", part)
	}
	return part[:open], idx, nil
}

// fieldsFor converts scenario values to typed fields of meta, sorted by
// property declaration order.
func fieldsFor(meta *model.EntityMetadata, values map[string]any) (model.Fields, error) {
	fields := make(model.Fields, 0, len(values))
	for _, p := range meta.Properties {
		raw, ok := values[p.Name]
		if !ok {
			continue
		}
		v, err := model.FromAny(raw)
		if err == nil {
			v, err = model.Coerce(v, p.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", meta.Name, p.Name, err)
		}
		fields = append(fields, model.Field{Name: p.Name, Value: v})
	}
	if len(fields) != len(values) {
		for _, name := range sortedKeys(values) {
			if _, ok := meta.Property(name); !ok {
				return nil, fmt.Errorf("%s has no property %q", meta.Name, name)
			}
		}
	}
	return fields, nil
}

func countKind(ops []model.Operation, kind model.OperationKind) int {
	n := 0
	for _, op := range ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// normalizeView drops leading and trailing whitespace of every line and
// surrounding blank lines, so expected views can be indented in YAML.
func normalizeView(view string) string {
	lines := strings.Split(strings.TrimSpace(view), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
