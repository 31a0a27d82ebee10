package engine

import (
	"cmp"
	"errors"
	"slices"
	"strings"

	"github.com/roach88/savepipe/internal/graph"
	"github.com/roach88/savepipe/internal/model"
)

// PlannedOperation is one filtered operation and the entry it writes.
type PlannedOperation struct {
	Operation model.Operation
	Entry     *Entry

	// Replaced is the Deleted entry whose row an update-in-place rewrites.
	// Nil for every other operation.
	Replaced *Entry

	// Omitted names the properties the save-behavior filter removed.
	Omitted []string
}

// Batch is the ordered result of planning.
type Batch struct {
	Operations []PlannedOperation

	// Skipped holds updates with nothing left to write after filtering.
	// Their entries are still refreshed by a successful save.
	Skipped []PlannedOperation
}

// Ops returns the operations to hand to a BatchExecutor.
func (b *Batch) Ops() []model.Operation {
	ops := make([]model.Operation, len(b.Operations))
	for i, p := range b.Operations {
		ops[i] = p.Operation
	}
	return ops
}

// Len returns the number of operations to execute.
func (b *Batch) Len() int { return len(b.Operations) }

// Plan turns staged entries into an ordered batch. It does not run
// DetectChanges and does not modify the session.
//
// Ordering: a principal's insert precedes inserts and updates of its
// dependents; a dependent's delete precedes its principal's delete; a
// delete precedes an insert of the same row. Otherwise operations follow
// staging order. A batch that cannot be ordered fails with
// CYCLIC_DEPENDENCY.
func (s *Session) Plan() (*Batch, error) {
	staged := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		switch e.state {
		case Added, Modified, Deleted:
			staged = append(staged, e)
		}
	}
	slices.SortStableFunc(staged, func(a, b *Entry) int {
		return cmp.Compare(a.staged, b.staged)
	})

	var pairs map[*Entry]*Entry
	if s.policy == ReplaceUpdateInPlace {
		pairs = pairReplacements(staged)
	}
	replaced := make(map[*Entry]bool, len(pairs))
	for _, d := range pairs {
		replaced[d] = true
	}

	batch := &Batch{}
	var planned []PlannedOperation
	for _, e := range staged {
		var p PlannedOperation
		switch {
		case replaced[e]:
			continue
		case pairs[e] != nil:
			p = planReplacement(e, pairs[e])
		case e.state == Added:
			p = planInsert(e)
		case e.state == Modified:
			p = planUpdate(e)
		case e.state == Deleted:
			p = planDelete(e)
		}
		if p.Operation.Kind == model.Update && len(p.Operation.Values) == 0 {
			batch.Skipped = append(batch.Skipped, p)
			continue
		}
		planned = append(planned, p)
	}

	ordered, err := orderOperations(planned)
	if err != nil {
		return nil, err
	}
	batch.Operations = ordered

	s.logger.Debug("planned batch",
		"operations", len(batch.Operations),
		"skipped", len(batch.Skipped),
		"policy", s.policy.String())
	return batch, nil
}

// pairReplacements matches Added entries to Deleted entries holding the
// same real key.
func pairReplacements(staged []*Entry) map[*Entry]*Entry {
	deleted := make(map[string]*Entry)
	for _, e := range staged {
		if e.state == Deleted {
			deleted[e.identity()] = e
		}
	}
	pairs := make(map[*Entry]*Entry)
	for _, e := range staged {
		if e.state != Added || e.HasTemporaryKey() {
			continue
		}
		id := e.identity()
		if d := deleted[id]; d != nil {
			pairs[e] = d
			delete(deleted, id)
		}
	}
	return pairs
}

func planInsert(e *Entry) PlannedOperation {
	op := model.Operation{Kind: model.Insert, Entity: e.meta, Key: e.Key()}
	fields := make(model.Fields, 0, len(e.meta.Properties))
	for _, p := range e.meta.Properties {
		if p.Generated && e.temporary[p.Name] {
			op.Generated = p.Name
			continue
		}
		fields = append(fields, model.Field{Name: p.Name, Value: e.Current(p.Name)})
	}
	kept, omitted := FilterProperties(model.Insert, e.meta, fields)
	op.Values = kept
	op.Temporary = temporaryNames(e, op)
	return PlannedOperation{Operation: op, Entry: e, Omitted: omitted}
}

func planUpdate(e *Entry) PlannedOperation {
	fields := make(model.Fields, 0, len(e.changed))
	for _, name := range e.changed {
		fields = append(fields, model.Field{Name: name, Value: e.Current(name)})
	}
	kept, omitted := FilterProperties(model.Update, e.meta, fields)
	op := model.Operation{Kind: model.Update, Entity: e.meta, Key: e.OriginalKey(), Values: kept}
	op.Temporary = temporaryNames(e, op)
	return PlannedOperation{Operation: op, Entry: e, Omitted: omitted}
}

func planDelete(e *Entry) PlannedOperation {
	key := e.OriginalKey()
	kept, omitted := FilterProperties(model.Delete, e.meta, key)
	return PlannedOperation{
		Operation: model.Operation{Kind: model.Delete, Entity: e.meta, Key: kept},
		Entry:     e,
		Omitted:   omitted,
	}
}

// planReplacement writes the Added entry a over the row of the Deleted
// entry d, as an update against d's original values.
func planReplacement(a, d *Entry) PlannedOperation {
	var fields model.Fields
	for _, p := range a.meta.Properties {
		if a.meta.IsKey(p.Name) {
			continue
		}
		if v := a.Current(p.Name); !model.Equal(v, d.Original(p.Name)) {
			fields = append(fields, model.Field{Name: p.Name, Value: v})
		}
	}
	kept, omitted := FilterProperties(model.Update, a.meta, fields)
	op := model.Operation{Kind: model.Update, Entity: a.meta, Key: d.OriginalKey(), Values: kept}
	op.Temporary = temporaryNames(a, op)
	return PlannedOperation{Operation: op, Entry: a, Replaced: d, Omitted: omitted}
}

func temporaryNames(e *Entry, op model.Operation) []string {
	var names []string
	for _, f := range op.Key {
		if e.temporary[f.Name] {
			names = append(names, f.Name)
		}
	}
	for _, f := range op.Values {
		if e.temporary[f.Name] && !slices.Contains(names, f.Name) {
			names = append(names, f.Name)
		}
	}
	return names
}

func orderOperations(planned []PlannedOperation) ([]PlannedOperation, error) {
	g := graph.New[int]()
	inserts := make(map[string]int)
	deletes := make(map[string]int)
	for i, p := range planned {
		g.AddNode(i)
		id := identityOf(p.Operation.Entity.Name, p.Operation.Key)
		switch p.Operation.Kind {
		case model.Insert:
			inserts[id] = i
		case model.Delete:
			deletes[id] = i
		}
	}

	for i, p := range planned {
		op := p.Operation
		e := p.Entry
		switch op.Kind {
		case model.Insert:
			if d, ok := deletes[identityOf(op.Entity.Name, op.Key)]; ok {
				g.AddEdge(d, i)
			}
			for _, ref := range op.Entity.References {
				j, ok := inserts[principalIdentity(ref, e.current)]
				if ok && (j != i || e.HasTemporaryKey()) {
					g.AddEdge(j, i)
				}
			}
		case model.Update:
			original := e.original
			if p.Replaced != nil {
				original = p.Replaced.original
			}
			for _, ref := range op.Entity.References {
				if !writesAny(op.Values, ref.ForeignKey) {
					continue
				}
				if j, ok := inserts[principalIdentity(ref, e.current)]; ok {
					g.AddEdge(j, i)
				}
				if j, ok := deletes[principalIdentity(ref, original)]; ok {
					g.AddEdge(i, j)
				}
			}
		case model.Delete:
			for _, ref := range op.Entity.References {
				if j, ok := deletes[principalIdentity(ref, e.original)]; ok && j != i {
					g.AddEdge(i, j)
				}
			}
		}
	}

	order, err := g.TopoSort(func(a, b int) bool {
		sa, sb := planned[a].Entry.staged, planned[b].Entry.staged
		if sa != sb {
			return sa < sb
		}
		return a < b
	})
	var cycle *graph.CycleError[int]
	if errors.As(err, &cycle) {
		return nil, cyclicDependencyError(g, planned, cycle)
	}
	if err != nil {
		return nil, err
	}

	out := make([]PlannedOperation, len(order))
	for i, n := range order {
		out[i] = planned[n]
	}
	return out, nil
}

func cyclicDependencyError(g *graph.Graph[int], planned []PlannedOperation, cycle *graph.CycleError[int]) *Error {
	path := g.CyclePath(cycle.Cycles[0])
	steps := make([]string, len(path))
	for i, n := range path {
		steps[i] = planned[n].Operation.String()
	}
	first := planned[path[0]]
	return &Error{
		Code:    ErrCodeCyclicDependency,
		Message: "operations cannot be ordered without deferred constraints",
		Entity:  first.Operation.Entity.Name,
		Key:     first.Operation.Key.String(),
		Details: map[string]string{"cycle": strings.Join(steps, " -> ")},
	}
}

// principalIdentity is the identity of the row the foreign key values in
// values point at, or "" when any of them is null.
func principalIdentity(ref model.Relationship, values map[string]model.Value) string {
	key := make(model.Key, len(ref.ForeignKey))
	for i, fk := range ref.ForeignKey {
		v := valueOf(values, fk)
		if model.IsNull(v) {
			return ""
		}
		key[i] = model.Field{Name: fk, Value: v}
	}
	return identityOf(ref.Principal, key)
}

func writesAny(values model.Fields, names []string) bool {
	for _, n := range names {
		if values.Has(n) {
			return true
		}
	}
	return false
}
