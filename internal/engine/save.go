package engine

import (
	"context"

	"github.com/roach88/savepipe/internal/model"
)

// BatchExecutor is the storage collaborator. ExecuteBatch applies ops in
// order, atomically: either every operation commits or none does.
//
// Inserts with Operation.Generated set must report the assigned key in an
// OperationResult. Placeholder values named in Operation.Temporary must be
// replaced with keys assigned earlier in the same batch.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, ops []model.Operation) ([]model.OperationResult, error)
}

// SaveChanges writes all staged changes through the session's executor and
// returns the number of operations executed.
//
// When the executor fails the error is a STORAGE_FAILURE and no entry is
// modified, so the same batch can be planned again and retried. Nothing
// is retried automatically.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	if s.autoDetect {
		if err := s.DetectChanges(); err != nil {
			return 0, err
		}
	}
	batch, err := s.Plan()
	if err != nil {
		return 0, err
	}

	var results []model.OperationResult
	if batch.Len() > 0 {
		if s.executor == nil {
			return 0, &Error{Code: ErrCodeNoExecutor, Message: "session has no batch executor"}
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		results, err = s.executor.ExecuteBatch(ctx, batch.Ops())
		if err != nil {
			s.logger.Warn("batch rejected by storage", "operations", batch.Len(), "error", err)
			return 0, &Error{
				Code:    ErrCodeStorage,
				Message: "batch was not applied",
				Cause:   err,
			}
		}
	}

	s.refreshAfterSave(batch, results)
	s.logger.Info("saved changes",
		"operations", batch.Len(),
		"skipped", len(batch.Skipped))
	return batch.Len(), nil
}

// refreshAfterSave makes the written values the new original values.
//
// Assigned keys replace placeholders everywhere they were propagated.
// Properties the filter kept out of an operation are reset to what the
// store holds: null for an insert, the original value for an update.
func (s *Session) refreshAfterSave(batch *Batch, results []model.OperationResult) {
	assigned := make(map[int64]model.Value)
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(batch.Operations) {
			s.logger.Warn("ignoring result for unknown operation", "index", r.Index)
			continue
		}
		e := batch.Operations[r.Index].Entry
		for _, f := range r.Assigned {
			if placeholder, ok := e.current[f.Name].(model.Int); ok && e.temporary[f.Name] {
				assigned[int64(placeholder)] = f.Value
			}
			delete(e.temporary, f.Name)
			e.current[f.Name] = f.Value
			e.object.Set(f.Name, f.Value)
		}
	}
	for _, e := range s.entries {
		for name := range e.temporary {
			placeholder, ok := e.current[name].(model.Int)
			if !ok {
				continue
			}
			if v, ok := assigned[int64(placeholder)]; ok {
				e.current[name] = v
				e.object.Set(name, v)
				delete(e.temporary, name)
			}
		}
	}

	for _, p := range batch.Operations {
		s.refreshEntry(p)
	}
	for _, p := range batch.Skipped {
		s.refreshEntry(p)
	}

	for _, e := range s.entries {
		e.changed = nil
		e.takeSnapshots()
		if err := s.reindex(e); err != nil {
			s.logger.Warn("assigned key collides with a tracked entry",
				"entity", e.meta.Name, "key", e.Key().String())
		}
		if e.state != Unchanged {
			s.stage(e, Unchanged)
		}
	}
}

func (s *Session) refreshEntry(p PlannedOperation) {
	e := p.Entry
	switch {
	case p.Operation.Kind == model.Delete:
		s.detach(e)

	case p.Operation.Kind == model.Insert:
		for _, name := range p.Omitted {
			e.current[name] = model.Null{}
			e.object.Set(name, model.Null{})
		}
		e.original = copyValues(e.current)

	case p.Replaced != nil:
		e.original = copyValues(p.Replaced.original)
		for _, f := range p.Operation.Values {
			e.original[f.Name] = e.current[f.Name]
		}
		for _, name := range p.Omitted {
			e.current[name] = p.Replaced.original[name]
			e.object.Set(name, e.current[name])
		}
		s.detach(p.Replaced)

	default:
		for _, f := range p.Operation.Values {
			e.original[f.Name] = e.current[f.Name]
		}
		for _, name := range p.Omitted {
			e.current[name] = e.original[name]
			e.object.Set(name, e.current[name])
		}
	}
}
