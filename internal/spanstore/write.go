package spanstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"

	"github.com/roach88/savepipe/internal/model"
)

// ExecuteBatch applies ops in one read-write transaction. Mutations are
// buffered and applied in order at commit.
//
// The transaction function may be retried by the client when Spanner
// aborts it, so all per-attempt state lives inside it.
func (s *Store) ExecuteBatch(ctx context.Context, ops []model.Operation) ([]model.OperationResult, error) {
	var results []model.OperationResult
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		b := &batch{txn: txn, next: make(map[string]int64), assigned: make(map[int64]int64), inserted: make(map[string]bool)}
		results = results[:0]

		var muts []*spanner.Mutation
		for i, op := range ops {
			m, res, err := b.mutation(ctx, op)
			if err != nil {
				return fmt.Errorf("operation %d (%s): %w", i, op, err)
			}
			if res != nil {
				res.Index = i
				results = append(results, *res)
			}
			muts = append(muts, m)
		}
		return txn.BufferWrite(muts)
	})
	if err != nil {
		return nil, fmt.Errorf("execute batch: %w", classify(err))
	}
	s.logger.Debug("batch committed", "ops", len(ops), "assigned", len(results))
	return results, nil
}

// batch holds the state of one transaction attempt.
type batch struct {
	txn      *spanner.ReadWriteTransaction
	next     map[string]int64 // table -> next generated key
	assigned map[int64]int64  // placeholder -> assigned key
	inserted map[string]bool  // rows inserted by this batch
}

func (b *batch) mutation(ctx context.Context, op model.Operation) (*spanner.Mutation, *model.OperationResult, error) {
	op = op.Substitute(b.assigned)
	table := op.Entity.Table

	switch op.Kind {
	case model.Insert:
		var res *model.OperationResult
		values := op.Values
		key := op.Key
		if op.Generated != "" {
			id, err := b.nextKey(ctx, op.Entity, op.Generated)
			if err != nil {
				return nil, nil, err
			}
			if placeholder, ok := op.Key.Get(op.Generated).(model.Int); ok {
				b.assigned[int64(placeholder)] = id
			}
			assigned := model.Field{Name: op.Generated, Value: model.Int(id)}
			values = append(model.Fields{assigned}, values...)
			key = model.Fields{assigned}
			res = &model.OperationResult{Assigned: model.Fields{assigned}}
		}
		b.inserted[rowIdentity(table, key)] = true
		cols, vals := columnsAndValues(op.Entity, values)
		return spanner.Insert(table, cols, vals), res, nil

	case model.Update:
		if err := b.mustExist(ctx, op); err != nil {
			return nil, nil, err
		}
		cols, vals := columnsAndValues(op.Entity, append(append(model.Fields{}, op.Key...), op.Values...))
		return spanner.Update(table, cols, vals), nil, nil

	case model.Delete:
		if err := b.mustExist(ctx, op); err != nil {
			return nil, nil, err
		}
		return spanner.Delete(table, spannerKey(op.Entity, op.Key)), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown operation kind %s", op.Kind)
}

// mustExist fails with ErrRowNotFound unless op's row is stored or was
// inserted earlier in this batch. Spanner deletes of absent rows succeed
// silently.
func (b *batch) mustExist(ctx context.Context, op model.Operation) error {
	if b.inserted[rowIdentity(op.Entity.Table, op.Key)] {
		return nil
	}
	_, err := b.txn.ReadRow(ctx, op.Entity.Table, spannerKey(op.Entity, op.Key), []string{column(op.Entity, op.Entity.Key[0])})
	if err != nil {
		return classify(err)
	}
	return nil
}

// nextKey returns MAX(key)+1 for the table, counting keys already handed
// out in this batch.
func (b *batch) nextKey(ctx context.Context, meta *model.EntityMetadata, name string) (int64, error) {
	if id, ok := b.next[meta.Table]; ok {
		b.next[meta.Table] = id + 1
		return id, nil
	}

	stmt := spanner.Statement{
		SQL: fmt.Sprintf("SELECT IFNULL(MAX(%s), 0) FROM %s", quoteIdent(column(meta, name)), quoteIdent(meta.Table)),
	}
	iter := b.txn.Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err != nil {
		return 0, fmt.Errorf("read max %s: %w", meta.Table, err)
	}
	var highest int64
	if err := row.Column(0, &highest); err != nil {
		return 0, fmt.Errorf("read max %s: %w", meta.Table, err)
	}
	b.next[meta.Table] = highest + 2
	return highest + 1, nil
}

func columnsAndValues(meta *model.EntityMetadata, fields model.Fields) ([]string, []any) {
	cols := make([]string, len(fields))
	vals := make([]any, len(fields))
	for i, f := range fields {
		cols[i] = column(meta, f.Name)
		kind := model.KindString
		if p, ok := meta.Property(f.Name); ok {
			kind = p.Kind
		}
		vals[i] = toSpanner(kind, f.Value)
	}
	return cols, vals
}

// toSpanner converts v to a typed Spanner value. Nulls carry the column
// type so Spanner accepts them.
func toSpanner(kind model.Kind, v model.Value) any {
	switch kind {
	case model.KindInt:
		n, ok := v.(model.Int)
		return spanner.NullInt64{Int64: int64(n), Valid: ok}
	case model.KindBool:
		b, ok := v.(model.Bool)
		return spanner.NullBool{Bool: bool(b), Valid: ok}
	default:
		s, ok := v.(model.String)
		return spanner.NullString{StringVal: string(s), Valid: ok}
	}
}

func spannerKey(meta *model.EntityMetadata, key model.Key) spanner.Key {
	k := make(spanner.Key, len(key))
	for i, f := range key {
		k[i] = model.ToDriver(f.Value)
	}
	return k
}

func rowIdentity(table string, key model.Key) string {
	return table + "\x00" + key.Identity()
}
