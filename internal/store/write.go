package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/savepipe/internal/model"
)

// ErrRowNotFound is returned when an update or delete matches no row.
var ErrRowNotFound = errors.New("row not found")

// ExecuteBatch applies ops in order inside one transaction. Any failure
// rolls the whole batch back.
//
// Placeholder keys are substituted as the batch runs: once an insert with
// a Generated key has been executed, later operations listing the same
// property in Temporary receive the assigned value.
func (s *Store) ExecuteBatch(ctx context.Context, ops []model.Operation) ([]model.OperationResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("execute batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	assigned := make(map[int64]int64)
	var results []model.OperationResult
	for i, op := range ops {
		op = op.Substitute(assigned)

		var err error
		switch op.Kind {
		case model.Insert:
			var res *model.OperationResult
			res, err = insertRow(ctx, tx, op, assigned)
			if res != nil {
				res.Index = i
				results = append(results, *res)
			}
		case model.Update:
			err = updateRow(ctx, tx, op)
		case model.Delete:
			err = deleteRow(ctx, tx, op)
		default:
			err = fmt.Errorf("unknown operation kind %s", op.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("execute batch: operation %d (%s): %w", i, op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("execute batch: commit: %w", err)
	}
	return results, nil
}

func insertRow(ctx context.Context, tx *sql.Tx, op model.Operation, assigned map[int64]int64) (*model.OperationResult, error) {
	table := quoteIdent(op.Entity.Table)
	var query string
	args := make([]any, 0, len(op.Values))
	if len(op.Values) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
	} else {
		cols := make([]string, len(op.Values))
		marks := make([]string, len(op.Values))
		for i, f := range op.Values {
			cols[i] = quoteIdent(column(op.Entity, f.Name))
			marks[i] = "?"
			args = append(args, model.ToDriver(f.Value))
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if op.Generated == "" {
		return nil, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if placeholder, ok := op.Key.Get(op.Generated).(model.Int); ok {
		assigned[int64(placeholder)] = id
	}
	return &model.OperationResult{
		Assigned: model.Fields{{Name: op.Generated, Value: model.Int(id)}},
	}, nil
}

func updateRow(ctx context.Context, tx *sql.Tx, op model.Operation) error {
	if len(op.Values) == 0 {
		return nil
	}
	sets := make([]string, len(op.Values))
	args := make([]any, 0, len(op.Values)+len(op.Key))
	for i, f := range op.Values {
		sets[i] = quoteIdent(column(op.Entity, f.Name)) + " = ?"
		args = append(args, model.ToDriver(f.Value))
	}
	where, keyArgs := keyClause(op.Entity, op.Key)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		quoteIdent(op.Entity.Table), strings.Join(sets, ", "), where)
	return execOne(ctx, tx, query, append(args, keyArgs...))
}

func deleteRow(ctx context.Context, tx *sql.Tx, op model.Operation) error {
	where, args := keyClause(op.Entity, op.Key)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(op.Entity.Table), where)
	return execOne(ctx, tx, query, args)
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, tx *sql.Tx, query string, args []any) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrRowNotFound
	}
	return nil
}

func keyClause(meta *model.EntityMetadata, key model.Key) (string, []any) {
	conds := make([]string, len(key))
	args := make([]any, len(key))
	for i, f := range key {
		conds[i] = quoteIdent(column(meta, f.Name)) + " = ?"
		args[i] = model.ToDriver(f.Value)
	}
	return strings.Join(conds, " AND "), args
}
