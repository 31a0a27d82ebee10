package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/savepipe/internal/model"
)

// Rows returns the rows of meta's table matching every field of where,
// ordered by primary key. Values are converted to the declared property
// kinds; a row that cannot be converted is an error.
//
// A Null in where matches NULL columns.
func (s *Store) Rows(ctx context.Context, meta *model.EntityMetadata, where model.Fields) ([]model.Fields, error) {
	query, args := selectQuery(meta, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", meta.Table, err)
	}
	defer rows.Close()

	var result []model.Fields
	for rows.Next() {
		raw := make([]any, len(meta.Properties))
		ptrs := make([]any, len(raw))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", meta.Table, err)
		}

		row := make(model.Fields, len(meta.Properties))
		for i, p := range meta.Properties {
			v, err := model.FromAny(raw[i])
			if err == nil {
				v, err = model.Coerce(v, p.Kind)
			}
			if err != nil {
				return nil, fmt.Errorf("scan %s.%s: %w", meta.Table, p.Column, err)
			}
			row[i] = model.Field{Name: p.Name, Value: v}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", meta.Table, err)
	}
	return result, nil
}

// Count returns the number of rows in meta's table.
func (s *Store) Count(ctx context.Context, meta *model.EntityMetadata) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(meta.Table))
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", meta.Table, err)
	}
	return n, nil
}

func selectQuery(meta *model.EntityMetadata, where model.Fields) (string, []any) {
	cols := make([]string, len(meta.Properties))
	for i, p := range meta.Properties {
		cols[i] = quoteIdent(p.Column)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), quoteIdent(meta.Table))

	args := make([]any, 0, len(where))
	for i, f := range where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		// IS compares like = but also matches NULL to NULL.
		b.WriteString(quoteIdent(column(meta, f.Name)) + " IS ?")
		args = append(args, model.ToDriver(f.Value))
	}

	fmt.Fprintf(&b, " ORDER BY %s", columnList(meta, meta.Key))
	return b.String(), args
}
