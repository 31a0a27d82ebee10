package spanstore

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"

	"github.com/roach88/savepipe/internal/model"
)

// Rows returns the rows of meta's table matching every field of where,
// ordered by primary key.
func (s *Store) Rows(ctx context.Context, meta *model.EntityMetadata, where model.Fields) ([]model.Fields, error) {
	iter := s.client.Single().Query(ctx, selectStatement(meta, where))
	defer iter.Stop()

	var result []model.Fields
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", meta.Table, err)
		}
		fields, err := decodeRow(meta, row)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", meta.Table, err)
		}
		result = append(result, fields)
	}
	return result, nil
}

func selectStatement(meta *model.EntityMetadata, where model.Fields) spanner.Statement {
	cols := make([]string, len(meta.Properties))
	for i, p := range meta.Properties {
		cols[i] = quoteIdent(p.Column)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quoteIdent(meta.Table))

	params := make(map[string]interface{})
	var conds []string
	for i, f := range where {
		col := quoteIdent(column(meta, f.Name))
		if model.IsNull(f.Value) {
			conds = append(conds, col+" IS NULL")
			continue
		}
		name := fmt.Sprintf("p%d", i)
		conds = append(conds, fmt.Sprintf("%s = @%s", col, name))
		params[name] = model.ToDriver(f.Value)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + columnList(meta, meta.Key)

	return spanner.Statement{SQL: query, Params: params}
}

func decodeRow(meta *model.EntityMetadata, row *spanner.Row) (model.Fields, error) {
	fields := make(model.Fields, len(meta.Properties))
	for i, p := range meta.Properties {
		var v model.Value = model.Null{}
		switch p.Kind {
		case model.KindInt:
			var n spanner.NullInt64
			if err := row.Column(i, &n); err != nil {
				return nil, err
			}
			if n.Valid {
				v = model.Int(n.Int64)
			}
		case model.KindBool:
			var b spanner.NullBool
			if err := row.Column(i, &b); err != nil {
				return nil, err
			}
			if b.Valid {
				v = model.Bool(b.Bool)
			}
		default:
			var s spanner.NullString
			if err := row.Column(i, &s); err != nil {
				return nil, err
			}
			if s.Valid {
				v = model.String(s.StringVal)
			}
		}
		fields[i] = model.Field{Name: p.Name, Value: v}
	}
	return fields, nil
}
