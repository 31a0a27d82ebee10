package spanstore

import (
	"context"
	"fmt"
	"strings"

	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/registry"
)

// Schema returns the Spanner DDL for every entity in reg, principals
// before dependents in declaration order.
func Schema(reg *registry.Registry) []string {
	var stmts []string
	for _, meta := range reg.Entities() {
		stmts = append(stmts, createTable(reg, meta))
	}
	return stmts
}

func createTable(reg *registry.Registry, meta *model.EntityMetadata) string {
	var lines []string
	for _, p := range meta.Properties {
		line := fmt.Sprintf("%s %s", quoteIdent(p.Column), columnType(p.Kind))
		if !p.Nullable && p.Save != model.OmitOnInsert {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	for _, ref := range meta.References {
		principal, err := reg.Describe(ref.Principal)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			quoteIdent("FK_"+principal.Table+"_"+ref.Navigation),
			columnList(meta, ref.ForeignKey),
			quoteIdent(principal.Table),
			columnList(principal, principal.Key)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n) PRIMARY KEY (%s)",
		quoteIdent(meta.Table), strings.Join(lines, ",\n  "), columnList(meta, meta.Key))
}

// EnsureSchema applies Schema(reg) through the database admin API.
func (s *Store) EnsureSchema(ctx context.Context, reg *registry.Registry) error {
	admin, err := database.NewDatabaseAdminClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	op, err := admin.UpdateDatabaseDdl(ctx, &databasepb.UpdateDatabaseDdlRequest{
		Database:   s.database,
		Statements: Schema(reg),
	})
	if err != nil {
		return fmt.Errorf("failed to start DDL operation: %w", err)
	}
	if err := op.Wait(ctx); err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("DDL operation failed: %w", err)
	}
	s.logger.Debug("schema ensured", "database", s.database, "tables", len(reg.Entities()))
	return nil
}

func columnType(kind model.Kind) string {
	switch kind {
	case model.KindInt:
		return "INT64"
	case model.KindBool:
		return "BOOL"
	default:
		return "STRING(MAX)"
	}
}

func column(meta *model.EntityMetadata, name string) string {
	if p, ok := meta.Property(name); ok {
		return p.Column
	}
	return name
}

func columnList(meta *model.EntityMetadata, names []string) string {
	cols := make([]string, len(names))
	for i, n := range names {
		cols[i] = quoteIdent(column(meta, n))
	}
	return strings.Join(cols, ", ")
}

func quoteIdent(name string) string {
	return "`" + name + "`"
}
