package store

import (
	"fmt"
	"strings"

	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/registry"
)

// Schema returns the DDL EnsureSchema executes, one statement per entity,
// separated by blank lines.
func Schema(reg *registry.Registry) string {
	return strings.Join(schemaStatements(reg), ";\n\n") + ";\n"
}

func schemaStatements(reg *registry.Registry) []string {
	entities := reg.Entities()
	stmts := make([]string, 0, len(entities))
	for _, meta := range entities {
		stmts = append(stmts, createTable(reg, meta))
	}
	return stmts
}

func createTable(reg *registry.Registry, meta *model.EntityMetadata) string {
	var lines []string
	gen, hasGenerated := meta.GeneratedKey()
	for _, p := range meta.Properties {
		line := fmt.Sprintf("%s %s", quoteIdent(p.Column), columnType(p.Kind))
		switch {
		case hasGenerated && p.Name == gen.Name:
			line += " PRIMARY KEY AUTOINCREMENT"
		case !p.Nullable && p.Save != model.OmitOnInsert:
			// omit_on_insert columns start out NULL even when never null afterwards.
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if !hasGenerated {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", columnList(meta, meta.Key)))
	}
	for _, ref := range meta.References {
		principal, err := reg.Describe(ref.Principal)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			columnList(meta, ref.ForeignKey),
			quoteIdent(principal.Table),
			columnList(principal, principal.Key)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		quoteIdent(meta.Table), strings.Join(lines, ",\n    "))
}

func columnType(kind model.Kind) string {
	switch kind {
	case model.KindInt, model.KindBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// column maps a property name to its column. Registry validation
// guarantees every referenced property exists.
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

// quoteIdent quotes a SQL identifier. Registry validation already limits
// identifiers to [A-Za-z0-9_].
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
