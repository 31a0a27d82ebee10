package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/savepipe/internal/config"
	"github.com/roach88/savepipe/internal/spanstore"
	"github.com/roach88/savepipe/internal/store"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	Dialect string // sqlite | spanner, defaults to the configured backend
}

// SchemaResult is the JSON payload of the schema command.
type SchemaResult struct {
	Dialect    string   `json:"dialect"`
	Statements []string `json:"statements"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema <metadata-dir>",
		Short: "Print the DDL for entity metadata",
		Long: `Print the CREATE TABLE statements a backend runs for the entities
declared in a metadata directory.

Examples:
  savepipe schema ./testdata/metadata
  savepipe schema ./metadata --dialect spanner`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dialect, "dialect", "", "SQL dialect (sqlite|spanner)")

	return cmd
}

func runSchema(opts *SchemaOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	dialect := opts.Dialect
	if dialect == "" {
		cfg, err := opts.config()
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidInput, "load config", err)
		}
		dialect = cfg.Backend
	}

	loaded, err := loadRegistry(f, dir)
	if err != nil {
		return err
	}

	var stmts []string
	switch strings.ToLower(dialect) {
	case config.BackendSQLite:
		dialect = config.BackendSQLite
		stmts = strings.Split(strings.TrimSuffix(store.Schema(loaded.Registry), ";\n"), ";\n\n")
	case config.BackendSpanner:
		dialect = config.BackendSpanner
		stmts = spanstore.Schema(loaded.Registry)
	default:
		return f.Fail(ExitCommandError, ErrCodeInvalidInput,
			fmt.Sprintf("unknown dialect %q (want %s or %s)", dialect, config.BackendSQLite, config.BackendSpanner), nil)
	}

	if f.JSON() {
		return f.Success(SchemaResult{Dialect: dialect, Statements: stmts})
	}
	for _, s := range stmts {
		fmt.Fprintf(f.Writer, "%s;\n\n", s)
	}
	return nil
}
