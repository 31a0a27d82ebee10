package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/savepipe/internal/compiler"
	"github.com/roach88/savepipe/internal/registry"
)

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Files    int                     `json:"files,omitempty"`
	Entities []EntitySummary         `json:"entities,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
	Problems []registry.Problem      `json:"problems,omitempty"`
	Warnings []compiler.CycleWarning `json:"warnings,omitempty"`
}

// EntitySummary describes one validated entity type.
type EntitySummary struct {
	Name          string   `json:"name"`
	Table         string   `json:"table"`
	Key           []string `json:"key"`
	Properties    int      `json:"properties"`
	Relationships []string `json:"relationships,omitempty"`
	Dependents    []string `json:"dependents,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <metadata-dir>",
		Short: "Validate entity metadata",
		Long: `Compile the CUE entity declarations in a directory and build the
registry, reporting every problem found. Relationship cycles between
entity types are reported as warnings.

Exit codes:
  0 - Metadata valid (warnings allowed)
  1 - Metadata invalid
  2 - Command error (directory not found, no CUE files)

Examples:
  savepipe validate ./testdata/metadata
  savepipe validate ./metadata --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	loaded, errs := LoadMetadata(dir)
	result := ValidationResult{Valid: len(errs) == 0}
	code := ""
	for _, err := range errs {
		var lerr *LoadError
		if !errors.As(err, &lerr) {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if lerr.IsCommandError() {
			return f.Fail(ExitCommandError, lerr.Code, lerr.Message, nil)
		}
		code = lerr.Code
		if len(lerr.Problems) > 0 {
			result.Problems = append(result.Problems, lerr.Problems...)
		} else {
			result.Errors = append(result.Errors, lerr.Message)
		}
	}
	if loaded != nil {
		result.Files = loaded.FileCount
		result.Entities = summarize(loaded.Registry)
		result.Warnings = loaded.Warnings
	}
	opts.logger().Debug("validated metadata", "dir", dir, "files", result.Files, "valid", result.Valid)

	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)+len(result.Problems)))
	if f.JSON() {
		if result.Valid {
			return f.Success(result)
		}
		if err := f.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: code, Message: "metadata is invalid"},
		}); err != nil {
			return err
		}
		return failure
	}

	w := f.Writer
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn.Message)
	}
	if result.Valid {
		fmt.Fprintf(w, "✓ %d entities valid\n", len(result.Entities))
		if f.Verbose {
			for _, e := range result.Entities {
				fmt.Fprintf(w, "  %s (%s) key %v\n", e.Name, e.Table, e.Key)
			}
		}
		return nil
	}

	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	for _, p := range result.Problems {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return failure
}

func summarize(reg *registry.Registry) []EntitySummary {
	var out []EntitySummary
	for _, meta := range reg.Entities() {
		s := EntitySummary{Name: meta.Name, Table: meta.Table, Key: meta.Key, Properties: len(meta.Properties)}
		for _, rel := range meta.Relationships {
			s.Relationships = append(s.Relationships, rel.Navigation+" -> "+rel.Target)
		}
		for _, dep := range reg.Dependents(meta.Name) {
			s.Dependents = append(s.Dependents, dep.Name)
		}
		out = append(out, s)
	}
	return out
}
