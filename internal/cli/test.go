package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/roach88/savepipe/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario name filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // matched | updated | missing
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// Golden comparison outcomes.
const (
	goldenMatched = "matched"
	goldenUpdated = "updated"
	goldenMissing = "missing"
)

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test [scenarios-dir | glob]",
		Short: "Run scenarios and compare them with golden snapshots",
		Long: `Run every scenario file found under a directory, or matched by a
doublestar glob, checking step expectations, assertions, and the golden
snapshot stored next to the scenario in golden/<name>.golden.

Scenarios without a golden file are checked by their assertions only.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  savepipe test ./testdata/scenarios
  savepipe test './scenarios/**/replace_*.yaml'
  savepipe test ./scenarios --filter "collection_*"
  savepipe test ./scenarios --update`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			return runTests(opts, target, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by file name glob")
	cmd.Flags().String("db", "", "SQLite database path (default :memory:)")
	cmd.Flags().String("backend", "", "storage backend (sqlite|spanner)")
	cmd.Flags().String("policy", "", "default replacement policy (delete_insert|update_in_place)")

	return cmd
}

func runTests(opts *TestOptions, target string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.config()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "load config", err)
	}

	files, err := findScenarioFiles(target, opts.Filter)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return f.Fail(exitErr.Code, ErrCodeNotFound, exitErr.Message, nil)
		}
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "find scenarios", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files))}
	if len(files) == 0 {
		if f.JSON() {
			return f.Success(result)
		}
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return nil
	}

	ctx := commandContext(cmd)
	runOpts, closeBackend, err := harnessOptions(ctx, cfg, opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBackend, "open backend", err)
	}
	defer closeBackend()

	for _, file := range files {
		sr := runScenario(opts, file, runOpts)
		if !f.JSON() {
			printScenario(f, sr)
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	result.Total = len(result.Scenarios)

	failure := NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	if f.JSON() {
		if err := f.encode(CLIResponse{Status: status(result.Failed == 0), Data: result}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}
	if result.Failed > 0 {
		return failure
	}
	return nil
}

// findScenarioFiles expands target into scenario files. A directory is
// searched recursively for .yaml and .yml files; anything else is treated
// as a doublestar pattern. Config files and golden directories are skipped.
func findScenarioFiles(target, filter string) ([]string, error) {
	pattern := target
	if info, err := os.Stat(target); err == nil {
		if !info.IsDir() {
			return []string{target}, nil
		}
		pattern = filepath.Join(target, "**", "*.{yaml,yml}")
	} else if !doublestar.ValidatePattern(filepath.ToSlash(target)) || !strings.ContainsAny(target, "*?[{") {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", target))
	}

	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	var files []string
	for _, m := range matches {
		base := filepath.Base(m)
		if base == "savepipe.yaml" || base == "savepipe.yml" {
			continue
		}
		if slices.Contains(strings.Split(filepath.ToSlash(filepath.Dir(m)), "/"), "golden") {
			continue
		}
		if filter != "" {
			name := strings.TrimSuffix(base, filepath.Ext(base))
			ok, err := filepath.Match(filter, name)
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !ok {
				continue
			}
		}
		files = append(files, m)
	}
	slices.Sort(files)
	return files, nil
}

// runScenario executes one scenario file and compares it with its golden
// snapshot.
func runScenario(opts *TestOptions, file string, runOpts []harness.Option) ScenarioResult {
	sr := ScenarioResult{Name: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)), File: file}
	fail := func(format string, args ...any) ScenarioResult {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf(format, args...))
		return sr
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	sr.Name = scenario.Name

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return fail("execution failed: %v", err)
	}
	opts.logger().Debug("scenario finished", "scenario", scenario.Name, "pass", result.Pass)

	sr.Pass = result.Pass
	sr.Errors = append(sr.Errors, result.Errors...)

	snapshot, err := harness.Snapshot(scenario, result)
	if err != nil {
		return fail("failed to snapshot trace: %v", err)
	}
	path := goldenFilePath(file, scenario.Name)

	if opts.Update {
		if err := writeGolden(path, snapshot); err != nil {
			return fail("failed to update golden file: %v", err)
		}
		sr.Golden = goldenUpdated
		return sr
	}

	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		sr.Golden = goldenMissing
		return sr
	}
	if err != nil {
		return fail("failed to read golden file: %v", err)
	}
	if !bytes.Equal(want, snapshot) {
		return fail("trace does not match %s (run with --update to regenerate)", path)
	}
	sr.Golden = goldenMatched
	return sr
}

// goldenFilePath returns the snapshot path of the named scenario defined
// in scenarioFile.
func goldenFilePath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func printScenario(f *OutputFormatter, sr ScenarioResult) {
	mark := "✓"
	if !sr.Pass {
		mark = "✗"
	}
	switch sr.Golden {
	case goldenUpdated:
		fmt.Fprintf(f.Writer, "%s %s (golden updated)\n", mark, sr.Name)
	case goldenMissing:
		fmt.Fprintf(f.Writer, "%s %s (no golden file)\n", mark, sr.Name)
	default:
		fmt.Fprintf(f.Writer, "%s %s\n", mark, sr.Name)
	}
	for _, e := range sr.Errors {
		fmt.Fprintf(f.Writer, "  %s\n", e)
	}
}
