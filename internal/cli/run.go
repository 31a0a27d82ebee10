package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/savepipe/internal/config"
	"github.com/roach88/savepipe/internal/engine"
	"github.com/roach88/savepipe/internal/harness"
	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/spanstore"
)

// RunOptions holds flags for the run command. Flags bound to config keys
// are read through RootOptions.Config.
type RunOptions struct {
	*RootOptions
	Database string
	Backend  string
	Policy   string
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Scenario string        `json:"scenario"`
	Pass     bool          `json:"pass"`
	Policy   string        `json:"policy"`
	Saves    []SaveSummary `json:"saves"`
	Views    []ViewSummary `json:"views,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

// SaveSummary describes one save of a scenario run.
type SaveSummary struct {
	Session    string   `json:"session"`
	Step       int      `json:"step"`
	Count      int      `json:"count"`
	Operations []string `json:"operations"`
	Error      string   `json:"error,omitempty"`
}

// ViewSummary is one rendered debug view.
type ViewSummary struct {
	Session string `json:"session"`
	Step    int    `json:"step"`
	View    string `json:"view"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and print what each save did",
		Long: `Run a scenario's sessions against a database and print the debug
views and the operations each save sent to storage.

The database defaults to a fresh in-memory SQLite database. With
--backend spanner the scenario runs against the Cloud Spanner database
named by spanner_database in the config file or SAVEPIPE_SPANNER_DATABASE.

Exit codes:
  0 - Scenario passed
  1 - An expectation or assertion failed
  2 - Command error (bad scenario, metadata, or database)

Examples:
  savepipe run ./testdata/scenarios/collection_replace.yaml
  savepipe run scenario.yaml --db ./state.db --policy update_in_place`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (default :memory:)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "storage backend (sqlite|spanner)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "default replacement policy (delete_insert|update_in_place)")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	logger := opts.logger()

	cfg, err := opts.config()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "load config", err)
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("scenario not found: %s", path), err)
		}
		return f.Fail(ExitCommandError, ErrCodeScenario, "invalid scenario", err)
	}

	ctx, cancel := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runOpts, closeBackend, err := harnessOptions(ctx, cfg, opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBackend, "open backend", err)
	}
	defer closeBackend()

	logger.Debug("running scenario", "scenario", scenario.Name, "backend", cfg.Backend)
	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeScenario, fmt.Sprintf("scenario %s could not run", scenario.Name), err)
	}

	summary := summarizeRun(scenario, result)
	failure := NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	if f.JSON() {
		if err := f.encode(CLIResponse{Status: status(result.Pass), Data: summary}); err != nil {
			return err
		}
		if !result.Pass {
			return failure
		}
		return nil
	}

	printRun(f, summary)
	if !result.Pass {
		return failure
	}
	return nil
}

// harnessOptions translates the resolved config into harness options. The
// returned func closes any backend opened here.
func harnessOptions(ctx context.Context, cfg *config.Config, root *RootOptions) ([]harness.Option, func(), error) {
	opts := []harness.Option{
		harness.WithLogger(root.logger()),
		harness.WithDefaultPolicy(cfg.ReplacementPolicy),
		harness.WithSessionOptions(engine.WithAutoDetectChanges(cfg.AutoDetectChanges)),
	}
	if cfg.Backend != config.BackendSpanner {
		return append(opts, harness.WithDatabase(cfg.Database)), func() {}, nil
	}

	st, err := spanstore.Open(ctx, cfg.SpannerDatabase, spanstore.WithLogger(root.logger()))
	if err != nil {
		return nil, nil, err
	}
	return append(opts, harness.WithBackend(st)), st.Close, nil
}

func summarizeRun(scenario *harness.Scenario, result *harness.Result) RunResult {
	out := RunResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Policy:   result.Policy,
		Saves:    []SaveSummary{},
		Errors:   result.Errors,
	}
	for _, e := range result.Trace {
		switch e.Type {
		case harness.EventDebugView:
			out.Views = append(out.Views, ViewSummary{Session: e.Session, Step: e.Step, View: e.View})
		case harness.EventSave:
			out.Saves = append(out.Saves, SaveSummary{
				Session:    e.Session,
				Step:       e.Step,
				Count:      e.Count,
				Operations: opStrings(e.Operations),
				Error:      e.Error,
			})
		}
	}
	return out
}

func opStrings(ops []model.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

func printRun(f *OutputFormatter, r RunResult) {
	w := f.Writer
	fmt.Fprintf(w, "scenario %s (%s)\n", r.Scenario, r.Policy)
	if f.Verbose {
		for _, v := range r.Views {
			fmt.Fprintf(w, "\n[%s step %d] debug view\n%s\n", v.Session, v.Step, v.View)
		}
	}
	for _, s := range r.Saves {
		fmt.Fprintf(w, "\n[%s step %d] save", s.Session, s.Step)
		if s.Error != "" {
			fmt.Fprintf(w, " failed: %s\n", s.Error)
		} else {
			fmt.Fprintf(w, ": %d written\n", s.Count)
		}
		for _, op := range s.Operations {
			fmt.Fprintf(w, "  %s\n", op)
		}
	}
	fmt.Fprintln(w)
	if r.Pass {
		fmt.Fprintln(w, "✓ passed")
		return
	}
	fmt.Fprintln(w, "✗ failed")
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func status(pass bool) string {
	if pass {
		return "ok"
	}
	return "error"
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
