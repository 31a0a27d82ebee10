package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/savepipe/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// Config and Logger are resolved before any subcommand runs. Commands
	// built directly in tests fall back to defaults.
	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// flagKeys maps subcommand flags onto config keys so that a flag given on
// the command line overrides the config file and environment.
var flagKeys = map[string]string{
	"db":      config.KeyDatabase,
	"backend": config.KeyBackend,
	"policy":  config.KeyReplacementPolicy,
}

// NewRootCommand creates the root command for the savepipe CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "savepipe",
		Short: "savepipe - change tracking and save pipeline",
		Long: `Track entity graphs, detect changes, and save them as ordered batches.

Entity metadata is declared in CUE. Scenarios written in YAML drive
tracking sessions against SQLite or Spanner and check the operations
each save produces.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default: ./savepipe.yaml if present)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// resolve loads configuration with cmd's flags bound on top and installs
// the logger.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	v := config.New()
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return WrapExitError(ExitCommandError, "bind flag", err)
			}
		}
	}

	cfg, err := config.Load(v, o.ConfigFile, ".")
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	o.Config = cfg
	o.Logger = newLogger(cmd.ErrOrStderr(), cfg, o.Verbose)
	if cfg.File != "" {
		o.Logger.Debug("loaded config", "file", cfg.File)
	}
	return nil
}

func newLogger(w io.Writer, cfg *config.Config, verbose bool) *slog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func (o *RootOptions) config() (*config.Config, error) {
	if o.Config != nil {
		return o.Config, nil
	}
	return config.Load(config.New(), o.ConfigFile)
}

func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout(), Verbose: o.Verbose}
}
