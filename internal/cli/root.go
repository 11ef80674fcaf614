package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the triage CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "triage",
		Short: "triage - security alert triage over episode logs",
		Long: `Triage security detections in simulated episode logs.

Each run observes an episode, enriches the detection with asset context and
similar past cases, correlates evidence, decides whether to block the source
ip, asks a human when confidence is low, and appends an auditable decision
record to the run directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewJudgeCommand(opts))
	cmd.AddCommand(NewGenerateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newLogger returns a text logger on w, at Debug level when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// formatter builds the output formatter for cmd.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
