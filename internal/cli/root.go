package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cinderfn/cinder/internal/runner"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cinder CLI. The
// registry carries the functions this process can execute; the
// embedding binary registers them before calling Execute.
func NewRootCommand(registry *runner.Registry) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cinder",
		Short: "cinder - function execution sandbox",
		Long:  "Executes allocations: downloads inputs, runs registered functions, and publishes hash-versioned results.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts, registry))
	cmd.AddCommand(NewInvokeCommand(opts, registry))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// configureLogging sets the process-wide slog default. Verbose enables
// debug level.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
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
