package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aryankumar/bmcpass/internal/cli/rotate"
)

// Execute runs the root command with the provided context
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

// newRootCmd creates the root command
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bmcpass",
		Short: "bmcpass - bulk BMC password rotation",
		Long: `bmcpass changes the passwords of many baseboard management controllers
at once. Every target is tried independently with a per-attempt deadline,
bounded parallelism and a small number of retries, and every input line is
accounted for in a success, failure or badlines log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd, os.Stderr)
			return nil
		},
	}

	// Define persistent flags
	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.bmcpass.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "report format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output with debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	// Add subcommands
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(rotate.NewRotateCmd())

	return rootCmd
}

// setupLogging configures structured logging with slog
func setupLogging(cmd *cobra.Command, w io.Writer) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	noColor, _ := cmd.Flags().GetBool("no-color")

	// Set log level based on verbose flag
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if noColor {
		// Use JSON handler for no-color mode
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))

	if verbose {
		slog.Debug("verbose logging enabled")
	}
}
