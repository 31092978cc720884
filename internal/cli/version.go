package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aryankumar/bmcpass/internal/output"
	"github.com/aryankumar/bmcpass/pkg/version"
)

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Display detailed version information for bmcpass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd)
		},
	}

	return cmd
}

func runVersion(cmd *cobra.Command) error {
	info := version.Get()
	w := cmd.OutOrStdout()

	outputFormat, _ := cmd.Flags().GetString("output")
	if !cmd.Flags().Changed("output") {
		// Default to human-readable format
		fmt.Fprintln(w, info.String())
		return nil
	}

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	formatter := output.NewFormatter(format, output.WithNoColor(noColor))

	if format == output.FormatTable {
		return formatter.Format(w, map[string]interface{}{
			"Version":    info.Version,
			"Commit":     info.Commit,
			"Build Time": info.BuildTime,
			"Go Version": info.GoVersion,
			"Platform":   info.Platform,
		})
	}
	return formatter.Format(w, info)
}
