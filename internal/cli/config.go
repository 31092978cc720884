package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aryankumar/bmcpass/internal/config"
	"github.com/aryankumar/bmcpass/internal/output"
)

// newConfigCmd creates the config command and its subcommands
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
		Long: `Inspect or create the bmcpass configuration file.

Settings are read from $HOME/.bmcpass.yaml (or --config), then overridden by
BMCPASS_* environment variables (for example BMCPASS_DEFAULTS_PARALLEL=20),
then by command-line flags.`,
	}

	cmd.AddCommand(newConfigViewCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.NewManager(cfgPath).Load()
			if err != nil {
				return err
			}

			format := output.FormatYAML
			if f, _ := cmd.Flags().GetString("output"); f == string(output.FormatJSON) {
				format = output.FormatJSON
			}
			return output.NewFormatter(format).Format(cmd.OutOrStdout(), cfg)
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			mgr := config.NewManager(cfgPath)
			mgr.SetConfig(config.Default())

			if path := mgr.Path(); path != "" && !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}

			if err := mgr.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", mgr.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}
