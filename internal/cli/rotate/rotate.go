package rotate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aryankumar/bmcpass/internal/changer"
	"github.com/aryankumar/bmcpass/internal/config"
	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/output"
	"github.com/aryankumar/bmcpass/internal/sink"
	"github.com/aryankumar/bmcpass/internal/util"
)

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"timeout":           config.KeyTimeout,
	"parallel":          config.KeyParallel,
	"retries":           config.KeyRetries,
	"backoff":           config.KeyBackoff,
	"backoff-max":       config.KeyBackoffMax,
	"no-retry-auth":     config.KeyNoRetryAuth,
	"dry-run":           config.KeyDryRun,
	"method":            config.KeyMethod,
	"ipmitool":          config.KeyIPMIToolPath,
	"interface":         config.KeyInterface,
	"user-id":           config.KeyUserID,
	"target-user":       config.KeyTargetUser,
	"create-user":       config.KeyCreateUser,
	"ssh-port":          config.KeySSHPort,
	"ssh-command":       config.KeySSHCommand,
	"known-hosts":       config.KeyKnownHosts,
	"breaker-threshold": config.KeyBreakerThreshold,
	"breaker-cooldown":  config.KeyBreakerCooldown,
	"log-dir":           config.KeyLogDir,
	"append-logs":       config.KeyAppendLogs,
	"allow-comments":    config.KeyAllowComments,

	// persistent flags defined on the root command
	"output":   config.KeyOutputFormat,
	"no-color": config.KeyNoColor,
}

// NewRotateCmd creates the rotate command
func NewRotateCmd() *cobra.Command {
	var filename string

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Change BMC passwords listed in a file",
		Long: `Change the password of every controller listed in the input file.

Each input line is address,user,old-password,new-password. Targets are
processed concurrently and independently: a target that fails, hangs or
times out never stops the others. Every input line ends up in exactly one
of success.log, failure.log or badlines.log in the log directory.

The command exits 0 once every target has a final result, even when some
of them failed. It exits 1 only when the run itself could not proceed.`,
		Example: `  # Rotate with the defaults (ipmitool, 10 in parallel, 15s per attempt, 1 retry)
  bmcpass rotate -f bmcs.csv

  # Read targets from stdin and write logs elsewhere
  cat bmcs.csv | bmcpass rotate -f - --log-dir /var/log/bmcpass

  # Be gentle with a slow management network
  bmcpass rotate -f bmcs.csv --parallel 4 --timeout 30s --retries 2 --backoff 2s

  # Change iLO passwords over SSH, checking host keys
  bmcpass rotate -f ilos.csv --method ssh --known-hosts ~/.ssh/known_hosts

  # Check the input without contacting anything
  bmcpass rotate -f bmcs.csv --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filename == "" {
				return fmt.Errorf("filename is required (-f flag)")
			}
			return runRotate(cmd, filename)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&filename, "filename", "f", "", "Input file with address,user,old-password,new-password lines (- for stdin)")
	f.Duration("timeout", executor.DefaultTimeout, "Deadline for a single attempt")
	f.IntP("parallel", "p", executor.DefaultWorkers, "Maximum number of attempts in flight")
	f.Int("retries", executor.DefaultRetries, "Extra attempts after a failed one")
	f.Duration("backoff", 0, "Wait before the first retry of a target (0 retries immediately)")
	f.Duration("backoff-max", config.DefaultBackoffMax, "Upper bound for the exponential retry wait")
	f.Bool("no-retry-auth", false, "Do not retry targets that rejected the old password")
	f.Bool("dry-run", false, "Parse input and write logs without contacting any controller")
	f.String("method", changer.MethodIPMITool, "How to change the password (ipmitool, ssh)")
	f.String("ipmitool", changer.DefaultIPMITool, "Path to the ipmitool binary")
	f.String("interface", changer.DefaultInterface, "ipmitool interface (-I)")
	f.String("user-id", changer.DefaultUserID, "User slot to change, or auto to look it up by name")
	f.String("target-user", "", "Account whose password is set (default: the login user of each line)")
	f.Bool("create-user", false, "Create the target account in a free slot when missing (needs --user-id auto)")
	f.Int("ssh-port", changer.DefaultSSHPort, "SSH port used when the address has none")
	f.String("ssh-command", changer.DefaultSSHCommand, "Remote command template ({user}, {id}, {password})")
	f.String("known-hosts", "", "known_hosts file for SSH host key checking (empty disables checking)")
	f.Uint32("breaker-threshold", 0, "Consecutive unreachable targets before failing fast (0 disables)")
	f.Duration("breaker-cooldown", changer.DefaultBreakerCooldown, "How long to fail fast once the breaker opens")
	f.String("log-dir", ".", "Directory for success.log, failure.log and badlines.log")
	f.Bool("append-logs", false, "Append to existing logs instead of truncating them")
	f.Bool("allow-comments", false, "Skip input lines starting with #")
	f.Bool("wide", false, "List every target in the table report, not only failures")
	f.Bool("no-headers", false, "Omit table headers from the report")

	cmd.MarkFlagRequired("filename")

	return cmd
}

func runRotate(cmd *cobra.Command, filename string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return util.NewFatalError("load configuration", err)
	}

	runID := uuid.NewString()
	logger := slog.Default().With("run_id", runID)

	records, malformed, err := readInput(cmd, filename, cfg.Input.AllowComments)
	if err != nil {
		return util.NewFatalError("read input", err)
	}

	logger.Info("parsed input",
		"file", filename,
		"records", len(records),
		"malformed", len(malformed))

	ch, err := changer.New(changerOptions(cfg), logger)
	if err != nil {
		return util.NewFatalError("configure changer", err)
	}

	sched, err := executor.NewScheduler(schedulerOptions(cfg), ch, logger)
	if err != nil {
		return err
	}

	files, err := sink.OpenFileSink(sink.FileOptions{
		Dir:    cfg.Logs.Dir,
		Append: cfg.Logs.Append,
		RunID:  runID,
	})
	if err != nil {
		return err
	}
	defer files.Close()

	format := output.Format(cfg.Defaults.OutputFormat)

	// keep stdout machine-readable for json and yaml reports
	progress := cmd.OutOrStdout()
	if format != output.FormatTable {
		progress = cmd.ErrOrStderr()
	}
	results := sink.Tee{files, sink.NewConsole(progress, cfg.Defaults.NoColor)}

	for _, m := range malformed {
		if err := results.RecordMalformed(m); err != nil {
			return util.NewFatalError("write badlines log", err)
		}
	}

	handler := sink.NewHandler(results, logger)
	outcomes, err := sched.Process(ctx, records, handler)
	if err != nil {
		return err
	}

	counts := files.Counts()
	if err := util.CombineErrors(handler.Err(), files.Close()); err != nil {
		return util.NewFatalError("write result logs", err)
	}

	stats := sched.Stats()
	level := slog.LevelInfo
	if !executor.AllSuccessful(outcomes) {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "rotation finished",
		"successful", counts.Success,
		"failed", counts.Failure,
		"malformed", counts.BadLines,
		"attempts", stats.Attempts,
		"peak_in_flight", stats.Slots.Peak,
		"duration", stats.Duration.Round(time.Millisecond))

	wide, _ := cmd.Flags().GetBool("wide")
	noHeaders, _ := cmd.Flags().GetBool("no-headers")
	formatter := output.NewFormatter(format,
		output.WithNoColor(cfg.Defaults.NoColor),
		output.WithWide(wide),
		output.WithNoHeaders(noHeaders))
	if err := formatter.FormatReport(cmd.OutOrStdout(), output.Report{
		RunID:     runID,
		DryRun:    cfg.Defaults.DryRun,
		LogDir:    files.Dir(),
		Outcomes:  outcomes,
		Malformed: malformed,
		Stats:     stats,
	}); err != nil {
		return util.WrapErrorf(err, "failed to write report for run %s", runID)
	}

	// an interrupted run is logged in full but still reported as failed
	if ctx.Err() != nil {
		return fmt.Errorf("rotation interrupted: %w", util.ErrCancelled)
	}
	return nil
}

// loadConfig merges the config file, environment and flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	mgr := config.NewManager(cfgPath)

	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			// persistent flags are absent when the command runs on its own
			continue
		}
		if err := mgr.BindFlag(key, flag); err != nil {
			return nil, err
		}
	}

	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}
	if used := mgr.ConfigFileUsed(); used != "" {
		slog.Debug("loaded configuration", "file", used)
	}
	return cfg, nil
}

func readInput(cmd *cobra.Command, filename string, allowComments bool) ([]inventory.Record, []inventory.MalformedLine, error) {
	var r io.Reader
	if filename == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		r = f
	}

	parser := inventory.NewParser()
	parser.AllowComments = allowComments
	return parser.Parse(r)
}

func schedulerOptions(cfg *config.Config) executor.Options {
	return executor.Options{
		Workers: cfg.Defaults.Parallel,
		Timeout: cfg.Defaults.Timeout,
		Policy: executor.DefaultPolicy{
			Retries:          cfg.Defaults.Retries,
			SkipAuthFailures: cfg.Defaults.NoRetryAuth,
		},
		Backoff: executor.BackoffConfig{
			Initial: cfg.Defaults.Backoff,
			Max:     cfg.Defaults.BackoffMax,
		},
	}
}

func changerOptions(cfg *config.Config) changer.Options {
	sshUserID := cfg.IPMITool.UserID
	if sshUserID == changer.AutoUserID {
		// slot lookup is an IPMI operation; {id} falls back to the default
		sshUserID = ""
	}

	return changer.Options{
		Method: cfg.Method,
		IPMITool: changer.IPMIToolOptions{
			Path:          cfg.IPMITool.Path,
			Interface:     cfg.IPMITool.Interface,
			UserID:        cfg.IPMITool.UserID,
			TargetUser:    cfg.IPMITool.TargetUser,
			CreateMissing: cfg.IPMITool.CreateUser,
		},
		SSH: changer.SSHOptions{
			Port:           cfg.SSH.Port,
			Command:        cfg.SSH.Command,
			UserID:         sshUserID,
			KnownHostsFile: cfg.SSH.KnownHosts,
		},
		Breaker: changer.BreakerOptions{
			Threshold: cfg.Breaker.Threshold,
			Cooldown:  cfg.Breaker.Cooldown,
		},
		DryRun: cfg.Defaults.DryRun,
	}
}
