// Package output renders the report of a credential rotation run.
//
// The package supports three formats (table, JSON, YAML) behind a single
// Formatter interface. Per-line progress is printed by the console sink;
// this package only renders the end-of-run report.
//
// # Basic Usage
//
//	formatter := output.NewFormatter(output.FormatTable, output.WithNoColor(true))
//	formatter.FormatReport(os.Stdout, output.Report{
//	    Outcomes:  outcomes,
//	    Malformed: malformed,
//	    LogDir:    "/var/log/bmcpass",
//	})
//
// # Formatters
//
// Table Formatter:
//   - Borderless, tab-separated columns
//   - Lists failed targets only; WithWide(true) lists every target
//   - Summary line with per-cause failure counts
//
// JSON and YAML Formatters:
//   - Stable document with summary, targets and malformed lines
//   - Durations rendered as strings rounded to milliseconds
//   - Never include credentials or the raw text of rejected lines
//
// # Color Support
//
// Colors are enabled only for TTY outputs and can be disabled with
// WithNoColor(true). Addresses are cyan, successes green, failures red,
// retries and rejected lines yellow.
package output
