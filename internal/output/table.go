package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/aryankumar/bmcpass/internal/executor"
)

// TableFormatter formats output as a borderless table
type TableFormatter struct {
	options *Options
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(opts *Options) *TableFormatter {
	if opts == nil {
		opts = &Options{}
	}
	return &TableFormatter{
		options: opts,
	}
}

// Format outputs a single data item as a table
func (f *TableFormatter) Format(w io.Writer, data interface{}) error {
	table := f.createTable(w)

	// Handle different data types
	switch v := data.(type) {
	case map[string]interface{}:
		return f.formatMap(table, v)
	case []map[string]interface{}:
		return f.formatMapSlice(table, v)
	case string:
		fmt.Fprintln(w, v)
		return nil
	default:
		// Fallback to simple string representation
		fmt.Fprintln(w, v)
		return nil
	}
}

// FormatReport outputs the run report as a table of failed targets
// followed by a summary. Wide mode lists every target.
func (f *TableFormatter) FormatReport(w io.Writer, report Report) error {
	colors := NewColorScheme(w, f.options.NoColor)

	if report.DryRun {
		fmt.Fprintln(w, colors.Warning("Dry run: no controller was contacted"))
	}

	rows := report.Outcomes
	if !f.options.Wide {
		rows = executor.FilterFailed(rows)
	}

	switch {
	case report.Lines() == 0:
		fmt.Fprintln(w, "No targets")
		return nil
	case f.options.Wide && len(rows) > 0, executor.HasFailures(report.Outcomes):
		table := f.createTable(w)

		headers := []string{"LINE", "ADDRESS", "STATUS", "CAUSE", "ATTEMPTS", "DURATION", "MESSAGE"}
		if f.options.Wide {
			headers = []string{"LINE", "ADDRESS", "USER", "STATUS", "CAUSE", "ATTEMPTS", "DURATION", "MESSAGE"}
		}

		if !f.options.NoHeaders {
			if colors.Disabled {
				table.SetHeader(headers)
			} else {
				coloredHeaders := make([]string, len(headers))
				for i, h := range headers {
					coloredHeaders[i] = colors.Header(h)
				}
				table.SetHeader(coloredHeaders)
			}
		}

		for _, o := range rows {
			table.Append(f.formatOutcomeRow(o, colors))
		}
		table.Render()
		fmt.Fprintln(w, "")
	}

	f.printSummary(w, report, colors)
	return nil
}

// formatOutcomeRow formats a single outcome as a table row
func (f *TableFormatter) formatOutcomeRow(o executor.Outcome, colors *ColorScheme) []string {
	address := o.Record.Address
	status := string(o.Status)
	duration := o.Duration.Round(time.Millisecond).String()
	if !colors.Disabled {
		address = colors.Address(address)
		status = colors.OutcomeColor(o.Status)(status)
		duration = colors.Duration(duration)
	}

	cause := string(o.Cause)
	if cause == "" {
		cause = "-"
	}

	message := o.Message
	if !f.options.Wide && len(message) > 60 {
		message = message[:57] + "..."
	}

	row := []string{strconv.Itoa(o.Record.Line), address}
	if f.options.Wide {
		row = append(row, o.Record.User)
	}
	return append(row, status, cause, strconv.Itoa(o.Attempt), duration, message)
}

// formatMap formats a map as a two-column table (key-value pairs)
func (f *TableFormatter) formatMap(table *tablewriter.Table, data map[string]interface{}) error {
	if !f.options.NoHeaders {
		table.SetHeader([]string{"KEY", "VALUE"})
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		table.Append([]string{k, fmt.Sprintf("%v", data[k])})
	}

	table.Render()
	return nil
}

// formatMapSlice formats a slice of maps as a table
func (f *TableFormatter) formatMapSlice(table *tablewriter.Table, data []map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}

	// Extract headers from the first map
	var headers []string
	for k := range data[0] {
		headers = append(headers, strings.ToUpper(k))
	}
	sort.Strings(headers)

	if !f.options.NoHeaders {
		table.SetHeader(headers)
	}

	// Add rows
	for _, item := range data {
		var row []string
		for _, h := range headers {
			key := strings.ToLower(h)
			row = append(row, fmt.Sprintf("%v", item[key]))
		}
		table.Append(row)
	}

	table.Render()
	return nil
}

// createTable creates a new borderless, tab-separated table
func (f *TableFormatter) createTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	return table
}

// printSummary prints the run totals
func (f *TableFormatter) printSummary(w io.Writer, report Report, colors *ColorScheme) {
	summary := report.Summary()

	successText := fmt.Sprintf("%d successful", summary.Successful)
	if !colors.Disabled {
		successText = colors.Success(successText)
	}

	failedText := fmt.Sprintf("%d failed", summary.Failed)
	if !colors.Disabled && summary.Failed > 0 {
		failedText = colors.Error(failedText)
	}

	malformedText := fmt.Sprintf("%d malformed", len(report.Malformed))
	if !colors.Disabled && len(report.Malformed) > 0 {
		malformedText = colors.Warning(malformedText)
	}

	durationText := fmt.Sprintf("avg=%s", summary.AvgDuration.Round(time.Millisecond))
	if !colors.Disabled {
		durationText = colors.Duration(durationText)
	}

	fmt.Fprintf(w, "Summary: %s, %s, %s of %d lines, %d attempts, %s\n",
		successText, failedText, malformedText, report.Lines(), summary.Attempts, durationText)

	if len(summary.ByCause) > 0 {
		causes := make([]string, 0, len(summary.ByCause))
		for cause, n := range summary.ByCause {
			causes = append(causes, fmt.Sprintf("%s=%d", cause, n))
		}
		sort.Strings(causes)
		fmt.Fprintf(w, "Failures by cause: %s\n", strings.Join(causes, " "))
	}

	if report.LogDir != "" {
		fmt.Fprintf(w, "Logs: %s\n", report.LogDir)
	}
}
