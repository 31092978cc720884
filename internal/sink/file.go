package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

// Log file names inside the log directory
const (
	SuccessLog  = "success.log"
	FailureLog  = "failure.log"
	BadLinesLog = "badlines.log"
)

// FileOptions configures a FileSink
type FileOptions struct {
	// Dir is the directory the three logs are created in
	Dir string

	// Append keeps existing log contents instead of truncating them
	Append bool

	// RunID, when set together with Append, is written as a header line so
	// runs can be told apart in the accumulated logs
	RunID string

	// Now is used for the header timestamp; defaults to time.Now
	Now func() time.Time
}

// logFile is one append-only log with its own lock
type logFile struct {
	mu    sync.Mutex
	f     *os.File
	lines int
}

func openLog(path string, keep bool) (*logFile, error) {
	flags := os.O_APPEND | os.O_CREATE | os.O_WRONLY
	if !keep {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, err
	}
	return &logFile{f: f}, nil
}

// writeLine writes one complete result line and syncs it before returning
func (l *logFile) writeLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write(line); err != nil {
		return err
	}
	l.lines++
	return nil
}

// write must be called with mu held
func (l *logFile) write(line string) error {
	if l.f == nil {
		return os.ErrClosed
	}
	if _, err := l.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(l.f.Name()), err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(l.f.Name()), err)
	}
	return nil
}

func (l *logFile) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

func (l *logFile) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// FileSink writes the success, failure and badlines logs
type FileSink struct {
	dir      string
	success  *logFile
	failure  *logFile
	badLines *logFile
}

// Counts is the number of result lines written to each log by this sink
type Counts struct {
	Success  int `json:"success" yaml:"success"`
	Failure  int `json:"failure" yaml:"failure"`
	BadLines int `json:"badLines" yaml:"badLines"`
}

// Total returns the number of input lines accounted for
func (c Counts) Total() int {
	return c.Success + c.Failure + c.BadLines
}

// OpenFileSink creates the log directory if needed and opens the three logs.
// Failing to open any of them is fatal for the run.
func OpenFileSink(opts FileOptions) (*FileSink, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, util.NewFatalError("open logs", err)
	}

	s := &FileSink{dir: dir}
	targets := []struct {
		name string
		dst  **logFile
	}{
		{SuccessLog, &s.success},
		{FailureLog, &s.failure},
		{BadLinesLog, &s.badLines},
	}

	for _, t := range targets {
		l, err := openLog(filepath.Join(dir, t.name), opts.Append)
		if err != nil {
			s.Close()
			return nil, util.NewFatalError("open logs", err)
		}
		*t.dst = l
	}

	if opts.Append && opts.RunID != "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		header := fmt.Sprintf("# run %s started %s", opts.RunID, now().UTC().Format(time.RFC3339))
		for _, t := range targets {
			l := *t.dst
			l.mu.Lock()
			err := l.write(header)
			l.mu.Unlock()
			if err != nil {
				s.Close()
				return nil, util.NewFatalError("open logs", err)
			}
		}
	}

	return s, nil
}

// Dir returns the directory holding the logs
func (s *FileSink) Dir() string {
	return s.dir
}

// RecordOutcome implements Sink
func (s *FileSink) RecordOutcome(out executor.Outcome) error {
	line := fmt.Sprintf("%s: %s", util.SingleLine(out.Record.Address), util.SingleLine(out.Message))
	switch out.Status {
	case executor.StatusSuccess:
		return s.success.writeLine(line)
	case executor.StatusFailure:
		return s.failure.writeLine(line)
	default:
		return nil
	}
}

// RecordMalformed implements Sink. The raw text is quoted so the entry
// stays on one line whatever the input contained.
func (s *FileSink) RecordMalformed(line inventory.MalformedLine) error {
	return s.badLines.writeLine(fmt.Sprintf("Line %d: %s: %q", line.Line, util.SingleLine(line.Reason), line.Raw))
}

// Counts returns how many result lines were written to each log
func (s *FileSink) Counts() Counts {
	return Counts{
		Success:  s.success.count(),
		Failure:  s.failure.count(),
		BadLines: s.badLines.count(),
	}
}

// Close closes all three logs
func (s *FileSink) Close() error {
	var errs util.MultiError
	for _, l := range []*logFile{s.success, s.failure, s.badLines} {
		if l != nil {
			errs.Add(l.close())
		}
	}
	return errs.ErrorOrNil()
}
