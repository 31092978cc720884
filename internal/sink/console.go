package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/output"
	"github.com/aryankumar/bmcpass/internal/util"
)

// Console prints a colored progress line for every result
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	colors *output.ColorScheme
}

// NewConsole creates a console sink writing to w
func NewConsole(w io.Writer, noColor bool) *Console {
	return &Console{
		w:      w,
		colors: output.NewColorScheme(w, noColor),
	}
}

// RecordOutcome implements Sink
func (c *Console) RecordOutcome(out executor.Outcome) error {
	addr := c.colors.Address("%s", util.SingleLine(out.Record.Address))
	msg := util.SingleLine(out.Message)

	var line string
	switch out.Status {
	case executor.StatusSuccess:
		line = c.colors.Success("[+] Success on ") + addr + c.colors.Success(": %s", msg)
	case executor.StatusRetrying:
		line = c.colors.Warning("[!] Retry ") + addr + c.colors.Warning(" (attempt %d) after failure: %s", out.Attempt, msg)
	default:
		line = c.colors.Error("[-] Failure on ") + addr + c.colors.Error(": %s", msg)
	}
	return c.println(line)
}

// RecordMalformed implements Sink
func (c *Console) RecordMalformed(line inventory.MalformedLine) error {
	return c.println(c.colors.Warning("[x] Line %d rejected: %s", line.Line, util.SingleLine(line.Reason)))
}

func (c *Console) println(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}
