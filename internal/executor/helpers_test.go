package executor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aryankumar/bmcpass/internal/inventory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(addr string, line int) inventory.Record {
	return inventory.Record{
		Line:          line,
		Address:       addr,
		User:          "ADMIN",
		OldCredential: "Calvin#Old",
		NewCredential: "Calvin#New",
	}
}

// scriptedChanger answers each address from a fixed per-attempt script.
// Once the script runs out the last step repeats.
type scriptedChanger struct {
	mu      sync.Mutex
	steps   map[string][]error
	calls   map[string]int
	running atomic.Int32
	peak    atomic.Int32
}

func newScriptedChanger(steps map[string][]error) *scriptedChanger {
	return &scriptedChanger{
		steps: steps,
		calls: make(map[string]int),
	}
}

func (c *scriptedChanger) ChangePassword(ctx context.Context, rec inventory.Record) (string, error) {
	current := c.running.Add(1)
	defer c.running.Add(-1)
	for {
		peak := c.peak.Load()
		if current <= peak || c.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	c.mu.Lock()
	n := c.calls[rec.Address]
	c.calls[rec.Address] = n + 1
	script := c.steps[rec.Address]
	c.mu.Unlock()

	if len(script) == 0 {
		return "Password changed successfully", nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	if err := script[n]; err != nil {
		return "", err
	}
	return "Password changed successfully", nil
}

func (c *scriptedChanger) Calls(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[addr]
}

func (c *scriptedChanger) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

// collector is a Handler that keeps everything it is given
type collector struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (c *collector) HandleOutcome(out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, out)
}

func (c *collector) byStatus(status Status) []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []Outcome
	for _, o := range c.outcomes {
		if o.Status == status {
			matched = append(matched, o)
		}
	}
	return matched
}

func (c *collector) terminal() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []Outcome
	for _, o := range c.outcomes {
		if o.Terminal() {
			matched = append(matched, o)
		}
	}
	return matched
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
