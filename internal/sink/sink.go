// Package sink records the result of every input line.
//
// A run writes each terminal outcome to exactly one of the success or
// failure logs and each rejected input line to the badlines log, so the
// three logs together account for every line of the input. Writes are
// synchronous: when RecordOutcome returns nil the line is on disk.
package sink

import (
	"log/slog"
	"sync"

	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

// Sink receives per-line results. Implementations must be safe for
// concurrent use; outcomes arrive from scheduler workers.
type Sink interface {
	// RecordOutcome stores an outcome. Retrying outcomes are notifications
	// and need not be persisted.
	RecordOutcome(out executor.Outcome) error

	// RecordMalformed stores an input line that never became a record
	RecordMalformed(line inventory.MalformedLine) error
}

// Tee fans every call out to all of its sinks
type Tee []Sink

// RecordOutcome implements Sink
func (t Tee) RecordOutcome(out executor.Outcome) error {
	var errs util.MultiError
	for _, s := range t {
		errs.Add(s.RecordOutcome(out))
	}
	return errs.ErrorOrNil()
}

// RecordMalformed implements Sink
func (t Tee) RecordMalformed(line inventory.MalformedLine) error {
	var errs util.MultiError
	for _, s := range t {
		errs.Add(s.RecordMalformed(line))
	}
	return errs.ErrorOrNil()
}

// Handler adapts a Sink to executor.Handler. Write failures cannot be
// returned through the handler, so they are logged and kept for Err.
type Handler struct {
	sink   Sink
	logger *slog.Logger

	mu   sync.Mutex
	errs util.MultiError
}

// NewHandler creates a handler that forwards outcomes to s
func NewHandler(s Sink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sink: s, logger: logger}
}

// HandleOutcome implements executor.Handler
func (h *Handler) HandleOutcome(out executor.Outcome) {
	if err := h.sink.RecordOutcome(out); err != nil {
		h.logger.Error("failed to record outcome",
			"address", out.Record.Address,
			"status", out.Status,
			"error", err)
		h.mu.Lock()
		h.errs.Add(util.WrapTargetError(out.Record.Address, err))
		h.mu.Unlock()
	}
}

// Err returns every write failure seen so far, or nil
func (h *Handler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs.Errors) == 0 {
		return nil
	}
	return util.NewMultiError(h.errs.Errors)
}

// Memory keeps results in arrival order
type Memory struct {
	mu        sync.Mutex
	outcomes  []executor.Outcome
	malformed []inventory.MalformedLine
}

// RecordOutcome implements Sink
func (m *Memory) RecordOutcome(out executor.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, out)
	return nil
}

// RecordMalformed implements Sink
func (m *Memory) RecordMalformed(line inventory.MalformedLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed = append(m.malformed, line)
	return nil
}

// Outcomes returns a copy of the recorded outcomes in arrival order
func (m *Memory) Outcomes() []executor.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]executor.Outcome(nil), m.outcomes...)
}

// Malformed returns a copy of the recorded malformed lines
func (m *Memory) Malformed() []inventory.MalformedLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inventory.MalformedLine(nil), m.malformed...)
}
