package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

const (
	// DefaultWorkers is the default bound on concurrent attempts
	DefaultWorkers = 10

	// DefaultTimeout is the default per-attempt deadline
	DefaultTimeout = 15 * time.Second
)

// Options configures a Scheduler. They are fixed once the Scheduler exists.
type Options struct {
	// Workers bounds how many attempts run at the same time
	Workers int

	// Timeout is the deadline for a single attempt
	Timeout time.Duration

	// Policy decides which failures are retried; nil uses DefaultPolicy{Retries: DefaultRetries}
	Policy RetryPolicy

	// Backoff spaces retries of the same record
	Backoff BackoffConfig
}

// Handler receives outcomes while a run is in progress.
// It is called from worker goroutines and must be safe for concurrent use.
// Retrying notifications arrive before the record's terminal outcome.
type Handler interface {
	HandleOutcome(out Outcome)
}

// HandlerFunc adapts an ordinary function to the Handler interface
type HandlerFunc func(out Outcome)

// HandleOutcome calls f(out)
func (f HandlerFunc) HandleOutcome(out Outcome) {
	f(out)
}

type noopHandler struct{}

func (noopHandler) HandleOutcome(Outcome) {}

// Stats describes the most recent run
type Stats struct {
	Records  int           `json:"records" yaml:"records"`
	Attempts int64         `json:"attempts" yaml:"attempts"`
	Retries  int64         `json:"retries" yaml:"retries"`
	Slots    SlotStats     `json:"slots" yaml:"slots"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Scheduler runs every submitted record through the Runner with bounded
// concurrency, retrying failures according to its policy.
// Records are independent; the failure of one never stops the others.
type Scheduler struct {
	// workers is the number of concurrent workers
	workers int

	runner  *Runner
	policy  RetryPolicy
	backoff BackoffConfig
	slots   *Slots

	// records is the queue of records to process
	records []inventory.Record

	// mu protects the records slice
	mu sync.Mutex

	// logger for structured logging
	logger *slog.Logger

	// shutdown indicates if the scheduler is shutting down
	shutdown atomic.Bool

	// running indicates if the scheduler is currently executing
	running atomic.Bool

	attempts atomic.Int64
	retries  atomic.Int64
	last     atomic.Int64
	ran      atomic.Int64
}

// NewScheduler creates a Scheduler that applies changer to submitted records
func NewScheduler(opts Options, changer Changer, logger *slog.Logger) (*Scheduler, error) {
	if opts.Workers < 1 {
		return nil, util.NewFatalError("create scheduler",
			util.NewValidationError("workers", opts.Workers, "must be at least 1"))
	}
	if opts.Timeout <= 0 {
		return nil, util.NewFatalError("create scheduler",
			util.NewValidationError("timeout", opts.Timeout, "must be positive"))
	}
	if changer == nil {
		return nil, util.NewFatalError("create scheduler",
			util.NewValidationError("changer", nil, "a credential changer is required"))
	}

	if logger == nil {
		logger = slog.Default()
	}

	policy := opts.Policy
	if policy == nil {
		policy = DefaultPolicy{Retries: DefaultRetries}
	}

	return &Scheduler{
		workers: opts.Workers,
		runner:  NewRunner(changer, opts.Timeout, logger),
		policy:  policy,
		backoff: opts.Backoff,
		slots:   NewSlots(opts.Workers),
		records: make([]inventory.Record, 0),
		logger:  logger,
	}, nil
}

// Submit adds a record to the scheduler's queue
// Returns an error if the scheduler is shutting down or already running
func (s *Scheduler) Submit(rec inventory.Record) error {
	if s.shutdown.Load() {
		return fmt.Errorf("scheduler is shutting down, cannot submit new records: %w", util.ErrShutdown)
	}

	if s.running.Load() {
		return fmt.Errorf("scheduler is running, cannot submit new records")
	}

	if rec.Address == "" {
		return fmt.Errorf("record on line %d must have an address: %w", rec.Line, util.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	s.logger.Debug("record submitted", "address", rec.Address, "line", rec.Line, "total_records", len(s.records))

	return nil
}

// Process submits records and executes them in one call
func (s *Scheduler) Process(ctx context.Context, records []inventory.Record, h Handler) ([]Outcome, error) {
	for _, rec := range records {
		if err := s.Submit(rec); err != nil {
			return nil, err
		}
	}
	return s.Execute(ctx, h)
}

// Execute runs every submitted record to a terminal outcome and empties the
// queue. The returned slice is indexed by submission order
func (s *Scheduler) Execute(ctx context.Context, h Handler) ([]Outcome, error) {
	return s.ExecuteWithProgress(ctx, h, nil)
}

// dispatch is one pending attempt of one record
type dispatch struct {
	index   int
	record  inventory.Record
	number  int
	started time.Time
	backoff backoff.BackOff
}

// run holds the state shared by the workers of one Execute call
type run struct {
	queue    chan dispatch
	results  []Outcome
	tried    []atomic.Int32
	handler  Handler
	progress func(completed, total int)

	remaining atomic.Int64
	completed atomic.Int32
	done      chan struct{}

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
	stopped  bool
}

// later enqueues d after delay unless the run has been torn down
func (r *run) later(d dispatch, delay time.Duration) {
	if delay <= 0 {
		r.queue <- d
		return
	}

	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if r.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		r.timersMu.Lock()
		delete(r.timers, t)
		stopped := r.stopped
		r.timersMu.Unlock()
		if !stopped {
			r.queue <- d
		}
	})
	r.timers[t] = struct{}{}
}

// stopTimers cancels every pending retry
func (r *run) stopTimers() int {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()

	r.stopped = true
	pending := 0
	for t := range r.timers {
		if t.Stop() {
			pending++
		}
	}
	r.timers = nil
	return pending
}

// ExecuteWithProgress runs all records with progress reporting
// The progressFn callback is called after each record reaches a terminal
// outcome with (completed, total) counts.
//
// The error is non-nil only for engine-level failures; a record that failed
// is reported in its Outcome, never here.
func (s *Scheduler) ExecuteWithProgress(ctx context.Context, h Handler, progressFn func(completed, total int)) ([]Outcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Error("scheduler is already running")
		return nil, fmt.Errorf("scheduler is already running")
	}
	defer s.running.Store(false)

	if h == nil {
		h = noopHandler{}
	}

	s.mu.Lock()
	recordCount := len(s.records)
	if recordCount == 0 {
		s.mu.Unlock()
		s.logger.Debug("no records to process")
		return []Outcome{}, nil
	}

	// Take the queue so a later run only sees records submitted after this one
	recordsCopy := s.records
	s.records = make([]inventory.Record, 0)
	s.mu.Unlock()

	s.attempts.Store(0)
	s.retries.Store(0)
	s.ran.Store(int64(recordCount))

	workerCount := s.workers
	if workerCount > recordCount {
		// Don't create more workers than records
		workerCount = recordCount
	}

	s.logger.Info("starting credential rotation",
		"workers", workerCount,
		"records", recordCount,
		"timeout", s.runner.Timeout())

	startTime := time.Now()

	// Each record has at most one pending attempt, so the queue never blocks
	st := &run{
		queue:    make(chan dispatch, recordCount),
		results:  make([]Outcome, recordCount),
		tried:    make([]atomic.Int32, recordCount),
		handler:  h,
		progress: progressFn,
		done:     make(chan struct{}),
		timers:   make(map[*time.Timer]struct{}),
	}
	st.remaining.Store(int64(recordCount))

	for i, rec := range recordsCopy {
		st.queue <- dispatch{index: i, record: rec, number: 1}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		workerID := i
		g.Go(func() error {
			return s.worker(gctx, workerID, st)
		})
	}

	err := g.Wait()
	if pending := st.stopTimers(); pending > 0 {
		s.logger.Warn("abandoned pending retries", "count", pending)
	}

	// Records that never reached a terminal outcome still get one
	cause := ctx.Err()
	if err != nil {
		cause = err
	}
	for i := range st.results {
		if st.results[i].Terminal() {
			continue
		}

		tried := int(st.tried[i].Load())
		msg := fmt.Sprintf("not executed: %v", cause)
		if tried > 0 {
			msg = fmt.Sprintf("abandoned after %d attempt(s): %v", tried, cause)
		}
		st.results[i] = Outcome{
			Record:  recordsCopy[i],
			Status:  StatusFailure,
			Cause:   CauseCancelled,
			Message: msg,
			Attempt: tried,
		}
		h.HandleOutcome(st.results[i])
	}

	totalDuration := time.Since(startTime)
	s.last.Store(int64(totalDuration))
	successCount := CountSuccessful(st.results)

	s.logger.Info("credential rotation completed",
		"total", recordCount,
		"successful", successCount,
		"failed", recordCount-successCount,
		"attempts", s.attempts.Load(),
		"retries", s.retries.Load(),
		"peak_in_flight", s.slots.Stats().Peak,
		"duration", totalDuration)

	if err != nil {
		return st.results, err
	}
	return st.results, nil
}

// worker is the worker goroutine that processes attempts from the queue
func (s *Scheduler) worker(ctx context.Context, workerID int, st *run) error {
	s.logger.Debug("worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("worker stopping due to context cancellation", "worker_id", workerID)
			return nil

		case <-st.done:
			s.logger.Debug("worker finished (no more records)", "worker_id", workerID)
			return nil

		case d := <-st.queue:
			if err := s.slots.Acquire(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return util.NewFatalError("acquire slot", err)
			}

			if d.started.IsZero() {
				d.started = time.Now()
			}
			st.tried[d.index].Store(int32(d.number))
			out := s.runner.Run(ctx, d.record, d.number)
			s.slots.Release()
			s.attempts.Add(1)

			s.settle(ctx, workerID, st, d, out)
		}
	}
}

// settle either schedules the next attempt of d or records its terminal outcome
func (s *Scheduler) settle(ctx context.Context, workerID int, st *run, d dispatch, out Outcome) {
	if out.Status == StatusFailure && ctx.Err() == nil && s.policy.ShouldRetry(d.number, out) {
		notice := out
		notice.Status = StatusRetrying
		st.handler.HandleOutcome(notice)
		s.retries.Add(1)

		if d.backoff == nil {
			d.backoff = s.backoff.New()
		}
		delay := nextDelay(d.backoff)

		s.logger.Info("retrying after failure",
			"worker_id", workerID,
			"address", d.record.Address,
			"attempt", d.number,
			"cause", out.Cause,
			"error", out.Message,
			"delay", delay)

		d.number++
		st.later(d, delay)
		return
	}

	// A record cut short by cancellation is settled after the workers stop
	if out.Status == StatusFailure && out.Cause == CauseCancelled && ctx.Err() != nil {
		return
	}

	out.Duration = time.Since(d.started)
	st.results[d.index] = out
	st.handler.HandleOutcome(out)

	completedCount := st.completed.Add(1)
	total := len(st.results)

	if out.Status == StatusFailure {
		s.logger.Warn("record failed",
			"address", d.record.Address,
			"line", d.record.Line,
			"cause", out.Cause,
			"error", out.Message,
			"attempts", out.Attempt)
	}
	s.logger.Debug("record completed",
		"worker_id", workerID,
		"address", d.record.Address,
		"success", out.Succeeded(),
		"duration", out.Duration,
		"progress", fmt.Sprintf("%d/%d", completedCount, total))

	if st.progress != nil {
		st.progress(int(completedCount), total)
	}

	if st.remaining.Add(-1) == 0 {
		close(st.done)
	}
}

// Shutdown gracefully shuts down the scheduler
// It stops accepting new records and waits for a running Execute to finish
// The context timeout controls how long to wait
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already shut down")
	}

	s.logger.Info("shutting down scheduler")

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		s.logger.Debug("waiting for scheduler to finish", "deadline", deadline)
	}

	// Poll until the scheduler is no longer running or context times out
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout: %w", ctx.Err())
		case <-ticker.C:
			// Continue polling
		}
	}

	s.logger.Info("scheduler shut down successfully")
	return nil
}

// IsShutdown returns true if the scheduler has been shut down
func (s *Scheduler) IsShutdown() bool {
	return s.shutdown.Load()
}

// IsRunning returns true if the scheduler is currently executing records
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// RecordCount returns the number of records waiting for the next run
func (s *Scheduler) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// WorkerCount returns the concurrency bound
func (s *Scheduler) WorkerCount() int {
	return s.workers
}

// Stats returns counters for the current or most recent run
func (s *Scheduler) Stats() Stats {
	return Stats{
		Records:  int(s.ran.Load()),
		Attempts: s.attempts.Load(),
		Retries:  s.retries.Load(),
		Slots:    s.slots.Stats(),
		Duration: time.Duration(s.last.Load()),
	}
}

// IsEngineError reports whether err came from the scheduler itself rather
// than from a record
func IsEngineError(err error) bool {
	return err != nil && (util.IsFatal(err) || errors.Is(err, util.ErrShutdown))
}
