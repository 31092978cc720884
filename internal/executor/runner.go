package executor

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

// Changer performs the remote credential change for one record.
//
// Implementations must honour ctx: when it is done the call should return
// promptly and release whatever it holds (child process, network connection).
// A nil error means the new credential is in effect; the returned message is
// what the success log records.
type Changer interface {
	ChangePassword(ctx context.Context, rec inventory.Record) (string, error)
}

// ChangerFunc adapts an ordinary function to the Changer interface
type ChangerFunc func(ctx context.Context, rec inventory.Record) (string, error)

// ChangePassword calls f(ctx, rec)
func (f ChangerFunc) ChangePassword(ctx context.Context, rec inventory.Record) (string, error) {
	return f(ctx, rec)
}

// Runner executes a single attempt against a single record under a deadline.
// Run never panics and never returns an error; every way an attempt can end
// is folded into the returned Outcome.
type Runner struct {
	changer Changer
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner that gives every attempt at most timeout
func NewRunner(changer Changer, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		changer: changer,
		timeout: timeout,
		logger:  logger,
	}
}

// Timeout returns the per-attempt deadline
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

var errPanic = errors.New("changer panicked")

type callResult struct {
	message string
	err     error
}

// Run performs attempt number attempt for rec.
//
// When the deadline passes the changer goroutine is abandoned: its context is
// cancelled and its late result lands in a buffered channel nobody reads.
func (r *Runner) Run(ctx context.Context, rec inventory.Record, attempt int) Outcome {
	startTime := time.Now()
	out := Outcome{Record: rec, Attempt: attempt}

	if r.changer == nil {
		out.Status = StatusFailure
		out.Cause = CauseUnexpected
		out.Message = "no credential changer configured"
		out.Duration = time.Since(startTime)
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go r.call(callCtx, rec, done)

	select {
	case res := <-done:
		out = r.classify(ctx, out, rec, res)
	case <-callCtx.Done():
		out.Status = StatusFailure
		if ctx.Err() != nil {
			out.Cause = CauseCancelled
			out.Message = "cancelled: " + ctx.Err().Error()
		} else {
			out.Cause = CauseTimeout
			out.Message = timeoutMessage(r.timeout)
		}
	}

	out.Message = util.SingleLine(out.Message)
	out.Duration = time.Since(startTime)

	if out.Status == StatusSuccess {
		r.logger.Debug("attempt succeeded",
			"address", rec.Address,
			"attempt", attempt,
			"duration", out.Duration)
	} else {
		r.logger.Debug("attempt failed",
			"address", rec.Address,
			"attempt", attempt,
			"cause", out.Cause,
			"error", out.Message,
			"duration", out.Duration)
	}

	return out
}

// call runs the changer and reports exactly once on done
func (r *Runner) call(ctx context.Context, rec inventory.Record, done chan<- callResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("credential changer panicked",
				"address", rec.Address,
				"panic", p,
				"stack", string(debug.Stack()))
			done <- callResult{err: util.Diagnostic(errPanic, "unhandled panic: %v", p)}
		}
	}()

	message, err := r.changer.ChangePassword(ctx, rec)
	done <- callResult{message: message, err: err}
}

// classify turns a changer result into an Outcome. A changer that gave up
// because its context expired is reported the same way as a hung one.
// Only changer text is redacted; messages written here never hold a credential.
func (r *Runner) classify(parent context.Context, out Outcome, rec inventory.Record, res callResult) Outcome {
	if res.err == nil {
		out.Status = StatusSuccess
		out.Message = util.Redact(res.message, rec.OldCredential, rec.NewCredential)
		if out.Message == "" {
			out.Message = "password changed"
		}
		return out
	}

	out.Status = StatusFailure
	out.Cause = CauseOf(res.err)
	out.Message = util.Redact(res.err.Error(), rec.OldCredential, rec.NewCredential)

	switch out.Cause {
	case CauseTimeout:
		if parent.Err() == nil {
			out.Message = timeoutMessage(r.timeout)
		}
	case CauseCancelled:
		if parent.Err() == nil {
			// the changer gave up on its own; the run is not stopping
			out.Cause = CauseUnexpected
		} else {
			out.Message = "cancelled: " + parent.Err().Error()
		}
	}

	return out
}

func timeoutMessage(d time.Duration) string {
	return "timeout after " + strconv.FormatFloat(d.Seconds(), 'g', -1, 64) + " seconds"
}
