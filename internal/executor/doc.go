// Package executor runs credential changes across many controllers at once.
//
// A Scheduler owns a fixed set of worker goroutines and a pool of Slots
// sized to its concurrency bound. Every record passes through the Runner,
// which applies a Changer under a per-attempt deadline and folds every
// possible ending (success, error, timeout, cancellation, panic) into an
// Outcome. Failed attempts are handed to a RetryPolicy; retries go back on
// the dispatch queue, optionally after a backoff, and never hold a slot
// while they wait.
//
// # Basic Usage
//
//	sched, err := executor.NewScheduler(executor.Options{
//	    Workers: 10,
//	    Timeout: 15 * time.Second,
//	    Policy:  executor.DefaultPolicy{Retries: 1},
//	}, changer, logger)
//	if err != nil {
//	    return err
//	}
//
//	outcomes, err := sched.Process(ctx, records, executor.HandlerFunc(func(o executor.Outcome) {
//	    fmt.Println(o.Record.Address, o.Status, o.Message)
//	}))
//
// # Outcomes
//
// Each record yields exactly one terminal Outcome, with StatusSuccess or
// StatusFailure. A Handler additionally sees a StatusRetrying notification for
// every failed attempt that will be retried. The slice returned by Execute is
// indexed by submission order; handler calls arrive in completion order.
//
// # Failures
//
// A failing record never stops the run. The error returned by Execute is
// reserved for engine failures (*util.FatalError). When ctx is cancelled,
// records without a terminal outcome are reported as CauseCancelled failures
// so nothing is dropped silently.
//
// # Concurrency Guarantees
//
//   - At most Options.Workers attempts are in flight at any instant
//   - Attempts for the same record never overlap
//   - A timed-out attempt gives its slot back at the deadline
//   - Stats exposes peak in-flight and slot counters to verify the above
package executor
