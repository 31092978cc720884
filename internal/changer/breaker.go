package changer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

// DefaultBreakerCooldown is how long the breaker stays open before probing
const DefaultBreakerCooldown = 30 * time.Second

// BreakerOptions configures the circuit breaker around a changer
type BreakerOptions struct {
	// Threshold is the number of consecutive failures that opens the
	// circuit; zero disables the breaker
	Threshold uint32

	// Cooldown is how long the circuit stays open
	Cooldown time.Duration
}

// Breaker fails fast once the fleet stops answering, instead of letting
// every remaining record wait out its own timeout
type Breaker struct {
	next   executor.Changer
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// WithBreaker wraps next in a Breaker, or returns next as-is when the
// threshold is zero
func WithBreaker(next executor.Changer, opts BreakerOptions, logger *slog.Logger) executor.Changer {
	if opts.Threshold == 0 {
		return next
	}
	return NewBreaker(next, opts, logger)
}

// NewBreaker creates a Breaker around next
func NewBreaker(next executor.Changer, opts BreakerOptions, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Threshold == 0 {
		opts.Threshold = 1
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerCooldown
	}

	threshold := opts.Threshold
	settings := gobreaker.Settings{
		Name:        "bmc-fleet",
		MaxRequests: 1,
		Timeout:     opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: answered,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &Breaker{
		next:   next,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// ChangePassword implements executor.Changer
func (b *Breaker) ChangePassword(ctx context.Context, rec inventory.Record) (string, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.ChangePassword(ctx, rec)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", util.Diagnostic(util.ErrCircuitOpen, "skipped: %v after repeated connection failures", err)
	}

	message, _ := res.(string)
	return message, err
}

// State returns the breaker's current state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// answered counts a call as healthy when the controller responded, even
// if it refused the change. Shutdown does not count against the fleet.
func answered(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, util.ErrAuthFailed), errors.Is(err, util.ErrProtocol):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, util.ErrCancelled):
		return true
	default:
		return false
	}
}
