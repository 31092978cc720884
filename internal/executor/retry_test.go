package executor

import (
	"testing"
	"time"
)

func TestDefaultPolicy_ShouldRetry(t *testing.T) {
	failure := Outcome{Status: StatusFailure, Cause: CauseUnreachable}
	authFailure := Outcome{Status: StatusFailure, Cause: CauseAuth}
	cancelled := Outcome{Status: StatusFailure, Cause: CauseCancelled}
	success := Outcome{Status: StatusSuccess}

	tests := []struct {
		name    string
		policy  DefaultPolicy
		attempt int
		out     Outcome
		want    bool
	}{
		{"first failure with one retry", DefaultPolicy{Retries: 1}, 1, failure, true},
		{"second failure with one retry", DefaultPolicy{Retries: 1}, 2, failure, false},
		{"no retries configured", DefaultPolicy{Retries: 0}, 1, failure, false},
		{"negative retries", DefaultPolicy{Retries: -1}, 1, failure, false},
		{"success never retried", DefaultPolicy{Retries: 3}, 1, success, false},
		{"cancellation never retried", DefaultPolicy{Retries: 3}, 1, cancelled, false},
		{"auth failure retried by default", DefaultPolicy{Retries: 1}, 1, authFailure, true},
		{"auth failure skipped when asked", DefaultPolicy{Retries: 1, SkipAuthFailures: true}, 1, authFailure, false},
		{"other failures still retried when skipping auth", DefaultPolicy{Retries: 1, SkipAuthFailures: true}, 1, failure, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.ShouldRetry(tt.attempt, tt.out); got != tt.want {
				t.Errorf("ShouldRetry(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestDefaultPolicy_MaxAttempts(t *testing.T) {
	if got := (DefaultPolicy{Retries: 2}).MaxAttempts(); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got := (DefaultPolicy{Retries: -4}).MaxAttempts(); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestNoRetry(t *testing.T) {
	if NoRetry().ShouldRetry(1, Outcome{Status: StatusFailure, Cause: CauseTimeout}) {
		t.Error("NoRetry should never retry")
	}
}

func TestRetryPolicyFunc(t *testing.T) {
	calls := 0
	p := RetryPolicyFunc(func(attempt int, out Outcome) bool {
		calls++
		return out.Cause.Transient()
	})

	if !p.ShouldRetry(1, Outcome{Status: StatusFailure, Cause: CauseTimeout}) {
		t.Error("expected transient failure to be retried")
	}
	if p.ShouldRetry(1, Outcome{Status: StatusFailure, Cause: CauseProtocol}) {
		t.Error("expected protocol failure not to be retried")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestBackoffConfig(t *testing.T) {
	t.Run("zero value waits nothing", func(t *testing.T) {
		b := BackoffConfig{}.New()
		for i := 0; i < 3; i++ {
			if d := nextDelay(b); d != 0 {
				t.Errorf("expected no delay, got %v", d)
			}
		}
	})

	t.Run("exponential stays within bounds", func(t *testing.T) {
		cfg := BackoffConfig{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2}
		if !cfg.Enabled() {
			t.Fatal("expected backoff to be enabled")
		}

		b := cfg.New()
		for i := 0; i < 10; i++ {
			d := nextDelay(b)
			if d <= 0 {
				t.Fatalf("delay %d: expected positive wait, got %v", i, d)
			}
			// randomization can add half the interval on top
			if d > 60*time.Millisecond {
				t.Errorf("delay %d: %v exceeds max plus jitter", i, d)
			}
		}
	})
}
