package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

// Status is the classification of an attempt or of a whole record
type Status string

const (
	// StatusSuccess means the credential was changed
	StatusSuccess Status = "success"
	// StatusFailure means the attempt failed, or the record failed for good
	StatusFailure Status = "failure"
	// StatusRetrying marks a failed attempt that will be retried.
	// It is only ever a notification, never a record's final status.
	StatusRetrying Status = "retrying"
)

// Cause says why an attempt failed
type Cause string

const (
	CauseNone        Cause = ""
	CauseTimeout     Cause = "timeout"
	CauseAuth        Cause = "auth"
	CauseUnreachable Cause = "unreachable"
	CauseProtocol    Cause = "protocol"
	CauseCircuitOpen Cause = "circuit-open"
	CauseCancelled   Cause = "cancelled"
	CauseUnexpected  Cause = "unexpected"
)

// Transient reports whether a failure with this cause may clear on its own
func (c Cause) Transient() bool {
	switch c {
	case CauseTimeout, CauseUnreachable, CauseCircuitOpen:
		return true
	default:
		return false
	}
}

// CauseOf classifies an error returned by a Changer
func CauseOf(err error) Cause {
	switch {
	case err == nil:
		return CauseNone
	case errors.Is(err, util.ErrAuthFailed):
		return CauseAuth
	case errors.Is(err, util.ErrConnectionFailed):
		return CauseUnreachable
	case errors.Is(err, util.ErrCircuitOpen):
		return CauseCircuitOpen
	case errors.Is(err, util.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, util.ErrCancelled), errors.Is(err, context.Canceled):
		return CauseCancelled
	case errors.Is(err, util.ErrProtocol):
		return CauseProtocol
	default:
		return CauseUnexpected
	}
}

// Outcome is the result of one attempt, or the terminal result of a record
type Outcome struct {
	// Record is the input the outcome belongs to
	Record inventory.Record `json:"record" yaml:"record"`

	// Status is success, failure, or retrying
	Status Status `json:"status" yaml:"status"`

	// Cause classifies a failure; empty on success
	Cause Cause `json:"cause,omitempty" yaml:"cause,omitempty"`

	// Message is the single-line diagnostic text
	Message string `json:"message" yaml:"message"`

	// Attempt is the attempt number that produced this outcome.
	// For a terminal outcome it is the number of attempts made.
	Attempt int `json:"attempt" yaml:"attempt"`

	// Duration is the attempt's duration, or the record's total for a terminal outcome
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Terminal reports whether the outcome is a record's final status
func (o Outcome) Terminal() bool {
	return o.Status == StatusSuccess || o.Status == StatusFailure
}

// Succeeded reports whether the outcome is a success
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// CountSuccessful returns the number of successful outcomes
func CountSuccessful(outcomes []Outcome) int {
	count := 0
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			count++
		}
	}
	return count
}

// CountFailed returns the number of failed outcomes
func CountFailed(outcomes []Outcome) int {
	count := 0
	for _, o := range outcomes {
		if o.Status == StatusFailure {
			count++
		}
	}
	return count
}

// FilterFailed returns only the failed outcomes
func FilterFailed(outcomes []Outcome) []Outcome {
	filtered := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status == StatusFailure {
			filtered = append(filtered, o)
		}
	}
	return filtered
}

// GroupByCause groups failed outcomes by failure cause
func GroupByCause(outcomes []Outcome) map[Cause][]Outcome {
	grouped := make(map[Cause][]Outcome)
	for _, o := range outcomes {
		if o.Status != StatusFailure {
			continue
		}
		grouped[o.Cause] = append(grouped[o.Cause], o)
	}
	return grouped
}

// AverageDuration calculates the average duration of all outcomes
func AverageDuration(outcomes []Outcome) time.Duration {
	if len(outcomes) == 0 {
		return 0
	}

	var total time.Duration
	for _, o := range outcomes {
		total += o.Duration
	}

	return total / time.Duration(len(outcomes))
}

// MaxDuration returns the maximum duration among all outcomes
func MaxDuration(outcomes []Outcome) time.Duration {
	if len(outcomes) == 0 {
		return 0
	}

	max := outcomes[0].Duration
	for _, o := range outcomes {
		if o.Duration > max {
			max = o.Duration
		}
	}
	return max
}

// MinDuration returns the minimum duration among all outcomes
func MinDuration(outcomes []Outcome) time.Duration {
	if len(outcomes) == 0 {
		return 0
	}

	min := outcomes[0].Duration
	for _, o := range outcomes {
		if o.Duration < min {
			min = o.Duration
		}
	}
	return min
}

// TotalAttempts sums the attempts made across terminal outcomes
func TotalAttempts(outcomes []Outcome) int {
	total := 0
	for _, o := range outcomes {
		total += o.Attempt
	}
	return total
}

// Summary provides a summary of a rotation run
type Summary struct {
	Total       int           `json:"total" yaml:"total"`
	Successful  int           `json:"successful" yaml:"successful"`
	Failed      int           `json:"failed" yaml:"failed"`
	Attempts    int           `json:"attempts" yaml:"attempts"`
	SuccessRate float64       `json:"successRate" yaml:"successRate"`
	ByCause     map[Cause]int `json:"byCause,omitempty" yaml:"byCause,omitempty"`
	AvgDuration time.Duration `json:"avgDuration" yaml:"avgDuration"`
	MaxDuration time.Duration `json:"maxDuration" yaml:"maxDuration"`
	MinDuration time.Duration `json:"minDuration" yaml:"minDuration"`
}

// Summarize creates a summary of terminal outcomes
func Summarize(outcomes []Outcome) Summary {
	byCause := make(map[Cause]int)
	for cause, group := range GroupByCause(outcomes) {
		byCause[cause] = len(group)
	}

	return Summary{
		Total:       len(outcomes),
		Successful:  CountSuccessful(outcomes),
		Failed:      CountFailed(outcomes),
		Attempts:    TotalAttempts(outcomes),
		SuccessRate: SuccessRate(outcomes),
		ByCause:     byCause,
		AvgDuration: AverageDuration(outcomes),
		MaxDuration: MaxDuration(outcomes),
		MinDuration: MinDuration(outcomes),
	}
}

// String returns a human-readable string representation of the summary
func (s Summary) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Total: %d, ", s.Total))
	sb.WriteString(fmt.Sprintf("Successful: %d, ", s.Successful))
	sb.WriteString(fmt.Sprintf("Failed: %d", s.Failed))

	if s.Total > 0 {
		sb.WriteString(fmt.Sprintf(", Attempts: %d", s.Attempts))
		sb.WriteString(fmt.Sprintf(", Avg: %s", s.AvgDuration.Round(time.Millisecond)))
		sb.WriteString(fmt.Sprintf(", Max: %s", s.MaxDuration.Round(time.Millisecond)))
		sb.WriteString(fmt.Sprintf(", Min: %s", s.MinDuration.Round(time.Millisecond)))
	}

	if len(s.ByCause) > 0 {
		causes := make([]string, 0, len(s.ByCause))
		for cause, n := range s.ByCause {
			causes = append(causes, fmt.Sprintf("%s=%d", cause, n))
		}
		sort.Strings(causes)
		sb.WriteString(" (")
		sb.WriteString(strings.Join(causes, " "))
		sb.WriteString(")")
	}

	return sb.String()
}

// HasFailures returns true if any outcome failed
func HasFailures(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.Status == StatusFailure {
			return true
		}
	}
	return false
}

// AllSuccessful returns true if all outcomes are successful
func AllSuccessful(outcomes []Outcome) bool {
	return !HasFailures(outcomes)
}

// SuccessRate returns the success rate as a percentage (0.0 to 100.0)
func SuccessRate(outcomes []Outcome) float64 {
	if len(outcomes) == 0 {
		return 0.0
	}
	return float64(CountSuccessful(outcomes)) / float64(len(outcomes)) * 100.0
}
