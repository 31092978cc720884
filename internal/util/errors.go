package util

import (
	"errors"
	"fmt"
	"strings"
)

// Common error types for bmcpass
var (
	// ErrInvalidConfig indicates a configuration error
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidRecord indicates an input line that could not be turned into a record
	ErrInvalidRecord = errors.New("invalid record")

	// ErrConnectionFailed indicates the target could not be reached
	ErrConnectionFailed = errors.New("connection failed")

	// ErrAuthFailed indicates the target rejected the supplied credential
	ErrAuthFailed = errors.New("authentication failed")

	// ErrProtocol indicates the target answered but the operation was refused or misunderstood
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates an operation was cancelled
	ErrCancelled = errors.New("operation cancelled")

	// ErrCircuitOpen indicates calls are being short-circuited after repeated failures
	ErrCircuitOpen = errors.New("circuit open")

	// ErrShutdown indicates the system is shutting down
	ErrShutdown = errors.New("system shutting down")
)

// TargetError wraps an error with the address of the controller it came from
type TargetError struct {
	Address string
	Err     error
}

// Error implements the error interface
func (e *TargetError) Error() string {
	return fmt.Sprintf("target %q: %v", e.Address, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/As compatibility
func (e *TargetError) Unwrap() error {
	return e.Err
}

// WrapTargetError wraps an error with target context
func WrapTargetError(address string, err error) error {
	if err == nil {
		return nil
	}
	return &TargetError{
		Address: address,
		Err:     err,
	}
}

// DiagnosticError carries the text shown to operators together with the
// sentinel that classifies it. Error returns only the text.
type DiagnosticError struct {
	Kind    error
	Message string
}

// Error implements the error interface
func (e *DiagnosticError) Error() string {
	return e.Message
}

// Unwrap returns the classifying sentinel
func (e *DiagnosticError) Unwrap() error {
	return e.Kind
}

// Diagnostic creates a DiagnosticError of the given kind
func Diagnostic(kind error, format string, args ...interface{}) error {
	return &DiagnosticError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// FatalError is an engine-level failure that stops the whole run.
// Per-target failures are never reported this way.
type FatalError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error
func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError creates a new fatal error for the given operation
func NewFatalError(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err stops the run
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// MultiError aggregates multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:", len(m.Errors)))
	for i, err := range m.Errors {
		if i < 10 {
			sb.WriteString(fmt.Sprintf("\n  %d. %v", i+1, err))
		} else if i == 10 {
			sb.WriteString(fmt.Sprintf("\n  ... and %d more errors", len(m.Errors)-10))
			break
		}
	}
	return sb.String()
}

// Unwrap returns the errors for errors.Is/As compatibility
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the multi-error
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// ErrorOrNil returns nil if no errors were added, otherwise returns the MultiError
func (m *MultiError) ErrorOrNil() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// NewMultiError creates a new MultiError from a slice of errors
// It filters out nil errors
func NewMultiError(errors []error) *MultiError {
	m := &MultiError{
		Errors: make([]error, 0, len(errors)),
	}
	for _, err := range errors {
		if err != nil {
			m.Errors = append(m.Errors, err)
		}
	}
	return m
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	if v.Value != nil {
		return fmt.Sprintf("validation failed for field %q (value: %v): %s", v.Field, v.Value, v.Message)
	}
	return fmt.Sprintf("validation failed for field %q: %s", v.Field, v.Message)
}

// Unwrap lets validation failures match ErrInvalidConfig
func (v *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled checks if an error is a cancellation error
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsConnectionError checks if an error is a connection error
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}

// FriendlyError converts technical errors to user-friendly messages
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case IsTimeout(err):
		return "Operation timed out. Please try again or increase the timeout value with --timeout flag."
	case IsCancelled(err):
		return "Operation was cancelled."
	case IsConnectionError(err):
		return "Failed to reach the controller. Please check the address and network connectivity."
	case IsAuthError(err):
		return "Authentication failed. Please check the current credential for the controller."
	case errors.Is(err, ErrInvalidConfig):
		return "Invalid configuration. Please check your config file and command-line flags."
	case errors.Is(err, ErrInvalidRecord):
		return "Invalid input record. Expected address,user,old-password,new-password."
	default:
		return err.Error()
	}
}

// CombineErrors combines multiple errors into a single error
// Returns nil if all errors are nil
func CombineErrors(errors ...error) error {
	m := NewMultiError(errors)
	return m.ErrorOrNil()
}

// WrapErrorf wraps an error with a formatted message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
