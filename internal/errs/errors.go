package errs

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// Every failure surfaced by the swarm core maps to exactly one of these
// types so callers can branch on errors.As instead of string matching.
// ---------------------------------------------------------------------------

// ValidationError reports a bad configuration value. Rejected synchronously
// at creation time; never queued or retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a named field.
func Validation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CapacityExceededError reports that the running-bot concurrency cap was hit.
// The caller may retry once capacity frees up.
type CapacityExceededError struct {
	Limit   int
	Current int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d running, limit %d", e.Current, e.Limit)
}

// NotFoundError reports a lookup by an unknown id. Not retryable.
type NotFoundError struct {
	Kind string // bot|task|token|profile
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// RateLimitError reports a per-wallet throttle rejection at enqueue time.
type RateLimitError struct {
	WalletID string
	RetryIn  time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for wallet %s (retry in %s)", e.WalletID, e.RetryIn)
}

// ConfigurationError reports a wiring problem, such as a task type with no
// registered processor.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}

// TransientExecutionError reports a processor or trade failure that is
// retried with exponential backoff up to the task's retry budget.
type TransientExecutionError struct {
	TaskID  string
	Attempt int
	Err     error
}

func (e *TransientExecutionError) Error() string {
	return fmt.Sprintf("task %s attempt %d failed: %v", e.TaskID, e.Attempt, e.Err)
}

func (e *TransientExecutionError) Unwrap() error { return e.Err }

// TimeoutError reports a wait/ack deadline exceeded. Surfaced as a failed
// result, never fatal.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s after %s", e.Op, e.Elapsed)
}

// ---------------------------------------------------------------------------
// Predicates
// ---------------------------------------------------------------------------

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsRateLimited reports whether err is a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var to *TimeoutError
	return errors.As(err, &to)
}

// IsRetryable reports whether err may succeed on retry.
func IsRetryable(err error) bool {
	var te *TransientExecutionError
	var rl *RateLimitError
	var ce *CapacityExceededError
	return errors.As(err, &te) || errors.As(err, &rl) || errors.As(err, &ce)
}
