// Package resilience defines the error-kind taxonomy and the bounded retry
// helper shared by the agent core components.
package resilience

import (
	"errors"
	"os"
)

// Sentinel error kinds, per the core's error handling design. Components
// wrap these with fmt.Errorf("...: %w", ErrX) so callers can classify a
// failure with errors.Is instead of string matching.
var (
	// ErrInvalidInput covers empty ids, malformed wire framing, and
	// out-of-range configuration. The registry and lifecycle operations that
	// meet such input return false/nil rather than this error.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate covers re-registration of an identical (name, version)
	// capability and re-proposal of an existing variant id. Registry.Register
	// and VariantLifecycle.Propose report both as a false return.
	ErrDuplicate = errors.New("duplicate entry")

	// ErrNotFound covers lookups of unknown agents, variants, or rollback
	// points.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict covers operations attempted against an object in the
	// wrong lifecycle state, e.g. voting on a Rejected variant.
	ErrStateConflict = errors.New("state conflict")

	// ErrIntegrityFailure covers checksum mismatches on rollback restore or
	// verify.
	ErrIntegrityFailure = errors.New("integrity check failed")

	// ErrIOFailure covers persistence and filesystem errors.
	ErrIOFailure = errors.New("io failure")

	// ErrMaxRetriesExceeded is returned by WithRetry when every attempt
	// failed.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// RetryableErrorChecker determines if an error should trigger a retry
// attempt. Implementations return true for transient failures (a file lock
// held by a concurrent writer, a disk full momentarily) and false for
// permanent ones (invalid input, corrupted state).
type RetryableErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultErrorChecker treats filesystem errors (*os.PathError and
// ErrIOFailure) as retryable and everything else, including the other
// sentinels above, as not.
type DefaultErrorChecker struct{}

// IsRetryable implements RetryableErrorChecker.
func (c *DefaultErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrIntegrityFailure) {
		return false
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	return errors.Is(err, ErrIOFailure)
}

// AlwaysRetryChecker always returns true for non-nil errors.
type AlwaysRetryChecker struct{}

// IsRetryable implements RetryableErrorChecker.
func (c *AlwaysRetryChecker) IsRetryable(err error) bool { return err != nil }

// NeverRetryChecker always returns false.
type NeverRetryChecker struct{}

// IsRetryable implements RetryableErrorChecker.
func (c *NeverRetryChecker) IsRetryable(err error) bool { return false }
