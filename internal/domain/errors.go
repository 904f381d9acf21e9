package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRunning is returned when a run for the same
	// (source, load_type) pair is still in progress. It is caller-visible
	// lock contention, not a failure of the in-flight run.
	ErrAlreadyRunning = errors.New("run already in progress")

	// ErrSourceUnavailable classifies network failures and timeouts talking
	// to a platform. Retryable on a later run.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceProtocol classifies unexpected payload shapes. The page is
	// skipped and not retried within the same run.
	ErrSourceProtocol = errors.New("source protocol error")

	// ErrStorage classifies persistence failures after retries exhaust.
	ErrStorage = errors.New("storage error")

	// ErrLockHeld is returned by LockManager.Acquire when another holder
	// owns the lock.
	ErrLockHeld = errors.New("lock already held")
)

// NormalizationError marks a record that could not be converted to the
// canonical schema: an out-of-range price or an unmapped field. The record
// is skipped and the error recorded on the run; it is never silently
// clamped or repaired after the fact.
type NormalizationError struct {
	Source    Source
	LogicalID string
	Field     string
	Reason    string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s/%s: %s: %s", e.Source, e.LogicalID, e.Field, e.Reason)
}

// IsNormalizationError reports whether err is (or wraps) a NormalizationError.
func IsNormalizationError(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}
