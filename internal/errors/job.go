package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a job execution failed and drives retry decisions.
type Kind string

const (
	// KindValidation marks bad processor input. Never retried.
	KindValidation Kind = "validation"
	// KindTransient marks an external check being unavailable or slow. Retried with backoff.
	KindTransient Kind = "transient"
	// KindCapabilityUnavailable marks a missing external check configuration.
	// The job completes with a degraded result instead of failing.
	KindCapabilityUnavailable Kind = "capability_unavailable"
	// KindConcurrencyConflict marks a lost claim or optimistic update race. Handled internally.
	KindConcurrencyConflict Kind = "concurrency_conflict"
	// KindTimeout marks a processor that exceeded its per-job deadline. Retried with backoff.
	KindTimeout Kind = "timeout"
	// KindLeaseExpired marks a job whose worker stopped heartbeating. Retried with backoff.
	KindLeaseExpired Kind = "lease_expired"
)

// JobError is a classified processor or store failure.
type JobError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *JobError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *JobError) Unwrap() error { return e.Cause }

// ErrConcurrencyConflict is returned by stores when an optimistic version check fails.
var ErrConcurrencyConflict = &JobError{Kind: KindConcurrencyConflict, Message: "job was modified concurrently"}

// Is lets errors.Is match any JobError of the same kind against the sentinel.
func (e *JobError) Is(target error) bool {
	var t *JobError
	if !errors.As(target, &t) {
		return false
	}
	return t == ErrConcurrencyConflict && e.Kind == KindConcurrencyConflict
}

// ValidationErrorf builds a non-retryable input failure.
func ValidationErrorf(format string, args ...any) *JobError {
	return &JobError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps cause as a retryable failure.
func Transient(message string, cause error) *JobError {
	return &JobError{Kind: KindTransient, Message: message, Cause: cause}
}

// CapabilityUnavailable reports that no external check is configured for capability.
func CapabilityUnavailable(capability string) *JobError {
	return &JobError{Kind: KindCapabilityUnavailable, Message: capability + " check is not configured"}
}

// KindOf returns the failure kind of err. Deadline errors map to KindTimeout and
// unclassified errors are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if IsValidation(err) {
		return KindValidation
	}
	return KindTransient
}

// IsRetryable reports whether a failure of this kind may be retried.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindTransient, KindTimeout, KindLeaseExpired, KindConcurrencyConflict:
		return true
	default:
		return false
	}
}

// IsCapabilityUnavailable reports whether err carries KindCapabilityUnavailable.
func IsCapabilityUnavailable(err error) bool {
	return KindOf(err) == KindCapabilityUnavailable
}

// IsConcurrencyConflict reports whether err is an optimistic lock or claim race.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
