package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned when no valid caller identity is present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller is valid but not the resource owner or participant.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the operation is not valid for the current lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation indicates a cross-reference mismatch, e.g. an option that
	// does not belong to the submitted question.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCode is the neutral resolution failure for access codes. It is
	// deliberately identical for unknown codes and closed labs so codes cannot
	// be enumerated.
	ErrInvalidCode = errors.New("invalid or inactive code")
	// ErrPeriodEnded is returned when a new attempt is started after the lab's end time.
	ErrPeriodEnded = errors.New("lab period has ended")
	// ErrAttemptsExhausted is returned when the attempt limit has been reached.
	ErrAttemptsExhausted = errors.New("attempt limit reached")
	// ErrBatchTooLarge is returned when a batch save exceeds the per-call cap.
	ErrBatchTooLarge = errors.New("too many answers in one batch")
	// ErrAlreadyExists is returned when an insert loses a uniqueness race,
	// e.g. a second in_progress session for the same (lab, user) created by
	// another instance.
	ErrAlreadyExists = errors.New("already exists")
)

// RateLimitedError is returned for throttled owner mutations. It carries the
// duration after which the caller may retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// IsRateLimited reports whether err is a rate-limit rejection and returns the
// retry-after hint when it is.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
