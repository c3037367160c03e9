package worker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedTask marks a payload that cannot be decoded or names no
	// site. No record is written for it.
	ErrMalformedTask = errors.New("malformed audit task")
	// ErrLookupFailed marks a task whose site could not be loaded.
	ErrLookupFailed = errors.New("site lookup failed")
	// ErrRateLimited marks a scoring call rejected for rate limiting.
	ErrRateLimited = errors.New("scoring rate limited")
	// ErrNoScoringResult is the failure recorded when the scorer answers
	// with an empty body.
	ErrNoScoringResult = errors.New("scoring returned no result")

	errPanicked = errors.New("diff step panicked")
)

// RateLimitedError asks the consumer to pause for RetryAfter before
// reading the next task.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s (pause %s): %v", ErrRateLimited, e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

func (e *RateLimitedError) Unwrap() error { return e.Err }
